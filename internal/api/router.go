package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "chatrelay/internal/api/context"
	"chatrelay/internal/api/handlers"
	"chatrelay/internal/api/middleware"
)

type Dependencies struct {
	WebhookHandler      *handlers.WebhookHandler
	MessageHandler      *handlers.MessageHandler
	SubscriptionHandler *handlers.SubscriptionHandler
	AuthHandler         *handlers.AuthHandler
	HealthHandler       *handlers.HealthHandler
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	// Webhook ingress. The platform's validation handshake hits the same path.
	router.POST("/graph-webhook", chain(deps.WebhookHandler.Handle, middleware.RequestLog))
	router.GET("/graph-webhook", chain(deps.WebhookHandler.Handle, middleware.RequestLog))
	router.POST("/test-notification", chain(deps.WebhookHandler.TestNotification, middleware.RequestLog))

	// Stored messages
	router.GET("/messages", chain(deps.MessageHandler.List, middleware.RequestLog))
	router.GET("/messages/:message_id", chain(deps.MessageHandler.Get, middleware.RequestLog))

	// Subscription management
	router.POST("/subscriptions", chain(deps.SubscriptionHandler.Create, middleware.RequestLog))
	router.GET("/subscriptions", chain(deps.SubscriptionHandler.List, middleware.RequestLog))
	router.DELETE("/subscriptions/:subscription_id", chain(deps.SubscriptionHandler.Delete, middleware.RequestLog))

	// Delegated credential flow
	router.GET("/auth/login", chain(deps.AuthHandler.Login, middleware.RequestLog))
	router.GET("/auth/callback", chain(deps.AuthHandler.Callback, middleware.RequestLog))
	router.POST("/auth/logout/:principal_id", chain(deps.AuthHandler.Logout, middleware.RequestLog))

	// Service status
	router.GET("/", wrap(deps.HealthHandler.Root))
	router.GET("/health", wrap(deps.HealthHandler.Check))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
