package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "chatrelay/internal/api/context"
	"chatrelay/internal/engine/auth"
	"chatrelay/internal/engine/graph"
	"chatrelay/internal/pkg/errors"
	"chatrelay/internal/platform/models"
	"chatrelay/internal/platform/repositories"
)

type SubscriptionHandler struct {
	graphSubs         *graph.Subscriptions
	registry          *repositories.SubscriptionRepository
	credentials       *auth.Store
	publicBaseURL     string
	clientStateSecret string
}

func NewSubscriptionHandler(graphSubs *graph.Subscriptions, registry *repositories.SubscriptionRepository, credentials *auth.Store, publicBaseURL, clientStateSecret string) *SubscriptionHandler {
	return &SubscriptionHandler{
		graphSubs:         graphSubs,
		registry:          registry,
		credentials:       credentials,
		publicBaseURL:     publicBaseURL,
		clientStateSecret: clientStateSecret,
	}
}

type createSubscriptionRequest struct {
	Resource        string `json:"resource"`
	ExpirationHours int    `json:"expiration_hours"`
	CreatorID       string `json:"creator_id"`
}

// Create registers a change-notification watch upstream and records it in the
// local registry so inbound notifications can be tied back to their creator.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Resource == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "resource is required", nil)
		return
	}
	if req.ExpirationHours <= 0 {
		req.ExpirationHours = 1
	}

	src := h.credentials.Resolve(req.CreatorID)
	notificationURL := h.publicBaseURL + "/graph-webhook"

	sub, err := h.graphSubs.Create(r.Context(), src, req.Resource, notificationURL, h.clientStateSecret, req.ExpirationHours)
	if err != nil {
		log.Error().Err(err).Str("resource", req.Resource).Msg("subscription create failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to create subscription", nil)
		return
	}

	record := &models.SubscriptionRecord{
		ID:        sub.ID,
		Resource:  sub.Resource,
		CreatorID: req.CreatorID,
		ExpiresAt: parseExpiration(sub.ExpirationDateTime),
	}
	if err := h.registry.Upsert(record); err != nil {
		log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to record subscription")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Subscription created but not recorded", nil)
		return
	}

	sub.CreatorID = req.CreatorID
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.graphSubs.List(r.Context(), h.credentials.AppSource())
	if err != nil {
		log.Error().Err(err).Msg("subscription list failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to list subscriptions", nil)
		return
	}

	// Decorate with locally-registered creators where we have them.
	for i := range subs {
		record, err := h.registry.GetByID(subs[i].ID)
		if err == nil && record != nil {
			subs[i].CreatorID = record.CreatorID
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":         len(subs),
		"subscriptions": subs,
	})
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	subscriptionID := params.ByName("subscription_id")

	src := h.credentials.AppSource()
	if record, err := h.registry.GetByID(subscriptionID); err == nil && record != nil {
		src = h.credentials.Resolve(record.CreatorID)
	}

	if err := h.graphSubs.Delete(r.Context(), src, subscriptionID); err != nil {
		log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("subscription delete failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to delete subscription", nil)
		return
	}
	if err := h.registry.Delete(subscriptionID); err != nil {
		log.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("failed to remove subscription record")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "subscription_id": subscriptionID})
}

func parseExpiration(value string) int64 {
	if value == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0
	}
	return t.Unix()
}
