package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/api"
	"chatrelay/internal/api/handlers"
	"chatrelay/internal/engine/auth"
	"chatrelay/internal/engine/graph"
	"chatrelay/internal/engine/worker"
	"chatrelay/internal/pkg/logger"
	"chatrelay/internal/platform/config"
	"chatrelay/internal/platform/database"
	"chatrelay/internal/platform/migration"
	"chatrelay/internal/platform/repositories"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	// Database
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := migration.Run(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	sealKey, err := hex.DecodeString(cfg.Security.TokenSealKey)
	if err != nil {
		log.Fatalf("security.token_seal_key is not valid hex: %v", err)
	}

	// Repositories
	notificationRepo := repositories.NewNotificationRepository(db, cfg.Worker.MaxAttempts)
	messageRepo := repositories.NewMessageRepository(db)
	subscriptionRepo := repositories.NewSubscriptionRepository(db)
	credentialRepo, err := repositories.NewCredentialRepository(db, sealKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential repository: %v", err)
	}

	// Graph plumbing
	tokenClient := graph.NewTokenClient(cfg.Graph, cfg.OAuth)
	graphClient := graph.NewClient(cfg.Graph)
	graphSubs := graph.NewSubscriptions(graphClient)
	credentialStore := auth.NewStore(credentialRepo, tokenClient)

	// Worker
	relayWorker := worker.New(notificationRepo, messageRepo, credentialStore, graphClient, cfg.Worker)
	relayWorker.Start()

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(notificationRepo, subscriptionRepo, cfg.Webhook.ClientStateSecret)
	messageHandler := handlers.NewMessageHandler(messageRepo)
	subscriptionHandler := handlers.NewSubscriptionHandler(graphSubs, subscriptionRepo, credentialStore, cfg.Webhook.PublicBaseURL, cfg.Webhook.ClientStateSecret)
	authHandler := handlers.NewAuthHandler(credentialStore)
	healthHandler := handlers.NewHealthHandler(db, relayWorker)

	// Router
	deps := &api.Dependencies{
		WebhookHandler:      webhookHandler,
		MessageHandler:      messageHandler,
		SubscriptionHandler: subscriptionHandler,
		AuthHandler:         authHandler,
		HealthHandler:       healthHandler,
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	relayWorker.Stop()
	log.Println("Shutdown complete")
}
