package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"chatrelay/internal/engine/auth"
	"chatrelay/internal/engine/graph"
	"chatrelay/internal/platform/config"
	"chatrelay/internal/platform/database"
	"chatrelay/internal/platform/migration"
	"chatrelay/internal/platform/models"
	"chatrelay/internal/platform/repositories"
)

// subctl manages change-notification subscriptions from the command line,
// sharing the server's config and database.
func main() {
	action := flag.String("action", "list", "Action: create, list, delete or renew")
	resource := flag.String("resource", "", "Graph resource to watch (required for create)")
	subscriptionID := flag.String("id", "", "Subscription ID (required for delete and renew)")
	hours := flag.Int("hours", 1, "Expiration in hours")
	creator := flag.String("creator", "", "Principal whose delegated credential to use (app credential when empty)")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

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
	credentialRepo, err := repositories.NewCredentialRepository(db, sealKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential repository: %v", err)
	}

	registry := repositories.NewSubscriptionRepository(db)
	store := auth.NewStore(credentialRepo, graph.NewTokenClient(cfg.Graph, cfg.OAuth))
	subs := graph.NewSubscriptions(graph.NewClient(cfg.Graph))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	src := store.Resolve(*creator)

	switch *action {
	case "create":
		if *resource == "" {
			log.Fatal("-resource is required for create")
		}
		notificationURL := cfg.Webhook.PublicBaseURL + "/graph-webhook"
		sub, err := subs.Create(ctx, src, *resource, notificationURL, cfg.Webhook.ClientStateSecret, *hours)
		if err != nil {
			log.Fatalf("Failed to create subscription: %v", err)
		}
		record := &models.SubscriptionRecord{
			ID:        sub.ID,
			Resource:  sub.Resource,
			CreatorID: *creator,
			ExpiresAt: time.Now().Add(time.Duration(*hours) * time.Hour).Unix(),
		}
		if err := registry.Upsert(record); err != nil {
			log.Fatalf("Subscription %s created but not recorded locally: %v", sub.ID, err)
		}
		printJSON(sub)

	case "list":
		result, err := subs.List(ctx, src)
		if err != nil {
			log.Fatalf("Failed to list subscriptions: %v", err)
		}
		printJSON(result)

	case "delete":
		if *subscriptionID == "" {
			log.Fatal("-id is required for delete")
		}
		if err := subs.Delete(ctx, src, *subscriptionID); err != nil {
			log.Fatalf("Failed to delete subscription: %v", err)
		}
		if err := registry.Delete(*subscriptionID); err != nil {
			log.Printf("Warning: failed to remove local record: %v", err)
		}
		fmt.Println("Subscription deleted")

	case "renew":
		if *subscriptionID == "" {
			log.Fatal("-id is required for renew")
		}
		sub, err := subs.Renew(ctx, src, *subscriptionID, *hours)
		if err != nil {
			log.Fatalf("Failed to renew subscription: %v", err)
		}
		if record, err := registry.GetByID(*subscriptionID); err == nil && record != nil {
			record.ExpiresAt = time.Now().Add(time.Duration(*hours) * time.Hour).Unix()
			if err := registry.Upsert(record); err != nil {
				log.Printf("Warning: failed to update local record: %v", err)
			}
		}
		printJSON(sub)

	default:
		log.Fatalf("Invalid action %q: must be create, list, delete or renew", *action)
	}
}

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
