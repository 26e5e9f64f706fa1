package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"chatrelay/internal/platform/models"
)

// Graph wants subscription expiry in this exact shape.
const expirationFormat = "2006-01-02T15:04:05.0000000Z"

// Subscriptions manages change-notification watch registrations.
type Subscriptions struct {
	client *Client
}

func NewSubscriptions(client *Client) *Subscriptions {
	return &Subscriptions{client: client}
}

func (s *Subscriptions) Create(ctx context.Context, src CredentialSource, resource, notificationURL, clientState string, expirationHours int) (*models.Subscription, error) {
	if expirationHours <= 0 {
		expirationHours = 1
	}

	payload := map[string]string{
		"changeType":         "created,updated",
		"notificationUrl":    notificationURL,
		"resource":           resource,
		"expirationDateTime": time.Now().UTC().Add(time.Duration(expirationHours) * time.Hour).Format(expirationFormat),
		"clientState":        clientState,
	}

	log.Info().Str("resource", resource).Msg("creating subscription")
	body, err := s.client.Do(ctx, http.MethodPost, "/subscriptions", payload, src)
	if err != nil {
		return nil, err
	}

	var sub models.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	log.Info().Str("subscription_id", sub.ID).Msg("subscription created")
	return &sub, nil
}

func (s *Subscriptions) Renew(ctx context.Context, src CredentialSource, subscriptionID string, expirationHours int) (*models.Subscription, error) {
	if expirationHours <= 0 {
		expirationHours = 1
	}

	payload := map[string]string{
		"expirationDateTime": time.Now().UTC().Add(time.Duration(expirationHours) * time.Hour).Format(expirationFormat),
	}

	log.Info().Str("subscription_id", subscriptionID).Msg("renewing subscription")
	body, err := s.client.Do(ctx, http.MethodPatch, "/subscriptions/"+subscriptionID, payload, src)
	if err != nil {
		return nil, err
	}

	var sub models.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}

func (s *Subscriptions) List(ctx context.Context, src CredentialSource) ([]models.Subscription, error) {
	body, err := s.client.Do(ctx, http.MethodGet, "/subscriptions", nil, src)
	if err != nil {
		return nil, err
	}

	var result struct {
		Value []models.Subscription `json:"value"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode subscription list: %w", err)
	}
	return result.Value, nil
}

func (s *Subscriptions) Delete(ctx context.Context, src CredentialSource, subscriptionID string) error {
	log.Info().Str("subscription_id", subscriptionID).Msg("deleting subscription")
	_, err := s.client.Do(ctx, http.MethodDelete, "/subscriptions/"+subscriptionID, nil, src)
	return err
}
