package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"chatrelay/internal/pkg/errors"
	"chatrelay/internal/platform/models"
	"chatrelay/internal/platform/repositories"
)

type WebhookHandler struct {
	queue             *repositories.NotificationRepository
	subscriptions     *repositories.SubscriptionRepository
	clientStateSecret string
}

func NewWebhookHandler(queue *repositories.NotificationRepository, subscriptions *repositories.SubscriptionRepository, clientStateSecret string) *WebhookHandler {
	return &WebhookHandler{
		queue:             queue,
		subscriptions:     subscriptions,
		clientStateSecret: clientStateSecret,
	}
}

// Handle is the Graph webhook endpoint. A validation handshake is echoed
// straight back; a notification batch is validated against the shared
// clientState secret and enqueued for the worker.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Subscription validation: echo the token verbatim, nothing else.
	if validationToken := r.URL.Query().Get("validationToken"); validationToken != "" {
		log.Info().Msg("subscription validation request")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(validationToken))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to read request body", nil)
		return
	}
	if len(body) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Request body is empty", nil)
		return
	}

	var batch models.NotificationBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Request body must be a valid notification collection", nil)
		return
	}

	enqueued := 0
	for _, entry := range batch.Value {
		// Spoofed notifications are dropped, not surfaced: the endpoint is
		// otherwise unauthenticated and clientState is the only proof of origin.
		if entry.ClientState == "" || entry.ClientState != h.clientStateSecret {
			log.Warn().Str("subscription_id", entry.SubscriptionID).Msg("invalid clientState, dropping notification")
			continue
		}

		resource, err := entry.ResourcePath()
		if err != nil {
			log.Error().Err(err).Str("subscription_id", entry.SubscriptionID).Msg("failed to extract resource path")
			continue
		}

		payload, err := json.Marshal(entry)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode notification payload")
			continue
		}

		id, err := h.queue.Enqueue(entry.SubscriptionID, resource, h.creatorFor(entry.SubscriptionID), string(payload))
		if err != nil {
			// A 500 here is deliberate: the platform's own retry timer will
			// re-deliver the batch.
			log.Error().Err(err).Msg("failed to enqueue notification")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to enqueue notification", nil)
			return
		}

		log.Info().Int64("notification_id", id).Str("subscription_id", entry.SubscriptionID).Msg("notification queued")
		enqueued++
	}

	log.Info().Int("enqueued", enqueued).Int("received", len(batch.Value)).Msg("webhook batch processed")
	w.WriteHeader(http.StatusAccepted)
}

// TestNotification accepts a single notification without clientState
// validation. Local testing aid; not wired to the public webhook URL.
func (h *WebhookHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	var entry models.ChangeNotification
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid notification body", nil)
		return
	}

	resource, err := entry.ResourcePath()
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	payload, _ := json.Marshal(entry)
	id, err := h.queue.Enqueue(entry.SubscriptionID, resource, h.creatorFor(entry.SubscriptionID), string(payload))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to enqueue notification", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "accepted",
		"notification_id": id,
	})
}

// creatorFor looks up which principal created the subscription, for delegated
// credential resolution later. Unknown subscriptions just get no creator.
func (h *WebhookHandler) creatorFor(subscriptionID string) string {
	sub, err := h.subscriptions.GetByID(subscriptionID)
	if err != nil {
		log.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("subscription lookup failed")
		return ""
	}
	if sub == nil {
		return ""
	}
	return sub.CreatorID
}
