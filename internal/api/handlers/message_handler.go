package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "chatrelay/internal/api/context"
	"chatrelay/internal/pkg/errors"
	"chatrelay/internal/platform/repositories"
)

type MessageHandler struct {
	messages *repositories.MessageRepository
}

func NewMessageHandler(messages *repositories.MessageRepository) *MessageHandler {
	return &MessageHandler{messages: messages}
}

type messageResponse struct {
	ID         int64           `json:"id"`
	MessageID  string          `json:"message_id"`
	Normalized json.RawMessage `json:"normalized"`
	Raw        json.RawMessage `json:"raw"`
	IngestedAt int64           `json:"ingested_at"`
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	messages, err := h.messages.ListRecent(limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list messages")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list messages", nil)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, messageResponse{
			ID:         msg.ID,
			MessageID:  msg.MessageID,
			Normalized: json.RawMessage(msg.NormalizedJSON),
			Raw:        json.RawMessage(msg.RawJSON),
			IngestedAt: msg.IngestedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    len(out),
		"messages": out,
	})
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	messageID := params.ByName("message_id")

	msg, err := h.messages.GetByMessageID(messageID)
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to load message")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load message", nil)
		return
	}
	if msg == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Message not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messageResponse{
		ID:         msg.ID,
		MessageID:  msg.MessageID,
		Normalized: json.RawMessage(msg.NormalizedJSON),
		Raw:        json.RawMessage(msg.RawJSON),
		IngestedAt: msg.IngestedAt,
	})
}
