package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "chatrelay/internal/api/context"
	"chatrelay/internal/engine/auth"
	"chatrelay/internal/pkg/errors"
)

// stateTTL bounds how long an authorization round-trip may take.
const stateTTL = 10 * time.Minute

type AuthHandler struct {
	credentials *auth.Store

	mu     sync.Mutex
	states map[string]time.Time
}

func NewAuthHandler(credentials *auth.Store) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		states:      make(map[string]time.Time),
	}
}

// Login starts the authorization-code flow by redirecting to the identity
// provider with a one-time state value.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()

	h.mu.Lock()
	for existing, issued := range h.states {
		if time.Since(issued) > stateTTL {
			delete(h.states, existing)
		}
	}
	h.states[state] = time.Now()
	h.mu.Unlock()

	http.Redirect(w, r, h.credentials.AuthorizeURL(state), http.StatusFound)
}

// Callback completes the flow: it validates the state, exchanges the code and
// stores the resulting delegated credential.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		log.Warn().Str("error", errParam).Str("description", query.Get("error_description")).Msg("authorization denied")
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeUnauthorized, "Authorization was denied", nil)
		return
	}

	state := query.Get("state")
	if !h.consumeState(state) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown or expired state", nil)
		return
	}

	code := query.Get("code")
	if code == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing authorization code", nil)
		return
	}

	cred, err := h.credentials.CompleteLogin(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Msg("login completion failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to complete login", nil)
		return
	}

	log.Info().Str("principal_id", cred.PrincipalID).Msg("delegated credential stored")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":          "logged_in",
		"principal_id":    cred.PrincipalID,
		"principal_label": cred.PrincipalLabel,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	principalID := params.ByName("principal_id")

	if err := h.credentials.Logout(principalID); err != nil {
		log.Error().Err(err).Str("principal_id", principalID).Msg("logout failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to log out", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "logged_out", "principal_id": principalID})
}

func (h *AuthHandler) consumeState(state string) bool {
	if state == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	issued, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return time.Since(issued) <= stateTTL
}
