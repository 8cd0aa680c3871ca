package connections

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/werkhub/booking-engine/internal/gcal"
	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// Handler exposes the calendar connect/status/disconnect endpoints used by
// the scope owner's settings UI. The provider's consent screen itself is
// external; this handler only starts the redirect and finishes the code
// exchange.
type Handler struct {
	store       *Store
	client      *gcal.Client
	redirectURI string
	successURL  string
	logger      *logging.Logger

	mu     sync.Mutex
	states map[string]stateEntry
}

type stateEntry struct {
	scopeKey  string
	expiresAt time.Time
}

// NewHandler creates the OAuth HTTP handler.
func NewHandler(store *Store, client *gcal.Client, redirectURI, successURL string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:       store,
		client:      client,
		redirectURI: redirectURI,
		successURL:  successURL,
		logger:      logger,
		states:      make(map[string]stateEntry),
	}
}

// Routes returns the public callback route.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/callback", h.HandleCallback)
	return r
}

// ScopeRoutes returns the scope-owner routes mounted under /scopes/{scope}.
func (h *Handler) ScopeRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/connect", h.HandleConnect)
	r.Get("/status", h.HandleStatus)
	r.Delete("/", h.HandleDisconnect)
	return r
}

// HandleConnect starts the authorization redirect for a scope.
// GET /api/scopes/{scope}/calendar/connect
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scopeFromURL(w, r)
	if !ok {
		return
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		h.logger.Error("failed to generate state", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	nonce := hex.EncodeToString(nonceBytes)

	h.mu.Lock()
	h.states[nonce] = stateEntry{scopeKey: sc.Key(), expiresAt: time.Now().Add(10 * time.Minute)}
	h.cleanExpiredStates()
	h.mu.Unlock()

	authURL := h.client.AuthorizationURL(h.redirectURI, sc.Key()+"|"+nonce)
	h.logger.Info("initiating calendar oauth", "scope", sc.Key())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback finishes the handshake: verifies state, exchanges the code
// and persists the connection.
// GET /api/calendar/callback?code=...&state=...
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		h.logger.Error("calendar oauth error", "error", errorParam)
		http.Error(w, `{"error": "authorization denied"}`, http.StatusBadRequest)
		return
	}
	if code == "" || state == "" {
		http.Error(w, `{"error": "missing code or state"}`, http.StatusBadRequest)
		return
	}

	scopeKey, nonce, found := strings.Cut(state, "|")
	if !found {
		http.Error(w, `{"error": "invalid state"}`, http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	entry, ok := h.states[nonce]
	delete(h.states, nonce)
	h.mu.Unlock()
	if !ok || entry.scopeKey != scopeKey || time.Now().After(entry.expiresAt) {
		h.logger.Warn("rejected oauth callback with unknown or expired state", "scope", scopeKey)
		http.Error(w, `{"error": "invalid state"}`, http.StatusBadRequest)
		return
	}

	sc, err := scope.Parse(scopeKey)
	if err != nil {
		http.Error(w, `{"error": "invalid state"}`, http.StatusBadRequest)
		return
	}

	tokens, err := h.client.ExchangeCode(r.Context(), code, h.redirectURI)
	if err != nil {
		h.logger.Error("code exchange failed", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "token exchange failed"}`, http.StatusBadGateway)
		return
	}

	conn := &Connection{
		ScopeID:      sc.ID,
		CalendarID:   "primary",
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if err := h.store.Save(r.Context(), conn); err != nil {
		h.logger.Error("failed to save connection", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	if h.successURL != "" {
		http.Redirect(w, r, h.successURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "connected", "scope": sc.Key()})
}

// HandleStatus reports whether a scope has a usable connection.
// GET /api/scopes/{scope}/calendar/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scopeFromURL(w, r)
	if !ok {
		return
	}

	type statusResponse struct {
		Connected      bool      `json:"connected"`
		ReauthRequired bool      `json:"reauth_required"`
		CalendarID     string    `json:"calendar_id,omitempty"`
		ExpiresAt      time.Time `json:"expires_at,omitzero"`
	}

	conn, err := h.store.Get(r.Context(), sc.ID)
	if errors.Is(err, ErrNoConnection) {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}
	if err != nil {
		h.logger.Error("failed to load connection", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Connected:      conn.Usable(),
		ReauthRequired: conn.ReauthRequired,
		CalendarID:     conn.CalendarID,
		ExpiresAt:      conn.ExpiresAt,
	})
}

// HandleDisconnect removes the scope's connection.
// DELETE /api/scopes/{scope}/calendar
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scopeFromURL(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), sc.ID); err != nil {
		h.logger.Error("failed to delete connection", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *Handler) scopeFromURL(w http.ResponseWriter, r *http.Request) (scope.Scope, bool) {
	raw := chi.URLParam(r, "scope")
	sc, err := scope.Parse(raw)
	if err != nil {
		http.Error(w, `{"error": "invalid scope"}`, http.StatusBadRequest)
		return scope.Scope{}, false
	}
	if sc.ID == uuid.Nil {
		http.Error(w, `{"error": "invalid scope"}`, http.StatusBadRequest)
		return scope.Scope{}, false
	}
	return sc, true
}

// cleanExpiredStates drops stale entries. Caller holds h.mu.
func (h *Handler) cleanExpiredStates() {
	now := time.Now()
	for nonce, entry := range h.states {
		if now.After(entry.expiresAt) {
			delete(h.states, nonce)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
