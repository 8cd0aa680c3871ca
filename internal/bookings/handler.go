package bookings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// Handler serves booking commits and lookups.
type Handler struct {
	guard  *Guard
	repo   *Repository
	logger *logging.Logger
}

func NewHandler(guard *Guard, repo *Repository, logger *logging.Logger) *Handler {
	if guard == nil {
		panic("bookings: guard is required")
	}
	if repo == nil {
		panic("bookings: repository is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{guard: guard, repo: repo, logger: logger}
}

// Routes mounts under /api/bookings.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.HandleCommit)
	r.Get("/{id}", h.HandleGet)
	r.Post("/{id}/cancel", h.HandleCancel)
	return r
}

type commitPayload struct {
	Scope           string    `json:"scope"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerPhone   string    `json:"customer_phone"`
	ServiceName     string    `json:"service_name"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	PaymentRequired bool      `json:"payment_required"`
}

func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	var payload commitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	sc, err := scope.Parse(payload.Scope)
	if err != nil {
		http.Error(w, `{"error": "invalid scope"}`, http.StatusBadRequest)
		return
	}
	if payload.DurationMinutes <= 0 {
		http.Error(w, `{"error": "duration_minutes must be positive"}`, http.StatusBadRequest)
		return
	}

	booking, err := h.guard.Commit(r.Context(), CommitRequest{
		Scope:           sc,
		CustomerName:    payload.CustomerName,
		CustomerEmail:   payload.CustomerEmail,
		CustomerPhone:   payload.CustomerPhone,
		ServiceName:     payload.ServiceName,
		StartsAt:        payload.StartsAt,
		EndsAt:          payload.StartsAt.Add(time.Duration(payload.DurationMinutes) * time.Minute),
		PaymentRequired: payload.PaymentRequired,
	})

	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, fmt.Sprintf(`{"error": %q, "field": %q}`, vErr.Reason, vErr.Field), http.StatusBadRequest)
		return
	case errors.Is(err, ErrSlotTaken):
		http.Error(w, `{"error": "slot_no_longer_available"}`, http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("booking commit failed", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "failed to create booking"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid booking id"}`, http.StatusBadRequest)
		return
	}

	booking, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, `{"error": "booking not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("booking lookup failed", "booking_id", id, "error", err)
		http.Error(w, `{"error": "failed to load booking"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid booking id"}`, http.StatusBadRequest)
		return
	}

	err = h.guard.Cancel(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, `{"error": "booking not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("booking cancel failed", "booking_id", id, "error", err)
		http.Error(w, `{"error": "failed to cancel booking"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
