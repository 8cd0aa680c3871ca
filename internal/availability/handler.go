package availability

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// Handler serves availability queries.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("availability: service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts under /api/availability.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleQuery)
	return r
}

// HandleQuery answers GET /api/availability?scope=kind:uuid&from=YYYY-MM-DD&
// to=YYYY-MM-DD&duration=30. to defaults to from; duration is in minutes and
// required.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sc, err := scope.Parse(q.Get("scope"))
	if err != nil {
		http.Error(w, `{"error": "invalid scope"}`, http.StatusBadRequest)
		return
	}

	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		http.Error(w, `{"error": "invalid from date, expected YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}
	to := from
	if raw := q.Get("to"); raw != "" {
		to, err = time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, `{"error": "invalid to date, expected YYYY-MM-DD"}`, http.StatusBadRequest)
			return
		}
	}
	if to.Before(from) {
		http.Error(w, `{"error": "to date before from date"}`, http.StatusBadRequest)
		return
	}

	minutes, err := strconv.Atoi(q.Get("duration"))
	if err != nil || minutes <= 0 || minutes > 24*60 {
		http.Error(w, `{"error": "invalid duration, expected minutes"}`, http.StatusBadRequest)
		return
	}

	result, err := h.service.Availability(r.Context(), sc, from, to, time.Duration(minutes)*time.Minute)
	if err != nil {
		h.logger.Error("availability query failed", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "failed to compute availability"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
