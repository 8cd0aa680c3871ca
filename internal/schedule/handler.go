package schedule

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// Handler exposes schedule profile management per scope.
type Handler struct {
	store              *Store
	logger             *logging.Logger
	defaultTimezone    string
	defaultGranularity int
}

func NewHandler(store *Store, logger *logging.Logger, defaultTimezone string, defaultGranularity int) *Handler {
	if store == nil {
		panic("schedule: store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:              store,
		logger:             logger,
		defaultTimezone:    defaultTimezone,
		defaultGranularity: defaultGranularity,
	}
}

// Routes mounts under /api/scopes/{scope}/schedule.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HandleGet)
	r.Put("/", h.HandlePut)
	return r
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sc, err := scope.Parse(chi.URLParam(r, "scope"))
	if err != nil {
		http.Error(w, `{"error": "invalid scope"}`, http.StatusBadRequest)
		return
	}

	p, err := h.store.GetOrDefault(r.Context(), sc.Key(), h.defaultTimezone, h.defaultGranularity)
	if err != nil {
		h.logger.Error("failed to load schedule profile", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "failed to load schedule"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	sc, err := scope.Parse(chi.URLParam(r, "scope"))
	if err != nil {
		http.Error(w, `{"error": "invalid scope"}`, http.StatusBadRequest)
		return
	}

	var p Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	p.ScopeKey = sc.Key()
	if p.Timezone == "" {
		p.Timezone = h.defaultTimezone
	}
	if p.GranularityMinutes == 0 {
		p.GranularityMinutes = h.defaultGranularity
	}
	if p.CalendarMode == "" {
		p.CalendarMode = ModeWorkshop
	}

	if err := validateProfile(&p, sc); err != nil {
		http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusBadRequest)
		return
	}

	if err := h.store.Save(r.Context(), &p); err != nil {
		h.logger.Error("failed to save schedule profile", "scope", sc.Key(), "error", err)
		http.Error(w, `{"error": "failed to save schedule"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("schedule profile updated", "scope", sc.Key(), "mode", p.CalendarMode)
	writeJSON(w, http.StatusOK, &p)
}

func validateProfile(p *Profile, sc scope.Scope) error {
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", p.Timezone)
	}
	if p.GranularityMinutes < 5 || p.GranularityMinutes > 240 {
		return fmt.Errorf("granularity must be between 5 and 240 minutes")
	}

	days := map[string]*DayHours{
		"monday": p.Hours.Monday, "tuesday": p.Hours.Tuesday,
		"wednesday": p.Hours.Wednesday, "thursday": p.Hours.Thursday,
		"friday": p.Hours.Friday, "saturday": p.Hours.Saturday,
		"sunday": p.Hours.Sunday,
	}
	for name, hours := range days {
		if hours == nil {
			continue
		}
		from, err := time.Parse("15:04", hours.From)
		if err != nil {
			return fmt.Errorf("%s: invalid opening time %q", name, hours.From)
		}
		to, err := time.Parse("15:04", hours.To)
		if err != nil {
			return fmt.Errorf("%s: invalid closing time %q", name, hours.To)
		}
		if !to.After(from) {
			return fmt.Errorf("%s: closing time must be after opening time", name)
		}
	}

	for i, v := range p.Vacations {
		start, err := time.Parse("2006-01-02", v.StartDate)
		if err != nil {
			return fmt.Errorf("vacation %d: invalid start date %q", i, v.StartDate)
		}
		end, err := time.Parse("2006-01-02", v.EndDate)
		if err != nil {
			return fmt.Errorf("vacation %d: invalid end date %q", i, v.EndDate)
		}
		if end.Before(start) {
			return fmt.Errorf("vacation %d: end date before start date", i)
		}
	}

	switch p.CalendarMode {
	case ModeWorkshop, ModeEmployees:
	default:
		return fmt.Errorf("unknown calendar mode %q", p.CalendarMode)
	}
	if sc.Kind == scope.KindEmployee {
		if p.CalendarMode == ModeEmployees {
			return fmt.Errorf("employee scopes cannot use employees calendar mode")
		}
		if len(p.EmployeeIDs) > 0 {
			return fmt.Errorf("employee scopes cannot list employees")
		}
	}
	if p.CalendarMode == ModeEmployees && len(p.EmployeeIDs) == 0 {
		return fmt.Errorf("employees calendar mode requires at least one employee")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
