// Package router wires every handler of the booking engine into one chi
// router.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/werkhub/booking-engine/internal/availability"
	"github.com/werkhub/booking-engine/internal/bookings"
	"github.com/werkhub/booking-engine/internal/connections"
	httpmiddleware "github.com/werkhub/booking-engine/internal/http/middleware"
	"github.com/werkhub/booking-engine/internal/schedule"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	AvailabilityHandler *availability.Handler
	BookingsHandler     *bookings.Handler
	ScheduleHandler     *schedule.Handler
	ConnectionsHandler  *connections.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// RateLimitPerSecond/RateLimitBurst throttle the public surface.
	// Zero disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// OAuth callback: the provider redirects here, so it lives outside the
	// rate-limited customer surface.
	if cfg.ConnectionsHandler != nil {
		r.Mount("/api/calendar", cfg.ConnectionsHandler.Routes())
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}

		if cfg.AvailabilityHandler != nil {
			api.Mount("/availability", cfg.AvailabilityHandler.Routes())
		}
		if cfg.BookingsHandler != nil {
			api.Mount("/bookings", cfg.BookingsHandler.Routes())
		}

		api.Route("/scopes/{scope}", func(sc chi.Router) {
			if cfg.ScheduleHandler != nil {
				sc.Mount("/schedule", cfg.ScheduleHandler.Routes())
			}
			if cfg.ConnectionsHandler != nil {
				sc.Mount("/calendar", cfg.ConnectionsHandler.ScopeRoutes())
			}
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "ok"}`))
}
