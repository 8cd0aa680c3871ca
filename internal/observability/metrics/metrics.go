// Package metrics exposes the Prometheus instrumentation of the booking
// engine. One EngineMetrics value is shared by the availability service, the
// booking guard and the token manager.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics holds the engine's counters. It satisfies the observer
// interfaces of the availability, bookings and connections packages.
type EngineMetrics struct {
	availabilityQueries *prometheus.CounterVec
	externalLookups     *prometheus.CounterVec
	commits             *prometheus.CounterVec
	eventMirrors        *prometheus.CounterVec
	tokenRefreshes      *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		availabilityQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "werkhub",
			Subsystem: "booking",
			Name:      "availability_queries_total",
			Help:      "Total availability queries by scope kind",
		}, []string{"scope_kind"}),
		externalLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "werkhub",
			Subsystem: "booking",
			Name:      "external_calendar_lookups_total",
			Help:      "External calendar free/busy lookups by outcome",
		}, []string{"outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "werkhub",
			Subsystem: "booking",
			Name:      "commits_total",
			Help:      "Booking commit attempts by outcome",
		}, []string{"outcome"}),
		eventMirrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "werkhub",
			Subsystem: "booking",
			Name:      "calendar_event_mirrors_total",
			Help:      "Background calendar event creations by outcome",
		}, []string{"outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "werkhub",
			Subsystem: "booking",
			Name:      "token_refreshes_total",
			Help:      "OAuth token refresh attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityQueries, m.externalLookups, m.commits,
		m.eventMirrors, m.tokenRefreshes)
	return m
}

func (m *EngineMetrics) AvailabilityQueried(scopeKind string) {
	if m == nil {
		return
	}
	m.availabilityQueries.WithLabelValues(scopeKind).Inc()
}

func (m *EngineMetrics) ExternalLookup(outcome string) {
	if m == nil {
		return
	}
	m.externalLookups.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) CommitResult(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) EventMirror(outcome string) {
	if m == nil {
		return
	}
	m.eventMirrors.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}
