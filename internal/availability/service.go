package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/werkhub/booking-engine/internal/connections"
	"github.com/werkhub/booking-engine/internal/gcal"
	"github.com/werkhub/booking-engine/internal/schedule"
	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// BookingSource supplies busy intervals from blocking bookings.
type BookingSource interface {
	BusyIntervals(ctx context.Context, scopeID uuid.UUID, from, to time.Time) ([]Interval, error)
}

// TokenSource yields a usable external-calendar access token for a scope.
type TokenSource interface {
	ValidToken(ctx context.Context, scopeID uuid.UUID) (connections.Token, error)
}

// FreeBusyReader queries the external calendar's busy periods. loc resolves
// all-day blocks to concrete instants.
type FreeBusyReader interface {
	FreeBusy(ctx context.Context, accessToken, calendarID string, from, to time.Time, loc *time.Location) ([]gcal.BusyPeriod, error)
}

// ProfileSource loads schedule profiles.
type ProfileSource interface {
	GetOrDefault(ctx context.Context, scopeKey, timezone string, granularity int) (*schedule.Profile, error)
}

// Observer receives availability outcomes for metrics.
type Observer interface {
	AvailabilityQueried(scopeKind string)
	ExternalLookup(outcome string)
}

type noopObserver struct{}

func (noopObserver) AvailabilityQueried(string) {}
func (noopObserver) ExternalLookup(string)      {}

// Warning codes surfaced alongside degraded availability answers.
const (
	WarnExternalUnavailable = "external_calendar_unavailable"
	WarnReauthRequired      = "external_calendar_reauth_required"
)

// ErrOutsideHours rejects a slot that falls on a closed day, outside the
// day's open window, or off the granularity grid.
var ErrOutsideHours = errors.New("availability: slot outside working hours")

// Day holds the bookable slots of one calendar day.
type Day struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// Result is a full availability answer over a date range.
type Result struct {
	Days     []Day    `json:"days"`
	Warnings []string `json:"warnings,omitempty"`
}

// Service aggregates internal and external busy time and produces slots.
// An external calendar failure degrades the answer to internal-only with a
// warning; it never fails the query.
type Service struct {
	bookings BookingSource
	tokens   TokenSource
	calendar FreeBusyReader
	profiles ProfileSource

	logger   *logging.Logger
	observer Observer
	tracer   trace.Tracer

	defaultTimezone    string
	defaultGranularity int
	maxDays            int
}

type ServiceConfig struct {
	DefaultTimezone    string
	DefaultGranularity int
	// MaxDays caps the availability query range. Zero means 31.
	MaxDays int
}

func NewService(bookings BookingSource, tokens TokenSource, calendar FreeBusyReader, profiles ProfileSource, logger *logging.Logger, cfg ServiceConfig) *Service {
	if bookings == nil {
		panic("availability: booking source is required")
	}
	if profiles == nil {
		panic("availability: profile source is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "Europe/Berlin"
	}
	if cfg.DefaultGranularity <= 0 {
		cfg.DefaultGranularity = 30
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = 31
	}
	return &Service{
		bookings:           bookings,
		tokens:             tokens,
		calendar:           calendar,
		profiles:           profiles,
		logger:             logger,
		observer:           noopObserver{},
		tracer:             otel.Tracer("availability"),
		defaultTimezone:    cfg.DefaultTimezone,
		defaultGranularity: cfg.DefaultGranularity,
		maxDays:            cfg.MaxDays,
	}
}

// SetObserver wires a metrics sink. Must be called before serving traffic.
func (s *Service) SetObserver(obs Observer) {
	if obs != nil {
		s.observer = obs
	}
}

// Aggregate collects the merged busy set for one scope over a window.
// Internal bookings are authoritative; an error reading them fails the call.
// External busy time is best effort: a missing connection contributes
// nothing, and provider or auth failures yield a warning code instead of an
// error.
func (s *Service) Aggregate(ctx context.Context, sc scope.Scope, window Interval) ([]BusyInterval, []string, error) {
	ctx, span := s.tracer.Start(ctx, "availability.Aggregate",
		trace.WithAttributes(attribute.String("scope", sc.Key())))
	defer span.End()

	internal, err := s.bookings.BusyIntervals(ctx, sc.ID, window.Start, window.End)
	if err != nil {
		return nil, nil, fmt.Errorf("availability: internal busy lookup: %w", err)
	}

	busy := make([]BusyInterval, 0, len(internal)+4)
	for _, iv := range internal {
		busy = append(busy, BusyInterval{Interval: iv, Source: SourceInternal})
	}

	external, warning := s.externalBusy(ctx, sc, window)
	busy = append(busy, external...)

	var warnings []string
	if warning != "" {
		warnings = append(warnings, warning)
	}
	return Merge(ClipAll(busy, window)), warnings, nil
}

// externalBusy reads the external calendar, returning a warning code instead
// of an error on any failure.
func (s *Service) externalBusy(ctx context.Context, sc scope.Scope, window Interval) ([]BusyInterval, string) {
	if s.tokens == nil || s.calendar == nil {
		return nil, ""
	}

	token, err := s.tokens.ValidToken(ctx, sc.ID)
	switch {
	case errors.Is(err, connections.ErrNoConnection):
		// Not connected is a normal state, not a degradation.
		return nil, ""
	case errors.Is(err, connections.ErrReauthRequired):
		s.observer.ExternalLookup("reauth_required")
		s.logger.Warn("external calendar needs re-authorization", "scope", sc.Key())
		return nil, WarnReauthRequired
	case err != nil:
		s.observer.ExternalLookup("token_error")
		s.logger.Warn("external calendar token unavailable", "scope", sc.Key(), "error", err)
		return nil, WarnExternalUnavailable
	}

	periods, err := s.calendar.FreeBusy(ctx, token.AccessToken, token.CalendarID, window.Start, window.End, window.Start.Location())
	if err != nil {
		s.observer.ExternalLookup("provider_error")
		s.logger.Warn("external calendar lookup failed", "scope", sc.Key(), "error", err)
		return nil, WarnExternalUnavailable
	}

	s.observer.ExternalLookup("ok")
	out := make([]BusyInterval, 0, len(periods))
	for _, p := range periods {
		out = append(out, BusyInterval{
			Interval: Interval{Start: p.Start, End: p.End},
			Source:   SourceExternal,
		})
	}
	return out, ""
}

// Availability computes bookable slots per day for [from, to] (dates,
// inclusive) at the given appointment duration. The range is capped at
// MaxDays. Closed and vacation days appear with an empty slot list.
func (s *Service) Availability(ctx context.Context, sc scope.Scope, from, to time.Time, duration time.Duration) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "availability.Availability",
		trace.WithAttributes(
			attribute.String("scope", sc.Key()),
			attribute.String("duration", duration.String()),
		))
	defer span.End()

	if duration <= 0 {
		return nil, fmt.Errorf("availability: duration must be positive")
	}
	if to.Before(from) {
		return nil, fmt.Errorf("availability: range end before start")
	}

	s.observer.AvailabilityQueried(string(sc.Kind))

	profile, err := s.profiles.GetOrDefault(ctx, sc.Key(), s.defaultTimezone, s.defaultGranularity)
	if err != nil {
		return nil, fmt.Errorf("availability: load schedule: %w", err)
	}

	loc := profile.Location()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)

	result := &Result{}
	seenWarnings := map[string]bool{}
	days := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days++
		if days > s.maxDays {
			break
		}

		entry := Day{Date: day.Format("2006-01-02"), Slots: []Slot{}}
		open, close, ok := profile.DayWindow(day)
		if ok {
			slots, warnings, err := s.daySlots(ctx, sc, profile, day, open, close, duration)
			if err != nil {
				return nil, err
			}
			entry.Slots = slots
			for _, w := range warnings {
				if !seenWarnings[w] {
					seenWarnings[w] = true
					result.Warnings = append(result.Warnings, w)
				}
			}
		}
		result.Days = append(result.Days, entry)
	}
	return result, nil
}

func (s *Service) daySlots(ctx context.Context, sc scope.Scope, profile *schedule.Profile, day, open, close time.Time, duration time.Duration) ([]Slot, []string, error) {
	window := Interval{Start: open, End: close}
	step := profile.Granularity()

	if sc.Kind == scope.KindWorkshop && profile.CalendarMode == schedule.ModeEmployees && len(profile.EmployeeIDs) > 0 {
		return s.employeeUnionSlots(ctx, sc, profile.EmployeeIDs, day, window, duration, step)
	}

	busy, warnings, err := s.Aggregate(ctx, sc, window)
	if err != nil {
		return nil, nil, err
	}
	return CollectSlots(Slots(open, close, busy, duration, step), 0), warnings, nil
}

// employeeUnionSlots offers a slot when at least one employee is free for it.
// Employees who are off or on vacation that day, or whose calendar connection
// is missing or needs re-authorization, contribute nothing.
func (s *Service) employeeUnionSlots(ctx context.Context, workshop scope.Scope, employeeIDs []uuid.UUID, day time.Time, window Interval, duration, step time.Duration) ([]Slot, []string, error) {
	union := map[time.Time]Slot{}
	var warnings []string
	seen := map[string]bool{}
	warn := func(w string) {
		if !seen[w] {
			seen[w] = true
			warnings = append(warnings, w)
		}
	}

	for _, id := range employeeIDs {
		emp := scope.Employee(id, workshop.ID)

		empProfile, err := s.profiles.GetOrDefault(ctx, emp.Key(), s.defaultTimezone, s.defaultGranularity)
		if err != nil {
			return nil, nil, fmt.Errorf("availability: load employee schedule: %w", err)
		}
		empOpen, empClose, ok := empProfile.DayWindow(day)
		if !ok {
			continue
		}

		// Only the overlap of the employee's hours with the workshop's
		// window is bookable through this employee.
		empWindow := window
		if empOpen.After(empWindow.Start) {
			empWindow.Start = empOpen
		}
		if empClose.Before(empWindow.End) {
			empWindow.End = empClose
		}
		if !empWindow.End.After(empWindow.Start) {
			continue
		}

		if s.tokens != nil {
			switch _, err := s.tokens.ValidToken(ctx, emp.ID); {
			case errors.Is(err, connections.ErrNoConnection):
				continue
			case errors.Is(err, connections.ErrReauthRequired):
				warn(WarnReauthRequired)
				continue
			}
		}

		busy, empWarnings, err := s.Aggregate(ctx, emp, empWindow)
		if err != nil {
			return nil, nil, err
		}
		for _, w := range empWarnings {
			warn(w)
		}
		for slot := range Slots(empWindow.Start, empWindow.End, busy, duration, step) {
			union[slot.Start] = slot
		}
	}

	out := make([]Slot, 0, len(union))
	for _, slot := range union {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, warnings, nil
}

// SlotFree reports whether the exact interval is bookable right now,
// checking the schedule and re-aggregating busy time fresh. Used as the
// pre-commit check. A slot on a closed day, outside the open window or off
// the granularity grid fails with ErrOutsideHours.
func (s *Service) SlotFree(ctx context.Context, sc scope.Scope, slot Interval) (bool, error) {
	if !slot.IsValid() {
		return false, fmt.Errorf("availability: invalid slot interval")
	}

	profile, err := s.profiles.GetOrDefault(ctx, sc.Key(), s.defaultTimezone, s.defaultGranularity)
	if err != nil {
		return false, fmt.Errorf("availability: load schedule: %w", err)
	}
	open, close, ok := profile.DayWindow(slot.Start)
	if !ok {
		return false, ErrOutsideHours
	}
	if slot.Start.Before(open) || slot.End.After(close) {
		return false, ErrOutsideHours
	}
	if slot.Start.Sub(open)%profile.Granularity() != 0 {
		return false, ErrOutsideHours
	}

	busy, _, err := s.Aggregate(ctx, sc, slot)
	if err != nil {
		return false, err
	}
	return !overlapsAny(slot, busy), nil
}
