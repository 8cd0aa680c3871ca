package bookings

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/werkhub/booking-engine/internal/availability"
	"github.com/werkhub/booking-engine/internal/connections"
	"github.com/werkhub/booking-engine/internal/gcal"
	"github.com/werkhub/booking-engine/internal/scope"
	"github.com/werkhub/booking-engine/pkg/logging"
)

type slotChecker interface {
	SlotFree(ctx context.Context, sc scope.Scope, slot availability.Interval) (bool, error)
}

type tokenSource interface {
	ValidToken(ctx context.Context, scopeID uuid.UUID) (connections.Token, error)
}

type eventWriter interface {
	InsertEvent(ctx context.Context, accessToken, calendarID string, ev gcal.Event) (string, error)
}

// CommitObserver receives commit outcomes for metrics.
type CommitObserver interface {
	CommitResult(outcome string)
	EventMirror(outcome string)
}

type noopCommitObserver struct{}

func (noopCommitObserver) CommitResult(string) {}
func (noopCommitObserver) EventMirror(string)  {}

// CommitRequest is a customer's attempt to book one slot.
type CommitRequest struct {
	Scope         scope.Scope
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ServiceName   string
	StartsAt      time.Time
	EndsAt        time.Time
	// PaymentRequired holds the booking in pending until payment settles;
	// without it the booking is confirmed immediately. Either way the slot
	// is blocked from the moment of insert.
	PaymentRequired bool
}

// Guard commits bookings. It checks the slot against a fresh busy aggregate,
// relies on the database exclusion constraint to settle races, and mirrors
// the booking to the external calendar in the background. A mirror failure
// never rolls the booking back.
type Guard struct {
	repo    *Repository
	checker slotChecker
	tokens  tokenSource
	events  eventWriter

	logger   *logging.Logger
	observer CommitObserver
	tracer   trace.Tracer

	eventTimeout time.Duration
	wg           sync.WaitGroup
}

type GuardConfig struct {
	// EventCreateTimeout bounds the background calendar mirror call.
	// Zero means 15 seconds.
	EventCreateTimeout time.Duration
}

func NewGuard(repo *Repository, checker slotChecker, tokens tokenSource, events eventWriter, logger *logging.Logger, cfg GuardConfig) *Guard {
	if repo == nil {
		panic("bookings: repository is required")
	}
	if checker == nil {
		panic("bookings: slot checker is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.EventCreateTimeout <= 0 {
		cfg.EventCreateTimeout = 15 * time.Second
	}
	return &Guard{
		repo:         repo,
		checker:      checker,
		tokens:       tokens,
		events:       events,
		logger:       logger,
		observer:     noopCommitObserver{},
		tracer:       otel.Tracer("bookings"),
		eventTimeout: cfg.EventCreateTimeout,
	}
}

// SetObserver wires a metrics sink. Must be called before serving traffic.
func (g *Guard) SetObserver(obs CommitObserver) {
	if obs != nil {
		g.observer = obs
	}
}

// Wait blocks until all background calendar mirror work has drained. Called
// during shutdown.
func (g *Guard) Wait() {
	g.wg.Wait()
}

// Commit validates the request, re-checks the slot and inserts the booking.
// It returns ErrSlotTaken both when the fresh aggregate shows a conflict and
// when a concurrent commit wins the database race.
func (g *Guard) Commit(ctx context.Context, req CommitRequest) (*Booking, error) {
	ctx, span := g.tracer.Start(ctx, "bookings.Commit",
		trace.WithAttributes(attribute.String("scope", req.Scope.Key())))
	defer span.End()

	if err := validateCommit(&req); err != nil {
		g.observer.CommitResult("invalid")
		return nil, err
	}

	slot := availability.Interval{Start: req.StartsAt, End: req.EndsAt}
	free, err := g.checker.SlotFree(ctx, req.Scope, slot)
	if errors.Is(err, availability.ErrOutsideHours) {
		g.observer.CommitResult("invalid")
		return nil, invalid("slot", "outside working hours")
	}
	if err != nil {
		g.observer.CommitResult("error")
		return nil, fmt.Errorf("bookings: pre-commit check: %w", err)
	}
	if !free {
		g.observer.CommitResult("conflict")
		return nil, ErrSlotTaken
	}

	status := StatusConfirmed
	if req.PaymentRequired {
		status = StatusPending
	}
	b := &Booking{
		ID:            uuid.New(),
		ScopeID:       req.Scope.ID,
		ScopeKind:     string(req.Scope.Kind),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ServiceName:   req.ServiceName,
		StartsAt:      req.StartsAt.UTC(),
		EndsAt:        req.EndsAt.UTC(),
		Status:        status,
	}
	if err := g.repo.InsertIfFree(ctx, b); err != nil {
		if err == ErrSlotTaken {
			g.observer.CommitResult("conflict")
			return nil, ErrSlotTaken
		}
		g.observer.CommitResult("error")
		return nil, err
	}

	g.observer.CommitResult("ok")
	g.logger.Info("booking committed",
		"booking_id", b.ID, "scope", req.Scope.Key(),
		"starts_at", b.StartsAt, "service", b.ServiceName)

	g.mirrorAsync(ctx, req.Scope, b)
	return b, nil
}

// Cancel releases a booking's slot.
func (g *Guard) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := g.repo.UpdateStatus(ctx, id, StatusCancelled); err != nil {
		return err
	}
	g.logger.Info("booking cancelled", "booking_id", id)
	return nil
}

// mirrorAsync creates the external calendar event in the background. The
// booking is already committed; the goroutine runs on a detached context so
// the HTTP request finishing does not cancel it.
func (g *Guard) mirrorAsync(ctx context.Context, sc scope.Scope, b *Booking) {
	if g.tokens == nil || g.events == nil {
		return
	}

	detached := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(detached, g.eventTimeout)
		defer cancel()

		token, err := g.tokens.ValidToken(ctx, sc.ID)
		if err != nil {
			g.observer.EventMirror("token_error")
			g.logger.Warn("calendar mirror skipped",
				"booking_id", b.ID, "scope", sc.Key(), "error", err)
			return
		}

		eventID, err := g.events.InsertEvent(ctx, token.AccessToken, token.CalendarID, gcal.Event{
			Summary:     fmt.Sprintf("%s - %s", b.ServiceName, b.CustomerName),
			Description: fmt.Sprintf("Booked via werkhub (%s)", b.ID),
			Start:       b.StartsAt,
			End:         b.EndsAt,
			Attendees:   []string{b.CustomerEmail},
		})
		if err != nil {
			g.observer.EventMirror("error")
			g.logger.Warn("calendar mirror failed",
				"booking_id", b.ID, "scope", sc.Key(), "error", err)
			return
		}

		if err := g.repo.SetCalendarEventID(ctx, b.ID, eventID); err != nil {
			g.observer.EventMirror("backfill_error")
			g.logger.Warn("calendar event id backfill failed",
				"booking_id", b.ID, "event_id", eventID, "error", err)
			return
		}
		g.observer.EventMirror("ok")
	}()
}

func validateCommit(req *CommitRequest) error {
	if req.Scope.IsZero() {
		return invalid("scope", "scope is required")
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		return invalid("customer_name", "name is required")
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		return invalid("customer_email", "valid email is required")
	}
	req.ServiceName = strings.TrimSpace(req.ServiceName)
	if req.ServiceName == "" {
		return invalid("service_name", "service is required")
	}
	if req.StartsAt.IsZero() || req.EndsAt.IsZero() {
		return invalid("slot", "start and end are required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return invalid("slot", "end must be after start")
	}
	if req.EndsAt.Sub(req.StartsAt) > 24*time.Hour {
		return invalid("slot", "bookings cannot exceed 24 hours")
	}
	if req.StartsAt.Before(time.Now()) {
		return invalid("slot", "slot is in the past")
	}
	return nil
}
