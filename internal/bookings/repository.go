package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/werkhub/booking-engine/internal/availability"
)

// exclusionViolation is the Postgres error code raised when an insert collides
// with the slot exclusion constraint.
const exclusionViolation = "23P01"

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists bookings in Postgres.
type Repository struct {
	db db
}

func NewRepository(db db) *Repository {
	if db == nil {
		panic("bookings: database is required")
	}
	return &Repository{db: db}
}

const bookingColumns = `id, scope_id, scope_kind, customer_name, customer_email,
	customer_phone, service_name, starts_at, ends_at, status,
	COALESCE(calendar_event_id, ''), created_at, updated_at`

// InsertIfFree inserts the booking. The bookings_no_overlap exclusion
// constraint rejects any row whose slot intersects an existing blocking
// booking on the same scope; that rejection surfaces as ErrSlotTaken.
func (r *Repository) InsertIfFree(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (id, scope_id, scope_kind, customer_name,
			customer_email, customer_phone, service_name, starts_at, ends_at,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		b.ID, b.ScopeID, b.ScopeKind, b.CustomerName, b.CustomerEmail,
		b.CustomerPhone, b.ServiceName, b.StartsAt, b.EndsAt, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("bookings: insert: %w", err)
	}
	return nil
}

// Get loads one booking by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	var b Booking
	err := r.db.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.ScopeID, &b.ScopeKind, &b.CustomerName, &b.CustomerEmail,
		&b.CustomerPhone, &b.ServiceName, &b.StartsAt, &b.EndsAt, &b.Status,
		&b.CalendarEventID, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: load: %w", err)
	}
	return &b, nil
}

// ListForScope returns a scope's bookings starting inside [from, to), newest
// first.
func (r *Repository) ListForScope(ctx context.Context, scopeID uuid.UUID, from, to time.Time) ([]Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE scope_id = $1 AND starts_at >= $2 AND starts_at < $3
		ORDER BY starts_at DESC`

	rows, err := r.db.Query(ctx, query, scopeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(
			&b.ID, &b.ScopeID, &b.ScopeKind, &b.CustomerName, &b.CustomerEmail,
			&b.CustomerPhone, &b.ServiceName, &b.StartsAt, &b.EndsAt, &b.Status,
			&b.CalendarEventID, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("bookings: scan row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate rows: %w", err)
	}
	return out, nil
}

// UpdateStatus moves a booking to a new lifecycle state.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE bookings SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("bookings: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCalendarEventID backfills the external event id once mirroring succeeds.
func (r *Repository) SetCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE bookings SET calendar_event_id = $2, updated_at = NOW() WHERE id = $1`,
		id, eventID)
	if err != nil {
		return fmt.Errorf("bookings: set event id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BusyIntervals returns the blocking intervals of a scope inside a window,
// clipped by overlap rather than containment so bookings straddling the
// window edges still count.
func (r *Repository) BusyIntervals(ctx context.Context, scopeID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	query := `
		SELECT starts_at, ends_at
		FROM bookings
		WHERE scope_id = $1
		  AND status IN ('pending', 'confirmed', 'completed')
		  AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at`

	rows, err := r.db.Query(ctx, query, scopeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: busy intervals: %w", err)
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("bookings: scan interval: %w", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate intervals: %w", err)
	}
	return out, nil
}
