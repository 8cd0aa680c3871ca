// Package bookings persists appointments and commits new ones without double
// booking. The database enforces slot exclusivity; everything above it is a
// fast-path check.
package bookings

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSlotTaken is returned when the requested slot is no longer free.
var ErrSlotTaken = errors.New("bookings: slot no longer available")

// ErrNotFound is returned when a booking id does not exist.
var ErrNotFound = errors.New("bookings: not found")

// Status is the lifecycle state of a booking. Pending, confirmed and
// completed bookings block their slot; only cancelled ones free it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Blocks reports whether a booking in this status occupies its slot.
func (s Status) Blocks() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Booking is one appointment committed against a scope.
type Booking struct {
	ID              uuid.UUID `json:"id"`
	ScopeID         uuid.UUID `json:"scope_id"`
	ScopeKind       string    `json:"scope_kind"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	ServiceName     string    `json:"service_name"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	Status          Status    `json:"status"`
	CalendarEventID string    `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ValidationError rejects a commit request before it reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bookings: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
