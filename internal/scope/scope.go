// Package scope identifies the bookable unit of the marketplace: a whole
// workshop or a single employee within one. The kind is resolved once at the
// API boundary; downstream code carries the resolved Scope and never
// re-branches on it.
package scope

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind distinguishes workshop-level from employee-level scopes.
type Kind string

const (
	KindWorkshop Kind = "workshop"
	KindEmployee Kind = "employee"
)

// Scope is the bookable unit. For employee scopes WorkshopID carries the
// owning workshop; for workshop scopes it equals ID.
type Scope struct {
	Kind       Kind
	ID         uuid.UUID
	WorkshopID uuid.UUID
}

// Workshop returns a workshop-level scope.
func Workshop(id uuid.UUID) Scope {
	return Scope{Kind: KindWorkshop, ID: id, WorkshopID: id}
}

// Employee returns an employee-level scope owned by the given workshop.
func Employee(id, workshopID uuid.UUID) Scope {
	return Scope{Kind: KindEmployee, ID: id, WorkshopID: workshopID}
}

// Key returns the canonical string form, e.g. "workshop:<uuid>".
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

func (s Scope) String() string { return s.Key() }

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool { return s.ID == uuid.Nil }

// Parse parses the canonical "kind:uuid" form used by the HTTP API. Employee
// scopes parsed this way have no workshop attached; callers that need the
// owning workshop resolve it from the schedule profile.
func Parse(raw string) (Scope, error) {
	kindStr, idStr, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Scope{}, fmt.Errorf("scope: %q is not of the form kind:id", raw)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return Scope{}, fmt.Errorf("scope: invalid id in %q: %w", raw, err)
	}

	switch Kind(kindStr) {
	case KindWorkshop:
		return Workshop(id), nil
	case KindEmployee:
		return Scope{Kind: KindEmployee, ID: id}, nil
	default:
		return Scope{}, fmt.Errorf("scope: unknown kind %q", kindStr)
	}
}
