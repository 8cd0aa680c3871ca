// Package connections owns the calendar connection of a bookable scope: the
// external calendar id plus the OAuth access/refresh credential pair, and the
// lifecycle that keeps the access token usable.
package connections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/werkhub/booking-engine/pkg/logging"
)

var (
	// ErrNoConnection means the scope has no external calendar. Benign:
	// callers treat the external busy contribution as empty.
	ErrNoConnection = errors.New("connections: scope has no calendar connection")

	// ErrReauthRequired means a connection exists but its credentials are
	// permanently invalid. Surfaced to the scope owner, never to customers.
	ErrReauthRequired = errors.New("connections: reauthorization required")
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connection is one scope's link to an external calendar. A connection is
// usable only when the calendar id and both tokens are present together.
type Connection struct {
	ScopeID        uuid.UUID
	CalendarID     string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	ReauthRequired bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Usable reports whether the connection can authenticate calendar calls.
func (c *Connection) Usable() bool {
	if c == nil {
		return false
	}
	return !c.ReauthRequired &&
		c.CalendarID != "" &&
		c.AccessToken != "" &&
		c.RefreshToken != "" &&
		!c.ExpiresAt.IsZero()
}

// Store persists calendar connections, at most one per scope.
type Store struct {
	db     db
	logger *logging.Logger
}

// NewStore creates a connection store backed by a pgx pool.
func NewStore(db db, logger *logging.Logger) *Store {
	if db == nil {
		panic("connections: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

// Get loads the connection for a scope. Returns ErrNoConnection when absent.
func (s *Store) Get(ctx context.Context, scopeID uuid.UUID) (*Connection, error) {
	query := `
		SELECT scope_id, calendar_id, access_token, refresh_token, expires_at,
		       reauth_required, created_at, updated_at
		FROM calendar_connections
		WHERE scope_id = $1
	`
	var conn Connection
	err := s.db.QueryRow(ctx, query, scopeID).Scan(
		&conn.ScopeID,
		&conn.CalendarID,
		&conn.AccessToken,
		&conn.RefreshToken,
		&conn.ExpiresAt,
		&conn.ReauthRequired,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoConnection
	}
	if err != nil {
		return nil, fmt.Errorf("connections: get: %w", err)
	}
	return &conn, nil
}

// Save stores or replaces the connection for a scope. A fresh save always
// clears reauth_required.
func (s *Store) Save(ctx context.Context, conn *Connection) error {
	query := `
		INSERT INTO calendar_connections (
			scope_id, calendar_id, access_token, refresh_token, expires_at, reauth_required, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		ON CONFLICT (scope_id) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			reauth_required = FALSE,
			updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query,
		conn.ScopeID,
		conn.CalendarID,
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("connections: save: %w", err)
	}
	s.logger.Info("saved calendar connection", "scope_id", conn.ScopeID, "calendar_id", conn.CalendarID)
	return nil
}

// UpdateTokens persists a token rotation. An empty refreshToken keeps the
// stored one (providers only rotate it sometimes).
func (s *Store) UpdateTokens(ctx context.Context, scopeID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE calendar_connections
		SET access_token = $2,
		    refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
		    expires_at = $4,
		    reauth_required = FALSE,
		    updated_at = NOW()
		WHERE scope_id = $1
	`
	tag, err := s.db.Exec(ctx, query, scopeID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("connections: update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoConnection
	}
	return nil
}

// MarkReauthRequired flags the connection as permanently invalid without
// deleting it, so the owner can be prompted to reconnect.
func (s *Store) MarkReauthRequired(ctx context.Context, scopeID uuid.UUID) error {
	query := `
		UPDATE calendar_connections
		SET reauth_required = TRUE, updated_at = NOW()
		WHERE scope_id = $1
	`
	if _, err := s.db.Exec(ctx, query, scopeID); err != nil {
		return fmt.Errorf("connections: mark reauth: %w", err)
	}
	s.logger.Warn("calendar connection needs reauthorization", "scope_id", scopeID)
	return nil
}

// Delete removes the connection when the owner disconnects.
func (s *Store) Delete(ctx context.Context, scopeID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM calendar_connections WHERE scope_id = $1`, scopeID); err != nil {
		return fmt.Errorf("connections: delete: %w", err)
	}
	s.logger.Info("deleted calendar connection", "scope_id", scopeID)
	return nil
}
