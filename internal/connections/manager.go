package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/werkhub/booking-engine/internal/gcal"
	"github.com/werkhub/booking-engine/pkg/logging"
)

// Token is a usable access credential resolved for one availability or
// commit request.
type Token struct {
	AccessToken string
	CalendarID  string
	ExpiresAt   time.Time
}

// refresher is the slice of the calendar client the manager needs.
type refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*gcal.TokenSet, error)
}

// connectionStore narrows Store for tests.
type connectionStore interface {
	Get(ctx context.Context, scopeID uuid.UUID) (*Connection, error)
	UpdateTokens(ctx context.Context, scopeID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	MarkReauthRequired(ctx context.Context, scopeID uuid.UUID) error
}

// ManagerConfig tunes the token lifecycle.
type ManagerConfig struct {
	// RefreshSkew refreshes tokens this long before their actual expiry so a
	// token never expires mid-request.
	RefreshSkew time.Duration
	// LockTTL bounds how long the cross-instance refresh lock is held.
	LockTTL time.Duration
}

// Manager resolves a valid access token per scope, refreshing and persisting
// rotations on demand. Concurrent refreshes for one scope are collapsed into
// a single exchange: refresh tokens are single-use per rotation with most
// providers, so a duplicate exchange would invalidate the stored one.
type Manager struct {
	store    connectionStore
	client   refresher
	redis    *redis.Client
	cfg      ManagerConfig
	logger   *logging.Logger
	observer RefreshObserver

	mu      sync.Mutex
	flights map[uuid.UUID]*sync.Mutex
}

// RefreshObserver receives refresh outcomes for metrics.
type RefreshObserver interface {
	ObserveTokenRefresh(outcome string)
}

// NewManager creates a token lifecycle manager. redisClient may be nil for
// single-instance deployments; the in-process flight dedupe still applies.
func NewManager(store connectionStore, client refresher, redisClient *redis.Client, cfg ManagerConfig, logger *logging.Logger) *Manager {
	if store == nil {
		panic("connections: store required")
	}
	if client == nil {
		panic("connections: calendar client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Manager{
		store:   store,
		client:  client,
		redis:   redisClient,
		cfg:     cfg,
		logger:  logger,
		flights: make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetObserver wires the metrics observer. Optional.
func (m *Manager) SetObserver(obs RefreshObserver) { m.observer = obs }

// ValidToken returns a usable access token for the scope.
//
//   - no connection            -> ErrNoConnection
//   - credentials revoked      -> ErrReauthRequired
//   - provider unreachable     -> wrapped gcal.ErrUnavailable
//
// A stored token still valid past the refresh skew is returned as-is without
// any external call.
func (m *Manager) ValidToken(ctx context.Context, scopeID uuid.UUID) (Token, error) {
	conn, err := m.store.Get(ctx, scopeID)
	if err != nil {
		return Token{}, err
	}
	if !conn.Usable() {
		return Token{}, ErrReauthRequired
	}
	if m.fresh(conn) {
		return tokenOf(conn), nil
	}

	flight := m.flightFor(scopeID)
	flight.Lock()
	defer flight.Unlock()

	// Another request on this instance may have refreshed while we waited.
	conn, err = m.store.Get(ctx, scopeID)
	if err != nil {
		return Token{}, err
	}
	if !conn.Usable() {
		return Token{}, ErrReauthRequired
	}
	if m.fresh(conn) {
		return tokenOf(conn), nil
	}

	return m.refresh(ctx, conn)
}

func (m *Manager) refresh(ctx context.Context, conn *Connection) (Token, error) {
	release, acquired, err := m.acquireLock(ctx, conn.ScopeID)
	if err != nil {
		m.logger.Warn("refresh lock unavailable", "scope_id", conn.ScopeID, "error", err)
	}
	if release != nil {
		defer release()
	}
	if !acquired && err == nil {
		// Another instance holds the refresh. Re-read once; if it finished,
		// its rotation is in the store.
		reread, rerr := m.store.Get(ctx, conn.ScopeID)
		if rerr == nil && reread.Usable() && m.fresh(reread) {
			return tokenOf(reread), nil
		}
		return Token{}, fmt.Errorf("%w: concurrent refresh in flight", gcal.ErrUnavailable)
	}

	tokens, err := m.client.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		if errors.Is(err, gcal.ErrTokenRevoked) {
			if markErr := m.store.MarkReauthRequired(ctx, conn.ScopeID); markErr != nil {
				m.logger.Error("failed to mark connection for reauth", "scope_id", conn.ScopeID, "error", markErr)
			}
			m.observe("revoked")
			return Token{}, ErrReauthRequired
		}
		// Transient failure. The connection stays untouched.
		m.observe("unavailable")
		return Token{}, fmt.Errorf("connections: refresh for scope %s: %w", conn.ScopeID, err)
	}

	if err := m.store.UpdateTokens(ctx, conn.ScopeID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		return Token{}, err
	}
	m.observe("refreshed")
	m.logger.Info("rotated calendar access token", "scope_id", conn.ScopeID, "expires_at", tokens.ExpiresAt)

	return Token{
		AccessToken: tokens.AccessToken,
		CalendarID:  conn.CalendarID,
		ExpiresAt:   tokens.ExpiresAt,
	}, nil
}

func (m *Manager) fresh(conn *Connection) bool {
	return time.Now().Add(m.cfg.RefreshSkew).Before(conn.ExpiresAt)
}

func (m *Manager) flightFor(scopeID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	flight, ok := m.flights[scopeID]
	if !ok {
		flight = &sync.Mutex{}
		m.flights[scopeID] = flight
	}
	return flight
}

// acquireLock takes the cross-instance refresh lock in redis. Without redis
// the in-process flight mutex is the only guard, which is correct for a
// single instance.
func (m *Manager) acquireLock(ctx context.Context, scopeID uuid.UUID) (release func(), acquired bool, err error) {
	if m.redis == nil {
		return nil, true, nil
	}
	key := "calconn:refresh:" + scopeID.String()
	ok, err := m.redis.SetNX(ctx, key, "1", m.cfg.LockTTL).Result()
	if err != nil {
		// Redis being down must not block refreshes; the flight mutex still
		// dedupes within this instance.
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		delCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.redis.Del(delCtx, key).Err()
	}, true, nil
}

func (m *Manager) observe(outcome string) {
	if m.observer != nil {
		m.observer.ObserveTokenRefresh(outcome)
	}
}

func tokenOf(conn *Connection) Token {
	return Token{
		AccessToken: conn.AccessToken,
		CalendarID:  conn.CalendarID,
		ExpiresAt:   conn.ExpiresAt,
	}
}
