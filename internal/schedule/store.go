package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no profile has been saved for a scope.
var ErrNotFound = errors.New("schedule: profile not found")

const keyPrefix = "schedule:profile:"

// Store persists schedule profiles in Redis.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	if rdb == nil {
		panic("schedule: redis client is required")
	}
	return &Store{rdb: rdb}
}

// Get loads the profile for a scope key.
func (s *Store) Get(ctx context.Context, scopeKey string) (*Profile, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+scopeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: get profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("schedule: decode profile: %w", err)
	}
	p.ScopeKey = scopeKey
	return &p, nil
}

// GetOrDefault loads the profile, falling back to defaults when none exists.
func (s *Store) GetOrDefault(ctx context.Context, scopeKey, timezone string, granularity int) (*Profile, error) {
	p, err := s.Get(ctx, scopeKey)
	if errors.Is(err, ErrNotFound) {
		return DefaultProfile(scopeKey, timezone, granularity), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Save stores the profile. Profiles have no TTL; they live until overwritten
// or deleted.
func (s *Store) Save(ctx context.Context, p *Profile) error {
	if p.ScopeKey == "" {
		return errors.New("schedule: profile scope key is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("schedule: encode profile: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+p.ScopeKey, data, 0).Err(); err != nil {
		return fmt.Errorf("schedule: save profile: %w", err)
	}
	return nil
}

// Delete removes a scope's profile. Missing profiles are not an error.
func (s *Store) Delete(ctx context.Context, scopeKey string) error {
	if err := s.rdb.Del(ctx, keyPrefix+scopeKey).Err(); err != nil {
		return fmt.Errorf("schedule: delete profile: %w", err)
	}
	return nil
}
