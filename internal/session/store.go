package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"staffroom/pkg/types"
)

// Store resolves session credentials against the Redis store owned by the
// HTTP application. This service only ever reads it: sessions are issued and
// revoked elsewhere.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection before returning.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Get resolves a session ID to its record. ErrSessionNotFound covers both a
// missing key and a record past its expiry; any transport failure is reported
// as ErrStoreUnavailable so callers can fail closed.
func (s *Store) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	key := fmt.Sprintf("session:%s", sessionID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}

	if session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}

	return &session, nil
}

// HealthCheck pings the store for the health endpoint.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
