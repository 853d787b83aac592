package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piavik/PhotoShare/internal/models"
)

// ErrStoreUnavailable is returned when Redis cannot be reached. The denylist
// treats it as fatal for the request; the user cache treats it as a miss.
var ErrStoreUnavailable = errors.New("revocation store unavailable")

const (
	userKeyPrefix  = "user:"
	denySentinel   = "1"
	defaultTimeout = 500 * time.Millisecond
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RevocationStore is the denylist of tokens invalidated before their natural
// expiry. Reads fail closed: if the store cannot answer, the caller must
// reject the token, since failing open would let revoked tokens through.
type RevocationStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRevocationStore creates the denylist over an existing Redis client.
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client, timeout: defaultTimeout}
}

// Deny marks the raw token string invalid for the given TTL. Denying an
// already-denied token just refreshes the TTL, so logout is idempotent.
func (s *RevocationStore) Deny(ctx context.Context, token string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, token, denySentinel, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsDenied reports whether the token is on the denylist. Errors propagate so
// the caller can reject the request.
func (s *RevocationStore) IsDenied(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.Get(ctx, token).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

// UserCache is the short-lived read-through cache of resolved principals,
// keyed by email. It is logically separate from the revocation store even
// though both live on the same Redis: a cache failure degrades to a directory
// read instead of rejecting the request.
type UserCache struct {
	client  *redis.Client
	timeout time.Duration
}

// NewUserCache creates the user snapshot cache over an existing Redis client.
func NewUserCache(client *redis.Client) *UserCache {
	return &UserCache{client: client, timeout: defaultTimeout}
}

func userKey(email string) string {
	return userKeyPrefix + email
}

// Get returns the cached snapshot, or (nil, nil) on a miss. A store error is
// returned alongside a nil snapshot so the caller can log it and fall through
// to the directory.
func (c *UserCache) Get(ctx context.Context, email string) (*models.UserSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, userKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var snap models.UserSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		c.client.Del(ctx, userKey(email))
		return nil, nil
	}
	return &snap, nil
}

// Set stores the snapshot with the given TTL.
func (c *UserCache) Set(ctx context.Context, email string, snap *models.UserSnapshot, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, userKey(email), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Invalidate deletes the cached snapshot. Profile-mutating operations must
// call this before returning, so the next resolution reads fresh state.
func (c *UserCache) Invalidate(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, userKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
