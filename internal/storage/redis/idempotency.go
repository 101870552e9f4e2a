// Package redis stores checkout idempotency keys in Redis.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a checkout result is remembered.
const DefaultTTL = 24 * time.Hour

// IdempotencyStore maps (user, Idempotency-Key) to the order created for it.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewIdempotencyStore returns a store using client. A non-positive ttl
// means DefaultTTL.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl, prefix: "market:checkout:"}
}

func (s *IdempotencyStore) key(userID int64, key string) string {
	return s.prefix + strconv.FormatInt(userID, 10) + ":" + key
}

// Lookup returns the order remembered for key.
func (s *IdempotencyStore) Lookup(ctx context.Context, userID int64, key string) (int64, bool, error) {
	v, err := s.client.Get(ctx, s.key(userID, key)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, false, nil
	case err != nil:
		return 0, false, errors.Wrap(err, "get idempotency key")
	}
	return v, true, nil
}

// Remember records orderID for key unless the key is already taken. It
// returns the order id stored under key afterwards.
func (s *IdempotencyStore) Remember(ctx context.Context, userID int64, key string, orderID int64) (int64, error) {
	k := s.key(userID, key)
	ok, err := s.client.SetNX(ctx, k, orderID, s.ttl).Result()
	if err != nil {
		return 0, errors.Wrap(err, "set idempotency key")
	}
	if ok {
		return orderID, nil
	}
	existing, err := s.client.Get(ctx, k).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "get idempotency key")
	}
	return existing, nil
}

// Ping checks the Redis connection.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
