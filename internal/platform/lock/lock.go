package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder owns the key.
var ErrBusy = errors.New("platform/lock: resource busy")

// Locker hands out short-lived distributed locks backed by Redis.
type Locker struct {
	client *redislock.Client
	retry  redislock.RetryStrategy
}

// New wraps a Redis client. Obtain retries briefly before giving up.
func New(rdb redis.UniversalClient) *Locker {
	return &Locker{
		client: redislock.New(rdb),
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 10),
	}
}

// Obtain acquires key for ttl and returns the release func.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	held, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("platform/lock: obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := held.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("platform/lock: release %s: %w", key, err)
		}
		return nil
	}, nil
}
