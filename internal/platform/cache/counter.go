package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// nextSequence raises the counter to the persisted floor, then increments it.
var nextSequence = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call('SET', KEYS[1], floor)
end
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return n
`)

// Counter is a Redis-backed monotonic sequence keyed per outlet, prefix and period.
type Counter struct {
	client redis.Scripter
	ttl    time.Duration
}

// NewCounter constructs a counter whose keys expire after ttl of inactivity.
func NewCounter(client redis.Scripter, ttl time.Duration) *Counter {
	if ttl <= 0 {
		ttl = 45 * 24 * time.Hour
	}
	return &Counter{client: client, ttl: ttl}
}

// Next returns a sequence strictly greater than floor and any value handed out before.
func (c *Counter) Next(ctx context.Context, key string, floor int64) (int64, error) {
	n, err := nextSequence.Run(ctx, c.client, []string{key}, floor, int64(c.ttl/time.Second)).Int64()
	if err != nil {
		return 0, fmt.Errorf("platform/cache: next sequence %s: %w", key, err)
	}
	return n, nil
}
