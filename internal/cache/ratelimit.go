package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window on its first
// hit in one step, so a counter can never be left without a TTL.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter allows limit requests per key per window, counted in Redis
// so every instance shares the budget.
type FixedWindowLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

// NewFixedWindowLimiter creates a limiter whose counters live under prefix.
func NewFixedWindowLimiter(rdb redis.UniversalClient, prefix string, window time.Duration, limit int) *FixedWindowLimiter {
	return &FixedWindowLimiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

func (l *FixedWindowLimiter) key(key string) string {
	return "basego:ratelimit:" + l.prefix + ":" + key
}

// Allow counts one request for key and reports whether it is within the limit.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := fixedWindowScript.Run(ctx, l.rdb, []string{l.key(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return count <= l.limit, nil
}
