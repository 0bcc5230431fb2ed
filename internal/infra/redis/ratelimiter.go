package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/oncall-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultDispatchRate int64 = 50
	waitBackoffStart          = 20 * time.Millisecond
	waitBackoffCap            = 100 * time.Millisecond
	windowSeconds             = 1
)

// The counter for the current one-second window is created with a TTL so stale
// windows expire on their own.
var windowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*DispatchRateLimiter)(nil)

// DispatchRateLimiter caps outbound notification dispatches per channel per
// second, shared across engine replicas through Redis.
type DispatchRateLimiter struct {
	client     *goredis.Client
	ratePerSec int64
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	script     *goredis.Script
}

func NewDispatchRateLimiter(client *goredis.Client, ratePerSec int) (*DispatchRateLimiter, error) {
	return newDispatchRateLimiter(client, int64(ratePerSec), time.Now, sleepWithContext)
}

func newDispatchRateLimiter(
	client *goredis.Client,
	ratePerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*DispatchRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultDispatchRate
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &DispatchRateLimiter{
		client:     client,
		ratePerSec: ratePerSec,
		now:        nowFn,
		sleep:      sleepFn,
		script:     windowScript,
	}, nil
}

func (l *DispatchRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if l == nil || l.client == nil || l.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return false, fmt.Errorf("channel is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("dispatch:ratelimit:%s:%d", normalized, l.now().UTC().Unix())
	result, err := l.script.Run(ctx, l.client, []string{key}, l.ratePerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate dispatch rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the channel has budget or the context ends.
func (l *DispatchRateLimiter) Wait(ctx context.Context, channel string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := waitBackoffStart
	for {
		allowed, err := l.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff *= 2
		if backoff > waitBackoffCap {
			backoff = waitBackoffCap
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
