package ratelimit

import "context"

// RateLimiter throttles outbound dispatches per delivery channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
