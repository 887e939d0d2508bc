package ratelimit

import "context"

// RateLimiter bounds outbound call rate per provider. The counter store is
// shared across engine instances, so the bound holds under scale-out.
type RateLimiter interface {
	Allow(ctx context.Context, provider string) (bool, error)
	Wait(ctx context.Context, provider string) error
}
