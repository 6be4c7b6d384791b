// Package ratelimit bounds how often one actor may call the verification
// endpoints, using a sliding window kept in memory or in Redis.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is zero when the request was allowed.
	RetryAfter time.Duration
}

// Store records admissions per key. Implementations must be safe for concurrent use.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Policy is a request budget per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

func retryAfter(now, resetAt time.Time) time.Duration {
	return max(resetAt.Sub(now), 0)
}
