// Package ratelimit implements fixed-window admission control keyed by
// client identity.
//
// MemoryStore keeps counters inside one process: with several gateway
// instances each one admits up to Max requests per client per window, so the
// effective limit scales with the instance count. RedisStore shares the
// counters between instances.
package ratelimit

import (
	"context"
	"math"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultMax    = 100
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Count is the number of requests seen in the current window, including
	// this one.
	Count int
	// RetryAfter is the number of whole seconds until the window resets,
	// rounded up. Only set when Allowed is false.
	RetryAfter int
}

// Store counts hits per key within fixed windows.
type Store interface {
	// Hit records one request for key at now and returns the window count
	// and the instant the window expires.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (count int, resetAt time.Time, err error)
}

// Limiter admits at most Max requests per key within each Window.
type Limiter struct {
	store  Store
	window time.Duration
	max    int
	now    func() time.Time
}

func New(store Store, window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Limiter{store: store, window: window, max: max, now: time.Now}
}

// Admit records a request for clientKey and decides whether it may proceed.
// A store error is returned alongside an allowing decision.
func (l *Limiter) Admit(ctx context.Context, clientKey string) (Decision, error) {
	now := l.now()
	count, resetAt, err := l.store.Hit(ctx, clientKey, now, l.window)
	if err != nil {
		return Decision{Allowed: true}, err
	}

	if count <= l.max {
		return Decision{Allowed: true, Count: count}, nil
	}

	return Decision{Allowed: false, Count: count, RetryAfter: retryAfter(resetAt.Sub(now))}, nil
}

func (l *Limiter) Max() int { return l.max }

func retryAfter(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}
