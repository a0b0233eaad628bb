// Package ratelimit implements fixed-window request counting over the shared
// store. Each check is a single server-side increment; a rejected request is
// not rolled back, so it keeps occupying its slot until the window's TTL
// removes the counter. Store failures always reject.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/metrics"
)

// Window is the counting granularity.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

// expiryBuffer keeps a counter alive slightly past its window so clock skew
// between instances cannot resurrect a fresh counter for a window still in use.
const expiryBuffer = 60 * time.Second

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func (w Window) String() string {
	switch w {
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "minute"
	}
}

// Key returns the truncated timestamp identifying the window containing t.
func (w Window) Key(t time.Time) string {
	t = t.UTC()
	switch w {
	case Hour:
		return t.Format("2006-01-02T15")
	case Day:
		return t.Format("2006-01-02")
	default:
		return t.Format("2006-01-02T15:04")
	}
}

// End returns the instant the window containing t closes.
func (w Window) End(t time.Time) time.Time {
	return t.UTC().Truncate(w.Duration()).Add(w.Duration())
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
	// Projected is true when Count and Remaining are extrapolated from one shard.
	Projected bool
}

// Policy is a named limit applied to a scope.
type Policy struct {
	Name   string
	Window Window
	Max    int64
	Shards int
}

// Limiter checks request counts against limits.
type Limiter struct {
	store kvstore.Store
	now   func() time.Time
	shard func(n int) int
}

// New creates a limiter backed by store.
func New(store kvstore.Store) *Limiter {
	return &Limiter{
		store: store,
		now:   time.Now,
		shard: rand.IntN,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// WithShardPicker replaces the shard selection function. Intended for tests.
func (l *Limiter) WithShardPicker(pick func(n int) int) *Limiter {
	l.shard = pick
	return l
}

// Check counts one request for scopeKey in the current window.
// On store failure the decision is a rejection and the error is returned alongside it.
func (l *Limiter) Check(ctx context.Context, scopeKey string, window Window, maxRequests int64) (Decision, error) {
	now := l.now()
	key := counterKey(scopeKey, window, now)

	count, err := l.store.IncrBy(ctx, key, 1, window.Duration()+expiryBuffer)
	if err != nil {
		return Decision{Allowed: false, Limit: maxRequests, RetryAfter: window.End(now).Sub(now)},
			fmt.Errorf("rate limit check %s: %w", scopeKey, err)
	}

	return decide(count, maxRequests, window, now), nil
}

// CheckSharded spreads a hot scope over shards counters. Each shard enforces
// ceil(maxRequests/shards); the reported totals are projections.
func (l *Limiter) CheckSharded(ctx context.Context, scopeKey string, window Window, maxRequests int64, shards int) (Decision, error) {
	if shards <= 1 {
		return l.Check(ctx, scopeKey, window, maxRequests)
	}

	perShard := (maxRequests + int64(shards) - 1) / int64(shards)
	shardKey := fmt.Sprintf("%s#s%d", scopeKey, l.shard(shards))

	d, err := l.Check(ctx, shardKey, window, perShard)
	d.Limit = maxRequests
	d.Projected = true
	if err != nil {
		return d, err
	}

	d.Count *= int64(shards)
	d.Remaining = max(0, maxRequests-d.Count)
	return d, nil
}

// CheckPolicy applies policy to scopeKey and records the outcome.
func (l *Limiter) CheckPolicy(ctx context.Context, policy Policy, scopeKey string) (Decision, error) {
	d, err := l.CheckSharded(ctx, policy.Name+":"+scopeKey, policy.Window, policy.Max, policy.Shards)

	outcome := "allowed"
	switch {
	case err != nil:
		outcome = "store_error"
	case !d.Allowed:
		outcome = "rejected"
	}
	metrics.RateLimitDecisions.WithLabelValues(policy.Name, outcome).Inc()

	return d, err
}

func decide(count, maxRequests int64, window Window, now time.Time) Decision {
	d := Decision{
		Allowed:   count <= maxRequests,
		Limit:     maxRequests,
		Count:     count,
		Remaining: max(0, maxRequests-count),
	}
	if !d.Allowed {
		d.RetryAfter = window.End(now).Sub(now)
	}
	return d
}

func counterKey(scopeKey string, window Window, now time.Time) string {
	return "rl:" + scopeKey + ":" + window.Key(now)
}
