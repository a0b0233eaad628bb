package assignment

import (
	"context"
	"time"

	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/cache"
)

// DefaultRuleCacheTTL bounds how stale a rule edit can be on a running instance.
const DefaultRuleCacheTTL = 60 * time.Second

// RuleCache keeps each funnel's rule list for a fixed TTL per process.
type RuleCache struct {
	entries *cache.TTL[string, []routing.Rule]
}

// NewRuleCache wraps source with a per-funnel TTL cache.
func NewRuleCache(source RuleSource, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &RuleCache{
		entries: cache.NewTTL[string, []routing.Rule](ttl, source.ListActiveRules),
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *RuleCache) WithClock(now func() time.Time) *RuleCache {
	c.entries.WithClock(now)
	return c
}

// Get returns the rules for funnelID, loading them when the entry expired.
func (c *RuleCache) Get(ctx context.Context, funnelID string) ([]routing.Rule, error) {
	return c.entries.GetOrRefresh(ctx, funnelID)
}
