package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/logger"
)

// cursorTTL lets cursors for tie groups that no longer exist expire.
const cursorTTL = 30 * 24 * time.Hour

// Selector rotates among candidates tying on score and priority.
// The rotation cursor lives in the shared store, so every instance advances
// the same cursor for the same tie group.
type Selector struct {
	store   kvstore.Store
	enabled bool
	log     *logger.Logger
}

// NewSelector creates a selector. With enabled=false ties keep their
// deterministic rule-ID order.
func NewSelector(store kvstore.Store, enabled bool, log *logger.Logger) *Selector {
	return &Selector{store: store, enabled: enabled, log: log}
}

// Order returns candidates with each tie group rotated so the selected member
// comes first. The remaining members keep their relative order as fallbacks.
func (s *Selector) Order(ctx context.Context, candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))

	for start := 0; start < len(candidates); {
		end := start + 1
		for end < len(candidates) && tied(candidates[start], candidates[end]) {
			end++
		}

		group := candidates[start:end]
		if s.enabled && len(group) > 1 {
			group = s.rotate(ctx, group)
		}
		out = append(out, group...)
		start = end
	}
	return out
}

func (s *Selector) rotate(ctx context.Context, group []Candidate) []Candidate {
	key := GroupKey(group)

	n, err := s.store.IncrBy(ctx, key, 1, cursorTTL)
	if err != nil {
		s.log.Warn("round robin cursor unavailable, using deterministic order", "key", key, "error", err)
		return group
	}

	idx := int((n - 1) % int64(len(group)))
	if idx < 0 {
		idx += len(group)
	}

	rotated := make([]Candidate, 0, len(group))
	rotated = append(rotated, group[idx:]...)
	rotated = append(rotated, group[:idx]...)
	return rotated
}

// GroupKey identifies a tie group by the hash of its sorted rule IDs.
func GroupKey(group []Candidate) string {
	ids := make([]string, len(group))
	for i, c := range group {
		ids[i] = c.Rule.ID.String()
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return "rr:" + hex.EncodeToString(sum[:8])
}
