// Package idempotency collapses duplicate logical operations by a
// content-derived key. The first conditional create for a key wins; every
// competitor reads the winner's record instead.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/metrics"
)

const (
	StatusPending = "pending"
	StatusCreated = "created"
	// StatusFailed marks a key whose owner gave up; the next Check may take it over.
	StatusFailed = "failed"

	defaultTTL = 30 * 24 * time.Hour
)

// Record is the stored owner of a key.
type Record struct {
	OwnerID   string    `json:"ownerId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Result reports whether the caller won the key.
type Result struct {
	IsDuplicate     bool
	ExistingOwnerID string
	ExistingStatus  string
}

// Guard performs create-if-absent checks against the shared store.
type Guard struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGuard creates a guard whose records live for ttl.
func NewGuard(store kvstore.Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{store: store, ttl: ttl, now: time.Now}
}

// Check registers candidateOwnerID as the owner of key, or reports the existing owner.
// Store errors are returned as-is; callers must treat them as a rejection.
func (g *Guard) Check(ctx context.Context, key, candidateOwnerID, status string) (Result, error) {
	payload, err := json.Marshal(Record{OwnerID: candidateOwnerID, Status: status, CreatedAt: g.now().UTC()})
	if err != nil {
		return Result{}, fmt.Errorf("encode idempotency record: %w", err)
	}

	created, err := g.store.PutIfAbsent(ctx, recordKey(key), payload, g.ttl)
	if err != nil {
		metrics.IdempotencyChecks.WithLabelValues("store_error").Inc()
		return Result{}, fmt.Errorf("idempotency check: %w", err)
	}
	if created {
		metrics.IdempotencyChecks.WithLabelValues("first").Inc()
		return Result{IsDuplicate: false}, nil
	}

	raw, existing, err := g.read(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		// The winner's record expired between the two calls; still a duplicate.
		metrics.IdempotencyChecks.WithLabelValues("duplicate").Inc()
		return Result{IsDuplicate: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if existing.Status == StatusFailed {
		took, err := g.store.CompareAndSwap(ctx, recordKey(key), raw, payload, g.ttl)
		if err != nil {
			metrics.IdempotencyChecks.WithLabelValues("store_error").Inc()
			return Result{}, fmt.Errorf("idempotency takeover: %w", err)
		}
		if took {
			metrics.IdempotencyChecks.WithLabelValues("takeover").Inc()
			return Result{IsDuplicate: false}, nil
		}
		// Someone else took it over first; report the record as it is now.
		if _, existing, err = g.read(ctx, key); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return Result{}, err
		}
	}

	metrics.IdempotencyChecks.WithLabelValues("duplicate").Inc()
	return Result{
		IsDuplicate:     true,
		ExistingOwnerID: existing.OwnerID,
		ExistingStatus:  existing.Status,
	}, nil
}

// UpdateStatus moves the record owned by ownerID from one status to another.
// It returns false when the record is missing, owned by someone else, or not in from.
func (g *Guard) UpdateStatus(ctx context.Context, key, ownerID, from, to string) (bool, error) {
	raw, err := g.store.Get(ctx, recordKey(key))
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency read: %w", err)
	}

	var current Record
	if err := json.Unmarshal(raw, &current); err != nil {
		return false, fmt.Errorf("decode idempotency record: %w", err)
	}
	if current.OwnerID != ownerID || current.Status != from {
		return false, nil
	}

	current.Status = to
	next, err := json.Marshal(current)
	if err != nil {
		return false, fmt.Errorf("encode idempotency record: %w", err)
	}

	swapped, err := g.store.CompareAndSwap(ctx, recordKey(key), raw, next, 0)
	if err != nil {
		return false, fmt.Errorf("idempotency update: %w", err)
	}
	return swapped, nil
}

func (g *Guard) read(ctx context.Context, key string) ([]byte, Record, error) {
	raw, err := g.store.Get(ctx, recordKey(key))
	if err != nil {
		return nil, Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, Record{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return raw, rec, nil
}

func recordKey(key string) string {
	return "idem:" + key
}
