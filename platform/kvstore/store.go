// Package kvstore provides the shared coordination store used by every
// stateless instance. All mutual exclusion is expressed as conditional writes
// or server-side atomic increments; nothing here holds an in-process lock.
// This is part of the platform layer and contains no business logic.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist (or has expired).
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnavailable wraps every transport, timeout or throttling failure.
	ErrUnavailable = errors.New("kvstore: store unavailable")
)

// Store is the minimal CAS-style contract the coordination logic depends on.
// Any backend offering optimistic concurrency can implement it.
type Store interface {
	// IncrBy atomically adds delta to the counter at key and returns the new value.
	// When the call creates the key, ttlOnCreate is applied; later calls never extend it.
	IncrBy(ctx context.Context, key string, delta int64, ttlOnCreate time.Duration) (int64, error)

	// PutIfAbsent stores value only when key does not exist.
	// It returns false, nil when the key already exists.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// CompareAndSwap replaces the value at key with next only when the current
	// value equals expected. A nil expected means "key must be absent".
	// A zero ttl keeps the remaining TTL of the existing key.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error)
}

// GetCounter reads a counter written by IncrBy. Missing keys read as zero.
func GetCounter(ctx context.Context, s Store, key string) (int64, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseInt(raw)
}
