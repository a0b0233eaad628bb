// Package kvstoretest provides store fixtures for tests: a Redis-backed store
// running on miniredis and a store that always fails.
package kvstoretest

import (
	"context"
	"testing"
	"time"

	"leadflow_backend/platform/kvstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// New starts a miniredis server bound to the test lifetime and returns a store on it.
func New(t testing.TB) (*kvstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return kvstore.NewRedisStore(client, "test:", time.Second), mr
}

// Failing is a store whose every call returns kvstore.ErrUnavailable.
type Failing struct{}

func (Failing) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, kvstore.ErrUnavailable
}

func (Failing) PutIfAbsent(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, kvstore.ErrUnavailable
}

func (Failing) Get(context.Context, string) ([]byte, error) {
	return nil, kvstore.ErrUnavailable
}

func (Failing) CompareAndSwap(context.Context, string, []byte, []byte, time.Duration) (bool, error) {
	return false, kvstore.ErrUnavailable
}

var _ kvstore.Store = Failing{}
