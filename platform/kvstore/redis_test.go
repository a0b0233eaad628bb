package kvstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/kvstore/kvstoretest"
)

func TestIncrByAppliesTTLOnlyOnCreate(t *testing.T) {
	store, mr := kvstoretest.New(t)
	ctx := context.Background()

	value, err := store.IncrBy(ctx, "counter", 1, time.Minute)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected 1, got %d", value)
	}

	mr.FastForward(30 * time.Second)

	value, err = store.IncrBy(ctx, "counter", 1, time.Hour)
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if value != 2 {
		t.Fatalf("expected 2, got %d", value)
	}

	ttl := mr.TTL("test:counter")
	if ttl > 30*time.Second || ttl <= 0 {
		t.Fatalf("expected ttl to keep counting down from the first write, got %s", ttl)
	}

	mr.FastForward(31 * time.Second)
	if _, err := store.Get(ctx, "counter"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected counter to expire, got %v", err)
	}
}

func TestIncrByConcurrentCallersNeverLoseUpdates(t *testing.T) {
	store, _ := kvstoretest.New(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	seen := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.IncrBy(ctx, "hot", 1, time.Minute)
			if err != nil {
				t.Errorf("incr: %v", err)
				return
			}
			seen <- v
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		if unique[v] {
			t.Fatalf("value %d returned twice", v)
		}
		unique[v] = true
	}
	if len(unique) != workers {
		t.Fatalf("expected %d distinct values, got %d", workers, len(unique))
	}

	total, err := kvstore.GetCounter(ctx, store, "hot")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if total != workers {
		t.Fatalf("expected %d, got %d", workers, total)
	}
}

func TestPutIfAbsentSucceedsOnce(t *testing.T) {
	store, _ := kvstoretest.New(t)
	ctx := context.Background()

	created, err := store.PutIfAbsent(ctx, "idem", []byte("first"), time.Hour)
	if err != nil || !created {
		t.Fatalf("expected first put to succeed, created=%v err=%v", created, err)
	}

	created, err = store.PutIfAbsent(ctx, "idem", []byte("second"), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected second put to be rejected")
	}

	value, err := store.Get(ctx, "idem")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "first" {
		t.Fatalf("expected winner value to survive, got %q", value)
	}
}

func TestCompareAndSwap(t *testing.T) {
	store, mr := kvstoretest.New(t)
	ctx := context.Background()

	swapped, err := store.CompareAndSwap(ctx, "state", nil, []byte("pending"), time.Hour)
	if err != nil || !swapped {
		t.Fatalf("expected create-if-absent swap, swapped=%v err=%v", swapped, err)
	}

	swapped, err = store.CompareAndSwap(ctx, "state", []byte("other"), []byte("created"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swapped {
		t.Fatalf("expected swap with stale expectation to fail")
	}

	swapped, err = store.CompareAndSwap(ctx, "state", []byte("pending"), []byte("created"), 0)
	if err != nil || !swapped {
		t.Fatalf("expected swap to succeed, swapped=%v err=%v", swapped, err)
	}

	if ttl := mr.TTL("test:state"); ttl <= 0 {
		t.Fatalf("expected zero-ttl swap to keep the existing expiry, got %s", ttl)
	}

	value, _ := store.Get(ctx, "state")
	if string(value) != "created" {
		t.Fatalf("expected created, got %q", value)
	}
}

func TestStoreErrorsWrapUnavailable(t *testing.T) {
	store, mr := kvstoretest.New(t)
	mr.Close()

	_, err := store.IncrBy(context.Background(), "counter", 1, time.Minute)
	if !errors.Is(err, kvstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
