package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/kvstore/kvstoretest"
)

func TestConcurrentChecksHaveExactlyOneWinner(t *testing.T) {
	store, _ := kvstoretest.New(t)
	guard := NewGuard(store, time.Hour)
	ctx := context.Background()

	owners := []string{"lead-a", "lead-b"}
	results := make([]Result, len(owners))
	errs := make([]error, len(owners))

	var start, done sync.WaitGroup
	start.Add(1)
	for i, owner := range owners {
		done.Add(1)
		go func(i int, owner string) {
			defer done.Done()
			start.Wait()
			results[i], errs[i] = guard.Check(ctx, "same-key", owner, StatusPending)
		}(i, owner)
	}
	start.Done()
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}

	winner, loser := -1, -1
	for i, r := range results {
		if r.IsDuplicate {
			loser = i
		} else {
			winner = i
		}
	}
	if winner == -1 || loser == -1 {
		t.Fatalf("expected exactly one winner and one duplicate, got %+v", results)
	}
	if results[loser].ExistingOwnerID != owners[winner] {
		t.Fatalf("duplicate should report the winner %q, got %q", owners[winner], results[loser].ExistingOwnerID)
	}
	if results[loser].ExistingStatus != StatusPending {
		t.Fatalf("duplicate should report the winner's status, got %q", results[loser].ExistingStatus)
	}
}

func TestDuplicateSeesUpdatedStatus(t *testing.T) {
	store, _ := kvstoretest.New(t)
	guard := NewGuard(store, time.Hour)
	ctx := context.Background()

	if r, err := guard.Check(ctx, "k", "lead-1", StatusPending); err != nil || r.IsDuplicate {
		t.Fatalf("expected first check to win, got %+v err=%v", r, err)
	}

	ok, err := guard.UpdateStatus(ctx, "k", "lead-1", StatusPending, StatusCreated)
	if err != nil || !ok {
		t.Fatalf("expected status update, ok=%v err=%v", ok, err)
	}

	r, err := guard.Check(ctx, "k", "lead-2", StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsDuplicate || r.ExistingOwnerID != "lead-1" || r.ExistingStatus != StatusCreated {
		t.Fatalf("unexpected duplicate result %+v", r)
	}
}

func TestUpdateStatusRejectsForeignOwner(t *testing.T) {
	store, _ := kvstoretest.New(t)
	guard := NewGuard(store, time.Hour)
	ctx := context.Background()

	_, _ = guard.Check(ctx, "k", "lead-1", StatusPending)

	ok, err := guard.UpdateStatus(ctx, "k", "lead-2", StatusPending, StatusCreated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("a non-owner must not move the record")
	}
}

func TestFailedRecordCanBeTakenOver(t *testing.T) {
	store, _ := kvstoretest.New(t)
	guard := NewGuard(store, time.Hour)
	ctx := context.Background()

	_, _ = guard.Check(ctx, "k", "lead-1", StatusPending)
	if ok, err := guard.UpdateStatus(ctx, "k", "lead-1", StatusPending, StatusFailed); err != nil || !ok {
		t.Fatalf("expected failed status, ok=%v err=%v", ok, err)
	}

	r, err := guard.Check(ctx, "k", "lead-2", StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsDuplicate {
		t.Fatalf("expected takeover of a failed record, got %+v", r)
	}

	r, err = guard.Check(ctx, "k", "lead-3", StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsDuplicate || r.ExistingOwnerID != "lead-2" {
		t.Fatalf("expected lead-2 to own the key, got %+v", r)
	}
}

func TestCheckFailsClosedOnStoreError(t *testing.T) {
	guard := NewGuard(kvstoretest.Failing{}, time.Hour)

	_, err := guard.Check(context.Background(), "k", "lead-1", StatusPending)
	if !errors.Is(err, kvstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDeriveKeyNormalizesEquivalentSubmissions(t *testing.T) {
	a := DeriveKey(Identity{
		FunnelID:    "roofing",
		Email:       "Jane.Doe@Example.com ",
		Phone:       "(213) 373-4253",
		Name:        "Jane   Doe",
		Message:     "Need a new ROOF",
		PhoneRegion: "US",
	})
	b := DeriveKey(Identity{
		FunnelID:    "Roofing",
		Email:       "jane.doe@example.com",
		Phone:       "+1 213 373 4253",
		Name:        "jane doe",
		Message:     "need a new roof",
		PhoneRegion: "US",
	})
	if a != b {
		t.Fatalf("expected equivalent submissions to share a key")
	}

	c := DeriveKey(Identity{FunnelID: "solar", Email: "jane.doe@example.com"})
	if a == c {
		t.Fatalf("expected different funnels to produce different keys")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}
