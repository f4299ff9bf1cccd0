package events

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/carecompanion/internal/domain"
	"github.com/ashureev/carecompanion/internal/store"
)

func TestExpiryWorkerPrunes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, clock := newTestRepo(t, store.NewMemory(), baseNow)
	if _, err := repo.AddEvent(ctx, "Soon", baseNow.Add(time.Minute), domain.RecurrenceOnce); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	clock.Set(baseNow.Add(time.Hour))

	pruned := make(chan int, 1)
	StartExpiryWorker(ctx, repo, 10*time.Millisecond, func(n int) {
		select {
		case pruned <- n:
		default:
		}
	})

	select {
	case n := <-pruned:
		if n != 1 {
			t.Fatalf("expected 1 pruned, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sweep")
	}
}

func TestSweepExpiredIgnoresStorageErrors(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	s.FailGets(true)
	repo, _ := newTestRepo(t, s, baseNow)

	called := false
	sweepExpired(context.Background(), repo, func(int) { called = true })
	if called {
		t.Fatal("callback must not run when pruning fails")
	}
}
