package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/domain"
)

type countingScorer struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (s *countingScorer) ComputeAndPersist(ctx context.Context, userID int64) (domain.TrustScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.TrustScore{}, s.err
	}
	s.calls = append(s.calls, userID)
	return domain.TrustScore{UserID: userID, Score: 500}, nil
}

func (s *countingScorer) called() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.calls...)
}

func testJobsConfig(workers int) config.JobsConfig {
	return config.JobsConfig{Workers: workers, RecomputeTimeout: time.Minute}
}

func runPool(t *testing.T, r *Recomputer) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not drain and stop")
	}
}

func TestRecomputerProcessesQueuedJobs(t *testing.T) {
	q := NewMemoryQueue(8)
	scorer := &countingScorer{}
	r := NewRecomputer(q, NewMemoryLocker(), scorer, testJobsConfig(3), discardLogger())

	ctx := context.Background()
	for _, userID := range []int64{1, 2, 3, 4, 5} {
		if err := q.Enqueue(ctx, NewRecomputeJob(userID)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	q.Close()

	runPool(t, r)

	calls := scorer.called()
	if len(calls) != 5 {
		t.Fatalf("expected 5 recomputations, got %d: %v", len(calls), calls)
	}
	seen := map[int64]bool{}
	for _, id := range calls {
		seen[id] = true
	}
	for userID := int64(1); userID <= 5; userID++ {
		if !seen[userID] {
			t.Fatalf("user %d never recomputed", userID)
		}
	}
}

func TestRecomputerSkipsLockedUser(t *testing.T) {
	q := NewMemoryQueue(4)
	locker := NewMemoryLocker()
	scorer := &countingScorer{}
	r := NewRecomputer(q, locker, scorer, testJobsConfig(1), discardLogger())

	ctx := context.Background()
	// Another worker already holds user 9.
	if ok, _ := locker.TryLock(ctx, RecomputeLockKey(9), time.Minute); !ok {
		t.Fatal("setup lock failed")
	}
	q.Enqueue(ctx, NewRecomputeJob(9))
	q.Enqueue(ctx, NewRecomputeJob(10))
	q.Close()

	runPool(t, r)

	calls := scorer.called()
	if len(calls) != 1 || calls[0] != 10 {
		t.Fatalf("expected only user 10 recomputed, got %v", calls)
	}
}

func TestRecomputerReleasesLockAfterFailure(t *testing.T) {
	q := NewMemoryQueue(2)
	locker := NewMemoryLocker()
	scorer := &countingScorer{err: errors.New("ledger down")}
	r := NewRecomputer(q, locker, scorer, testJobsConfig(1), discardLogger())

	ctx := context.Background()
	q.Enqueue(ctx, NewRecomputeJob(3))
	q.Close()

	runPool(t, r)

	if ok, _ := locker.TryLock(ctx, RecomputeLockKey(3), time.Minute); !ok {
		t.Fatal("lock must be released even when the recompute fails")
	}
}

func TestRecomputerDropsUnknownJobKind(t *testing.T) {
	q := NewMemoryQueue(2)
	scorer := &countingScorer{}
	r := NewRecomputer(q, NewMemoryLocker(), scorer, testJobsConfig(1), discardLogger())

	ctx := context.Background()
	q.Enqueue(ctx, Job{ID: "x", Kind: "reindex_graph", UserID: 1})
	q.Close()

	runPool(t, r)

	if calls := scorer.called(); len(calls) != 0 {
		t.Fatalf("unknown kind must not reach the scorer, got %v", calls)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
