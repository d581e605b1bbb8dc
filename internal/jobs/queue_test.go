package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	for _, userID := range []int64{1, 2, 3} {
		if err := q.Enqueue(ctx, NewRecomputeJob(userID)); err != nil {
			t.Fatalf("enqueue user %d: %v", userID, err)
		}
	}
	for _, want := range []int64{1, 2, 3} {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if job.UserID != want {
			t.Fatalf("expected user %d, got %d", want, job.UserID)
		}
		if job.Kind != KindRecomputeScore || job.ID == "" {
			t.Fatalf("malformed job %+v", job)
		}
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueueCloseDrainsThenReports(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	if err := q.Enqueue(ctx, NewRecomputeJob(7)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Buffered job is still deliverable after close.
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after close: %v", err)
	}
	if job.UserID != 7 {
		t.Fatalf("expected buffered job for user 7, got %d", job.UserID)
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed once drained, got %v", err)
	}
	if err := q.Enqueue(ctx, NewRecomputeJob(8)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on enqueue, got %v", err)
	}
	// A second close must be a no-op.
	if err := q.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}
