package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job kinds understood by the workers.
const KindRecomputeScore = "recompute_score"

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("job queue closed")

// Job is a single background work item. Score recomputation is asynchronous:
// API handlers enqueue and return immediately, workers consume.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	UserID     int64     `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRecomputeJob builds a recompute job for one user.
func NewRecomputeJob(userID int64) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       KindRecomputeScore,
		UserID:     userID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Queue is the transport between enqueuers and workers. Kafka backs it in
// production; the in-process channel queue serves single-node deployments and
// tests.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// MemoryQueue is a channel-backed Queue.
type MemoryQueue struct {
	jobs chan Job

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue builds an in-process queue with the given buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

// Enqueue adds a job, blocking only when the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job arrives, the context ends, or the queue closes.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close stops the queue. Buffered jobs remain dequeueable until drained.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
