package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/domain"
)

// Scorer runs a full scoring pass for one user.
type Scorer interface {
	ComputeAndPersist(ctx context.Context, userID int64) (domain.TrustScore, error)
}

// Recomputer drains the job queue with a pool of workers. Each job takes the
// per-user lock first; a user already being recomputed is skipped, since the
// in-flight pass will read state at least as fresh. Job failures are logged
// and never stop the pool.
type Recomputer struct {
	queue  Queue
	locker Locker
	scorer Scorer
	cfg    config.JobsConfig
	logger *slog.Logger
}

// NewRecomputer wires a worker pool.
func NewRecomputer(queue Queue, locker Locker, scorer Scorer, cfg config.JobsConfig, logger *slog.Logger) *Recomputer {
	return &Recomputer{queue: queue, locker: locker, scorer: scorer, cfg: cfg, logger: logger}
}

// Run starts the workers and blocks until the context ends or the queue
// closes.
func (r *Recomputer) Run(ctx context.Context) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (r *Recomputer) work(ctx context.Context, workerID int) {
	logger := r.logger.With(slog.Int("worker", workerID))
	for {
		job, err := r.queue.Dequeue(ctx)
		if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if err != nil {
			logger.Error("dequeue failed", slog.String("error", err.Error()))
			continue
		}
		r.handle(ctx, logger, job)
	}
}

func (r *Recomputer) handle(ctx context.Context, logger *slog.Logger, job Job) {
	if job.Kind != KindRecomputeScore {
		logger.Warn("unknown job kind dropped",
			slog.String("job_id", job.ID),
			slog.String("kind", job.Kind))
		return
	}

	key := RecomputeLockKey(job.UserID)
	acquired, err := r.locker.TryLock(ctx, key, r.cfg.RecomputeTimeout)
	if err != nil {
		logger.Error("lock acquisition failed",
			slog.String("job_id", job.ID),
			slog.Int64("user_id", job.UserID),
			slog.String("error", err.Error()))
		return
	}
	if !acquired {
		logger.Info("recompute already in flight, skipping",
			slog.String("job_id", job.ID),
			slog.Int64("user_id", job.UserID))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.RecomputeTimeout)
	snapshot, err := r.scorer.ComputeAndPersist(jobCtx, job.UserID)
	cancel()

	if unlockErr := r.locker.Unlock(context.WithoutCancel(ctx), key); unlockErr != nil {
		logger.Warn("lock release failed, TTL will reclaim it",
			slog.String("key", key),
			slog.String("error", unlockErr.Error()))
	}

	if err != nil {
		logger.Error("recompute failed",
			slog.String("job_id", job.ID),
			slog.Int64("user_id", job.UserID),
			slog.String("error", err.Error()))
		return
	}
	logger.Info("recompute finished",
		slog.String("job_id", job.ID),
		slog.Int64("user_id", job.UserID),
		slog.Float64("score", snapshot.Score))
}
