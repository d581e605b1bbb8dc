package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/domain"
)

// Sweeper runs the all-communities health check.
type Sweeper interface {
	SweepAll(ctx context.Context) domain.SweepReport
}

// Scheduler fires the nightly health sweep at a fixed UTC hour.
type Scheduler struct {
	sweeper Sweeper
	hourUTC int
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler wires a nightly scheduler.
func NewScheduler(sweeper Sweeper, hourUTC int, logger *slog.Logger) *Scheduler {
	return &Scheduler{sweeper: sweeper, hourUTC: hourUTC, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Run blocks, sweeping once per day at the configured hour, until the context
// ends.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := nextRunAfter(s.now(), s.hourUTC)
		s.logger.Info("next health sweep scheduled", slog.Time("at", next))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		report := s.sweeper.SweepAll(ctx)
		s.logger.Info("nightly sweep complete",
			slog.Int("communities", report.TotalCommunities),
			slog.Int("failures", len(report.Errors)))
	}
}

// nextRunAfter returns the next instant strictly after now whose UTC hour
// matches the schedule.
func nextRunAfter(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
