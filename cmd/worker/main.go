package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/graph"
	"github.com/ManaviP/ai-credit-network/internal/health"
	"github.com/ManaviP/ai-credit-network/internal/jobs"
	"github.com/ManaviP/ai-credit-network/internal/ledger"
	"github.com/ManaviP/ai-credit-network/internal/logging"
	"github.com/ManaviP/ai-credit-network/internal/repository"
	"github.com/ManaviP/ai-credit-network/internal/scoring"
)

// The worker binary drains the recompute queue and runs the nightly health
// sweep. It shares no process state with the API server; everything flows
// through Kafka, Redis and the two stores.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Error("worker requires KAFKA_BROKERS; single-node setups run workers inside the server process")
		os.Exit(1)
	}

	graphClient, err := graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	})
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	store, err := ledger.Open(cfg.Ledger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing ledger failed", "error", err)
		}
	}()

	repo := repository.New(graphClient)
	calculator := scoring.NewCalculator(store, repo, cfg.Scoring)
	scoreService := scoring.NewService(calculator, store, store, repo, logger)
	healthService := health.NewService(store, cfg.Health, logger)

	queue := jobs.NewKafkaQueue(cfg.Kafka)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("closing job queue failed", "error", err)
		}
	}()

	locker := buildLocker(cfg, logger)

	recomputer := jobs.NewRecomputer(queue, locker, scoreService, cfg.Jobs, logger)
	scheduler := jobs.NewScheduler(healthService, cfg.Health.SweepHourUTC, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recomputer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	logger.Info("worker started",
		"workers", cfg.Jobs.Workers,
		"sweep_hour_utc", cfg.Health.SweepHourUTC)

	<-ctx.Done()
	logger.Info("shutting down worker")
	wg.Wait()
}

func buildLocker(cfg config.Config, logger *slog.Logger) jobs.Locker {
	if cfg.Redis.Addr != "" {
		logger.Info("using redis recompute locks", "addr", cfg.Redis.Addr)
		return jobs.NewRedisLocker(cfg.Redis)
	}
	logger.Warn("no redis configured, recompute locks are process-local")
	return jobs.NewMemoryLocker()
}
