package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/graph"
	"github.com/ManaviP/ai-credit-network/internal/health"
	"github.com/ManaviP/ai-credit-network/internal/jobs"
	"github.com/ManaviP/ai-credit-network/internal/ledger"
	"github.com/ManaviP/ai-credit-network/internal/logging"
	"github.com/ManaviP/ai-credit-network/internal/repository"
	"github.com/ManaviP/ai-credit-network/internal/scoring"
	"github.com/ManaviP/ai-credit-network/internal/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	graphClient, err := buildGraphClient(ctx, cfg)
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
	queue := buildQueue(cfg, logger)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("closing job queue failed", "error", err)
		}
	}()

	// Without Kafka there is no separate worker binary draining the queue, so
	// the recompute pool runs inside the API process.
	if _, ok := queue.(*jobs.MemoryQueue); ok {
		recomputer := jobs.NewRecomputer(queue, buildLocker(cfg, logger), scoreService, cfg.Jobs, logger)
		workerCtx, stopWorkers := context.WithCancel(ctx)
		defer stopWorkers()
		go recomputer.Run(workerCtx)
	}

	apiHandlers := server.NewAPIHandlers(logger, scoreService, healthService, store, repo, queue)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.StoreHealthService{Graph: graphClient, Ledger: store},
		API:              apiHandlers,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildGraphClient(ctx context.Context, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, graph.ErrMissingURI
	}

	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	return graph.NewNeo4jClient(ctx, opts)
}

// buildQueue prefers Kafka when brokers are configured; single-node setups
// fall back to the in-process queue and run workers in the same binary.
func buildQueue(cfg config.Config, logger *slog.Logger) jobs.Queue {
	if len(cfg.Kafka.Brokers) > 0 {
		logger.Info("using kafka job queue",
			"brokers", strings.Join(cfg.Kafka.Brokers, ","),
			"topic", cfg.Kafka.Topic)
		return jobs.NewKafkaQueue(cfg.Kafka)
	}
	logger.Info("using in-process job queue")
	return jobs.NewMemoryQueue(256)
}

// buildLocker uses Redis when configured so multiple processes share one lock
// space, and an in-process locker otherwise.
func buildLocker(cfg config.Config, logger *slog.Logger) jobs.Locker {
	if cfg.Redis.Addr != "" {
		logger.Info("using redis recompute locks", "addr", cfg.Redis.Addr)
		return jobs.NewRedisLocker(cfg.Redis)
	}
	return jobs.NewMemoryLocker()
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
