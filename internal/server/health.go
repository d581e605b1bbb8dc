package server

import (
	"context"
	"fmt"

	"github.com/ManaviP/ai-credit-network/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// Pinger checks connectivity of the transactional store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthService verifies both backing stores as part of health checks.
// Either store being down makes the service degraded: scores need the ledger,
// vouch counts need the graph.
type StoreHealthService struct {
	Graph  graph.Client
	Ledger Pinger
}

// Probe implements the HealthService interface.
func (s StoreHealthService) Probe(ctx context.Context) error {
	if s.Graph != nil {
		if err := s.Graph.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("graph: %w", err)
		}
	}
	if s.Ledger != nil {
		if err := s.Ledger.Ping(ctx); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	return nil
}
