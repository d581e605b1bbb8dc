package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/domain"
)

// LedgerWriter is the slice of the transactional store the persister needs.
type LedgerWriter interface {
	AppendTrustScore(ctx context.Context, score *domain.TrustScore) error
	AppendAuditLog(ctx context.Context, entry *domain.AuditLog) error
}

// GraphWriter mirrors score updates onto the graph.
type GraphWriter interface {
	UpsertUserNode(ctx context.Context, userID int64, name string, score float64) error
}

// Service computes scores and persists them. The ledger snapshot is the
// source of truth; the graph mirror is best-effort and a mirror failure never
// fails the computation.
type Service struct {
	calc   *Calculator
	ledger LedgerWriter
	reader LedgerReader
	graph  GraphWriter
	logger *slog.Logger
}

// NewService wires the scoring pipeline.
func NewService(calc *Calculator, ledger LedgerWriter, reader LedgerReader, graph GraphWriter, logger *slog.Logger) *Service {
	return &Service{calc: calc, ledger: ledger, reader: reader, graph: graph, logger: logger}
}

// ComputeAndPersist runs a full scoring pass for a user: compute the score,
// append an immutable ledger snapshot with its content hash, mirror the new
// score onto the graph, and record an audit entry.
func (s *Service) ComputeAndPersist(ctx context.Context, userID int64) (domain.TrustScore, error) {
	user, err := s.reader.GetUser(ctx, userID)
	if err != nil {
		return domain.TrustScore{}, err
	}

	result, err := s.calc.Compute(ctx, userID)
	if err != nil {
		return domain.TrustScore{}, fmt.Errorf("compute score for user %d: %w", userID, err)
	}

	payload, err := json.Marshal(result.Breakdown)
	if err != nil {
		return domain.TrustScore{}, fmt.Errorf("encode breakdown: %w", err)
	}

	snapshot := domain.TrustScore{
		UserID:      userID,
		Score:       result.Score,
		ScoreType:   domain.ScoreRuleBased,
		Breakdown:   payload,
		Explanation: result.Explanation,
		ContentHash: ContentHash(payload),
		ComputedAt:  time.Now().UTC(),
	}
	if err := s.ledger.AppendTrustScore(ctx, &snapshot); err != nil {
		return domain.TrustScore{}, fmt.Errorf("persist score for user %d: %w", userID, err)
	}

	// Ledger commit succeeded; the graph mirror must not undo that.
	if err := s.graph.UpsertUserNode(ctx, userID, user.Name, result.Score); err != nil {
		s.logger.Warn("graph score mirror failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
	}

	auditPayload, _ := json.Marshal(map[string]any{
		"score":         result.Score,
		"score_type":    domain.ScoreRuleBased,
		"content_hash":  snapshot.ContentHash,
		"is_cold_start": result.Breakdown.IsColdStart,
	})
	audit := domain.AuditLog{
		UserID:    userID,
		EventType: domain.EventScoreComputed,
		EntityID:  snapshot.ID,
		Payload:   auditPayload,
	}
	if err := s.ledger.AppendAuditLog(ctx, &audit); err != nil {
		s.logger.Warn("audit append failed",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
	}

	s.logger.Info("trust score computed",
		slog.Int64("user_id", userID),
		slog.Float64("score", result.Score),
		slog.Bool("cold_start", result.Breakdown.IsColdStart))

	return snapshot, nil
}

// Explain recomputes the user's score on demand without persisting anything.
// The serving path uses it for the synchronous breakdown read; everything
// else goes through ComputeAndPersist.
func (s *Service) Explain(ctx context.Context, userID int64) (Result, error) {
	return s.calc.Compute(ctx, userID)
}

// ContentHash is the SHA-256 of the canonical breakdown encoding, kept on the
// snapshot for later tamper-evidence anchoring.
func ContentHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
