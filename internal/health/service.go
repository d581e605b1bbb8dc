package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/domain"
)

// Detection windows and thresholds.
const (
	OnTimeWindowDays    = 90
	AtRiskWindowDays    = 30
	AtRiskDropThreshold = 100.0
)

// Store is the slice of the ledger the health service reads. All metrics come
// from the transactional store; the graph plays no part in health reporting.
type Store interface {
	GetCommunity(ctx context.Context, communityID int64) (domain.Community, error)
	ListCommunities(ctx context.Context) ([]domain.Community, error)
	ActiveMemberships(ctx context.Context, communityID int64) ([]domain.CommunityMembership, error)
	GetUser(ctx context.Context, userID int64) (domain.User, error)
	AverageLatestScore(ctx context.Context, memberIDs []int64) (float64, error)
	RepaymentsPaidSince(ctx context.Context, memberIDs []int64, since time.Time) ([]domain.Repayment, error)
	CountActiveBorrowers(ctx context.Context, communityID int64) (int, error)
	TotalDisbursed(ctx context.Context, communityID int64) (float64, error)
	TotalRepaid(ctx context.Context, communityID int64) (float64, error)
	LatestTrustScore(ctx context.Context, userID int64) (*domain.TrustScore, error)
	TrustScoreAtOrBefore(ctx context.Context, userID int64, cutoff time.Time) (*domain.TrustScore, error)
}

// Service computes community health reports. Reports are derived fresh on
// every call; nothing is cached or stored.
type Service struct {
	store  Store
	cfg    config.HealthConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a health service.
func NewService(store Store, cfg config.HealthConfig, logger *slog.Logger) *Service {
	return &Service{store: store, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ComputeHealth builds the full health report for one community: average
// member trust score, the 90-day on-time repayment rate, loan money flow, the
// three-way cluster status and the at-risk member list.
func (s *Service) ComputeHealth(ctx context.Context, communityID int64) (domain.HealthReport, error) {
	community, err := s.store.GetCommunity(ctx, communityID)
	if err != nil {
		return domain.HealthReport{}, err
	}

	memberships, err := s.store.ActiveMemberships(ctx, communityID)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("memberships of community %d: %w", communityID, err)
	}
	memberIDs := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		memberIDs = append(memberIDs, m.UserID)
	}

	now := s.now()
	report := domain.HealthReport{
		CommunityID:   communityID,
		CommunityName: community.Name,
		ClusterType:   community.ClusterType,
		TotalMembers:  len(memberIDs),
		ComputedAt:    now,
	}

	// A community with no active members gets a degenerate report rather
	// than an error.
	if len(memberIDs) == 0 {
		report.Status = domain.StatusEmpty
		report.StatusColor = report.Status.Color()
		return report, nil
	}

	avgScore, err := s.store.AverageLatestScore(ctx, memberIDs)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("average score of community %d: %w", communityID, err)
	}

	since := now.AddDate(0, 0, -OnTimeWindowDays)
	recent, err := s.store.RepaymentsPaidSince(ctx, memberIDs, since)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("recent repayments of community %d: %w", communityID, err)
	}
	onTimeRate := 0.0
	if len(recent) > 0 {
		onTime := 0
		for _, r := range recent {
			if r.OnTime != nil && *r.OnTime {
				onTime++
			}
		}
		onTimeRate = float64(onTime) / float64(len(recent))
	}

	activeBorrowers, err := s.store.CountActiveBorrowers(ctx, communityID)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("active borrowers of community %d: %w", communityID, err)
	}
	disbursed, err := s.store.TotalDisbursed(ctx, communityID)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("disbursed total of community %d: %w", communityID, err)
	}
	repaid, err := s.store.TotalRepaid(ctx, communityID)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("repaid total of community %d: %w", communityID, err)
	}

	atRisk, err := s.atRiskMembers(ctx, memberIDs, now)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("at-risk scan of community %d: %w", communityID, err)
	}

	report.AverageTrustScore = round2(avgScore)
	report.OnTimeRate = round3(onTimeRate)
	report.OnTimeRatePct = round1(onTimeRate * 100)
	report.ActiveBorrowers = activeBorrowers
	report.Status = s.classify(avgScore)
	report.StatusColor = report.Status.Color()
	report.Financial = domain.FinancialSummary{
		TotalDisbursed: round2(disbursed),
		TotalRepaid:    round2(repaid),
		Outstanding:    round2(disbursed - repaid),
		Currency:       "INR",
	}
	report.AtRiskMembers = atRisk

	if report.Status == domain.StatusFragile {
		s.logger.Warn("fragile community",
			slog.Int64("community_id", communityID),
			slog.String("community", community.Name),
			slog.Float64("avg_score", report.AverageTrustScore))
	}
	if len(atRisk) > 0 {
		s.logger.Warn("at-risk members detected",
			slog.Int64("community_id", communityID),
			slog.String("community", community.Name),
			slog.Int("count", len(atRisk)))
	}

	return report, nil
}

// classify maps an average score to a cluster status. Thresholds are
// inclusive at the boundary.
func (s *Service) classify(avgScore float64) domain.ClusterStatus {
	switch {
	case avgScore >= s.cfg.StableThreshold:
		return domain.StatusStable
	case avgScore >= s.cfg.GrowingThreshold:
		return domain.StatusGrowing
	default:
		return domain.StatusFragile
	}
}

// atRiskMembers flags members whose current score sits more than the drop
// threshold below their score from the lookback window. The baseline is the
// nearest snapshot at or before the cutoff; members without a baseline or
// without any history are skipped, never flagged.
func (s *Service) atRiskMembers(ctx context.Context, memberIDs []int64, now time.Time) ([]domain.AtRiskMember, error) {
	cutoff := now.AddDate(0, 0, -AtRiskWindowDays)
	var flagged []domain.AtRiskMember

	for _, userID := range memberIDs {
		latest, err := s.store.LatestTrustScore(ctx, userID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			continue
		}
		baseline, err := s.store.TrustScoreAtOrBefore(ctx, userID, cutoff)
		if err != nil {
			return nil, err
		}
		if baseline == nil {
			continue
		}

		drop := baseline.Score - latest.Score
		if drop <= AtRiskDropThreshold {
			continue
		}

		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		flagged = append(flagged, domain.AtRiskMember{
			UserID:        userID,
			Name:          user.Name,
			CurrentScore:  round2(latest.Score),
			PreviousScore: round2(baseline.Score),
			ScoreDrop:     round2(drop),
			DaysAgo:       int(now.Sub(baseline.ComputedAt).Hours() / 24),
		})
	}
	return flagged, nil
}

// SweepAll runs a health check over every community. Each community gets its
// own deadline, and a failure in one community is recorded and never aborts
// the rest of the batch.
func (s *Service) SweepAll(ctx context.Context) domain.SweepReport {
	report := domain.SweepReport{StartedAt: s.now()}

	communities, err := s.store.ListCommunities(ctx)
	if err != nil {
		report.Errors = append(report.Errors, domain.SweepError{Error: err.Error()})
		report.FinishedAt = s.now()
		return report
	}
	report.TotalCommunities = len(communities)

	for _, community := range communities {
		communityCtx, cancel := context.WithTimeout(ctx, s.cfg.CommunityTimeout)
		health, err := s.ComputeHealth(communityCtx, community.ID)
		cancel()
		if err != nil {
			s.logger.Error("community health check failed",
				slog.Int64("community_id", community.ID),
				slog.String("error", err.Error()))
			report.Errors = append(report.Errors, domain.SweepError{
				CommunityID: community.ID,
				Error:       err.Error(),
			})
			continue
		}
		report.Reports = append(report.Reports, health)
	}

	report.FinishedAt = s.now()
	s.logger.Info("health sweep finished",
		slog.Int("communities", report.TotalCommunities),
		slog.Int("failures", len(report.Errors)))
	return report
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
