package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/domain"
)

// Normalization caps. Each component saturates at its cap and maps linearly
// onto [0, 1000].
const (
	TenureCapMonths  = 24.0
	VouchCountCap    = 10.0
	LoanVolumeCap    = 100000.0
	MaxComponentStep = 1000.0
)

// LedgerReader is the slice of the transactional store the calculator needs.
type LedgerReader interface {
	GetUser(ctx context.Context, userID int64) (domain.User, error)
	PaidRepaymentsByBorrower(ctx context.Context, userID int64) ([]domain.Repayment, error)
	EarliestActiveMembershipJoin(ctx context.Context, userID int64) (*time.Time, error)
	TotalRepaidLoanAmount(ctx context.Context, userID int64) (float64, error)
}

// GraphReader is the slice of the graph store the calculator needs.
type GraphReader interface {
	CountIncomingActiveVouches(ctx context.Context, userID int64) (int, error)
	AvgScoreOfVouchers(ctx context.Context, userID int64) (float64, error)
}

// Component is a single scored factor inside a breakdown.
type Component struct {
	Score                float64 `json:"score"`
	Weight               float64 `json:"weight"`
	WeightedContribution float64 `json:"weighted_contribution"`
	Data                 any     `json:"data"`
}

// RepaymentData backs the repayment-history component.
type RepaymentData struct {
	TotalRepayments  int     `json:"total_repayments"`
	OnTimeRepayments int     `json:"on_time_repayments"`
	OnTimeRate       float64 `json:"on_time_rate"`
	LateRepayments   int     `json:"late_repayments"`
}

// TenureData backs the community-tenure component.
type TenureData struct {
	MonthsActive float64 `json:"months_active"`
	JoinedDate   string  `json:"joined_date,omitempty"`
}

// VouchData backs the vouch-count component.
type VouchData struct {
	VouchCount int `json:"vouch_count"`
}

// VoucherReliabilityData backs the voucher-reliability component.
type VoucherReliabilityData struct {
	AvgVoucherScore float64 `json:"avg_voucher_score"`
}

// LoanVolumeData backs the loan-volume component.
type LoanVolumeData struct {
	TotalAmountRepaid float64 `json:"total_amount_repaid"`
	Currency          string  `json:"currency"`
}

// Breakdown is the full, auditable decomposition of a score. It is persisted
// as the snapshot's JSON payload and hashed for tamper evidence.
type Breakdown struct {
	FinalScore  float64              `json:"final_score"`
	IsColdStart bool                 `json:"is_cold_start"`
	Components  map[string]Component `json:"components"`
	ComputedAt  string               `json:"computed_at"`
}

// Result bundles everything a single computation produces.
type Result struct {
	Score       float64
	Breakdown   Breakdown
	Explanation string
}

// Calculator computes rule-based trust scores from ledger and graph inputs.
// Five weighted components feed the score, each normalized to [0, 1000]:
// repayment history, community tenure, vouch count, voucher reliability and
// loan volume. A user with no repayments, no tenure and no vouches gets the
// fixed cold-start score instead of the weighted sum.
type Calculator struct {
	ledger LedgerReader
	graph  GraphReader
	cfg    config.ScoringConfig
	now    func() time.Time
}

// NewCalculator wires a calculator against its two stores.
func NewCalculator(ledger LedgerReader, graph GraphReader, cfg config.ScoringConfig) *Calculator {
	return &Calculator{ledger: ledger, graph: graph, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Compute calculates the trust score for a user. Component inputs are read
// from the ledger (repayments, tenure, loan volume) and the graph (vouch
// count, voucher reliability).
func (c *Calculator) Compute(ctx context.Context, userID int64) (Result, error) {
	user, err := c.ledger.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	repaymentScore, repaymentData, err := c.repaymentHistory(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("repayment component: %w", err)
	}
	tenureScore, tenureData, err := c.communityTenure(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("tenure component: %w", err)
	}
	vouchScore, vouchData, err := c.vouchCount(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("vouch count component: %w", err)
	}
	reliabilityScore, reliabilityData, err := c.voucherReliability(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("voucher reliability component: %w", err)
	}
	volumeScore, volumeData, err := c.loanVolume(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("loan volume component: %w", err)
	}

	coldStart := repaymentData.TotalRepayments == 0 &&
		tenureData.MonthsActive == 0 &&
		vouchData.VouchCount == 0

	var finalScore float64
	var explanation string
	if coldStart {
		finalScore = c.cfg.ColdStartScore
		explanation = c.coldStartExplanation(user.Name)
	} else {
		finalScore = repaymentScore*c.cfg.WeightRepayment +
			tenureScore*c.cfg.WeightTenure +
			vouchScore*c.cfg.WeightVouchCount +
			reliabilityScore*c.cfg.WeightVoucherReliability +
			volumeScore*c.cfg.WeightLoanVolume
		explanation = c.explanation(user.Name,
			repaymentData, tenureData, vouchData, reliabilityData, volumeData)
	}
	finalScore = round2(finalScore)

	breakdown := Breakdown{
		FinalScore:  finalScore,
		IsColdStart: coldStart,
		Components: map[string]Component{
			"repayment_history":   component(repaymentScore, c.cfg.WeightRepayment, repaymentData),
			"community_tenure":    component(tenureScore, c.cfg.WeightTenure, tenureData),
			"vouch_count":         component(vouchScore, c.cfg.WeightVouchCount, vouchData),
			"voucher_reliability": component(reliabilityScore, c.cfg.WeightVoucherReliability, reliabilityData),
			"loan_volume":         component(volumeScore, c.cfg.WeightLoanVolume, volumeData),
		},
		ComputedAt: c.now().Format(time.RFC3339),
	}

	return Result{Score: finalScore, Breakdown: breakdown, Explanation: explanation}, nil
}

func component(score, weight float64, data any) Component {
	return Component{
		Score:                round2(score),
		Weight:               weight,
		WeightedContribution: round2(score * weight),
		Data:                 data,
	}
}

func (c *Calculator) repaymentHistory(ctx context.Context, userID int64) (float64, RepaymentData, error) {
	repayments, err := c.ledger.PaidRepaymentsByBorrower(ctx, userID)
	if err != nil {
		return 0, RepaymentData{}, err
	}
	if len(repayments) == 0 {
		return 0, RepaymentData{}, nil
	}

	onTime := 0
	for _, r := range repayments {
		if r.OnTime != nil && *r.OnTime {
			onTime++
		}
	}
	total := len(repayments)
	rate := float64(onTime) / float64(total)

	return rate * MaxComponentStep, RepaymentData{
		TotalRepayments:  total,
		OnTimeRepayments: onTime,
		OnTimeRate:       round3(rate),
		LateRepayments:   total - onTime,
	}, nil
}

func (c *Calculator) communityTenure(ctx context.Context, userID int64) (float64, TenureData, error) {
	joined, err := c.ledger.EarliestActiveMembershipJoin(ctx, userID)
	if err != nil {
		return 0, TenureData{}, err
	}
	if joined == nil {
		return 0, TenureData{}, nil
	}

	months := c.now().Sub(*joined).Hours() / 24 / 30
	if months < 0 {
		months = 0
	}
	score := math.Min(months/TenureCapMonths, 1.0) * MaxComponentStep

	return score, TenureData{
		MonthsActive: round1(months),
		JoinedDate:   joined.UTC().Format(time.RFC3339),
	}, nil
}

func (c *Calculator) vouchCount(ctx context.Context, userID int64) (float64, VouchData, error) {
	count, err := c.graph.CountIncomingActiveVouches(ctx, userID)
	if err != nil {
		return 0, VouchData{}, err
	}
	score := math.Min(float64(count)/VouchCountCap, 1.0) * MaxComponentStep
	return score, VouchData{VouchCount: count}, nil
}

func (c *Calculator) voucherReliability(ctx context.Context, userID int64) (float64, VoucherReliabilityData, error) {
	avg, err := c.graph.AvgScoreOfVouchers(ctx, userID)
	if err != nil {
		return 0, VoucherReliabilityData{}, err
	}
	// Voucher scores already live on the [0, 1000] scale.
	return avg, VoucherReliabilityData{AvgVoucherScore: round2(avg)}, nil
}

func (c *Calculator) loanVolume(ctx context.Context, userID int64) (float64, LoanVolumeData, error) {
	total, err := c.ledger.TotalRepaidLoanAmount(ctx, userID)
	if err != nil {
		return 0, LoanVolumeData{}, err
	}
	score := math.Min(total/LoanVolumeCap, 1.0) * MaxComponentStep
	return score, LoanVolumeData{TotalAmountRepaid: round2(total), Currency: "INR"}, nil
}

func (c *Calculator) explanation(name string,
	repayment RepaymentData, tenure TenureData, vouch VouchData,
	reliability VoucherReliabilityData, volume LoanVolumeData,
) string {
	parts := []string{fmt.Sprintf("%s's trust score breakdown:", name)}

	if repayment.TotalRepayments > 0 {
		parts = append(parts, fmt.Sprintf("- Repayment: %.0f%% on-time rate (%d/%d payments)",
			repayment.OnTimeRate*100, repayment.OnTimeRepayments, repayment.TotalRepayments))
	} else {
		parts = append(parts, "- Repayment: No history yet")
	}

	if tenure.MonthsActive > 0 {
		parts = append(parts, fmt.Sprintf("- Community: Active for %.1f months", tenure.MonthsActive))
	} else {
		parts = append(parts, "- Community: Just joined")
	}

	if vouch.VouchCount > 0 {
		parts = append(parts, fmt.Sprintf("- Vouches: %d community members vouch for them", vouch.VouchCount))
	} else {
		parts = append(parts, "- Vouches: No vouches yet")
	}

	if reliability.AvgVoucherScore > 0 {
		parts = append(parts, fmt.Sprintf("- Voucher Quality: Vouchers have avg score of %.0f", reliability.AvgVoucherScore))
	}

	if volume.TotalAmountRepaid > 0 {
		parts = append(parts, fmt.Sprintf("- Loan History: ₹%.0f successfully repaid", volume.TotalAmountRepaid))
	}

	return strings.Join(parts, "\n")
}

func (c *Calculator) coldStartExplanation(name string) string {
	return fmt.Sprintf("%s is building their credit profile. Starting with a base score of %.0f. "+
		"Score will improve with community participation, vouches, and successful repayments.",
		name, c.cfg.ColdStartScore)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
