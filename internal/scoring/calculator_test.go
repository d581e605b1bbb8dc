package scoring

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/domain"
)

var testWeights = config.ScoringConfig{
	WeightRepayment:          0.40,
	WeightTenure:             0.20,
	WeightVouchCount:         0.15,
	WeightVoucherReliability: 0.15,
	WeightLoanVolume:         0.10,
	ColdStartScore:           300,
}

type stubLedger struct {
	user         domain.User
	userErr      error
	repayments   []domain.Repayment
	joinedAt     *time.Time
	repaidVolume float64
}

func (s *stubLedger) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	if s.userErr != nil {
		return domain.User{}, s.userErr
	}
	return s.user, nil
}

func (s *stubLedger) PaidRepaymentsByBorrower(ctx context.Context, userID int64) ([]domain.Repayment, error) {
	return s.repayments, nil
}

func (s *stubLedger) EarliestActiveMembershipJoin(ctx context.Context, userID int64) (*time.Time, error) {
	return s.joinedAt, nil
}

func (s *stubLedger) TotalRepaidLoanAmount(ctx context.Context, userID int64) (float64, error) {
	return s.repaidVolume, nil
}

type stubGraph struct {
	vouchCount int
	avgScore   float64
	countErr   error
}

func (s *stubGraph) CountIncomingActiveVouches(ctx context.Context, userID int64) (int, error) {
	return s.vouchCount, s.countErr
}

func (s *stubGraph) AvgScoreOfVouchers(ctx context.Context, userID int64) (float64, error) {
	return s.avgScore, nil
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func paidInstallments(total, onTime int) []domain.Repayment {
	repayments := make([]domain.Repayment, total)
	paid := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range repayments {
		flag := i < onTime
		repayments[i] = domain.Repayment{ID: int64(i + 1), Amount: 500, PaidDate: &paid, OnTime: &flag}
	}
	return repayments
}

func TestComputeColdStart(t *testing.T) {
	calc := NewCalculator(&stubLedger{user: domain.User{ID: 1, Name: "Asha"}}, &stubGraph{}, testWeights)

	result, err := calc.Compute(context.Background(), 1)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.Score != 300 {
		t.Fatalf("expected cold-start score 300, got %v", result.Score)
	}
	if !result.Breakdown.IsColdStart {
		t.Fatal("expected is_cold_start true")
	}
	if !strings.Contains(result.Explanation, "base score of 300") {
		t.Fatalf("cold-start explanation missing base score: %q", result.Explanation)
	}
}

func TestComputeRepaymentHistoryDefeatsColdStart(t *testing.T) {
	// One paid installment is enough history to leave the cold-start branch,
	// even with zero tenure and zero vouches.
	ledger := &stubLedger{
		user:       domain.User{ID: 2, Name: "Ravi"},
		repayments: paidInstallments(10, 8),
	}
	calc := NewCalculator(ledger, &stubGraph{}, testWeights)

	result, err := calc.Compute(context.Background(), 2)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.Breakdown.IsColdStart {
		t.Fatal("user with repayment history must not be cold start")
	}
	// 8/10 on time: repayment component 800, everything else 0.
	if want := 800 * testWeights.WeightRepayment; result.Score != want {
		t.Fatalf("expected score %v, got %v", want, result.Score)
	}
	repayment := result.Breakdown.Components["repayment_history"]
	if repayment.Score != 800 {
		t.Fatalf("expected repayment component 800, got %v", repayment.Score)
	}
	data, ok := repayment.Data.(RepaymentData)
	if !ok {
		t.Fatalf("unexpected repayment data type %T", repayment.Data)
	}
	if data.OnTimeRate != 0.8 || data.LateRepayments != 2 {
		t.Fatalf("unexpected repayment data %+v", data)
	}
}

func TestComputeTenureSaturatesAtCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	joined := now.AddDate(-4, 0, 0) // 48 months, cap is 24
	ledger := &stubLedger{user: domain.User{ID: 3, Name: "Meena"}, joinedAt: &joined}
	calc := NewCalculator(ledger, &stubGraph{}, testWeights)
	calc.now = fixedNow(now)

	result, err := calc.Compute(context.Background(), 3)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	tenure := result.Breakdown.Components["community_tenure"]
	if tenure.Score != 1000 {
		t.Fatalf("expected saturated tenure score 1000, got %v", tenure.Score)
	}
	if want := 1000 * testWeights.WeightTenure; result.Score != want {
		t.Fatalf("expected score %v, got %v", want, result.Score)
	}
}

func TestComputeJoinedTodayIsColdStart(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	joined := now // zero tenure
	ledger := &stubLedger{user: domain.User{ID: 4, Name: "Fatima"}, joinedAt: &joined}
	calc := NewCalculator(ledger, &stubGraph{}, testWeights)
	calc.now = fixedNow(now)

	result, err := calc.Compute(context.Background(), 4)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !result.Breakdown.IsColdStart {
		t.Fatal("member who joined this instant with no other history should be cold start")
	}
}

func TestComputeVouchAndVolumeCaps(t *testing.T) {
	ledger := &stubLedger{
		user:         domain.User{ID: 5, Name: "Arjun"},
		repaidVolume: 250000, // cap is 100000
	}
	graph := &stubGraph{vouchCount: 15} // cap is 10
	calc := NewCalculator(ledger, graph, testWeights)

	result, err := calc.Compute(context.Background(), 5)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if v := result.Breakdown.Components["vouch_count"].Score; v != 1000 {
		t.Fatalf("expected saturated vouch component 1000, got %v", v)
	}
	if v := result.Breakdown.Components["loan_volume"].Score; v != 1000 {
		t.Fatalf("expected saturated volume component 1000, got %v", v)
	}
}

func TestComputeWeightedSum(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	joined := now.AddDate(0, 0, -360) // 12 months
	ledger := &stubLedger{
		user:         domain.User{ID: 6, Name: "Lakshmi"},
		repayments:   paidInstallments(12, 12),
		joinedAt:     &joined,
		repaidVolume: 50000,
	}
	graph := &stubGraph{vouchCount: 5, avgScore: 600}
	calc := NewCalculator(ledger, graph, testWeights)
	calc.now = fixedNow(now)

	result, err := calc.Compute(context.Background(), 6)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// repayment 1000*0.4 + tenure 500*0.2 + vouches 500*0.15 +
	// reliability 600*0.15 + volume 500*0.1 = 715
	if result.Score != 715 {
		t.Fatalf("expected score 715, got %v", result.Score)
	}
	for name, c := range result.Breakdown.Components {
		if c.WeightedContribution != round2(c.Score*c.Weight) {
			t.Fatalf("component %s contribution %v does not match score %v * weight %v",
				name, c.WeightedContribution, c.Score, c.Weight)
		}
	}
	if !strings.Contains(result.Explanation, "100% on-time rate (12/12 payments)") {
		t.Fatalf("explanation missing repayment line: %q", result.Explanation)
	}
	if !strings.Contains(result.Explanation, "5 community members vouch") {
		t.Fatalf("explanation missing vouch line: %q", result.Explanation)
	}
}

func TestComputePropagatesComponentErrors(t *testing.T) {
	ledger := &stubLedger{user: domain.User{ID: 7, Name: "Dev"}}
	graph := &stubGraph{countErr: fmt.Errorf("bolt connection refused")}
	calc := NewCalculator(ledger, graph, testWeights)

	_, err := calc.Compute(context.Background(), 7)
	if err == nil || !strings.Contains(err.Error(), "vouch count component") {
		t.Fatalf("expected vouch component error, got %v", err)
	}
}

func TestComputeUnknownUser(t *testing.T) {
	ledger := &stubLedger{userErr: domain.ErrUserNotFound}
	calc := NewCalculator(ledger, &stubGraph{}, testWeights)

	_, err := calc.Compute(context.Background(), 404)
	if err == nil {
		t.Fatal("expected error for unknown user")
	}
}
