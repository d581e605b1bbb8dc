package domain

import "time"

// ClusterStatus is the three-way health classification of a community. It is
// recomputed fresh on every call; no transitions are stored.
type ClusterStatus string

const (
	StatusStable  ClusterStatus = "Stable"
	StatusGrowing ClusterStatus = "Growing"
	StatusFragile ClusterStatus = "Fragile"
	StatusEmpty   ClusterStatus = "empty"
)

// Color returns the status tag used by dashboard consumers.
func (s ClusterStatus) Color() string {
	switch s {
	case StatusStable:
		return "green"
	case StatusGrowing:
		return "yellow"
	case StatusFragile:
		return "red"
	default:
		return "gray"
	}
}

// FinancialSummary aggregates community loan money flow.
type FinancialSummary struct {
	TotalDisbursed float64 `json:"total_disbursed"`
	TotalRepaid    float64 `json:"total_repaid"`
	Outstanding    float64 `json:"outstanding"`
	Currency       string  `json:"currency"`
}

// AtRiskMember flags a member whose score dropped beyond the risk threshold
// over the lookback window.
type AtRiskMember struct {
	UserID        int64   `json:"user_id"`
	Name          string  `json:"name"`
	CurrentScore  float64 `json:"current_score"`
	PreviousScore float64 `json:"previous_score"`
	ScoreDrop     float64 `json:"score_drop"`
	DaysAgo       int     `json:"days_ago"`
}

// HealthReport is the per-community health view.
type HealthReport struct {
	CommunityID         int64            `json:"community_id"`
	CommunityName       string           `json:"community_name"`
	ClusterType         ClusterType      `json:"cluster_type"`
	TotalMembers        int              `json:"total_members"`
	AverageTrustScore   float64          `json:"average_trust_score"`
	OnTimeRate          float64          `json:"on_time_repayment_rate"`
	OnTimeRatePct       float64          `json:"on_time_repayment_rate_pct"`
	ActiveBorrowers     int              `json:"active_borrowers_count"`
	Status              ClusterStatus    `json:"cluster_status"`
	StatusColor         string           `json:"status_color"`
	Financial           FinancialSummary `json:"financial_summary"`
	AtRiskMembers       []AtRiskMember   `json:"at_risk_members"`
	ComputedAt          time.Time        `json:"computed_at"`
}

// SweepError records a single community failure inside a batch sweep.
type SweepError struct {
	CommunityID int64  `json:"community_id"`
	Error       string `json:"error"`
}

// SweepReport is the outcome of an all-communities health sweep. Failures are
// recorded per community and never abort the batch.
type SweepReport struct {
	TotalCommunities int            `json:"total_communities"`
	Reports          []HealthReport `json:"reports"`
	Errors           []SweepError   `json:"errors"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}
