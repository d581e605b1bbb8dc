package domain

import "time"

// VouchRelationship is the ledger row for a directed trust assertion between
// two users. The graph holds the matching VOUCHES_FOR edge; its outcome
// counters are monotonically non-decreasing and accumulate across repeated
// vouch events. At most one active row exists per (voucher, vouchee) pair and
// self-vouching is forbidden.
type VouchRelationship struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	VoucherID     int64      `gorm:"index;not null" json:"voucher_id"`
	VoucheeID     int64      `gorm:"index;not null" json:"vouchee_id"`
	Weight        float64    `gorm:"default:1;not null" json:"weight"`
	Active        bool       `gorm:"default:true;not null" json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func (VouchRelationship) TableName() string { return "vouch_relationships" }

// VouchOutcome selects which counter a vouch-edge increment targets.
type VouchOutcome string

const (
	OutcomeRepayment VouchOutcome = "repayment"
	OutcomeDefault   VouchOutcome = "default"
)
