package domain

import "time"

// LoanStatus tracks a loan application through its lifecycle.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanRejected  LoanStatus = "rejected"
	LoanDisbursed LoanStatus = "disbursed"
	LoanRepaid    LoanStatus = "repaid"
	LoanDefaulted LoanStatus = "defaulted"
)

// LoanApplication is a ledger row consumed by scoring as input only.
type LoanApplication struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	BorrowerID      int64      `gorm:"index;not null" json:"borrower_id"`
	CommunityID     int64      `gorm:"index;not null" json:"community_id"`
	AmountRequested float64    `gorm:"not null" json:"amount_requested"`
	AmountApproved  float64    `json:"amount_approved"`
	Purpose         string     `gorm:"type:text" json:"purpose"`
	Status          LoanStatus `gorm:"size:16;default:pending;not null" json:"status"`
	TenureMonths    int        `json:"tenure_months"`
	AppliedAt       time.Time  `gorm:"not null" json:"applied_at"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty"`
	RepaidAt        *time.Time `json:"repaid_at,omitempty"`
}

func (LoanApplication) TableName() string { return "loan_applications" }

// Repayment is an installment against a loan. OnTime stays nil until the
// installment is paid and is assigned exactly once at payment time, comparing
// the paid date against the due date plus the fixed grace period.
type Repayment struct {
	ID       int64      `gorm:"primaryKey" json:"id"`
	LoanID   int64      `gorm:"index;not null" json:"loan_id"`
	Amount   float64    `gorm:"not null" json:"amount"`
	DueDate  time.Time  `gorm:"not null" json:"due_date"`
	PaidDate *time.Time `json:"paid_date,omitempty"`
	OnTime   *bool      `json:"on_time,omitempty"`
}

func (Repayment) TableName() string { return "repayments" }
