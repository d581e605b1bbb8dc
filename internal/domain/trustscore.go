package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ScoreType identifies the scoring model that produced a snapshot. Only the
// rule-based model exists today.
type ScoreType string

const ScoreRuleBased ScoreType = "rule_based"

// TrustScore is an append-only score snapshot. Rows are never updated or
// deleted; the current score for a user is the most recent snapshot by
// ComputedAt. ContentHash is the SHA-256 of the canonical breakdown, kept for
// later tamper-evidence anchoring.
type TrustScore struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	UserID      int64          `gorm:"index;not null" json:"user_id"`
	Score       float64        `gorm:"not null" json:"score"`
	ScoreType   ScoreType      `gorm:"size:20;default:rule_based;not null" json:"score_type"`
	Breakdown   datatypes.JSON `gorm:"not null" json:"breakdown"`
	Explanation string         `gorm:"size:1000" json:"explanation"`
	ContentHash string         `gorm:"size:64" json:"content_hash"`
	ComputedAt  time.Time      `gorm:"index;not null" json:"computed_at"`
}

func (TrustScore) TableName() string { return "trust_scores" }
