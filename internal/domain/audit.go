package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Audit event types recorded by the engine.
const (
	EventScoreComputed   = "score_computed"
	EventRepaymentLogged = "repayment_logged"
	EventVouchCreated    = "vouch_created"
)

// AuditLog records every scoring decision and score-relevant event for
// compliance review. Rows are append-only.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	UserID    int64          `gorm:"index" json:"user_id"`
	EventType string         `gorm:"size:100;index;not null" json:"event_type"`
	EntityID  int64          `json:"entity_id"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
