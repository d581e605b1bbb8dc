package domain

import "time"

// Tier buckets users by established standing. It is derived from score history
// and never treated as authoritative on its own.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// User is the canonical ledger identity record. Its id, name and current score
// are mirrored onto the graph as a User node.
type User struct {
	ID       int64     `gorm:"primaryKey" json:"id"`
	Name     string    `gorm:"size:255;not null" json:"name"`
	Phone    string    `gorm:"size:20;uniqueIndex" json:"phone"`
	Tier     Tier      `gorm:"size:20;default:bronze" json:"tier"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

// TableName keeps the ledger table naming stable across drivers.
func (User) TableName() string { return "users" }
