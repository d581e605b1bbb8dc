package domain

import "time"

// ClusterType tags the kind of community a cluster represents.
type ClusterType string

const (
	ClusterSHG          ClusterType = "shg"
	ClusterMerchant     ClusterType = "merchant"
	ClusterNeighborhood ClusterType = "neighborhood"
)

// MemberRole distinguishes ordinary members from the community anchor.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAnchor MemberRole = "anchor"
)

// Community is a lending circle. Communities are created by an anchor and are
// never hard-deleted.
type Community struct {
	ID           int64       `gorm:"primaryKey" json:"id"`
	Name         string      `gorm:"size:255;not null" json:"name"`
	ClusterType  ClusterType `gorm:"size:32;not null" json:"cluster_type"`
	AnchorUserID int64       `gorm:"not null" json:"anchor_user_id"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (Community) TableName() string { return "communities" }

// CommunityMembership links a user to a community. A user holds at most one
// active membership per community; leaving soft-deletes the row via LeftAt.
type CommunityMembership struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"index;not null" json:"user_id"`
	CommunityID     int64      `gorm:"index;not null" json:"community_id"`
	Role            MemberRole `gorm:"size:16;default:member;not null" json:"role"`
	JoinedAt        time.Time  `gorm:"not null" json:"joined_at"`
	VouchedByUserID *int64     `json:"vouched_by_user_id,omitempty"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
}

func (CommunityMembership) TableName() string { return "community_memberships" }
