package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CampaignPending          = "pending" // reserved, never produced by create
	CampaignApproved         = "approved"
	CampaignPrincipalPending = "principal_pending"
	CampaignRejected         = "rejected"
)

const (
	TypeMonetary    = "Monetary"
	TypeNonMonetary = "Non-Monetary"
)

// Principal sign-off thresholds.
const (
	MonetaryApprovalThreshold    = 50000
	NonMonetaryApprovalThreshold = 100
)

type Campaign struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SchoolID     primitive.ObjectID `bson:"school_id" json:"school_id"`
	Name         string             `bson:"name" json:"name"`
	Description  string             `bson:"description" json:"description"`
	Amount       float64            `bson:"amount" json:"amount"` // currency units or item quantity
	CategoryID   string             `bson:"category_id" json:"category_id"`
	MonetaryType string             `bson:"monetary_type" json:"monetary_type"`
	Deadline     time.Time          `bson:"deadline" json:"deadline"`
	Image        string             `bson:"image,omitempty" json:"image,omitempty"`
	Status       string             `bson:"status" json:"status"`
	Closed       bool               `bson:"closed" json:"closed"`
	ClosedAt     *time.Time         `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	DecidedAt    *time.Time         `bson:"decided_at,omitempty" json:"decided_at,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

func (c *Campaign) IsMonetary() bool {
	return c.MonetaryType == TypeMonetary
}

// RequiresPrincipalApproval applies the two-tier approval policy.
func RequiresPrincipalApproval(monetaryType string, amount float64) bool {
	switch monetaryType {
	case TypeMonetary:
		return amount >= MonetaryApprovalThreshold
	case TypeNonMonetary:
		return amount >= NonMonetaryApprovalThreshold
	}
	return false
}
