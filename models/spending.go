package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Spending struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CampaignID  primitive.ObjectID `bson:"campaign_id" json:"campaign_id"`
	SchoolID    primitive.ObjectID `bson:"school_id" json:"school_id"`
	Date        time.Time          `bson:"date" json:"date"`
	Destination string             `bson:"destination" json:"destination"`
	Amount      float64            `bson:"amount" json:"amount"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Documents   []string           `bson:"documents" json:"documents"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`

	// Enriched fields
	CampaignName string `bson:"-" json:"campaign_name,omitempty"`
}
