package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DonationPending  = "pending"
	DonationPaid     = "paid"
	DonationFailed   = "failed"
	DonationRefunded = "refunded"
)

const (
	VisibilityPublic    = "Public"
	VisibilityAnonymous = "Anonymous"
)

type MonetaryDonation struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DonorID         primitive.ObjectID `bson:"donor_id" json:"donor_id"`
	CampaignID      primitive.ObjectID `bson:"campaign_id" json:"campaign_id"`
	Amount          int64              `bson:"amount" json:"amount"`
	Visibility      string             `bson:"visibility" json:"visibility"`
	Message         string             `bson:"message,omitempty" json:"message,omitempty"`
	Status          string             `bson:"status" json:"status"`
	CheckoutSession string             `bson:"checkout_session,omitempty" json:"checkout_session,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

const (
	IntentPledged   = "pledged"
	IntentReceived  = "received"
	IntentCancelled = "cancelled"
)

const (
	DeliveryHandover = "handover"
	DeliveryCourier  = "courier"
)

type NonMonetaryDonation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DonorID        primitive.ObjectID `bson:"donor_id" json:"donor_id"`
	CampaignID     primitive.ObjectID `bson:"campaign_id" json:"campaign_id"`
	DeliveryMethod string             `bson:"delivery_method" json:"delivery_method"`
	CourierRef     string             `bson:"courier_ref,omitempty" json:"courier_ref,omitempty"`
	ImagePath      string             `bson:"image_path" json:"image_path"`
	Quantity       int                `bson:"quantity" json:"quantity"`
	DeadlineDate   *time.Time         `bson:"deadline_date,omitempty" json:"deadline_date,omitempty"`
	Notes          string             `bson:"notes,omitempty" json:"notes,omitempty"`
	Status         string             `bson:"status" json:"status"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}
