package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	PaymentSuccess  = "Success"
	PaymentPending  = "Pending"
	PaymentFailed   = "Failed"
	PaymentRefunded = "Refunded"
)

const (
	MethodManual = "manual"
	MethodStripe = "stripe"
)

type Payment struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DonationID    primitive.ObjectID `bson:"donation_id" json:"donation_id"`
	TransactionID string             `bson:"transaction_id" json:"transaction_id"`
	Amount        float64            `bson:"amount" json:"amount"`
	Status        string             `bson:"status" json:"status"`
	Method        string             `bson:"method" json:"method"`
	ReceiptURL    string             `bson:"receipt_url,omitempty" json:"receipt_url,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// ProcessedEvent records a payment-processor event that has been applied.
type ProcessedEvent struct {
	ID          string    `bson:"_id" json:"id"`
	Type        string    `bson:"type" json:"type"`
	ProcessedAt time.Time `bson:"processed_at" json:"processed_at"`
}
