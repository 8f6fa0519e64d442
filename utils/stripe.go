package utils

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type CheckoutRequest struct {
	DonationID   string
	CampaignID   string
	DonorID      string
	CampaignName string
	Amount       int64 // major units
	Currency     string
	SuccessURL   string
	CancelURL    string
}

type CheckoutSession struct {
	ID              string
	URL             string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64 // minor units
	Metadata        map[string]string
}

// PaymentGateway is the subset of Stripe Checkout the API uses.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*CheckoutSession, error)
}

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{api: sc}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.DonationID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount * 100),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Donation: " + req.CampaignName),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("donationId", req.DonationID)
	params.AddMetadata("campaignId", req.CampaignID)
	params.AddMetadata("donorId", req.DonorID)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sessionFromStripe(s), nil
}

func (g *StripeGateway) GetSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return sessionFromStripe(s), nil
}

func sessionFromStripe(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}
