package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/schoolfund-go/config"
	metrics "github.com/phillip/schoolfund-go/metrics"
	models "github.com/phillip/schoolfund-go/models"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

type PaymentService struct {
	cfg       *config.Config
	store     store.Store
	gateway   utils.PaymentGateway
	donations *DonationService
	now       func() time.Time
}

var errPaymentsDisabled = newError(KindUnavailable, "online payments are not configured")

// ---------------- CHECKOUT ----------------

type CheckoutResult struct {
	DonationID primitive.ObjectID `json:"donation_id"`
	SessionID  string             `json:"session_id"`
	URL        string             `json:"url"`
}

// CreateCheckout stores a pending donation and opens a hosted checkout for
// it. The webhook settles the donation later.
func (s *PaymentService) CreateCheckout(ctx context.Context, in MonetaryInput) (*CheckoutResult, error) {
	if s.gateway == nil {
		return nil, errPaymentsDisabled
	}
	amount, err := wholeAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	campaign, err := s.donations.donatable(ctx, in.CampaignID, models.TypeMonetary)
	if err != nil {
		return nil, err
	}

	now := s.now()
	donation := &models.MonetaryDonation{
		DonorID:    in.DonorID,
		CampaignID: in.CampaignID,
		Amount:     amount,
		Visibility: normalizeVisibility(in.Visibility),
		Message:    strings.TrimSpace(in.Message),
		Status:     models.DonationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateMonetary(ctx, donation); err != nil {
		return nil, fmt.Errorf("create donation: %w", err)
	}

	frontend := strings.TrimRight(s.cfg.FrontendURL, "/")
	session, err := s.gateway.CreateCheckout(ctx, utils.CheckoutRequest{
		DonationID:   donation.ID.Hex(),
		CampaignID:   campaign.ID.Hex(),
		DonorID:      in.DonorID.Hex(),
		CampaignName: campaign.Name,
		Amount:       amount,
		Currency:     s.cfg.StripeCurrency,
		SuccessURL:   frontend + "/donation/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:    frontend + "/campaigns/" + campaign.ID.Hex(),
	})
	if err != nil {
		if _, terr := s.store.TransitionMonetary(ctx, donation.ID, []string{models.DonationPending}, models.DonationFailed); terr != nil {
			slog.WarnContext(ctx, "Failed to mark donation failed", slog.String("donation_id", donation.ID.Hex()), slog.Any("err", terr))
		}
		return nil, err
	}
	if err := s.store.SetMonetaryCheckout(ctx, donation.ID, session.ID); err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}

	metrics.Donations.WithLabelValues("checkout").Inc()
	return &CheckoutResult{DonationID: donation.ID, SessionID: session.ID, URL: session.URL}, nil
}

// ---------------- VERIFY ----------------

type VerifyResult struct {
	SessionID     string `json:"session_id"`
	Paid          bool   `json:"paid"`
	PaymentStatus string `json:"payment_status"`
	DonationID    string `json:"donation_id,omitempty"`
}

// VerifySession reports whether a checkout session is paid. It only reads;
// state changes come from the webhook.
func (s *PaymentService) VerifySession(ctx context.Context, sessionID string, donorID primitive.ObjectID) (*VerifyResult, error) {
	if s.gateway == nil {
		return nil, errPaymentsDisabled
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, invalid("session_id is required")
	}
	session, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if owner := session.Metadata["donorId"]; owner != "" && owner != donorID.Hex() {
		return nil, forbidden("checkout session belongs to another donor")
	}
	return &VerifyResult{
		SessionID:     session.ID,
		Paid:          session.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid),
		PaymentStatus: session.PaymentStatus,
		DonationID:    session.Metadata["donationId"],
	}, nil
}

// ---------------- WEBHOOK ----------------

// HandleWebhook verifies and applies a payment processor event. Without a
// configured secret or with a bad signature nothing is written. Each event
// id is applied at most once.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.cfg.StripeWebhookSecret == "" {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return invalid("webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		slog.WarnContext(ctx, "Rejected webhook", slog.Any("err", err))
		return invalid("invalid webhook signature")
	}

	eventType := string(event.Type)
	outcome := "applied"
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		first, err := s.store.MarkEventProcessed(ctx, models.ProcessedEvent{
			ID:          event.ID,
			Type:        eventType,
			ProcessedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		if !first {
			outcome = "duplicate"
			return nil
		}
		handled, err := s.apply(ctx, event)
		if err != nil {
			// without a transaction the mark is already committed; drop it
			// so the processor's redelivery of this event is applied
			if !s.store.Transactional() {
				if uerr := s.store.UnmarkEvent(ctx, event.ID); uerr != nil {
					slog.ErrorContext(ctx, "Failed to release webhook event", slog.String("event_id", event.ID), slog.Any("err", uerr))
				}
			}
			return err
		}
		if !handled {
			outcome = "ignored"
		}
		return nil
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		return err
	}
	metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	slog.InfoContext(ctx, "Webhook processed", slog.String("event_id", event.ID), slog.String("type", eventType), slog.String("outcome", outcome))
	return nil
}

func (s *PaymentService) apply(ctx context.Context, event stripe.Event) (bool, error) {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return true, invalid("malformed checkout session payload")
		}
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			// async methods settle later through async_payment_succeeded
			return false, nil
		}
		return true, s.settle(ctx, &session)

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return true, invalid("malformed checkout session payload")
		}
		id, ok := donationFromSession(ctx, &session)
		if !ok {
			return false, nil
		}
		_, err := s.store.TransitionMonetary(ctx, id, []string{models.DonationPending}, models.DonationFailed)
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return true, err
	}
	return false, nil
}

// settle marks the donation paid and records the payment once.
func (s *PaymentService) settle(ctx context.Context, session *stripe.CheckoutSession) error {
	id, ok := donationFromSession(ctx, session)
	if !ok {
		return nil
	}

	donation, err := s.store.TransitionMonetary(ctx, id, []string{models.DonationPending, models.DonationFailed}, models.DonationPaid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.WarnContext(ctx, "Webhook for unknown donation", slog.String("donation_id", id.Hex()))
		return nil
	case errors.Is(err, store.ErrConflict):
		donation, err = s.store.MonetaryByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load donation: %w", err)
		}
		if donation.Status != models.DonationPaid {
			slog.WarnContext(ctx, "Ignoring payment for settled donation",
				slog.String("donation_id", id.Hex()), slog.String("status", donation.Status))
			return nil
		}
	case err != nil:
		return fmt.Errorf("mark donation paid: %w", err)
	}

	if expected := donation.Amount * 100; session.AmountTotal != expected {
		slog.WarnContext(ctx, "Checkout amount differs from donation",
			slog.String("donation_id", id.Hex()),
			slog.Int64("expected_minor", expected),
			slog.Int64("amount_total", session.AmountTotal))
	}

	txn := session.ID
	receipt := ""
	if session.PaymentIntent != nil {
		if session.PaymentIntent.ID != "" {
			txn = session.PaymentIntent.ID
		}
		if session.PaymentIntent.LatestCharge != nil {
			receipt = session.PaymentIntent.LatestCharge.ReceiptURL
		}
	}

	payment := &models.Payment{
		DonationID:    id,
		TransactionID: txn,
		Amount:        decimal.New(session.AmountTotal, -2).InexactFloat64(),
		Status:        models.PaymentSuccess,
		Method:        models.MethodStripe,
		ReceiptURL:    receipt,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func donationFromSession(ctx context.Context, session *stripe.CheckoutSession) (primitive.ObjectID, bool) {
	raw := session.Metadata["donationId"]
	if raw == "" {
		raw = session.ClientReferenceID
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		slog.WarnContext(ctx, "Checkout session without a donation id", slog.String("session_id", session.ID))
		return primitive.NilObjectID, false
	}
	return id, true
}
