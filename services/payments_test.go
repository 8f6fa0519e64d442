package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
)

func signedEvent(t *testing.T, secret, id, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return signed.Payload, signed.Header
}

func completedSession(donationID primitive.ObjectID, amountTotal int64) map[string]any {
	return map[string]any{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"amount_total":   amountTotal,
		"metadata":       map[string]string{"donationId": donationID.Hex()},
		"payment_intent": map[string]any{
			"id":            "pi_123",
			"object":        "payment_intent",
			"latest_charge": map[string]any{"id": "ch_1", "object": "charge", "receipt_url": "https://pay.example/receipt/ch_1"},
		},
	}
}

func checkoutFixture(t *testing.T) (*fixture, *models.Donor, *CheckoutResult) {
	t.Helper()
	f := newFixture(t)
	school := f.approvedSchool(t, "office@hillside.org")
	donor := f.donor(t, "sam@example.com")
	c := f.campaign(t, school.ID, models.TypeMonetary, 5000)

	res, err := f.svc.Payments.CreateCheckout(ctx, MonetaryInput{DonorID: donor.ID, CampaignID: c.ID, Amount: 1500.2})
	require.NoError(t, err)
	return f, donor, res
}

func TestCreateCheckout(t *testing.T) {
	f, donor, res := checkoutFixture(t)

	assert.Equal(t, "https://checkout.example/cs_test_1", res.URL)
	require.Len(t, f.gateway.created, 1)
	req := f.gateway.created[0]
	assert.EqualValues(t, 1500, req.Amount)
	assert.Equal(t, res.DonationID.Hex(), req.DonationID)
	assert.Equal(t, donor.ID.Hex(), req.DonorID)

	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationPending, d.Status)
	assert.Equal(t, "cs_test_1", d.CheckoutSession)
}

func TestCreateCheckoutGatewayFailure(t *testing.T) {
	f := newFixture(t)
	school := f.approvedSchool(t, "office@hillside.org")
	donor := f.donor(t, "sam@example.com")
	c := f.campaign(t, school.ID, models.TypeMonetary, 5000)
	f.gateway.fail = errors.New("stripe unavailable")

	_, err := f.svc.Payments.CreateCheckout(ctx, MonetaryInput{DonorID: donor.ID, CampaignID: c.ID, Amount: 10})
	require.Error(t, err)

	history, err := f.svc.Donations.DonorHistory(ctx, donor.ID)
	require.NoError(t, err)
	require.Len(t, history.Monetary, 1)
	assert.Equal(t, models.DonationFailed, history.Monetary[0].Status)
}

func TestVerifySessionDoesNotMutate(t *testing.T) {
	f, donor, res := checkoutFixture(t)

	got, err := f.svc.Payments.VerifySession(ctx, res.SessionID, donor.ID)
	require.NoError(t, err)
	assert.False(t, got.Paid)

	f.gateway.sessions[res.SessionID].PaymentStatus = "paid"
	got, err = f.svc.Payments.VerifySession(ctx, res.SessionID, donor.ID)
	require.NoError(t, err)
	assert.True(t, got.Paid)

	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationPending, d.Status)

	_, err = f.svc.Payments.VerifySession(ctx, res.SessionID, primitive.NewObjectID())
	requireKind(t, err, KindForbidden)
	_, err = f.svc.Payments.VerifySession(ctx, "", donor.ID)
	requireKind(t, err, KindValidation)
}

func TestWebhookCompletedIsAppliedOnce(t *testing.T) {
	f, _, res := checkoutFixture(t)
	payload, header := signedEvent(t, webhookSecret, "evt_1", "checkout.session.completed", completedSession(res.DonationID, 150000))

	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))
	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationPaid, d.Status)

	payments, err := f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "pi_123", payments[0].TransactionID)
	assert.Equal(t, 1500.0, payments[0].Amount)
	assert.Equal(t, models.MethodStripe, payments[0].Method)
	assert.Equal(t, "https://pay.example/receipt/ch_1", payments[0].ReceiptURL)

	// a different event for the same session does not add a second payment
	again, header := signedEvent(t, webhookSecret, "evt_2", "checkout.session.completed", completedSession(res.DonationID, 150000))
	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, again, header))
	payments, err = f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestWebhookFallsBackToSessionID(t *testing.T) {
	f, _, res := checkoutFixture(t)
	session := completedSession(res.DonationID, 2599)
	delete(session, "payment_intent")
	payload, header := signedEvent(t, webhookSecret, "evt_1", "checkout.session.completed", session)

	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))
	payments, err := f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "cs_test_1", payments[0].TransactionID)
	assert.Equal(t, 25.99, payments[0].Amount)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f, _, res := checkoutFixture(t)
	payload, _ := signedEvent(t, webhookSecret, "evt_1", "checkout.session.completed", completedSession(res.DonationID, 150000))
	_, forged := signedEvent(t, "whsec_wrong", "evt_1", "checkout.session.completed", completedSession(res.DonationID, 150000))

	err := f.svc.Payments.HandleWebhook(ctx, payload, forged)
	requireKind(t, err, KindValidation)
	err = f.svc.Payments.HandleWebhook(ctx, payload, "")
	requireKind(t, err, KindValidation)

	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationPending, d.Status)
	payments, err := f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	assert.Empty(t, payments)

	first, err := f.store.MarkEventProcessed(ctx, models.ProcessedEvent{ID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, first, "rejected events must not be recorded")
}

func TestWebhookWithoutSecretFailsClosed(t *testing.T) {
	f, _, res := checkoutFixture(t)
	payload, header := signedEvent(t, webhookSecret, "evt_1", "checkout.session.completed", completedSession(res.DonationID, 150000))
	f.cfg.StripeWebhookSecret = ""

	requireKind(t, f.svc.Payments.HandleWebhook(ctx, payload, header), KindValidation)
	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationPending, d.Status)
}

func TestWebhookExpiredMarksFailed(t *testing.T) {
	for i, eventType := range []string{"checkout.session.expired", "checkout.session.async_payment_failed"} {
		t.Run(eventType, func(t *testing.T) {
			f, _, res := checkoutFixture(t)
			payload, header := signedEvent(t, webhookSecret, fmt.Sprintf("evt_%d", i), eventType, map[string]any{
				"id":       "cs_test_1",
				"object":   "checkout.session",
				"metadata": map[string]string{"donationId": res.DonationID.Hex()},
			})
			require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

			d, err := f.store.MonetaryByID(ctx, res.DonationID)
			require.NoError(t, err)
			assert.Equal(t, models.DonationFailed, d.Status)
		})
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f, _, res := checkoutFixture(t)
	payload, header := signedEvent(t, webhookSecret, "evt_9", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})
	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationPending, d.Status)
}

func TestPaymentsDisabledWithoutGateway(t *testing.T) {
	f := newFixture(t)
	f.svc.Payments.gateway = nil
	_, err := f.svc.Payments.CreateCheckout(ctx, MonetaryInput{Amount: 10})
	requireKind(t, err, KindUnavailable)
}

func TestWebhookRedeliveryAfterFailureIsApplied(t *testing.T) {
	f, _, res := checkoutFixture(t)
	payload, header := signedEvent(t, webhookSecret, "evt_retry", "checkout.session.completed", completedSession(res.DonationID, 150000))

	f.store.FailPayments = errors.New("payments collection unavailable")
	require.Error(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

	f.store.FailPayments = nil
	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

	payments, err := f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "pi_123", payments[0].TransactionID)

	first, err := f.store.MarkEventProcessed(ctx, models.ProcessedEvent{ID: "evt_retry"})
	require.NoError(t, err)
	assert.False(t, first, "the successful delivery is recorded")
}

func TestWebhookSkipsRefundedDonation(t *testing.T) {
	f, _, res := checkoutFixture(t)
	_, err := f.store.TransitionMonetary(ctx, res.DonationID, []string{models.DonationPending}, models.DonationRefunded)
	require.NoError(t, err)

	payload, header := signedEvent(t, webhookSecret, "evt_1", "checkout.session.completed", completedSession(res.DonationID, 150000))
	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

	d, err := f.store.MonetaryByID(ctx, res.DonationID)
	require.NoError(t, err)
	assert.Equal(t, models.DonationRefunded, d.Status)
	payments, err := f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestWebhookAmountMismatchStillRecordsPayment(t *testing.T) {
	f, _, res := checkoutFixture(t)
	payload, header := signedEvent(t, webhookSecret, "evt_1", "checkout.session.completed", completedSession(res.DonationID, 99900))
	require.NoError(t, f.svc.Payments.HandleWebhook(ctx, payload, header))

	payments, err := f.store.PaymentsByDonations(ctx, []primitive.ObjectID{res.DonationID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, 999.0, payments[0].Amount, "the processor's total is what was charged")
}
