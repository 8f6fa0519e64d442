package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	metrics "github.com/phillip/schoolfund-go/metrics"
	models "github.com/phillip/schoolfund-go/models"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

const MaxEvidencePhotoSize = 5 << 20

var evidenceTypes = []string{"image/png", "image/jpeg", "image/jpg", "image/webp"}

type DonationService struct {
	store     store.Store
	files     utils.FileStore
	campaigns *CampaignService
	now       func() time.Time
}

// wholeAmount rounds half away from zero to whole currency units.
func wholeAmount(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, invalid("amount must be a positive number")
	}
	rounded := math.Round(amount)
	if rounded < 1 {
		return 0, invalid("amount must be at least 1 after rounding")
	}
	if rounded > math.MaxInt64/100 {
		return 0, invalid("amount is too large")
	}
	return int64(rounded), nil
}

func normalizeVisibility(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), models.VisibilityAnonymous) {
		return models.VisibilityAnonymous
	}
	return models.VisibilityPublic
}

// donatable loads a campaign that is approved, still open and of the given type.
func (s *DonationService) donatable(ctx context.Context, id primitive.ObjectID, monetaryType string) (*models.Campaign, error) {
	campaign, err := s.store.CampaignByID(ctx, id)
	if err != nil {
		return nil, translate(err, "campaign")
	}
	if campaign.Status != models.CampaignApproved {
		return nil, invalid("campaign is %s and not accepting donations", campaign.Status)
	}
	if campaign.Closed {
		return nil, conflict("campaign is closed")
	}
	if campaign.MonetaryType != monetaryType {
		return nil, invalid("campaign accepts %s donations only", campaign.MonetaryType)
	}
	return campaign, nil
}

// ---------------- MONETARY ----------------

type MonetaryInput struct {
	DonorID    primitive.ObjectID `json:"-"`
	CampaignID primitive.ObjectID `json:"-"`
	Amount     float64            `json:"amount"`
	Visibility string             `json:"visibility"`
	Message    string             `json:"message"`
}

type MonetaryReceipt struct {
	Donation *models.MonetaryDonation `json:"donation"`
	Payment  *models.Payment          `json:"payment,omitempty"`
}

// RecordMonetary stores a direct donation as paid along with a manual
// payment record. With transactions the two writes commit together;
// without them a failed payment write is logged and the donation stands.
func (s *DonationService) RecordMonetary(ctx context.Context, in MonetaryInput) (*MonetaryReceipt, error) {
	amount, err := wholeAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if _, err := s.donatable(ctx, in.CampaignID, models.TypeMonetary); err != nil {
		return nil, err
	}

	now := s.now()
	donation := &models.MonetaryDonation{
		DonorID:    in.DonorID,
		CampaignID: in.CampaignID,
		Amount:     amount,
		Visibility: normalizeVisibility(in.Visibility),
		Message:    strings.TrimSpace(in.Message),
		Status:     models.DonationPaid,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	payment := &models.Payment{
		TransactionID: "MANUAL-" + uuid.NewString(),
		Amount:        float64(amount),
		Status:        models.PaymentSuccess,
		Method:        models.MethodManual,
		CreatedAt:     now,
	}

	if s.store.Transactional() {
		err = s.store.WithTx(ctx, func(ctx context.Context) error {
			if err := s.store.CreateMonetary(ctx, donation); err != nil {
				return fmt.Errorf("create donation: %w", err)
			}
			payment.DonationID = donation.ID
			if err := s.store.CreatePayment(ctx, payment); err != nil {
				return fmt.Errorf("create payment: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.store.CreateMonetary(ctx, donation); err != nil {
			return nil, fmt.Errorf("create donation: %w", err)
		}
		payment.DonationID = donation.ID
		if err := s.store.CreatePayment(ctx, payment); err != nil {
			slog.ErrorContext(ctx, "Failed to record payment for donation",
				slog.String("donation_id", donation.ID.Hex()), slog.Any("err", err))
			payment = nil
		}
	}

	metrics.Donations.WithLabelValues("monetary").Inc()
	return &MonetaryReceipt{Donation: donation, Payment: payment}, nil
}

// ---------------- NON-MONETARY ----------------

type NonMonetaryInput struct {
	DonorID        primitive.ObjectID
	CampaignID     primitive.ObjectID
	DeliveryMethod string
	Quantity       int
	Photo          *Upload
	Notes          string
	CourierRef     string
	DeadlineDate   *time.Time
}

func (s *DonationService) RecordNonMonetary(ctx context.Context, in NonMonetaryInput) (*models.NonMonetaryDonation, error) {
	if in.Photo == nil {
		return nil, invalid("an evidence photo is required")
	}
	in.DeliveryMethod = strings.ToLower(strings.TrimSpace(in.DeliveryMethod))
	err := validation.Errors{
		"quantity":       validation.Validate(in.Quantity, validation.Required, validation.Min(1)),
		"deliveryMethod": validation.Validate(in.DeliveryMethod, validation.Required, validation.In(models.DeliveryHandover, models.DeliveryCourier)),
	}.Filter()
	if err != nil {
		return nil, fromValidation(err)
	}
	if in.Photo.Size > MaxEvidencePhotoSize {
		return nil, newError(KindTooLarge, "evidence photo must be 5MB or smaller")
	}
	mime, err := utils.SniffMIME(in.Photo.Content)
	if err != nil {
		return nil, invalid("could not read evidence photo")
	}
	if !slices.Contains(evidenceTypes, mime) {
		return nil, invalid("evidence photo must be PNG, JPEG or WEBP, got %s", mime)
	}

	if _, err := s.donatable(ctx, in.CampaignID, models.TypeNonMonetary); err != nil {
		return nil, err
	}

	ref, err := s.files.Save(ctx, "evidence", in.Photo.Filename, in.Photo.Content)
	if err != nil {
		return nil, fmt.Errorf("store evidence photo: %w", err)
	}

	now := s.now()
	intent := &models.NonMonetaryDonation{
		DonorID:        in.DonorID,
		CampaignID:     in.CampaignID,
		DeliveryMethod: in.DeliveryMethod,
		CourierRef:     strings.TrimSpace(in.CourierRef),
		ImagePath:      ref,
		Quantity:       in.Quantity,
		DeadlineDate:   in.DeadlineDate,
		Notes:          strings.TrimSpace(in.Notes),
		Status:         models.IntentPledged,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateNonMonetary(ctx, intent); err != nil {
		if derr := s.files.Delete(ctx, ref); derr != nil {
			slog.WarnContext(ctx, "Failed to remove orphaned evidence photo", slog.String("ref", ref), slog.Any("err", derr))
		}
		return nil, fmt.Errorf("create pledge: %w", err)
	}
	metrics.Donations.WithLabelValues("nonmonetary").Inc()
	return intent, nil
}

// UpdateNonMonetaryStatus lets the receiving school settle a pledge.
func (s *DonationService) UpdateNonMonetaryStatus(ctx context.Context, intentID, schoolID primitive.ObjectID, status string) (*models.NonMonetaryDonation, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != models.IntentReceived && status != models.IntentCancelled {
		return nil, invalid("status must be received or cancelled")
	}
	intent, err := s.store.NonMonetaryByID(ctx, intentID)
	if err != nil {
		return nil, translate(err, "donation")
	}
	if _, err := s.campaigns.owned(ctx, intent.CampaignID, schoolID); err != nil {
		return nil, err
	}
	updated, err := s.store.TransitionNonMonetary(ctx, intentID, models.IntentPledged, status)
	if errors.Is(err, store.ErrConflict) {
		return nil, conflict("donation is no longer pledged")
	}
	return updated, translate(err, "donation")
}

// ---------------- HISTORY ----------------

type MonetaryEntry struct {
	models.MonetaryDonation

	CampaignName string          `json:"campaign_name,omitempty"`
	Payment      *models.Payment `json:"payment,omitempty"`
}

type NonMonetaryEntry struct {
	models.NonMonetaryDonation

	CampaignName string `json:"campaign_name,omitempty"`
}

type DonorHistory struct {
	Monetary    []MonetaryEntry    `json:"monetary"`
	NonMonetary []NonMonetaryEntry `json:"non_monetary"`
}

func (s *DonationService) DonorHistory(ctx context.Context, donorID primitive.ObjectID) (*DonorHistory, error) {
	var (
		monetary    []models.MonetaryDonation
		nonMonetary []models.NonMonetaryDonation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		monetary, err = s.store.MonetaryByDonor(gctx, donorID)
		return err
	})
	g.Go(func() (err error) {
		nonMonetary, err = s.store.NonMonetaryByDonor(gctx, donorID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load donor history: %w", err)
	}

	ids := make([]primitive.ObjectID, len(monetary))
	for i, d := range monetary {
		ids[i] = d.ID
	}
	payments, err := s.paymentsByDonation(ctx, ids)
	if err != nil {
		return nil, err
	}
	names, err := campaignNames(ctx, s.store, campaignIDs(monetary, nonMonetary))
	if err != nil {
		return nil, err
	}

	out := &DonorHistory{
		Monetary:    make([]MonetaryEntry, 0, len(monetary)),
		NonMonetary: make([]NonMonetaryEntry, 0, len(nonMonetary)),
	}
	for _, d := range monetary {
		entry := MonetaryEntry{MonetaryDonation: d, CampaignName: names[d.CampaignID]}
		if p, ok := payments[d.ID]; ok {
			entry.Payment = &p
		}
		out.Monetary = append(out.Monetary, entry)
	}
	for _, d := range nonMonetary {
		out.NonMonetary = append(out.NonMonetary, NonMonetaryEntry{NonMonetaryDonation: d, CampaignName: names[d.CampaignID]})
	}
	return out, nil
}

// ---------------- SCHOOL DONATIONS ----------------

type SchoolDonation struct {
	ID           primitive.ObjectID `json:"id"`
	Kind         string             `json:"kind"`
	CampaignID   primitive.ObjectID `json:"campaign_id"`
	CampaignName string             `json:"campaign_name"`
	DonorName    string             `json:"donor_name"`
	Amount       int64              `json:"amount,omitempty"`
	Quantity     int                `json:"quantity,omitempty"`
	Message      string             `json:"message,omitempty"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// SchoolDonations is the public feed of gifts across a school's campaigns.
// Anonymous donors are masked and monetary status reflects the payment.
func (s *DonationService) SchoolDonations(ctx context.Context, schoolID primitive.ObjectID) ([]SchoolDonation, error) {
	campaigns, err := s.store.Campaigns(ctx, store.CampaignFilter{SchoolID: &schoolID})
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	if len(campaigns) == 0 {
		return []SchoolDonation{}, nil
	}
	names := make(map[primitive.ObjectID]string, len(campaigns))
	ids := make([]primitive.ObjectID, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
		names[c.ID] = c.Name
	}

	var (
		monetary    []models.MonetaryDonation
		nonMonetary []models.NonMonetaryDonation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		monetary, err = s.store.MonetaryByCampaigns(gctx, ids)
		return err
	})
	g.Go(func() (err error) {
		nonMonetary, err = s.store.NonMonetaryByCampaigns(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load school donations: %w", err)
	}

	donationIDs := make([]primitive.ObjectID, len(monetary))
	for i, d := range monetary {
		donationIDs[i] = d.ID
	}
	payments, err := s.paymentsByDonation(ctx, donationIDs)
	if err != nil {
		return nil, err
	}
	donors, err := s.donorNames(ctx, monetary, nonMonetary)
	if err != nil {
		return nil, err
	}

	rows := make([]SchoolDonation, 0, len(monetary)+len(nonMonetary))
	for _, d := range monetary {
		row := SchoolDonation{
			ID:           d.ID,
			Kind:         "monetary",
			CampaignID:   d.CampaignID,
			CampaignName: names[d.CampaignID],
			DonorName:    donors[d.DonorID],
			Amount:       d.Amount,
			Message:      d.Message,
			Status:       d.Status,
			CreatedAt:    d.CreatedAt,
		}
		if d.Visibility == models.VisibilityAnonymous {
			row.DonorName = models.VisibilityAnonymous
		}
		if p, ok := payments[d.ID]; ok && p.Status == models.PaymentSuccess {
			row.Status = models.DonationPaid
		}
		rows = append(rows, row)
	}
	for _, d := range nonMonetary {
		rows = append(rows, SchoolDonation{
			ID:           d.ID,
			Kind:         "nonmonetary",
			CampaignID:   d.CampaignID,
			CampaignName: names[d.CampaignID],
			DonorName:    donors[d.DonorID],
			Quantity:     d.Quantity,
			Status:       d.Status,
			CreatedAt:    d.CreatedAt,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows, nil
}

// ---------------- helpers ----------------

func (s *DonationService) paymentsByDonation(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Payment, error) {
	out := make(map[primitive.ObjectID]models.Payment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	payments, err := s.store.PaymentsByDonations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	for _, p := range payments {
		out[p.DonationID] = p
	}
	return out, nil
}

func campaignNames(ctx context.Context, st store.CampaignStore, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string, len(ids))
	for _, id := range ids {
		c, err := st.CampaignByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load campaign: %w", err)
		}
		out[id] = c.Name
	}
	return out, nil
}

func (s *DonationService) donorNames(ctx context.Context, monetary []models.MonetaryDonation, nonMonetary []models.NonMonetaryDonation) (map[primitive.ObjectID]string, error) {
	seen := map[primitive.ObjectID]bool{}
	var ids []primitive.ObjectID
	add := func(id primitive.ObjectID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, d := range monetary {
		add(d.DonorID)
	}
	for _, d := range nonMonetary {
		add(d.DonorID)
	}

	out := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	donors, err := s.store.DonorsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load donors: %w", err)
	}
	for _, d := range donors {
		out[d.ID] = d.Name
	}
	return out, nil
}

func campaignIDs(monetary []models.MonetaryDonation, nonMonetary []models.NonMonetaryDonation) []primitive.ObjectID {
	seen := map[primitive.ObjectID]bool{}
	var ids []primitive.ObjectID
	for _, d := range monetary {
		if !seen[d.CampaignID] {
			seen[d.CampaignID] = true
			ids = append(ids, d.CampaignID)
		}
	}
	for _, d := range nonMonetary {
		if !seen[d.CampaignID] {
			seen[d.CampaignID] = true
			ids = append(ids, d.CampaignID)
		}
	}
	return ids
}
