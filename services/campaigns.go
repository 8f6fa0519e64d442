package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	metrics "github.com/phillip/schoolfund-go/metrics"
	models "github.com/phillip/schoolfund-go/models"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

// MaxCampaignImagePayload bounds the base64 image text. Base64 inflates by
// 4/3, so this admits files of roughly 7MB.
const MaxCampaignImagePayload = 10 << 20

type CampaignService struct {
	store      store.Store
	files      utils.FileStore
	notify     *Notifier
	principals *principalIssuer
	now        func() time.Time
}

// CampaignView is a campaign plus progress computed from its donations.
type CampaignView struct {
	models.Campaign

	Raised  int64 `json:"raised"`
	Pledged int   `json:"pledged"`
}

type CampaignInput struct {
	SchoolID     primitive.ObjectID `json:"-"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Amount       float64            `json:"amount"`
	CategoryID   string             `json:"categoryId"`
	MonetaryType string             `json:"monetaryType"`
	Deadline     time.Time          `json:"deadline"`
	Image        string             `json:"image"`
}

func (in CampaignInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(0, 200)),
		validation.Field(&in.Description, validation.Required, validation.Length(0, 5000)),
		validation.Field(&in.Amount, validation.Required, validation.Min(1.0)),
		validation.Field(&in.CategoryID, validation.Required),
		validation.Field(&in.MonetaryType, validation.Required, validation.In(models.TypeMonetary, models.TypeNonMonetary)),
		validation.Field(&in.Deadline, validation.Required),
	)
}

// ---------------- CREATE ----------------

func (s *CampaignService) Create(ctx context.Context, in CampaignInput) (*models.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	if err := in.Validate(); err != nil {
		return nil, fromValidation(err)
	}
	if !models.IsValidCategory(in.CategoryID) {
		return nil, &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("invalid category %q", in.CategoryID),
			Details: map[string]any{"valid_categories": models.CategoryIDs()},
		}
	}

	school, err := s.store.SchoolRequestByID(ctx, in.SchoolID)
	if err != nil {
		return nil, translate(err, "school")
	}
	if school.Status != models.SchoolApproved {
		return nil, forbidden("school is %s; only approved schools can create campaigns", school.Status)
	}

	payload := stripDataURL(in.Image)
	if len(payload) > MaxCampaignImagePayload {
		return nil, newError(KindTooLarge, "image is too large; the maximum file size is about 7MB")
	}

	now := s.now()
	campaign := &models.Campaign{
		SchoolID:     in.SchoolID,
		Name:         in.Name,
		Description:  in.Description,
		Amount:       in.Amount,
		CategoryID:   in.CategoryID,
		MonetaryType: in.MonetaryType,
		Deadline:     in.Deadline.UTC(),
		Status:       models.CampaignApproved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if models.RequiresPrincipalApproval(in.MonetaryType, in.Amount) {
		campaign.Status = models.CampaignPrincipalPending
	}

	if payload != "" {
		if campaign.Image, err = s.storeImage(ctx, payload); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	metrics.CampaignsCreated.WithLabelValues(campaign.Status).Inc()

	if campaign.Status == models.CampaignPrincipalPending {
		if _, err := s.principals.ensure(ctx, school); err != nil {
			slog.ErrorContext(ctx, "Failed to issue principal credentials",
				slog.String("school_id", school.ID.Hex()), slog.Any("err", err))
		}
	}
	return campaign, nil
}

func stripDataURL(image string) string {
	image = strings.TrimSpace(image)
	if strings.HasPrefix(image, "data:") {
		if i := strings.Index(image, ","); i >= 0 {
			return image[i+1:]
		}
	}
	return image
}

func (s *CampaignService) storeImage(ctx context.Context, payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", invalid("image must be base64 encoded")
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", invalid("image must be a picture, got %s", mt.String())
	}
	ref, err := s.files.Save(ctx, "campaigns", "image"+mt.Extension(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store campaign image: %w", err)
	}
	return ref, nil
}

// ---------------- PRINCIPAL DECISION ----------------

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Decide applies a principal's approve/reject. The store update is
// conditional on the campaign still being principal_pending, so of two
// concurrent decisions exactly one succeeds.
func (s *CampaignService) Decide(ctx context.Context, campaignID, principalSchoolID primitive.ObjectID, action string) (*models.Campaign, error) {
	var to string
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionApprove:
		to = models.CampaignApproved
	case ActionReject:
		to = models.CampaignRejected
	default:
		return nil, invalid("action must be approve or reject")
	}

	campaign, err := s.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return nil, translate(err, "campaign")
	}
	if campaign.SchoolID != principalSchoolID {
		return nil, forbidden("campaign belongs to another school")
	}
	if campaign.Status != models.CampaignPrincipalPending {
		return nil, conflict("campaign is %s, not awaiting principal approval", campaign.Status)
	}

	decided, err := s.store.TransitionCampaign(ctx, campaignID, models.CampaignPrincipalPending, to)
	if errors.Is(err, store.ErrConflict) {
		return nil, conflict("campaign has already been decided")
	}
	if err != nil {
		return nil, translate(err, "campaign")
	}

	if school, err := s.store.SchoolRequestByID(ctx, decided.SchoolID); err == nil {
		s.notify.CampaignDecided(ctx, school, decided)
	}
	return decided, nil
}

// ---------------- DELETE / CLOSE ----------------

func (s *CampaignService) owned(ctx context.Context, id, schoolID primitive.ObjectID) (*models.Campaign, error) {
	campaign, err := s.store.CampaignByID(ctx, id)
	if err != nil {
		return nil, translate(err, "campaign")
	}
	if campaign.SchoolID != schoolID {
		return nil, forbidden("campaign belongs to another school")
	}
	return campaign, nil
}

func (s *CampaignService) Delete(ctx context.Context, id, schoolID primitive.ObjectID) error {
	campaign, err := s.owned(ctx, id, schoolID)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignApproved {
		raised, err := s.raised(ctx, []primitive.ObjectID{id})
		if err != nil {
			return err
		}
		if raised[id] > 0 {
			return conflict("campaign has already raised funds and cannot be deleted")
		}
	}
	if err := s.store.DeleteCampaign(ctx, id); err != nil {
		return translate(err, "campaign")
	}
	if campaign.Image != "" {
		if err := s.files.Delete(ctx, campaign.Image); err != nil {
			slog.WarnContext(ctx, "Failed to delete campaign image", slog.String("ref", campaign.Image), slog.Any("err", err))
		}
	}
	return nil
}

func (s *CampaignService) Close(ctx context.Context, id, schoolID primitive.ObjectID) (*models.Campaign, error) {
	campaign, err := s.owned(ctx, id, schoolID)
	if err != nil {
		return nil, err
	}
	if campaign.Closed {
		return nil, conflict("campaign is already closed")
	}
	closed, err := s.store.CloseCampaign(ctx, id)
	if errors.Is(err, store.ErrConflict) {
		return nil, conflict("campaign is already closed")
	}
	return closed, translate(err, "campaign")
}

// ---------------- LIST / GET ----------------

func (s *CampaignService) Get(ctx context.Context, id primitive.ObjectID) (*CampaignView, error) {
	campaign, err := s.store.CampaignByID(ctx, id)
	if err != nil {
		return nil, translate(err, "campaign")
	}
	views, err := s.withProgress(ctx, []models.Campaign{*campaign})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Approved lists campaigns open for discovery, optionally by category.
func (s *CampaignService) Approved(ctx context.Context, category string) ([]CampaignView, error) {
	if category != "" && !models.IsValidCategory(category) {
		return nil, &Error{
			Kind:    KindValidation,
			Message: fmt.Sprintf("invalid category %q", category),
			Details: map[string]any{"valid_categories": models.CategoryIDs()},
		}
	}
	return s.list(ctx, store.CampaignFilter{Status: models.CampaignApproved, Category: category})
}

func (s *CampaignService) BySchool(ctx context.Context, schoolID primitive.ObjectID) ([]CampaignView, error) {
	return s.list(ctx, store.CampaignFilter{SchoolID: &schoolID})
}

func (s *CampaignService) PendingForPrincipal(ctx context.Context, schoolID primitive.ObjectID) ([]CampaignView, error) {
	return s.list(ctx, store.CampaignFilter{SchoolID: &schoolID, Status: models.CampaignPrincipalPending})
}

func (s *CampaignService) list(ctx context.Context, f store.CampaignFilter) ([]CampaignView, error) {
	campaigns, err := s.store.Campaigns(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return s.withProgress(ctx, campaigns)
}

func (s *CampaignService) withProgress(ctx context.Context, campaigns []models.Campaign) ([]CampaignView, error) {
	ids := make([]primitive.ObjectID, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
	}
	raised, err := s.raised(ctx, ids)
	if err != nil {
		return nil, err
	}
	pledged, err := s.pledged(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]CampaignView, len(campaigns))
	for i, c := range campaigns {
		views[i] = CampaignView{Campaign: c, Raised: raised[c.ID], Pledged: pledged[c.ID]}
	}
	return views, nil
}

// raised sums paid monetary donations per campaign.
func (s *CampaignService) raised(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]int64, error) {
	out := make(map[primitive.ObjectID]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	donations, err := s.store.MonetaryByCampaigns(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load donations: %w", err)
	}
	for _, d := range donations {
		if d.Status == models.DonationPaid {
			out[d.CampaignID] += d.Amount
		}
	}
	return out, nil
}

// pledged sums quantities of non-cancelled item pledges per campaign.
func (s *CampaignService) pledged(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]int, error) {
	out := make(map[primitive.ObjectID]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	intents, err := s.store.NonMonetaryByCampaigns(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load pledges: %w", err)
	}
	for _, d := range intents {
		if d.Status != models.IntentCancelled {
			out[d.CampaignID] += d.Quantity
		}
	}
	return out, nil
}
