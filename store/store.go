// Package store persists SchoolFund records. The Mongo implementation is
// used in production; the in-memory one backs local development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned by conditional writes whose precondition no
	// longer holds.
	ErrConflict = errors.New("record state changed")
)

type CampaignFilter struct {
	SchoolID *primitive.ObjectID
	Status   string
	Category string
}

type DonorStore interface {
	CreateDonor(ctx context.Context, d *models.Donor) error
	DonorByID(ctx context.Context, id primitive.ObjectID) (*models.Donor, error)
	DonorByEmail(ctx context.Context, email string) (*models.Donor, error)
	DonorsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Donor, error)
}

type SchoolStore interface {
	CreateSchoolRequest(ctx context.Context, r *models.SchoolRequest) error
	SchoolRequestByID(ctx context.Context, id primitive.ObjectID) (*models.SchoolRequest, error)
	SchoolRequestByEmail(ctx context.Context, email string) (*models.SchoolRequest, error)
	SchoolRequests(ctx context.Context, status string) ([]models.SchoolRequest, error)
	// SetSchoolStatus moves a request from one status to another, failing
	// with ErrConflict if it is no longer in `from`.
	SetSchoolStatus(ctx context.Context, id primitive.ObjectID, from, to, reason string) (*models.SchoolRequest, error)
	// EnsurePrincipalCredentials stores creds only if none exist yet and
	// returns whichever credentials end up persisted.
	EnsurePrincipalCredentials(ctx context.Context, id primitive.ObjectID, creds models.PrincipalCredentials) (stored models.PrincipalCredentials, created bool, err error)
}

type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	PrincipalByUsername(ctx context.Context, username string) (*models.Principal, error)
	PrincipalBySchool(ctx context.Context, schoolID primitive.ObjectID) (*models.Principal, error)
}

type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	CampaignByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error)
	Campaigns(ctx context.Context, f CampaignFilter) ([]models.Campaign, error)
	DeleteCampaign(ctx context.Context, id primitive.ObjectID) error
	// TransitionCampaign is a compare-and-swap on status.
	TransitionCampaign(ctx context.Context, id primitive.ObjectID, from, to string) (*models.Campaign, error)
	CloseCampaign(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error)
}

type DonationStore interface {
	CreateMonetary(ctx context.Context, d *models.MonetaryDonation) error
	MonetaryByID(ctx context.Context, id primitive.ObjectID) (*models.MonetaryDonation, error)
	SetMonetaryCheckout(ctx context.Context, id primitive.ObjectID, sessionID string) error
	// TransitionMonetary updates status only if the current status is one of from.
	TransitionMonetary(ctx context.Context, id primitive.ObjectID, from []string, to string) (*models.MonetaryDonation, error)
	MonetaryByDonor(ctx context.Context, donorID primitive.ObjectID) ([]models.MonetaryDonation, error)
	MonetaryByCampaigns(ctx context.Context, campaignIDs []primitive.ObjectID) ([]models.MonetaryDonation, error)

	CreateNonMonetary(ctx context.Context, d *models.NonMonetaryDonation) error
	NonMonetaryByID(ctx context.Context, id primitive.ObjectID) (*models.NonMonetaryDonation, error)
	TransitionNonMonetary(ctx context.Context, id primitive.ObjectID, from, to string) (*models.NonMonetaryDonation, error)
	NonMonetaryByDonor(ctx context.Context, donorID primitive.ObjectID) ([]models.NonMonetaryDonation, error)
	NonMonetaryByCampaigns(ctx context.Context, campaignIDs []primitive.ObjectID) ([]models.NonMonetaryDonation, error)
}

type PaymentStore interface {
	// CreatePayment fails with ErrDuplicate if the donation already has one.
	CreatePayment(ctx context.Context, p *models.Payment) error
	PaymentsByDonations(ctx context.Context, donationIDs []primitive.ObjectID) ([]models.Payment, error)
}

type SpendingStore interface {
	CreateSpending(ctx context.Context, s *models.Spending) error
	// Spendings lists a school's rows ordered by date; zero bounds are open.
	Spendings(ctx context.Context, schoolID primitive.ObjectID, from, to time.Time) ([]models.Spending, error)
}

type EventStore interface {
	// MarkEventProcessed returns false if the event was already recorded.
	MarkEventProcessed(ctx context.Context, ev models.ProcessedEvent) (bool, error)
	// UnmarkEvent forgets an event so a redelivery is applied again.
	UnmarkEvent(ctx context.Context, id string) error
}

type Store interface {
	DonorStore
	SchoolStore
	PrincipalStore
	CampaignStore
	DonationStore
	PaymentStore
	SpendingStore
	EventStore

	// WithTx runs fn inside a transaction when the backend supports one,
	// otherwise it simply calls fn.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}
