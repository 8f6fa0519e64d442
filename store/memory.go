package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
)

// Memory is a mutex-guarded Store for development and tests. It has no
// transactions: WithTx just runs the callback.
type Memory struct {
	mu sync.RWMutex

	donors      map[primitive.ObjectID]models.Donor
	schools     map[primitive.ObjectID]models.SchoolRequest
	principals  map[primitive.ObjectID]models.Principal
	campaigns   map[primitive.ObjectID]models.Campaign
	monetary    map[primitive.ObjectID]models.MonetaryDonation
	nonMonetary map[primitive.ObjectID]models.NonMonetaryDonation
	payments    map[primitive.ObjectID]models.Payment
	spendings   map[primitive.ObjectID]models.Spending
	events      map[string]models.ProcessedEvent

	// FailPayments makes CreatePayment fail, for exercising best-effort paths.
	FailPayments error
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		donors:      map[primitive.ObjectID]models.Donor{},
		schools:     map[primitive.ObjectID]models.SchoolRequest{},
		principals:  map[primitive.ObjectID]models.Principal{},
		campaigns:   map[primitive.ObjectID]models.Campaign{},
		monetary:    map[primitive.ObjectID]models.MonetaryDonation{},
		nonMonetary: map[primitive.ObjectID]models.NonMonetaryDonation{},
		payments:    map[primitive.ObjectID]models.Payment{},
		spendings:   map[primitive.ObjectID]models.Spending{},
		events:      map[string]models.ProcessedEvent{},
	}
}

func (m *Memory) Transactional() bool { return false }

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func ensureID(id *primitive.ObjectID) {
	if id.IsZero() {
		*id = primitive.NewObjectID()
	}
}

func sortNewest[T any](items []T, created func(T) time.Time) []T {
	sort.SliceStable(items, func(i, j int) bool {
		return created(items[i]).After(created(items[j]))
	})
	return items
}

// ---------------- donors ----------------

func (m *Memory) CreateDonor(_ context.Context, d *models.Donor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.donors {
		if existing.Email == d.Email {
			return ErrDuplicate
		}
	}
	ensureID(&d.ID)
	m.donors[d.ID] = *d
	return nil
}

func (m *Memory) DonorByID(_ context.Context, id primitive.ObjectID) (*models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.donors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) DonorByEmail(_ context.Context, email string) (*models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.donors {
		if d.Email == email {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DonorsByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Donor{}
	for _, id := range ids {
		if d, ok := m.donors[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// ---------------- schools ----------------

func (m *Memory) CreateSchoolRequest(_ context.Context, r *models.SchoolRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schools {
		if existing.Email == r.Email {
			return ErrDuplicate
		}
	}
	ensureID(&r.ID)
	m.schools[r.ID] = *r
	return nil
}

func (m *Memory) SchoolRequestByID(_ context.Context, id primitive.ObjectID) (*models.SchoolRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.schools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) SchoolRequestByEmail(_ context.Context, email string) (*models.SchoolRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.schools {
		if r.Email == email {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SchoolRequests(_ context.Context, status string) ([]models.SchoolRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.SchoolRequest{}
	for _, r := range m.schools {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return sortNewest(out, func(r models.SchoolRequest) time.Time { return r.CreatedAt }), nil
}

func (m *Memory) SetSchoolStatus(_ context.Context, id primitive.ObjectID, from, to, reason string) (*models.SchoolRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.schools[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from {
		return nil, ErrConflict
	}
	r.Status = to
	if reason != "" {
		r.DeclineReason = reason
	}
	r.UpdatedAt = time.Now()
	m.schools[id] = r
	return &r, nil
}

func (m *Memory) EnsurePrincipalCredentials(_ context.Context, id primitive.ObjectID, creds models.PrincipalCredentials) (models.PrincipalCredentials, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.schools[id]
	if !ok {
		return models.PrincipalCredentials{}, false, ErrNotFound
	}
	if r.PrincipalCredentials != nil {
		return *r.PrincipalCredentials, false, nil
	}
	c := creds
	r.PrincipalCredentials = &c
	r.UpdatedAt = time.Now()
	m.schools[id] = r
	return creds, true, nil
}

// ---------------- principals ----------------

func (m *Memory) CreatePrincipal(_ context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Username == p.Username {
			return ErrDuplicate
		}
	}
	ensureID(&p.ID)
	m.principals[p.ID] = *p
	return nil
}

func (m *Memory) PrincipalByUsername(_ context.Context, username string) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.Username == username {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) PrincipalBySchool(_ context.Context, schoolID primitive.ObjectID) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.SchoolID == schoolID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// ---------------- campaigns ----------------

func (m *Memory) CreateCampaign(_ context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&c.ID)
	m.campaigns[c.ID] = *c
	return nil
}

func (m *Memory) CampaignByID(_ context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) Campaigns(_ context.Context, f CampaignFilter) ([]models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Campaign{}
	for _, c := range m.campaigns {
		if f.SchoolID != nil && c.SchoolID != *f.SchoolID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Category != "" && c.CategoryID != f.Category {
			continue
		}
		out = append(out, c)
	}
	return sortNewest(out, func(c models.Campaign) time.Time { return c.CreatedAt }), nil
}

func (m *Memory) DeleteCampaign(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *Memory) TransitionCampaign(_ context.Context, id primitive.ObjectID, from, to string) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != from {
		return nil, ErrConflict
	}
	now := time.Now()
	c.Status = to
	c.DecidedAt = &now
	c.UpdatedAt = now
	m.campaigns[id] = c
	return &c, nil
}

func (m *Memory) CloseCampaign(_ context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Closed {
		return nil, ErrConflict
	}
	now := time.Now()
	c.Closed = true
	c.ClosedAt = &now
	c.UpdatedAt = now
	m.campaigns[id] = c
	return &c, nil
}

// ---------------- donations ----------------

func (m *Memory) CreateMonetary(_ context.Context, d *models.MonetaryDonation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&d.ID)
	m.monetary[d.ID] = *d
	return nil
}

func (m *Memory) MonetaryByID(_ context.Context, id primitive.ObjectID) (*models.MonetaryDonation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.monetary[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) SetMonetaryCheckout(_ context.Context, id primitive.ObjectID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.monetary[id]
	if !ok {
		return ErrNotFound
	}
	d.CheckoutSession = sessionID
	d.UpdatedAt = time.Now()
	m.monetary[id] = d
	return nil
}

func (m *Memory) TransitionMonetary(_ context.Context, id primitive.ObjectID, from []string, to string) (*models.MonetaryDonation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.monetary[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(from, d.Status) {
		return nil, ErrConflict
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	m.monetary[id] = d
	return &d, nil
}

func (m *Memory) MonetaryByDonor(_ context.Context, donorID primitive.ObjectID) ([]models.MonetaryDonation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.MonetaryDonation{}
	for _, d := range m.monetary {
		if d.DonorID == donorID {
			out = append(out, d)
		}
	}
	return sortNewest(out, func(d models.MonetaryDonation) time.Time { return d.CreatedAt }), nil
}

func (m *Memory) MonetaryByCampaigns(_ context.Context, campaignIDs []primitive.ObjectID) ([]models.MonetaryDonation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.MonetaryDonation{}
	for _, d := range m.monetary {
		if slices.Contains(campaignIDs, d.CampaignID) {
			out = append(out, d)
		}
	}
	return sortNewest(out, func(d models.MonetaryDonation) time.Time { return d.CreatedAt }), nil
}

func (m *Memory) CreateNonMonetary(_ context.Context, d *models.NonMonetaryDonation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&d.ID)
	m.nonMonetary[d.ID] = *d
	return nil
}

func (m *Memory) NonMonetaryByID(_ context.Context, id primitive.ObjectID) (*models.NonMonetaryDonation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.nonMonetary[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) TransitionNonMonetary(_ context.Context, id primitive.ObjectID, from, to string) (*models.NonMonetaryDonation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.nonMonetary[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != from {
		return nil, ErrConflict
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	m.nonMonetary[id] = d
	return &d, nil
}

func (m *Memory) NonMonetaryByDonor(_ context.Context, donorID primitive.ObjectID) ([]models.NonMonetaryDonation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.NonMonetaryDonation{}
	for _, d := range m.nonMonetary {
		if d.DonorID == donorID {
			out = append(out, d)
		}
	}
	return sortNewest(out, func(d models.NonMonetaryDonation) time.Time { return d.CreatedAt }), nil
}

func (m *Memory) NonMonetaryByCampaigns(_ context.Context, campaignIDs []primitive.ObjectID) ([]models.NonMonetaryDonation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.NonMonetaryDonation{}
	for _, d := range m.nonMonetary {
		if slices.Contains(campaignIDs, d.CampaignID) {
			out = append(out, d)
		}
	}
	return sortNewest(out, func(d models.NonMonetaryDonation) time.Time { return d.CreatedAt }), nil
}

// ---------------- payments ----------------

func (m *Memory) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPayments != nil {
		return m.FailPayments
	}
	for _, existing := range m.payments {
		if existing.DonationID == p.DonationID {
			return ErrDuplicate
		}
	}
	ensureID(&p.ID)
	m.payments[p.ID] = *p
	return nil
}

func (m *Memory) PaymentsByDonations(_ context.Context, donationIDs []primitive.ObjectID) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if slices.Contains(donationIDs, p.DonationID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---------------- spendings ----------------

func (m *Memory) CreateSpending(_ context.Context, s *models.Spending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&s.ID)
	m.spendings[s.ID] = *s
	return nil
}

func (m *Memory) Spendings(_ context.Context, schoolID primitive.ObjectID, from, to time.Time) ([]models.Spending, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Spending{}
	for _, s := range m.spendings {
		if s.SchoolID != schoolID {
			continue
		}
		if !from.IsZero() && s.Date.Before(from) {
			continue
		}
		if !to.IsZero() && s.Date.After(to) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// ---------------- events ----------------

func (m *Memory) MarkEventProcessed(_ context.Context, ev models.ProcessedEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.events[ev.ID]; seen {
		return false, nil
	}
	m.events[ev.ID] = ev
	return true, nil
}

func (m *Memory) UnmarkEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, id)
	return nil
}
