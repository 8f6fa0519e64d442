package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	auth "github.com/phillip/schoolfund-go/auth"
	config "github.com/phillip/schoolfund-go/config"
	models "github.com/phillip/schoolfund-go/models"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

var (
	ctx      = context.Background()
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
)

type sentMail struct {
	mu   sync.Mutex
	msgs []utils.Message
	fail error
}

func (m *sentMail) Send(_ context.Context, msg utils.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *sentMail) to(addr string) []utils.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []utils.Message
	for _, msg := range m.msgs {
		if msg.To == addr {
			out = append(out, msg)
		}
	}
	return out
}

type memFiles struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *memFiles) Save(_ context.Context, kind, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := fmt.Sprintf("mem://%s/%s", kind, utils.StoredName(filename, time.Now()))
	f.saved[ref] = data
	return ref, nil
}

func (f *memFiles) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, ref)
	return nil
}

type stubGateway struct {
	mu       sync.Mutex
	created  []utils.CheckoutRequest
	sessions map[string]*utils.CheckoutSession
	fail     error
}

func (g *stubGateway) CreateCheckout(_ context.Context, req utils.CheckoutRequest) (*utils.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.created = append(g.created, req)
	id := fmt.Sprintf("cs_test_%d", len(g.created))
	s := &utils.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{"donationId": req.DonationID, "donorId": req.DonorID, "campaignId": req.CampaignID},
	}
	g.sessions[id] = s
	return s, nil
}

func (g *stubGateway) GetSession(_ context.Context, id string) (*utils.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such session %s", id)
	}
	return s, nil
}

type fixture struct {
	svc     *Services
	store   *store.Memory
	mail    *sentMail
	files   *memFiles
	gateway *stubGateway
	cfg     *config.Config
	tokens  *auth.Issuer
}

const webhookSecret = "whsec_test_secret"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(),
		mail:    &sentMail{},
		files:   &memFiles{saved: map[string][]byte{}},
		gateway: &stubGateway{sessions: map[string]*utils.CheckoutSession{}},
		tokens:  auth.NewIssuer("test-secret", time.Hour),
		cfg: &config.Config{
			FrontendURL:         "http://localhost:5173",
			StripeCurrency:      "usd",
			StripeWebhookSecret: webhookSecret,
			AdminUsername:       "admin",
			AdminPassword:       "admin-pass",
		},
	}
	f.svc = New(Deps{
		Config:  f.cfg,
		Store:   f.store,
		Tokens:  f.tokens,
		Mailer:  f.mail,
		Files:   f.files,
		Gateway: f.gateway,
	})
	return f
}

// approvedSchool registers a school and has the admin approve it.
func (f *fixture) approvedSchool(t *testing.T, email string) *models.SchoolRequest {
	t.Helper()
	school := f.pendingSchool(t, email)
	approved, err := f.svc.Accounts.ApproveSchool(ctx, school.ID)
	require.NoError(t, err)
	return approved
}

func (f *fixture) pendingSchool(t *testing.T, email string) *models.SchoolRequest {
	t.Helper()
	school, err := f.svc.Accounts.RegisterSchool(ctx, SchoolRegistration{
		SchoolName:     "Hillside Primary",
		Email:          email,
		Password:       "school-pass",
		PrincipalName:  "Jane Doe",
		PrincipalEmail: "principal+" + email,
	})
	require.NoError(t, err)
	return school
}

func (f *fixture) donor(t *testing.T, email string) *models.Donor {
	t.Helper()
	d, err := f.svc.Accounts.RegisterDonor(ctx, DonorRegistration{Name: "Sam Giver", Email: email, Password: "donor-pass"})
	require.NoError(t, err)
	return d
}

func (f *fixture) campaign(t *testing.T, schoolID primitive.ObjectID, monetaryType string, amount float64) *models.Campaign {
	t.Helper()
	c, err := f.svc.Campaigns.Create(ctx, CampaignInput{
		SchoolID:     schoolID,
		Name:         "New classroom",
		Description:  "Build a new classroom block",
		Amount:       amount,
		CategoryID:   "infrastructure",
		MonetaryType: monetaryType,
		Deadline:     time.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return c
}

func photo(data []byte) *Upload {
	return &Upload{Filename: "proof.PNG", Size: int64(len(data)), Content: bytes.NewReader(data)}
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}
