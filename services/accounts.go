package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.mongodb.org/mongo-driver/bson/primitive"

	auth "github.com/phillip/schoolfund-go/auth"
	config "github.com/phillip/schoolfund-go/config"
	models "github.com/phillip/schoolfund-go/models"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

var passwordRules = []validation.Rule{validation.Required, validation.Length(6, 64)}

var errBadCredentials = newError(KindUnauthenticated, "invalid credentials")

type AccountService struct {
	cfg        *config.Config
	store      store.Store
	tokens     *auth.Issuer
	files      utils.FileStore
	notify     *Notifier
	principals *principalIssuer
	now        func() time.Time
}

// Session is returned by every login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
	User      any       `json:"user"`
}

func (s *AccountService) session(subject, role, schoolID, name string, user any) (*Session, error) {
	token, exp, err := s.tokens.Issue(subject, role, schoolID, name)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: exp, Role: role, User: user}, nil
}

// ---------------- DONORS ----------------

type DonorRegistration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r DonorRegistration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(2, 100)),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, passwordRules...),
	)
}

func (s *AccountService) RegisterDonor(ctx context.Context, in DonorRegistration) (*models.Donor, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return nil, fromValidation(err)
	}

	hash, err := models.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	donor := &models.Donor{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateDonor(ctx, donor); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflict("a donor with this email already exists")
		}
		return nil, fmt.Errorf("create donor: %w", err)
	}

	s.notify.DonorWelcome(ctx, donor)
	return donor, nil
}

func (s *AccountService) LoginDonor(ctx context.Context, email, password string) (*Session, error) {
	donor, err := s.store.DonorByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find donor: %w", err)
	}
	if ok, _ := models.PasswordMatches(donor.PasswordHash, password); !ok {
		return nil, errBadCredentials
	}
	return s.session(donor.ID.Hex(), models.RoleDonor, "", donor.Name, donor)
}

// ---------------- SCHOOLS ----------------

type SchoolRegistration struct {
	SchoolName     string  `json:"name"`
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Phone          string  `json:"phone"`
	Address        string  `json:"address"`
	PrincipalName  string  `json:"principalName"`
	PrincipalEmail string  `json:"principalEmail"`
	Logo           *Upload `json:"-"`
	Certificate    *Upload `json:"-"`
}

func (r SchoolRegistration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SchoolName, validation.Required, validation.Length(2, 200)),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.PrincipalName, validation.Required, validation.Length(2, 100)),
		validation.Field(&r.PrincipalEmail, validation.Required, is.EmailFormat),
	)
}

func (s *AccountService) RegisterSchool(ctx context.Context, in SchoolRegistration) (*models.SchoolRequest, error) {
	in.SchoolName = strings.TrimSpace(in.SchoolName)
	in.PrincipalName = strings.TrimSpace(in.PrincipalName)
	in.Email = normalizeEmail(in.Email)
	in.PrincipalEmail = normalizeEmail(in.PrincipalEmail)
	if err := in.Validate(); err != nil {
		return nil, fromValidation(err)
	}

	if _, err := s.store.SchoolRequestByEmail(ctx, in.Email); err == nil {
		return nil, conflict("a school with this email already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find school: %w", err)
	}

	hash, err := models.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := &models.SchoolRequest{
		SchoolName:     in.SchoolName,
		Email:          in.Email,
		PasswordHash:   hash,
		Phone:          strings.TrimSpace(in.Phone),
		Address:        strings.TrimSpace(in.Address),
		PrincipalName:  in.PrincipalName,
		PrincipalEmail: in.PrincipalEmail,
		Status:         models.SchoolPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Logo != nil {
		if req.Logo, err = s.files.Save(ctx, "logos", in.Logo.Filename, in.Logo.Content); err != nil {
			return nil, fmt.Errorf("store logo: %w", err)
		}
	}
	if in.Certificate != nil {
		if req.Certificate, err = s.files.Save(ctx, "certificates", in.Certificate.Filename, in.Certificate.Content); err != nil {
			return nil, fmt.Errorf("store certificate: %w", err)
		}
	}

	if err := s.store.CreateSchoolRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflict("a school with this email already exists")
		}
		return nil, fmt.Errorf("create school request: %w", err)
	}
	slog.InfoContext(ctx, "School registration received", slog.String("school_id", req.ID.Hex()))
	return req, nil
}

// LoginSchool succeeds for pending and declined schools too, so they can
// see where their application stands.
func (s *AccountService) LoginSchool(ctx context.Context, email, password string) (*Session, error) {
	school, err := s.store.SchoolRequestByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find school: %w", err)
	}
	if ok, _ := models.PasswordMatches(school.PasswordHash, password); !ok {
		return nil, errBadCredentials
	}
	id := school.ID.Hex()
	return s.session(id, models.RoleSchool, id, school.SchoolName, school)
}

func (s *AccountService) School(ctx context.Context, id primitive.ObjectID) (*models.SchoolRequest, error) {
	school, err := s.store.SchoolRequestByID(ctx, id)
	return school, translate(err, "school")
}

// ---------------- PRINCIPALS ----------------

func (s *AccountService) LoginPrincipal(ctx context.Context, username, password string) (*Session, error) {
	p, err := s.store.PrincipalByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	if ok, _ := models.PasswordMatches(p.PasswordHash, password); !ok {
		return nil, errBadCredentials
	}
	return s.session(p.ID.Hex(), models.RolePrincipal, p.SchoolID.Hex(), p.Name, p)
}

// ---------------- ADMIN ----------------

func (s *AccountService) LoginAdmin(_ context.Context, username, password string) (*Session, error) {
	if s.cfg.AdminUsername == "" || s.cfg.AdminPassword == "" {
		return nil, errBadCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) == 1
	if !userOK || !passOK {
		return nil, errBadCredentials
	}
	return s.session("admin", models.RoleAdmin, "", s.cfg.AdminUsername, map[string]string{"username": s.cfg.AdminUsername})
}

func (s *AccountService) SchoolRequests(ctx context.Context, status string) ([]models.SchoolRequest, error) {
	if err := validation.Validate(status, validation.In(models.SchoolPending, models.SchoolApproved, models.SchoolDeclined)); err != nil {
		return nil, invalid("status must be one of pending, approved, declined")
	}
	reqs, err := s.store.SchoolRequests(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list school requests: %w", err)
	}
	return reqs, nil
}

// ApproveSchool moves a pending request to approved, issues principal
// credentials if the school has none yet and notifies both parties.
func (s *AccountService) ApproveSchool(ctx context.Context, id primitive.ObjectID) (*models.SchoolRequest, error) {
	school, err := s.store.SetSchoolStatus(ctx, id, models.SchoolPending, models.SchoolApproved, "")
	if errors.Is(err, store.ErrConflict) {
		return nil, conflict("school request has already been decided")
	}
	if err != nil {
		return nil, translate(err, "school request")
	}

	if _, err := s.principals.ensure(ctx, school); err != nil {
		slog.ErrorContext(ctx, "Failed to issue principal credentials",
			slog.String("school_id", id.Hex()), slog.Any("err", err))
	}
	s.notify.SchoolApproved(ctx, school)
	return school, nil
}

func (s *AccountService) DeclineSchool(ctx context.Context, id primitive.ObjectID, reason string) (*models.SchoolRequest, error) {
	reason = strings.TrimSpace(reason)
	school, err := s.store.SetSchoolStatus(ctx, id, models.SchoolPending, models.SchoolDeclined, reason)
	if errors.Is(err, store.ErrConflict) {
		return nil, conflict("school request has already been decided")
	}
	if err != nil {
		return nil, translate(err, "school request")
	}
	s.notify.SchoolDeclined(ctx, school, reason)
	return school, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ---------------- principal credentials ----------------

type principalIssuer struct {
	store  store.Store
	notify *Notifier
	now    func() time.Time
}

// ensure makes sure the school has principal credentials and a matching
// principal login. Credentials are generated at most once per school; the
// email goes out only to whoever generated them.
func (p *principalIssuer) ensure(ctx context.Context, school *models.SchoolRequest) (models.PrincipalCredentials, error) {
	candidate, err := p.candidate(ctx, school)
	if err != nil {
		return models.PrincipalCredentials{}, err
	}

	creds, created, err := p.store.EnsurePrincipalCredentials(ctx, school.ID, candidate)
	if err != nil {
		return models.PrincipalCredentials{}, fmt.Errorf("store principal credentials: %w", err)
	}

	if _, err := p.store.PrincipalBySchool(ctx, school.ID); errors.Is(err, store.ErrNotFound) {
		hash, err := models.HashPassword(creds.Password)
		if err != nil {
			return creds, err
		}
		principal := &models.Principal{
			Username:     creds.Username,
			PasswordHash: hash,
			SchoolID:     school.ID,
			Name:         school.PrincipalName,
			Email:        school.PrincipalEmail,
			CreatedAt:    p.now(),
		}
		if err := p.store.CreatePrincipal(ctx, principal); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return creds, fmt.Errorf("create principal: %w", err)
		}
	} else if err != nil {
		return creds, fmt.Errorf("find principal: %w", err)
	}

	if created {
		slog.InfoContext(ctx, "Issued principal credentials", slog.String("school_id", school.ID.Hex()))
		p.notify.PrincipalCredentials(ctx, school, creds)
	}
	return creds, nil
}

// candidate proposes {principalName, principalName + 3 digits}. A name
// already taken by another school's principal gets a school suffix.
func (p *principalIssuer) candidate(ctx context.Context, school *models.SchoolRequest) (models.PrincipalCredentials, error) {
	username := school.PrincipalName
	existing, err := p.store.PrincipalByUsername(ctx, username)
	switch {
	case err == nil && existing.SchoolID != school.ID:
		hex := school.ID.Hex()
		username = fmt.Sprintf("%s-%s", username, hex[len(hex)-4:])
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return models.PrincipalCredentials{}, fmt.Errorf("find principal: %w", err)
	}
	return models.PrincipalCredentials{
		Username: username,
		Password: fmt.Sprintf("%s%03d", school.PrincipalName, rand.Intn(1000)),
	}, nil
}
