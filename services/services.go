// Package services holds SchoolFund's business rules. Handlers translate
// HTTP to service calls; services talk to the store and outside systems.
package services

import (
	"errors"
	"fmt"
	"io"
	"time"

	auth "github.com/phillip/schoolfund-go/auth"
	config "github.com/phillip/schoolfund-go/config"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

type Deps struct {
	Config  *config.Config
	Store   store.Store
	Tokens  *auth.Issuer
	Mailer  utils.Mailer
	Files   utils.FileStore
	Gateway utils.PaymentGateway
	Now     func() time.Time
}

type Services struct {
	Accounts  *AccountService
	Campaigns *CampaignService
	Donations *DonationService
	Payments  *PaymentService
	Reports   *ReportService
}

func New(d Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	notify := NewNotifier(d.Mailer, d.Config.FrontendURL)
	principals := &principalIssuer{store: d.Store, notify: notify, now: d.Now}

	accounts := &AccountService{
		cfg:        d.Config,
		store:      d.Store,
		tokens:     d.Tokens,
		files:      d.Files,
		notify:     notify,
		principals: principals,
		now:        d.Now,
	}
	campaigns := &CampaignService{
		store:      d.Store,
		files:      d.Files,
		notify:     notify,
		principals: principals,
		now:        d.Now,
	}
	donations := &DonationService{
		store:     d.Store,
		files:     d.Files,
		campaigns: campaigns,
		now:       d.Now,
	}
	payments := &PaymentService{
		cfg:       d.Config,
		store:     d.Store,
		gateway:   d.Gateway,
		donations: donations,
		now:       d.Now,
	}
	reports := &ReportService{
		store:     d.Store,
		files:     d.Files,
		campaigns: campaigns,
		now:       d.Now,
	}
	return &Services{
		Accounts:  accounts,
		Campaigns: campaigns,
		Donations: donations,
		Payments:  payments,
		Reports:   reports,
	}
}

// Upload is a file received from a client. Content must support seeking so
// the type can be sniffed before the file is stored.
type Upload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// translate maps store sentinel errors to service errors.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound("%s not found", what)
	case errors.Is(err, store.ErrDuplicate):
		return conflict("%s already exists", what)
	case errors.Is(err, store.ErrConflict):
		return conflict("%s was modified concurrently", what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
