package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	metrics "github.com/phillip/schoolfund-go/metrics"
	models "github.com/phillip/schoolfund-go/models"
	utils "github.com/phillip/schoolfund-go/utils"
)

// Notifier renders and dispatches account and campaign emails. Delivery
// failures are logged and never returned.
type Notifier struct {
	mailer      utils.Mailer
	frontendURL string
}

func NewNotifier(mailer utils.Mailer, frontendURL string) *Notifier {
	if mailer == nil {
		mailer = utils.LogMailer{}
	}
	return &Notifier{mailer: mailer, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (n *Notifier) send(ctx context.Context, to, name, subject string, lines ...string) {
	if to == "" {
		return
	}
	text := strings.Join(lines, "\n\n")
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(l))
		b.WriteString("</p>")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	err := n.mailer.Send(ctx, utils.Message{To: to, ToName: name, Subject: subject, Text: text, HTML: b.String()})
	if err != nil {
		metrics.EmailsFailed.Inc()
		slog.ErrorContext(ctx, "Failed to send email", slog.String("to", to), slog.String("subject", subject), slog.Any("err", err))
	}
}

func (n *Notifier) PrincipalCredentials(ctx context.Context, school *models.SchoolRequest, creds models.PrincipalCredentials) {
	n.send(ctx, school.PrincipalEmail, school.PrincipalName, "Your SchoolFund principal account",
		fmt.Sprintf("Hello %s,", school.PrincipalName),
		fmt.Sprintf("%s has campaigns on SchoolFund that need your approval.", school.SchoolName),
		fmt.Sprintf("Username: %s", creds.Username),
		fmt.Sprintf("Password: %s", creds.Password),
		fmt.Sprintf("Sign in at %s/principal/login", n.frontendURL),
	)
}

func (n *Notifier) SchoolApproved(ctx context.Context, school *models.SchoolRequest) {
	n.send(ctx, school.Email, school.SchoolName, "Your school has been approved",
		fmt.Sprintf("Hello %s,", school.SchoolName),
		"Your registration on SchoolFund has been approved. You can now create campaigns.",
		fmt.Sprintf("Sign in at %s/school/login", n.frontendURL),
	)
}

func (n *Notifier) SchoolDeclined(ctx context.Context, school *models.SchoolRequest, reason string) {
	lines := []string{
		fmt.Sprintf("Hello %s,", school.SchoolName),
		"Unfortunately your registration on SchoolFund was declined.",
	}
	if reason != "" {
		lines = append(lines, "Reason: "+reason)
	}
	n.send(ctx, school.Email, school.SchoolName, "Your school registration was declined", lines...)
}

func (n *Notifier) DonorWelcome(ctx context.Context, donor *models.Donor) {
	n.send(ctx, donor.Email, donor.Name, "Welcome to SchoolFund",
		fmt.Sprintf("Hello %s,", donor.Name),
		"Thanks for joining SchoolFund. Browse open campaigns and support a school today.",
		n.frontendURL+"/campaigns",
	)
}

func (n *Notifier) CampaignDecided(ctx context.Context, school *models.SchoolRequest, campaign *models.Campaign) {
	n.send(ctx, school.Email, school.SchoolName, fmt.Sprintf("Campaign %q was %s", campaign.Name, campaign.Status),
		fmt.Sprintf("Hello %s,", school.SchoolName),
		fmt.Sprintf("Your principal has %s the campaign %q.", campaign.Status, campaign.Name),
	)
}
