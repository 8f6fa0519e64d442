package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"

	config "github.com/phillip/schoolfund-go/config"
)

// Message is a single outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer picks a transport from config: ZeptoMail, then SMTP, then a
// mailer that only logs.
func NewMailer(cfg *config.Config) (Mailer, error) {
	switch {
	case cfg.ZeptoAPIURL != "" && cfg.ZeptoAPIKey != "":
		return &ZeptoMailer{
			APIURL: cfg.ZeptoAPIURL,
			APIKey: cfg.ZeptoAPIKey,
			From:   cfg.EmailFrom,
			Client: &http.Client{Timeout: 10 * time.Second},
		}, nil
	case cfg.SMTPHost != "":
		host, _, err := net.SplitHostPort(cfg.SMTPHost)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_HOST: %w", err)
		}
		return &SMTPMailer{
			Addr: cfg.SMTPHost,
			Auth: smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host),
			From: cfg.EmailFrom,
		}, nil
	}
	slog.Warn("No email transport configured, emails will only be logged")
	return LogMailer{}, nil
}

// ---------------- ZeptoMail ----------------

// email request payload for ZeptoMail API
type emailRequest struct {
	From     emailAddress  `json:"from"`
	To       []toRecipient `json:"to"`
	Subject  string        `json:"subject"`
	HtmlBody string        `json:"htmlbody,omitempty"`
	TextBody string        `json:"textbody,omitempty"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type toRecipient struct {
	Email emailWithName `json:"email_address"`
}

type emailWithName struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ZeptoMailer sends through the ZeptoMail HTTP API.
type ZeptoMailer struct {
	APIURL string // e.g. https://api.zeptomail.com/v1.1/email
	APIKey string // e.g. Zoho-enczapikey xxxxx
	From   string
	Client *http.Client
}

func (z *ZeptoMailer) Send(ctx context.Context, msg Message) error {
	payload := emailRequest{
		From: emailAddress{Address: z.From},
		To: []toRecipient{
			{Email: emailWithName{Address: msg.To, Name: msg.ToName}},
		},
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.APIURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", z.APIKey)

	resp, err := z.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zeptomail API error: %s", resp.Status)
	}

	slog.InfoContext(ctx, "Email sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// ---------------- SMTP ----------------

type SMTPMailer struct {
	Addr string
	Auth smtp.Auth
	From string
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	em := email.NewEmail()
	em.From = s.From
	em.To = []string{msg.To}
	em.Subject = msg.Subject
	em.Text = []byte(msg.Text)
	if msg.HTML != "" {
		em.HTML = []byte(msg.HTML)
	}
	if err := em.Send(s.Addr, s.Auth); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	slog.InfoContext(ctx, "Email sent", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// ---------------- log only ----------------

type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "Email (not sent, no transport)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Text),
	)
	return nil
}
