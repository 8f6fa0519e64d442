package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	models "github.com/phillip/schoolfund-go/models"
	store "github.com/phillip/schoolfund-go/store"
	utils "github.com/phillip/schoolfund-go/utils"
)

const MaxSpendingDocuments = 5

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type ReportService struct {
	store     store.Store
	files     utils.FileStore
	campaigns *CampaignService
	now       func() time.Time
}

// ---------------- SPENDING ----------------

type SpendingInput struct {
	CampaignID  primitive.ObjectID
	SchoolID    primitive.ObjectID
	Date        string
	Destination string
	Amount      float64
	Description string
	Documents   []*Upload
}

func (in SpendingInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Date, validation.Required),
		validation.Field(&in.Destination, validation.Required, validation.Length(0, 300)),
		validation.Field(&in.Amount, validation.Required, validation.Min(0.01)),
	)
}

// parseSpendDate accepts YYYY-MM-DD or RFC3339.
func parseSpendDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalid("date must be YYYY-MM-DD or RFC3339")
	}
	return t.UTC(), nil
}

// RecordSpending logs how a closed campaign's funds were used.
func (s *ReportService) RecordSpending(ctx context.Context, in SpendingInput) (*models.Spending, error) {
	if len(in.Documents) > MaxSpendingDocuments {
		return nil, invalid("at most %d documents can be attached", MaxSpendingDocuments)
	}
	in.Destination = strings.TrimSpace(in.Destination)
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return nil, invalid("amount must be a positive number")
	}
	if err := in.Validate(); err != nil {
		return nil, fromValidation(err)
	}
	date, err := parseSpendDate(in.Date)
	if err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.owned(ctx, in.CampaignID, in.SchoolID)
	if err != nil {
		return nil, err
	}
	if !campaign.Closed {
		return nil, conflict("close the campaign before recording spending")
	}

	docs := make([]string, 0, len(in.Documents))
	for _, d := range in.Documents {
		ref, err := s.files.Save(ctx, "documents", d.Filename, d.Content)
		if err != nil {
			return nil, fmt.Errorf("store document: %w", err)
		}
		docs = append(docs, ref)
	}

	spending := &models.Spending{
		CampaignID:   campaign.ID,
		SchoolID:     in.SchoolID,
		Date:         date,
		Destination:  in.Destination,
		Amount:       decimal.NewFromFloat(in.Amount).Round(2).InexactFloat64(),
		Description:  strings.TrimSpace(in.Description),
		Documents:    docs,
		CreatedAt:    s.now(),
		CampaignName: campaign.Name,
	}
	if err := s.store.CreateSpending(ctx, spending); err != nil {
		for _, ref := range docs {
			if derr := s.files.Delete(ctx, ref); derr != nil {
				slog.WarnContext(ctx, "Failed to remove orphaned document", slog.String("ref", ref), slog.Any("err", derr))
			}
		}
		return nil, fmt.Errorf("create spending: %w", err)
	}
	return spending, nil
}

// ListSpending returns a school's spending, newest first.
func (s *ReportService) ListSpending(ctx context.Context, schoolID primitive.ObjectID) ([]models.Spending, error) {
	rows, err := s.spendingWithNames(ctx, schoolID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return rows, nil
}

func (s *ReportService) spendingWithNames(ctx context.Context, schoolID primitive.ObjectID, from, to time.Time) ([]models.Spending, error) {
	rows, err := s.store.Spendings(ctx, schoolID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list spending: %w", err)
	}
	seen := map[primitive.ObjectID]bool{}
	var ids []primitive.ObjectID
	for _, r := range rows {
		if !seen[r.CampaignID] {
			seen[r.CampaignID] = true
			ids = append(ids, r.CampaignID)
		}
	}
	names, err := campaignNames(ctx, s.store, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].CampaignName = names[rows[i].CampaignID]
	}
	return rows, nil
}

// ---------------- EXPENSE REPORT ----------------

type ExpenseReport struct {
	Filename string
	Data     []byte
}

// MonthWindow returns the first and last instant of a YYYY-MM month in UTC.
func MonthWindow(month string) (time.Time, time.Time, error) {
	if !monthPattern.MatchString(month) {
		return time.Time{}, time.Time{}, invalid("month must be in YYYY-MM format")
	}
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, invalid("month must be in YYYY-MM format")
	}
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end, nil
}

// ExpenseReport renders a school's spending for one month as CSV. Free
// text has commas replaced by spaces so fields never need quoting.
func (s *ReportService) ExpenseReport(ctx context.Context, schoolID, requesterSchoolID primitive.ObjectID, month string) (*ExpenseReport, error) {
	month = strings.TrimSpace(month)
	start, end, err := MonthWindow(month)
	if err != nil {
		return nil, err
	}
	if schoolID != requesterSchoolID {
		return nil, forbidden("schools can only download their own reports")
	}

	rows, err := s.spendingWithNames(ctx, schoolID, start, end)
	if err != nil {
		return nil, err
	}
	return &ExpenseReport{
		Filename: fmt.Sprintf("expense-report-%s.csv", month),
		Data:     renderExpenseCSV(rows),
	}, nil
}

func renderExpenseCSV(rows []models.Spending) []byte {
	var b bytes.Buffer
	b.WriteString("Date,Campaign,Destination,Amount,Description,Documents\n")
	for _, r := range rows {
		docs := make([]string, len(r.Documents))
		for i, d := range r.Documents {
			docs[i] = csvField(d)
		}
		fields := []string{
			r.Date.UTC().Format(time.DateOnly),
			csvField(r.CampaignName),
			csvField(r.Destination),
			decimal.NewFromFloat(r.Amount).StringFixed(2),
			csvField(r.Description),
			strings.Join(docs, ";"),
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

var csvReplacer = strings.NewReplacer(",", " ", "\r\n", " ", "\n", " ", "\r", " ")

func csvField(s string) string {
	return csvReplacer.Replace(s)
}

// ---------------- SUMMARY ----------------

type CampaignSummary struct {
	CampaignID   primitive.ObjectID `json:"campaign_id"`
	Name         string             `json:"name"`
	MonetaryType string             `json:"monetary_type"`
	Status       string             `json:"status"`
	Closed       bool               `json:"closed"`
	Target       float64            `json:"target"`
	Raised       int64              `json:"raised"`
	Pledged      int                `json:"pledged"`
	Spent        float64            `json:"spent"`
}

type SchoolSummary struct {
	Campaigns    []CampaignSummary `json:"campaigns"`
	TotalRaised  int64             `json:"total_raised"`
	TotalPledged int               `json:"total_pledged"`
	TotalSpent   float64           `json:"total_spent"`
	Balance      float64           `json:"balance"`
}

func (s *ReportService) Summary(ctx context.Context, schoolID primitive.ObjectID) (*SchoolSummary, error) {
	var (
		views    []CampaignView
		spending []models.Spending
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		views, err = s.campaigns.BySchool(gctx, schoolID)
		return err
	})
	g.Go(func() (err error) {
		spending, err = s.store.Spendings(gctx, schoolID, time.Time{}, time.Time{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}

	spent := map[primitive.ObjectID]decimal.Decimal{}
	for _, r := range spending {
		spent[r.CampaignID] = spent[r.CampaignID].Add(decimal.NewFromFloat(r.Amount))
	}

	out := &SchoolSummary{Campaigns: make([]CampaignSummary, 0, len(views))}
	totalSpent := decimal.Zero
	for _, v := range views {
		cs := CampaignSummary{
			CampaignID:   v.ID,
			Name:         v.Name,
			MonetaryType: v.MonetaryType,
			Status:       v.Status,
			Closed:       v.Closed,
			Target:       v.Amount,
			Raised:       v.Raised,
			Pledged:      v.Pledged,
			Spent:        spent[v.ID].Round(2).InexactFloat64(),
		}
		out.Campaigns = append(out.Campaigns, cs)
		out.TotalRaised += v.Raised
		out.TotalPledged += v.Pledged
		totalSpent = totalSpent.Add(spent[v.ID])
	}
	out.TotalSpent = totalSpent.Round(2).InexactFloat64()
	out.Balance = decimal.NewFromInt(out.TotalRaised).Sub(totalSpent).Round(2).InexactFloat64()
	return out, nil
}
