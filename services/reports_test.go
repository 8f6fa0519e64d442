package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
)

func TestMonthWindow(t *testing.T) {
	start, end, err := MonthWindow("2024-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 999_000_000, time.UTC), end)

	for _, bad := range []string{"2099-13", "2024-00", "2024-2", "24-02", "2024-02-01", ""} {
		_, _, err := MonthWindow(bad)
		requireKind(t, err, KindValidation)
	}
}

func closedCampaign(t *testing.T, f *fixture, schoolID primitive.ObjectID, name string) *models.Campaign {
	t.Helper()
	c, err := f.svc.Campaigns.Create(ctx, CampaignInput{
		SchoolID:     schoolID,
		Name:         name,
		Description:  "desc",
		Amount:       1000,
		CategoryID:   "technology",
		MonetaryType: models.TypeMonetary,
		Deadline:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.Campaigns.Close(ctx, c.ID, schoolID)
	require.NoError(t, err)
	return c
}

func TestRecordSpending(t *testing.T) {
	f := newFixture(t)
	school := f.approvedSchool(t, "office@hillside.org")
	open := f.campaign(t, school.ID, models.TypeMonetary, 1000)
	closed := closedCampaign(t, f, school.ID, "Laptops")

	in := SpendingInput{
		CampaignID:  closed.ID,
		SchoolID:    school.ID,
		Date:        "2024-05-03",
		Destination: "Tech Supplies Ltd",
		Amount:      420.5,
		Description: "Two laptops",
		Documents:   []*Upload{photo(pngBytes)},
	}

	t.Run("open campaign", func(t *testing.T) {
		bad := in
		bad.CampaignID = open.ID
		bad.Documents = nil
		_, err := f.svc.Reports.RecordSpending(ctx, bad)
		requireKind(t, err, KindConflict)
	})

	t.Run("other school", func(t *testing.T) {
		bad := in
		bad.SchoolID = primitive.NewObjectID()
		bad.Documents = nil
		_, err := f.svc.Reports.RecordSpending(ctx, bad)
		requireKind(t, err, KindForbidden)
	})

	t.Run("too many documents", func(t *testing.T) {
		bad := in
		bad.Documents = make([]*Upload, MaxSpendingDocuments+1)
		_, err := f.svc.Reports.RecordSpending(ctx, bad)
		requireKind(t, err, KindValidation)
	})

	t.Run("bad date", func(t *testing.T) {
		bad := in
		bad.Date = "03/05/2024"
		bad.Documents = nil
		_, err := f.svc.Reports.RecordSpending(ctx, bad)
		requireKind(t, err, KindValidation)
	})

	t.Run("non positive amount", func(t *testing.T) {
		bad := in
		bad.Amount = -1
		bad.Documents = nil
		_, err := f.svc.Reports.RecordSpending(ctx, bad)
		requireKind(t, err, KindValidation)
	})

	t.Run("recorded", func(t *testing.T) {
		s, err := f.svc.Reports.RecordSpending(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), s.Date)
		require.Len(t, s.Documents, 1)
		assert.True(t, strings.HasPrefix(s.Documents[0], "mem://documents/"))
	})
}

func TestExpenseReport(t *testing.T) {
	f := newFixture(t)
	school := f.approvedSchool(t, "office@hillside.org")
	c := closedCampaign(t, f, school.ID, "Laptops, chargers")

	record := func(date, dest string, amount float64, desc string, docs int) {
		uploads := make([]*Upload, docs)
		for i := range uploads {
			uploads[i] = photo(pngBytes)
		}
		_, err := f.svc.Reports.RecordSpending(ctx, SpendingInput{
			CampaignID: c.ID, SchoolID: school.ID, Date: date, Destination: dest, Amount: amount, Description: desc, Documents: uploads,
		})
		require.NoError(t, err)
	}
	record("2024-05-20", "Shop B", 75, "cables", 0)
	record("2024-05-01T08:00:00Z", "Shop A, Nairobi", 420.5, "two laptops, one bag", 2)
	record("2024-06-01", "Shop C", 10, "", 0)
	record("2024-04-30", "Shop D", 10, "", 0)

	_, err := f.svc.Reports.ExpenseReport(ctx, school.ID, primitive.NewObjectID(), "2024-05")
	requireKind(t, err, KindForbidden)
	_, err = f.svc.Reports.ExpenseReport(ctx, school.ID, school.ID, "2099-13")
	requireKind(t, err, KindValidation)

	report, err := f.svc.Reports.ExpenseReport(ctx, school.ID, school.ID, "2024-05")
	require.NoError(t, err)
	assert.Equal(t, "expense-report-2024-05.csv", report.Filename)

	lines := strings.Split(strings.TrimSuffix(string(report.Data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Campaign,Destination,Amount,Description,Documents", lines[0])

	first := strings.Split(lines[1], ",")
	require.Len(t, first, 6, "commas inside fields must be stripped")
	assert.Equal(t, "2024-05-01", first[0])
	assert.Equal(t, "Laptops  chargers", first[1])
	assert.Equal(t, "Shop A  Nairobi", first[2])
	assert.Equal(t, "420.50", first[3])
	assert.Equal(t, "two laptops  one bag", first[4])
	assert.Len(t, strings.Split(first[5], ";"), 2)

	assert.Equal(t, "2024-05-20,Laptops  chargers,Shop B,75.00,cables,", lines[2])
}

func TestListSpendingAndSummary(t *testing.T) {
	f := newFixture(t)
	school := f.approvedSchool(t, "office@hillside.org")
	donor := f.donor(t, "sam@example.com")

	c, err := f.svc.Campaigns.Create(ctx, CampaignInput{
		SchoolID: school.ID, Name: "Sports kit", Description: "Balls and nets", Amount: 2000,
		CategoryID: "sports", MonetaryType: models.TypeMonetary, Deadline: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.Donations.RecordMonetary(ctx, MonetaryInput{DonorID: donor.ID, CampaignID: c.ID, Amount: 1000})
	require.NoError(t, err)
	_, err = f.svc.Campaigns.Close(ctx, c.ID, school.ID)
	require.NoError(t, err)

	for _, day := range []string{"2024-01-10", "2024-03-10"} {
		_, err := f.svc.Reports.RecordSpending(ctx, SpendingInput{
			CampaignID: c.ID, SchoolID: school.ID, Date: day, Destination: "Sports shop", Amount: 100.1,
		})
		require.NoError(t, err)
	}

	rows, err := f.svc.Reports.ListSpending(ctx, school.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, int(rows[0].Date.Month()))
	assert.Equal(t, "Sports kit", rows[0].CampaignName)

	sum, err := f.svc.Reports.Summary(ctx, school.ID)
	require.NoError(t, err)
	require.Len(t, sum.Campaigns, 1)
	assert.EqualValues(t, 1000, sum.TotalRaised)
	assert.Equal(t, 200.2, sum.TotalSpent)
	assert.Equal(t, 799.8, sum.Balance)
	assert.True(t, sum.Campaigns[0].Closed)
}
