package services

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
)

func TestRegisterDonor(t *testing.T) {
	f := newFixture(t)

	d := f.donor(t, "Sam@Example.com ")
	assert.Equal(t, "sam@example.com", d.Email)
	assert.NotEmpty(t, f.mail.to("sam@example.com"), "welcome email")

	_, err := f.svc.Accounts.RegisterDonor(ctx, DonorRegistration{Name: "Other", Email: "sam@example.com", Password: "donor-pass"})
	requireKind(t, err, KindConflict)

	_, err = f.svc.Accounts.RegisterDonor(ctx, DonorRegistration{Name: "X", Email: "not-an-email", Password: "1"})
	requireKind(t, err, KindValidation)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Details, "email")
	assert.Contains(t, se.Details, "password")
}

func TestLoginDonor(t *testing.T) {
	f := newFixture(t)
	d := f.donor(t, "sam@example.com")

	sess, err := f.svc.Accounts.LoginDonor(ctx, "SAM@example.com", "donor-pass")
	require.NoError(t, err)
	claims, err := f.tokens.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, d.ID.Hex(), claims.Subject)
	assert.Equal(t, models.RoleDonor, claims.Role)

	_, err = f.svc.Accounts.LoginDonor(ctx, "sam@example.com", "wrong-pass")
	requireKind(t, err, KindUnauthenticated)
	_, err = f.svc.Accounts.LoginDonor(ctx, "nobody@example.com", "donor-pass")
	requireKind(t, err, KindUnauthenticated)
}

func TestSchoolRegistrationAndLogin(t *testing.T) {
	f := newFixture(t)
	logo := photo(pngBytes)
	school, err := f.svc.Accounts.RegisterSchool(ctx, SchoolRegistration{
		SchoolName:     "Hillside Primary",
		Email:          "office@hillside.org",
		Password:       "school-pass",
		PrincipalName:  "Jane Doe",
		PrincipalEmail: "jane@hillside.org",
		Logo:           logo,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SchoolPending, school.Status)
	assert.Regexp(t, `^mem://logos/\d+-[0-9a-f]{8}\.png$`, school.Logo)

	_, err = f.svc.Accounts.RegisterSchool(ctx, SchoolRegistration{
		SchoolName: "Dup", Email: "office@hillside.org", Password: "school-pass",
		PrincipalName: "A B", PrincipalEmail: "ab@hillside.org",
	})
	requireKind(t, err, KindConflict)

	sess, err := f.svc.Accounts.LoginSchool(ctx, "office@hillside.org", "school-pass")
	require.NoError(t, err)
	claims, err := f.tokens.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSchool, claims.Role)
	assert.Equal(t, school.ID.Hex(), claims.SchoolID)
	assert.Equal(t, models.SchoolPending, sess.User.(*models.SchoolRequest).Status)
}

func TestApproveSchoolIssuesPrincipalOnce(t *testing.T) {
	f := newFixture(t)
	school := f.pendingSchool(t, "office@hillside.org")

	approved, err := f.svc.Accounts.ApproveSchool(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SchoolApproved, approved.Status)

	stored, err := f.store.SchoolRequestByID(ctx, school.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PrincipalCredentials)
	creds := *stored.PrincipalCredentials
	assert.Equal(t, "Jane Doe", creds.Username)
	assert.Regexp(t, regexp.MustCompile(`^Jane Doe\d{3}$`), creds.Password)

	sess, err := f.svc.Accounts.LoginPrincipal(ctx, creds.Username, creds.Password)
	require.NoError(t, err)
	claims, err := f.tokens.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RolePrincipal, claims.Role)
	assert.Equal(t, school.ID.Hex(), claims.SchoolID)

	assert.Len(t, f.mail.to("principal+office@hillside.org"), 1)
	assert.Len(t, f.mail.to("office@hillside.org"), 1)

	_, err = f.svc.Accounts.ApproveSchool(ctx, school.ID)
	requireKind(t, err, KindConflict)
	_, err = f.svc.Accounts.DeclineSchool(ctx, school.ID, "late")
	requireKind(t, err, KindConflict)

	// a high-target campaign does not re-issue credentials
	f.campaign(t, school.ID, models.TypeMonetary, 60000)
	again, err := f.store.SchoolRequestByID(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, creds, *again.PrincipalCredentials)
	assert.Len(t, f.mail.to("principal+office@hillside.org"), 1)
}

func TestPrincipalUsernameClash(t *testing.T) {
	f := newFixture(t)
	first := f.approvedSchool(t, "one@school.org")
	second := f.approvedSchool(t, "two@school.org")

	a, err := f.store.PrincipalBySchool(ctx, first.ID)
	require.NoError(t, err)
	b, err := f.store.PrincipalBySchool(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", a.Username)
	assert.NotEqual(t, a.Username, b.Username)
}

func TestDeclineSchool(t *testing.T) {
	f := newFixture(t)
	school := f.pendingSchool(t, "office@hillside.org")

	declined, err := f.svc.Accounts.DeclineSchool(ctx, school.ID, "  missing certificate ")
	require.NoError(t, err)
	assert.Equal(t, models.SchoolDeclined, declined.Status)
	assert.Equal(t, "missing certificate", declined.DeclineReason)

	mails := f.mail.to("office@hillside.org")
	require.Len(t, mails, 1)
	assert.Contains(t, mails[0].Text, "missing certificate")

	_, err = f.svc.Accounts.DeclineSchool(ctx, primitive.NewObjectID(), "")
	requireKind(t, err, KindNotFound)
}

func TestAdminLoginAndListing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accounts.LoginAdmin(ctx, "admin", "nope")
	requireKind(t, err, KindUnauthenticated)

	sess, err := f.svc.Accounts.LoginAdmin(ctx, "admin", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, sess.Role)

	f.pendingSchool(t, "a@school.org")
	f.approvedSchool(t, "b@school.org")

	pending, err := f.svc.Accounts.SchoolRequests(ctx, models.SchoolPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	all, err := f.svc.Accounts.SchoolRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.Accounts.SchoolRequests(ctx, "bogus")
	requireKind(t, err, KindValidation)
}

func TestEmailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.mail.fail = errors.New("smtp down")
	school := f.pendingSchool(t, "office@hillside.org")
	_, err := f.svc.Accounts.ApproveSchool(ctx, school.ID)
	require.NoError(t, err)
}

func TestRegistrationChecksEmailFormatOnly(t *testing.T) {
	f := newFixture(t)

	// .invalid never resolves, so any mail-server lookup would reject these
	_, err := f.svc.Accounts.RegisterDonor(ctx, DonorRegistration{Name: "Sam", Email: "sam@donors.invalid", Password: "donor-pass"})
	require.NoError(t, err)

	_, err = f.svc.Accounts.RegisterSchool(ctx, SchoolRegistration{
		SchoolName:     "Lakeside High",
		Email:          "office@lakeside.invalid",
		Password:       "school-pass",
		PrincipalName:  "Ann Lee",
		PrincipalEmail: "ann@lakeside.invalid",
	})
	require.NoError(t, err)

	_, err = f.svc.Accounts.RegisterDonor(ctx, DonorRegistration{Name: "Sam", Email: "sam@", Password: "donor-pass"})
	requireKind(t, err, KindValidation)
}
