package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	models "github.com/phillip/schoolfund-go/models"
)

const (
	colDonors      = "donors"
	colSchools     = "school_requests"
	colPrincipals  = "principals"
	colCampaigns   = "campaigns"
	colMonetary    = "monetary_donations"
	colNonMonetary = "nonmonetary_donations"
	colPayments    = "payments"
	colSpendings   = "spendings"
	colEvents      = "processed_events"

	opTimeout   = 5 * time.Second
	listTimeout = 10 * time.Second
)

var newestFirst = options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

type Mongo struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

var _ Store = (*Mongo)(nil)

// NewMongo wraps a connected database. Transactions require a replica set.
func NewMongo(client *mongo.Client, dbName string, transactions bool) *Mongo {
	return &Mongo{client: client, db: client.Database(dbName), transactions: transactions}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		colDonors:      {{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}},
		colSchools:     {{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}, {Keys: bson.D{{Key: "status", Value: 1}}}},
		colPrincipals:  {{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique}, {Keys: bson.D{{Key: "school_id", Value: 1}}}},
		colCampaigns:   {{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "status", Value: 1}}}, {Keys: bson.D{{Key: "status", Value: 1}, {Key: "category_id", Value: 1}}}},
		colMonetary:    {{Keys: bson.D{{Key: "donor_id", Value: 1}}}, {Keys: bson.D{{Key: "campaign_id", Value: 1}}}},
		colNonMonetary: {{Keys: bson.D{{Key: "donor_id", Value: 1}}}, {Keys: bson.D{{Key: "campaign_id", Value: 1}}}},
		colPayments:    {{Keys: bson.D{{Key: "donation_id", Value: 1}}, Options: unique}},
		colSpendings:   {{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "date", Value: 1}}}},
	}
	for col, idx := range indexes {
		if _, err := m.db.Collection(col).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col, err)
		}
	}
	return nil
}

func (m *Mongo) Transactional() bool { return m.transactions }

func (m *Mongo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactions {
		return fn(ctx)
	}
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// ---------------- helpers ----------------

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.M) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var out T
	if err := col.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func findMany[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// insert assigns a fresh ObjectID when *id is zero; the driver never
// writes a generated _id back to the struct.
func insert(ctx context.Context, col *mongo.Collection, id *primitive.ObjectID, doc any) error {
	assigned := id.IsZero()
	if assigned {
		*id = primitive.NewObjectID()
	}
	if err := insertDoc(ctx, col, doc); err != nil {
		if assigned {
			*id = primitive.NilObjectID
		}
		return err
	}
	return nil
}

func insertDoc(ctx context.Context, col *mongo.Collection, doc any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := col.InsertOne(ctx, doc)
	return translate(err)
}

// casUpdate applies update only when filter matches; otherwise it reports
// ErrNotFound or ErrConflict depending on whether the id exists.
func casUpdate[T any](ctx context.Context, col *mongo.Collection, id primitive.ObjectID, filter, update bson.M) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter["_id"] = id
	var out T
	err := col.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	n, cerr := col.CountDocuments(ctx, bson.M{"_id": id})
	if cerr != nil {
		return nil, cerr
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

// ---------------- donors ----------------

func (m *Mongo) CreateDonor(ctx context.Context, d *models.Donor) error {
	return insert(ctx, m.db.Collection(colDonors), &d.ID, d)
}

func (m *Mongo) DonorByID(ctx context.Context, id primitive.ObjectID) (*models.Donor, error) {
	return findOne[models.Donor](ctx, m.db.Collection(colDonors), bson.M{"_id": id})
}

func (m *Mongo) DonorByEmail(ctx context.Context, email string) (*models.Donor, error) {
	return findOne[models.Donor](ctx, m.db.Collection(colDonors), bson.M{"email": email})
}

func (m *Mongo) DonorsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Donor, error) {
	return findMany[models.Donor](ctx, m.db.Collection(colDonors), bson.M{"_id": bson.M{"$in": ids}})
}

// ---------------- schools ----------------

func (m *Mongo) CreateSchoolRequest(ctx context.Context, r *models.SchoolRequest) error {
	return insert(ctx, m.db.Collection(colSchools), &r.ID, r)
}

func (m *Mongo) SchoolRequestByID(ctx context.Context, id primitive.ObjectID) (*models.SchoolRequest, error) {
	return findOne[models.SchoolRequest](ctx, m.db.Collection(colSchools), bson.M{"_id": id})
}

func (m *Mongo) SchoolRequestByEmail(ctx context.Context, email string) (*models.SchoolRequest, error) {
	return findOne[models.SchoolRequest](ctx, m.db.Collection(colSchools), bson.M{"email": email})
}

func (m *Mongo) SchoolRequests(ctx context.Context, status string) ([]models.SchoolRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	return findMany[models.SchoolRequest](ctx, m.db.Collection(colSchools), filter, newestFirst)
}

func (m *Mongo) SetSchoolStatus(ctx context.Context, id primitive.ObjectID, from, to, reason string) (*models.SchoolRequest, error) {
	set := bson.M{"status": to, "updated_at": time.Now()}
	if reason != "" {
		set["decline_reason"] = reason
	}
	return casUpdate[models.SchoolRequest](ctx, m.db.Collection(colSchools), id, bson.M{"status": from}, bson.M{"$set": set})
}

func (m *Mongo) EnsurePrincipalCredentials(ctx context.Context, id primitive.ObjectID, creds models.PrincipalCredentials) (models.PrincipalCredentials, bool, error) {
	col := m.db.Collection(colSchools)
	uctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := col.UpdateOne(uctx,
		bson.M{"_id": id, "principal_credentials": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"principal_credentials": creds, "updated_at": time.Now()}},
	)
	if err != nil {
		return models.PrincipalCredentials{}, false, err
	}
	if res.ModifiedCount == 1 {
		return creds, true, nil
	}

	existing, err := m.SchoolRequestByID(ctx, id)
	if err != nil {
		return models.PrincipalCredentials{}, false, err
	}
	if existing.PrincipalCredentials == nil {
		return models.PrincipalCredentials{}, false, ErrConflict
	}
	return *existing.PrincipalCredentials, false, nil
}

// ---------------- principals ----------------

func (m *Mongo) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	return insert(ctx, m.db.Collection(colPrincipals), &p.ID, p)
}

func (m *Mongo) PrincipalByUsername(ctx context.Context, username string) (*models.Principal, error) {
	return findOne[models.Principal](ctx, m.db.Collection(colPrincipals), bson.M{"username": username})
}

func (m *Mongo) PrincipalBySchool(ctx context.Context, schoolID primitive.ObjectID) (*models.Principal, error) {
	return findOne[models.Principal](ctx, m.db.Collection(colPrincipals), bson.M{"school_id": schoolID})
}

// ---------------- campaigns ----------------

func (m *Mongo) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return insert(ctx, m.db.Collection(colCampaigns), &c.ID, c)
}

func (m *Mongo) CampaignByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	return findOne[models.Campaign](ctx, m.db.Collection(colCampaigns), bson.M{"_id": id})
}

func (m *Mongo) Campaigns(ctx context.Context, f CampaignFilter) ([]models.Campaign, error) {
	filter := bson.M{}
	if f.SchoolID != nil {
		filter["school_id"] = *f.SchoolID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Category != "" {
		filter["category_id"] = f.Category
	}
	return findMany[models.Campaign](ctx, m.db.Collection(colCampaigns), filter, newestFirst)
}

func (m *Mongo) DeleteCampaign(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := m.db.Collection(colCampaigns).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) TransitionCampaign(ctx context.Context, id primitive.ObjectID, from, to string) (*models.Campaign, error) {
	now := time.Now()
	return casUpdate[models.Campaign](ctx, m.db.Collection(colCampaigns), id,
		bson.M{"status": from},
		bson.M{"$set": bson.M{"status": to, "decided_at": now, "updated_at": now}},
	)
}

func (m *Mongo) CloseCampaign(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	now := time.Now()
	return casUpdate[models.Campaign](ctx, m.db.Collection(colCampaigns), id,
		bson.M{"closed": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"closed": true, "closed_at": now, "updated_at": now}},
	)
}

// ---------------- donations ----------------

func (m *Mongo) CreateMonetary(ctx context.Context, d *models.MonetaryDonation) error {
	return insert(ctx, m.db.Collection(colMonetary), &d.ID, d)
}

func (m *Mongo) MonetaryByID(ctx context.Context, id primitive.ObjectID) (*models.MonetaryDonation, error) {
	return findOne[models.MonetaryDonation](ctx, m.db.Collection(colMonetary), bson.M{"_id": id})
}

func (m *Mongo) SetMonetaryCheckout(ctx context.Context, id primitive.ObjectID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := m.db.Collection(colMonetary).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"checkout_session": sessionID, "updated_at": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) TransitionMonetary(ctx context.Context, id primitive.ObjectID, from []string, to string) (*models.MonetaryDonation, error) {
	return casUpdate[models.MonetaryDonation](ctx, m.db.Collection(colMonetary), id,
		bson.M{"status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now()}},
	)
}

func (m *Mongo) MonetaryByDonor(ctx context.Context, donorID primitive.ObjectID) ([]models.MonetaryDonation, error) {
	return findMany[models.MonetaryDonation](ctx, m.db.Collection(colMonetary), bson.M{"donor_id": donorID}, newestFirst)
}

func (m *Mongo) MonetaryByCampaigns(ctx context.Context, campaignIDs []primitive.ObjectID) ([]models.MonetaryDonation, error) {
	return findMany[models.MonetaryDonation](ctx, m.db.Collection(colMonetary), bson.M{"campaign_id": bson.M{"$in": campaignIDs}}, newestFirst)
}

func (m *Mongo) CreateNonMonetary(ctx context.Context, d *models.NonMonetaryDonation) error {
	return insert(ctx, m.db.Collection(colNonMonetary), &d.ID, d)
}

func (m *Mongo) NonMonetaryByID(ctx context.Context, id primitive.ObjectID) (*models.NonMonetaryDonation, error) {
	return findOne[models.NonMonetaryDonation](ctx, m.db.Collection(colNonMonetary), bson.M{"_id": id})
}

func (m *Mongo) TransitionNonMonetary(ctx context.Context, id primitive.ObjectID, from, to string) (*models.NonMonetaryDonation, error) {
	return casUpdate[models.NonMonetaryDonation](ctx, m.db.Collection(colNonMonetary), id,
		bson.M{"status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now()}},
	)
}

func (m *Mongo) NonMonetaryByDonor(ctx context.Context, donorID primitive.ObjectID) ([]models.NonMonetaryDonation, error) {
	return findMany[models.NonMonetaryDonation](ctx, m.db.Collection(colNonMonetary), bson.M{"donor_id": donorID}, newestFirst)
}

func (m *Mongo) NonMonetaryByCampaigns(ctx context.Context, campaignIDs []primitive.ObjectID) ([]models.NonMonetaryDonation, error) {
	return findMany[models.NonMonetaryDonation](ctx, m.db.Collection(colNonMonetary), bson.M{"campaign_id": bson.M{"$in": campaignIDs}}, newestFirst)
}

// ---------------- payments ----------------

func (m *Mongo) CreatePayment(ctx context.Context, p *models.Payment) error {
	return insert(ctx, m.db.Collection(colPayments), &p.ID, p)
}

func (m *Mongo) PaymentsByDonations(ctx context.Context, donationIDs []primitive.ObjectID) ([]models.Payment, error) {
	return findMany[models.Payment](ctx, m.db.Collection(colPayments), bson.M{"donation_id": bson.M{"$in": donationIDs}})
}

// ---------------- spendings ----------------

func (m *Mongo) CreateSpending(ctx context.Context, s *models.Spending) error {
	return insert(ctx, m.db.Collection(colSpendings), &s.ID, s)
}

func (m *Mongo) Spendings(ctx context.Context, schoolID primitive.ObjectID, from, to time.Time) ([]models.Spending, error) {
	filter := bson.M{"school_id": schoolID}
	window := bson.M{}
	if !from.IsZero() {
		window["$gte"] = from
	}
	if !to.IsZero() {
		window["$lte"] = to
	}
	if len(window) > 0 {
		filter["date"] = window
	}
	return findMany[models.Spending](ctx, m.db.Collection(colSpendings), filter,
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "created_at", Value: 1}}))
}

// ---------------- events ----------------

func (m *Mongo) MarkEventProcessed(ctx context.Context, ev models.ProcessedEvent) (bool, error) {
	err := insertDoc(ctx, m.db.Collection(colEvents), ev)
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Mongo) UnmarkEvent(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := m.db.Collection(colEvents).DeleteOne(ctx, bson.M{"_id": id})
	return err
}
