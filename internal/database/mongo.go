package database

import (
	"context"
	"errors"
	"fmt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"regexp"
	"time"
	"warreg/entity"
	"warreg/internal/config"
)

const (
	collectionCodes         = "warranty_numbers"
	collectionRegistrations = "registrations"
	collectionUsers         = "users"
	collectionOutbox        = "sync_outbox"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

// EnsureIndexes creates the indexes the consistency model relies on.
// The unique index on code backs duplicate detection; everything else
// is query acceleration. Safe to run on every start.
func (m *MongoDB) EnsureIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)
	unique := options.Index().SetUnique(true)

	codes := db.Collection(collectionCodes)
	_, err = codes.Indexes().CreateMany(m.ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "code", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "product_id", Value: 1}, {Key: "used", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("code indexes: %w", err)
	}

	regs := db.Collection(collectionRegistrations)
	_, err = regs.Indexes().CreateMany(m.ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("registration indexes: %w", err)
	}

	users := db.Collection(collectionUsers)
	_, err = users.Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("user indexes: %w", err)
	}

	outbox := db.Collection(collectionOutbox)
	_, err = outbox.Indexes().CreateOne(m.ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("outbox indexes: %w", err)
	}
	return nil
}

// --- warranty number pool ---

func (m *MongoDB) InsertCode(number *entity.WarrantyNumber) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionCodes)
	_, err = collection.InsertOne(m.ctx, number)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", entity.ErrDuplicateCode, number.Code)
	}
	return err
}

func (m *MongoDB) GetCode(code string) (*entity.WarrantyNumber, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionCodes)
	var number entity.WarrantyNumber
	err = collection.FindOne(m.ctx, bson.D{{Key: "code", Value: code}}).Decode(&number)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	return &number, nil
}

// FindAvailableCode performs the merged register precondition lookup:
// code exists, belongs to the product and is still unused.
func (m *MongoDB) FindAvailableCode(code, productId string) (*entity.WarrantyNumber, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionCodes)
	filter := bson.D{{Key: "code", Value: code}, {Key: "product_id", Value: productId}, {Key: "used", Value: false}}
	var number entity.WarrantyNumber
	err = collection.FindOne(m.ctx, filter).Decode(&number)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	return &number, nil
}

// MarkCodeUsed consumes a code with a conditional update: the transition
// is only permitted from used=false, so of two concurrent callers exactly
// one wins and the loser sees ErrAlreadyUsed.
func (m *MongoDB) MarkCodeUsed(code, registrationId string, usedAt time.Time) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionCodes)
	filter := bson.D{{Key: "code", Value: code}, {Key: "used", Value: false}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "used", Value: true},
		{Key: "used_at", Value: usedAt},
		{Key: "registration_id", Value: registrationId},
	}}}
	result, err := collection.UpdateOne(m.ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongodb update: %w", err)
	}
	if result.ModifiedCount == 1 {
		return nil
	}

	// Nothing matched: either the code is absent or already consumed.
	count, err := collection.CountDocuments(m.ctx, bson.D{{Key: "code", Value: code}})
	if err != nil {
		return fmt.Errorf("mongodb count: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	return fmt.Errorf("%w: code %s", entity.ErrAlreadyUsed, code)
}

// MarkCodeFree releases a code unconditionally. Idempotent: freeing an
// already-free code succeeds, only an absent code is an error.
func (m *MongoDB) MarkCodeFree(code string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionCodes)
	filter := bson.D{{Key: "code", Value: code}}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "used", Value: false}}},
		{Key: "$unset", Value: bson.D{{Key: "used_at", Value: ""}, {Key: "registration_id", Value: ""}}},
	}
	result, err := collection.UpdateOne(m.ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongodb update: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: code %s", entity.ErrNotFound, code)
	}
	return nil
}

func (m *MongoDB) FindCodes(filter *entity.CodeFilter, page, pageSize int64) ([]*entity.WarrantyNumber, int64, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, 0, err
	}
	defer m.disconnect(connection)

	query := bson.D{}
	if filter != nil {
		if filter.ProductId != "" {
			query = append(query, bson.E{Key: "product_id", Value: filter.ProductId})
		}
		if filter.Used != nil {
			query = append(query, bson.E{Key: "used", Value: *filter.Used})
		}
	}

	collection := connection.Database(m.database).Collection(collectionCodes)
	total, err := collection.CountDocuments(m.ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(pageOffset(page, pageSize)).
		SetLimit(pageSize)
	cursor, err := collection.Find(m.ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb find: %w", err)
	}
	defer cursor.Close(m.ctx)

	var numbers []*entity.WarrantyNumber
	if err = cursor.All(m.ctx, &numbers); err != nil {
		return nil, 0, err
	}
	return numbers, total, nil
}

// --- registration ledger ---

func (m *MongoDB) InsertRegistration(reg *entity.Registration) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionRegistrations)
	_, err = collection.InsertOne(m.ctx, reg)
	return err
}

func (m *MongoDB) GetRegistration(id string) (*entity.Registration, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionRegistrations)
	var reg entity.Registration
	err = collection.FindOne(m.ctx, bson.D{{Key: "id", Value: id}}).Decode(&reg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	return &reg, nil
}

// UpdateRegistration applies a field patch assembled by the ledger
// service. The code field never appears in the patch.
func (m *MongoDB) UpdateRegistration(id string, fields map[string]interface{}) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionRegistrations)
	update := bson.D{{Key: "$set", Value: bson.M(fields)}}
	result, err := collection.UpdateOne(m.ctx, bson.D{{Key: "id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("mongodb update: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	return nil
}

func (m *MongoDB) DeleteRegistration(id string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionRegistrations)
	result, err := collection.DeleteOne(m.ctx, bson.D{{Key: "id", Value: id}})
	if err != nil {
		return fmt.Errorf("mongodb delete: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: registration %s", entity.ErrNotFound, id)
	}
	return nil
}

func (m *MongoDB) SearchRegistrations(filter *entity.SearchFilter, page, pageSize int64) ([]*entity.Registration, int64, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, 0, err
	}
	defer m.disconnect(connection)

	query := buildSearchFilter(filter)
	collection := connection.Database(m.database).Collection(collectionRegistrations)
	total, err := collection.CountDocuments(m.ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb count: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(pageOffset(page, pageSize)).
		SetLimit(pageSize)
	cursor, err := collection.Find(m.ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb find: %w", err)
	}
	defer cursor.Close(m.ctx)

	var regs []*entity.Registration
	if err = cursor.All(m.ctx, &regs); err != nil {
		return nil, 0, err
	}
	return regs, total, nil
}

// substringFields are the registration fields searchable with the
// case-insensitive free-text mode.
var substringFields = []string{
	"email", "first_name", "last_name", "full_name",
	"code", "order_id", "product",
}

func containsRegex(value string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(value), "$options": "i"}
}

func buildSearchFilter(filter *entity.SearchFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.ProductId != "" {
		query["product_id"] = filter.ProductId
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Email != "" {
		query["email"] = containsRegex(filter.Email)
	}
	if filter.Code != "" {
		query["code"] = containsRegex(filter.Code)
	}
	if filter.OrderId != "" {
		query["order_id"] = containsRegex(filter.OrderId)
	}
	if filter.Product != "" {
		query["product"] = containsRegex(filter.Product)
	}
	if filter.Name != "" {
		query["$or"] = []bson.M{
			{"first_name": containsRegex(filter.Name)},
			{"last_name": containsRegex(filter.Name)},
			{"full_name": containsRegex(filter.Name)},
		}
	}
	if filter.Search != "" {
		or := make([]bson.M, 0, len(substringFields))
		for _, field := range substringFields {
			or = append(or, bson.M{field: containsRegex(filter.Search)})
		}
		query["$or"] = or
	}
	return query
}

func pageOffset(page, pageSize int64) int64 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// --- stats ---

// StatsCounts gathers the dashboard aggregates in one pass per counter.
func (m *MongoDB) StatsCounts(now time.Time) (*entity.Stats, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	db := connection.Database(m.database)
	codes := db.Collection(collectionCodes)
	regs := db.Collection(collectionRegistrations)
	stats := &entity.Stats{
		ByProduct:   make(map[string]int64),
		ByClaimType: make(map[string]int64),
	}

	if stats.TotalCodes, err = codes.CountDocuments(m.ctx, bson.M{}); err != nil {
		return nil, fmt.Errorf("count codes: %w", err)
	}
	if stats.UsedCodes, err = codes.CountDocuments(m.ctx, bson.M{"used": true}); err != nil {
		return nil, fmt.Errorf("count used codes: %w", err)
	}
	stats.AvailableCodes = stats.TotalCodes - stats.UsedCodes

	if stats.TotalRegistrations, err = regs.CountDocuments(m.ctx, bson.M{}); err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}
	activeFilter := bson.M{
		"status":            entity.StatusActive,
		"warranty_end_date": bson.M{"$gt": now},
	}
	if stats.ActiveRegistrations, err = regs.CountDocuments(m.ctx, activeFilter); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if stats.ClaimedRegistrations, err = regs.CountDocuments(m.ctx, bson.M{"status": entity.StatusClaimed}); err != nil {
		return nil, fmt.Errorf("count claimed: %w", err)
	}

	weekAgo := now.AddDate(0, 0, -7)
	recentFilter := bson.M{"created_at": bson.M{"$gte": weekAgo}}
	if stats.RegistrationsLast7Days, err = regs.CountDocuments(m.ctx, recentFilter); err != nil {
		return nil, fmt.Errorf("count recent: %w", err)
	}
	recentClaims := bson.M{"claim_date": bson.M{"$gte": weekAgo}}
	if stats.ClaimsLast7Days, err = regs.CountDocuments(m.ctx, recentClaims); err != nil {
		return nil, fmt.Errorf("count recent claims: %w", err)
	}

	if err = m.groupCounts(regs, "$product", stats.ByProduct); err != nil {
		return nil, fmt.Errorf("group by product: %w", err)
	}
	if err = m.groupCounts(regs, "$claim_type", stats.ByClaimType); err != nil {
		return nil, fmt.Errorf("group by claim type: %w", err)
	}
	return stats, nil
}

func (m *MongoDB) groupCounts(collection *mongo.Collection, field string, out map[string]int64) error {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := collection.Aggregate(m.ctx, pipeline)
	if err != nil {
		return err
	}
	defer cursor.Close(m.ctx)

	for cursor.Next(m.ctx) {
		var row struct {
			Id    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err = cursor.Decode(&row); err != nil {
			return err
		}
		if row.Id != "" {
			out[row.Id] = row.Count
		}
	}
	return cursor.Err()
}

// --- users ---

func (m *MongoDB) GetUser(token string) (*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	var user entity.User
	err = collection.FindOne(m.ctx, bson.D{{Key: "token", Value: token}}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: token", entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	return &user, nil
}

// EnsureAdminUser upserts the default admin. Run only by the explicit
// -init-admin setup step, not on normal start.
func (m *MongoDB) EnsureAdminUser(user *entity.User) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "username", Value: user.Username}}
	update := bson.D{{Key: "$set", Value: user}}
	opts := options.Update().SetUpsert(true)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

// --- marketing-sync outbox ---

func (m *MongoDB) SaveSyncEvent(evt *entity.SyncEvent) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionOutbox)
	filter := bson.D{{Key: "id", Value: evt.Id}}
	update := bson.D{{Key: "$set", Value: evt}}
	opts := options.Update().SetUpsert(true)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

// ClaimSyncEvent marks an event in_flight so exactly one worker
// delivers it. The transition is conditional: only a pending event, or
// an in_flight claim stale enough to belong to a crashed worker, can be
// taken.
func (m *MongoDB) ClaimSyncEvent(id string, staleBefore time.Time) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionOutbox)
	filter := bson.D{
		{Key: "id", Value: id},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "status", Value: entity.SyncPending}},
			bson.D{{Key: "status", Value: entity.SyncInFlight}, {Key: "updated_at", Value: bson.M{"$lt": staleBefore}}},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: entity.SyncInFlight},
		{Key: "updated_at", Value: time.Now()},
	}}}
	result, err := collection.UpdateOne(m.ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongodb update: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

// PendingSyncEvents returns events awaiting delivery: pending ones plus
// in_flight claims older than staleBefore.
func (m *MongoDB) PendingSyncEvents(limit int64, staleBefore time.Time) ([]*entity.SyncEvent, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionOutbox)
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "status", Value: entity.SyncPending}},
		bson.D{{Key: "status", Value: entity.SyncInFlight}, {Key: "updated_at", Value: bson.M{"$lt": staleBefore}}},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}}).SetLimit(limit)
	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	defer cursor.Close(m.ctx)

	var events []*entity.SyncEvent
	if err = cursor.All(m.ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// SetRegistrationSyncState records the secondary marketing-sync flag.
// Missing registrations are ignored: the record may have been deleted
// while the sync was in flight.
func (m *MongoDB) SetRegistrationSyncState(id string, state entity.SyncState) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionRegistrations)
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "marketing_sync", Value: state}}}}
	_, err = collection.UpdateOne(m.ctx, bson.D{{Key: "id", Value: id}}, update)
	return err
}
