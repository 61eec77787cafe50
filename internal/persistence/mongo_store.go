package persistence

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/umeboshi/pkg/api"
)

const (
	// DefaultMongoDatabase is used when no database name is given.
	DefaultMongoDatabase = "umeboshi"

	mongoCountersCollection = "umeboshi_counters"
)

// MongoEventStore is an EventStore backed by MongoDB.
//
// Event ids are int64 sequence values allocated from a counters
// collection, so they stay comparable with the SQL stores.
type MongoEventStore struct {
	events   *mongo.Collection
	counters *mongo.Collection
}

// Ensure MongoEventStore implements EventStore.
var _ EventStore = (*MongoEventStore)(nil)

type mongoEventDoc struct {
	ID          int64  `bson:"_id"`
	UUID        string `bson:"uuid"`
	TriggerName string `bson:"trigger_name"`
	TaskGroup   string `bson:"task_group"`
	DataBlob    []byte `bson:"data_blob,omitempty"`
	DataHash    string `bson:"data_hash"`
	CreatedAt   int64  `bson:"datetime_created"`
	ScheduledAt int64  `bson:"datetime_scheduled"`
	// Stored as null while unprocessed so {datetime_processed: null} matches.
	ProcessedAt *int64 `bson:"datetime_processed"`
	Status      int    `bson:"status"`
}

// NewMongoEventStore creates a Mongo-backed event store and ensures its
// indexes exist. dbName defaults to DefaultMongoDatabase if empty.
func NewMongoEventStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoEventStore, error) {
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}
	db := client.Database(dbName)

	s := &MongoEventStore{
		events:   db.Collection(eventsTable),
		counters: db.Collection(mongoCountersCollection),
	}
	if err := s.initIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoEventStore) initIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uuid", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "datetime_processed", Value: 1}, {Key: "datetime_scheduled", Value: 1}}},
		{Keys: bson.D{{Key: "data_hash", Value: 1}, {Key: "datetime_processed", Value: 1}, {Key: "trigger_name", Value: 1}}},
		{Keys: bson.D{{Key: "task_group", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "datetime_scheduled", Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "mongo: create indexes")
	}
	return nil
}

func (s *MongoEventStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": eventsTable},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, errors.Wrap(err, "mongo: allocate event id")
	}
	return counter.Seq, nil
}

func (s *MongoEventStore) CreateEvent(ctx context.Context, ev *api.Event) error {
	id, err := s.nextID(ctx)
	if err != nil {
		return err
	}

	doc := toMongoDoc(ev)
	doc.ID = id
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		return errors.Wrap(err, "mongo: insert event")
	}

	ev.ID = id
	return nil
}

func (s *MongoEventStore) UpdateEvent(ctx context.Context, ev *api.Event) error {
	doc := toMongoDoc(ev)
	update := bson.M{
		"$set": bson.M{
			"status":             doc.Status,
			"datetime_processed": doc.ProcessedAt,
			"data_blob":          doc.DataBlob,
			"data_hash":          doc.DataHash,
		},
	}

	filter := bson.M{"_id": ev.ID, "datetime_processed": nil}
	res, err := s.events.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrapf(err, "mongo: update event %d", ev.ID)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.events.CountDocuments(ctx, bson.M{"_id": ev.ID})
	if err != nil {
		return errors.Wrapf(err, "mongo: check event %d", ev.ID)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return ErrEventAlreadyProcessed
}

func (s *MongoEventStore) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.events.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "mongo: delete event %d", id)
	}
	if res.DeletedCount == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *MongoEventStore) GetEvent(ctx context.Context, id int64) (*api.Event, error) {
	var doc mongoEventDoc
	err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEventNotFound
		}
		return nil, errors.Wrapf(err, "mongo: get event %d", id)
	}
	return fromMongoDoc(doc), nil
}

func (s *MongoEventStore) FindMatching(ctx context.Context, q MatchQuery) ([]*api.Event, error) {
	groupField := "trigger_name"
	if q.Group.Field == api.GroupByTaskGroup {
		groupField = "task_group"
	}

	filter := bson.M{
		"data_hash": q.DataHash,
		groupField:  q.Group.Value,
	}
	if q.UnprocessedOnly {
		filter["datetime_processed"] = nil
	}
	if len(q.Statuses) > 0 {
		filter["status"] = bson.M{"$in": statusValues(q.Statuses)}
	}

	return s.find(ctx, filter, 0)
}

func (s *MongoEventStore) ListDueEventIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	filter := bson.M{
		"datetime_processed": nil,
		"status":             int(api.StatusCreated),
		"datetime_scheduled": bson.M{"$lte": toNanos(now)},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "datetime_scheduled", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: list due events")
	}
	defer cur.Close(ctx)

	var ids []int64
	for cur.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MongoEventStore) ListEvents(ctx context.Context, f EventFilter) ([]*api.Event, error) {
	filter := bson.M{}
	if f.TriggerName != "" {
		filter["trigger_name"] = f.TriggerName
	}
	if f.TaskGroup != "" {
		filter["task_group"] = f.TaskGroup
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": statusValues(f.Statuses)}
	}
	return s.find(ctx, filter, f.Limit)
}

func (s *MongoEventStore) find(ctx context.Context, filter bson.M, limit int) ([]*api.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "datetime_scheduled", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo: find events")
	}
	defer cur.Close(ctx)

	var events []*api.Event
	for cur.Next(ctx) {
		var doc mongoEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		events = append(events, fromMongoDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func toMongoDoc(ev *api.Event) mongoEventDoc {
	doc := mongoEventDoc{
		ID:          ev.ID,
		UUID:        ev.UUID,
		TriggerName: ev.TriggerName,
		TaskGroup:   ev.TaskGroup,
		DataBlob:    ev.DataBlob,
		DataHash:    ev.DataHash,
		CreatedAt:   toNanos(ev.CreatedAt),
		ScheduledAt: toNanos(ev.ScheduledAt),
		Status:      int(ev.Status),
	}
	if ev.ProcessedAt != nil {
		n := toNanos(*ev.ProcessedAt)
		doc.ProcessedAt = &n
	}
	return doc
}

func fromMongoDoc(doc mongoEventDoc) *api.Event {
	ev := &api.Event{
		ID:          doc.ID,
		UUID:        doc.UUID,
		TriggerName: doc.TriggerName,
		TaskGroup:   doc.TaskGroup,
		DataBlob:    doc.DataBlob,
		DataHash:    doc.DataHash,
		CreatedAt:   fromNanos(doc.CreatedAt),
		ScheduledAt: fromNanos(doc.ScheduledAt),
		Status:      api.Status(doc.Status),
	}
	if doc.ProcessedAt != nil {
		t := fromNanos(*doc.ProcessedAt)
		ev.ProcessedAt = &t
	}
	return ev
}

func statusValues(statuses []api.Status) []int {
	out := make([]int, len(statuses))
	for i, st := range statuses {
		out[i] = int(st)
	}
	return out
}
