package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

// sessionDocument is the stored form. The session itself is kept as a JSON
// payload; the top-level fields exist for filtering and ordering.
type sessionDocument struct {
	ID        string    `bson:"_id"`
	State     string    `bson:"state"`
	StartedAt time.Time `bson:"started_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	Payload   string    `bson:"payload"`
}

func toDocument(s *session.Session) (*sessionDocument, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return &sessionDocument{
		ID:        s.ID,
		State:     string(s.State),
		StartedAt: s.StartedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
		Payload:   string(payload),
	}, nil
}

func fromDocument(doc *sessionDocument) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal([]byte(doc.Payload), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", doc.ID, err)
	}
	return &s, nil
}

// stateFilter builds the query document for a ListFilter.
func stateFilter(filter ListFilter) bson.M {
	if len(filter.States) == 0 {
		return bson.M{}
	}
	states := make([]string, len(filter.States))
	for i, st := range filter.States {
		states[i] = string(st)
	}
	return bson.M{"state": bson.M{"$in": states}}
}

// MongoStore keeps sessions in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *zap.Logger
}

// NewMongoStore connects, pings and ensures the listing index.
func NewMongoStore(ctx context.Context, config MongoStoreConfig, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Database == "" {
		config.Database = "alcs"
	}
	if config.Collection == "" {
		config.Collection = "sessions"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.URI).SetTimeout(config.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		timeout:    config.Timeout,
		logger:     logger.With(zap.String("component", "mongo_session_store")),
	}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	_, err = s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "started_at", Value: -1}},
	})
	if err != nil {
		s.logger.Warn("failed to create session index", zap.Error(err))
	}
	return s, nil
}

func (s *MongoStore) Create(ctx context.Context, id string) (*session.Session, error) {
	sess := newSession(id)
	doc, err := toDocument(sess)
	if err != nil {
		return nil, err
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var doc sessionDocument
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return fromDocument(&doc)
}

func (s *MongoStore) Update(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	doc, err := toDocument(sess)
	if err != nil {
		return err
	}
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": sess.ID}, doc)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) ([]*session.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := s.collection.Find(ctx, stateFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	out := make([]*session.Session, 0, len(docs))
	for i := range docs {
		sess, err := fromDocument(&docs[i])
		if err != nil {
			s.logger.Warn("skipping undecodable session", zap.String("session_id", docs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
