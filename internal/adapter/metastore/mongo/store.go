// Package mongo stores document metadata in a MongoDB collection, one
// document per record keyed by its "id" field.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// Options configures a Store.
type Options struct {
	Database   string
	Collection string
	// Transactions wraps each PutMany in a session transaction. Requires a
	// replica set.
	Transactions bool
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Store is a MetadataStore backed by MongoDB.
type Store struct {
	client       *mongo.Client
	coll         *mongo.Collection
	transactions bool
	timeout      time.Duration
	logger       *zap.Logger
}

var _ port.MetadataStore = (*Store)(nil)

// Connect dials uri, verifies the server answers and ensures the unique id
// index exists.
func Connect(ctx context.Context, uri string, opts Options) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: mongo uri is empty", domain.ErrConfiguration)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(opts.Timeout).
		SetServerSelectionTimeout(opts.Timeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mongo uri: %v", domain.ErrConfiguration, err)
	}

	s := &Store{
		client:       client,
		coll:         client.Database(opts.Database).Collection(opts.Collection),
		transactions: opts.Transactions,
		timeout:      opts.Timeout,
		logger:       opts.Logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, s.wrap("ping", err)
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("id_unique"),
	})
	if err != nil {
		return s.wrap("create index", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc domain.Document
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, s.wrap("find "+id, err)
	}
	return doc, nil
}

// PutMany upserts the batch with one ordered bulk write. With transactions
// enabled the batch commits atomically.
func (s *Store) PutMany(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document id is required", domain.ErrValidation)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	write := func(ctx context.Context) error {
		_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
		return err
	}

	if !s.transactions {
		if err := write(ctx); err != nil {
			return s.wrap("bulk write", err)
		}
		return nil
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return s.wrap("start session", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, write(sc)
	})
	if err != nil {
		return s.wrap("transactional bulk write", err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return s.wrap("delete all", err)
	}
	s.logger.Info("metadata cleared", zap.Int64("deleted", res.DeletedCount))
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, s.wrap("count", err)
	}
	return int(n), nil
}

// ListIDs returns ids in natural insertion order.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	findOpts := options.Find().
		SetProjection(bson.M{"id": 1, "_id": 0}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, s.wrap("list ids", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, s.wrap("list ids", err)
	}
	return ids, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) wrap(op string, err error) error {
	return classify(op, err)
}

// classify marks every failure as the store being unavailable. Timeouts and
// dropped connections are also transient; cancellation passes through untouched.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case mongo.IsTimeout(err), mongo.IsNetworkError(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("mongo %s: %w: %w: %w", op, domain.ErrIndexUnavailable, domain.ErrTransient, err)
	default:
		return fmt.Errorf("mongo %s: %w: %w", op, domain.ErrIndexUnavailable, err)
	}
}
