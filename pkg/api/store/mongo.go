package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/apievaluator/resultsapi/pkg/testresult"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"
)

// Compile-time interface check.
var _ Store = (*mongoStore)(nil)

// mongoStore keeps test results as documents in a MongoDB collection.
type mongoStore struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig

	mu     sync.RWMutex
	client *mongo.Client
	coll   *mongo.Collection
}

func newMongoStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) *mongoStore {
	return &mongoStore{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start connects to MongoDB, verifies the connection and ensures indexes.
func (s *mongoStore) Start(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(s.cfg.MongoDB.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	if s.cfg.Timeout > 0 {
		opts.SetServerSelectionTimeout(s.cfg.Timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())

		return fmt.Errorf("pinging mongodb: %w", err)
	}

	coll := client.Database(s.cfg.MongoDB.Database).
		Collection(s.cfg.MongoDB.Collection)

	if _, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{
			{Key: "endpoint.path", Value: 1},
			{Key: "endpoint.method", Value: 1},
		}},
		{Keys: bson.D{{Key: "success", Value: 1}}},
	}); err != nil {
		_ = client.Disconnect(context.Background())

		return fmt.Errorf("creating indexes: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.coll = coll
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"database":   s.cfg.MongoDB.Database,
		"collection": s.cfg.MongoDB.Collection,
	}).Info("Connected to MongoDB")

	return nil
}

// Stop disconnects the client.
func (s *mongoStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil

	if err != nil {
		return fmt.Errorf("disconnecting from mongodb: %w", err)
	}

	s.log.Info("MongoDB connection closed")

	return nil
}

func (s *mongoStore) collection() (*mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.coll == nil {
		return nil, ErrNotConnected
	}

	return s.coll, nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	return client.Ping(ctx, readpref.Primary())
}

func (s *mongoStore) CreateTestResult(
	ctx context.Context, r *testresult.TestResult,
) error {
	coll, err := s.collection()
	if err != nil {
		return err
	}

	doc, err := newResultDocument(r)
	if err != nil {
		return fmt.Errorf("creating test result: %w", err)
	}

	now := time.Now().UTC()
	doc.ID = primitive.NewObjectID()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("creating test result: %w", err)
	}

	r.ID = doc.ID.Hex()
	r.CreatedAt = now
	r.UpdatedAt = now

	return nil
}

func (s *mongoStore) GetTestResult(
	ctx context.Context, id string,
) (*testresult.TestResult, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("getting test result %q: %w", id, ErrInvalidID)
	}

	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	var doc resultDocument
	if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).
		Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("getting test result %q: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("getting test result %q: %w", id, err)
	}

	result, err := doc.toTestResult()
	if err != nil {
		return nil, fmt.Errorf("getting test result %q: %w", id, err)
	}

	return &result, nil
}

func (s *mongoStore) ListTestResults(
	ctx context.Context, filter Filter, page Page,
) ([]testresult.TestResult, int64, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, 0, err
	}

	query := filter.bsonFilter()

	total, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("counting test results: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{
			{Key: "timestamp", Value: -1},
			{Key: "_id", Value: -1},
		}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Limit))

	cursor, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("listing test results: %w", err)
	}

	var docs []resultDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decoding test results: %w", err)
	}

	results := make([]testresult.TestResult, 0, len(docs))

	for i := range docs {
		r, err := docs[i].toTestResult()
		if err != nil {
			return nil, 0, fmt.Errorf("converting test result %s: %w",
				docs[i].ID.Hex(), err)
		}

		results = append(results, r)
	}

	return results, total, nil
}

func (s *mongoStore) DeleteTestResult(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("deleting test result %q: %w", id, ErrInvalidID)
	}

	coll, err := s.collection()
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("deleting test result %q: %w", id, err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("deleting test result %q: %w", id, ErrNotFound)
	}

	return nil
}

func (s *mongoStore) DeleteTestResults(
	ctx context.Context, filter Filter,
) (int64, error) {
	coll, err := s.collection()
	if err != nil {
		return 0, err
	}

	res, err := coll.DeleteMany(ctx, filter.bsonFilter())
	if err != nil {
		return 0, fmt.Errorf("deleting test results: %w", err)
	}

	if res.DeletedCount > 0 {
		s.log.WithField("count", res.DeletedCount).
			Info("Deleted test results")
	}

	return res.DeletedCount, nil
}

// successMatch matches 2xx status codes.
var successMatch = bson.D{{Key: "status", Value: bson.D{
	{Key: "$gte", Value: 200},
	{Key: "$lt", Value: 300},
}}}

// methodStatsPipeline groups the matching results by endpoint method.
func methodStatsPipeline(match bson.D) mongo.Pipeline {
	isSuccess := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$gte", Value: bson.A{"$status", 200}}},
		bson.D{{Key: "$lt", Value: bson.A{"$status", 300}}},
	}}}

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$endpoint.method"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "successful", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{isSuccess, 1, 0}},
			}}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "count", Value: -1},
			{Key: "_id", Value: 1},
		}}},
	}
}

// pathStatsPipeline returns the most frequently probed paths.
func pathStatsPipeline(match bson.D) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$endpoint.path"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avgStatus", Value: bson.D{{Key: "$avg", Value: "$status"}}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "count", Value: -1},
			{Key: "_id", Value: 1},
		}}},
		{{Key: "$limit", Value: topPathsLimit}},
	}
}

func (s *mongoStore) Stats(ctx context.Context, filter Filter) (*Stats, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	match := filter.bsonFilter()
	successful := bson.D{{Key: "$and", Value: bson.A{match, successMatch}}}

	var stats Stats

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := coll.CountDocuments(gctx, match)
		if err != nil {
			return fmt.Errorf("counting test results: %w", err)
		}

		stats.Total = n

		return nil
	})

	g.Go(func() error {
		n, err := coll.CountDocuments(gctx, successful)
		if err != nil {
			return fmt.Errorf("counting successful test results: %w", err)
		}

		stats.Successful = n

		return nil
	})

	g.Go(func() error {
		cursor, err := coll.Aggregate(gctx, methodStatsPipeline(match))
		if err != nil {
			return fmt.Errorf("aggregating by method: %w", err)
		}

		if err := cursor.All(gctx, &stats.ByMethod); err != nil {
			return fmt.Errorf("decoding method stats: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		cursor, err := coll.Aggregate(gctx, pathStatsPipeline(match))
		if err != nil {
			return fmt.Errorf("aggregating by path: %w", err)
		}

		if err := cursor.All(gctx, &stats.TopPaths); err != nil {
			return fmt.Errorf("decoding path stats: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.finalize()

	return &stats, nil
}
