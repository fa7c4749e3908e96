package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// IndexDef describes a single-field collection index.
type IndexDef struct {
	Field string
	Order int
}

// Store wraps one collection with the generic document operations the
// repositories are built on.
type Store struct {
	conn       *ConnectionManager
	dbName     string
	collection string
	logger     *zap.Logger
}

func NewStore(conn *ConnectionManager, dbName, collection string, logger *zap.Logger) *Store {
	return &Store{
		conn:       conn,
		dbName:     dbName,
		collection: collection,
		logger:     logger,
	}
}

func (s *Store) coll() *mongo.Collection {
	return s.conn.Client().Database(s.dbName).Collection(s.collection)
}

// EnsureIndexes builds the given indexes in the background and does not wait
// for completion, so startup is never blocked on index builds.
func (s *Store) EnsureIndexes(indexes []IndexDef) {
	go func() {
		for _, idx := range indexes {
			model := mongo.IndexModel{
				Keys:    bson.D{{Key: idx.Field, Value: idx.Order}},
				Options: options.Index().SetBackground(true),
			}
			if _, err := s.coll().Indexes().CreateOne(context.Background(), model); err != nil {
				s.logger.Error("failed to create index",
					zap.String("collection", s.collection), zap.String("field", idx.Field), zap.Error(err))
				continue
			}
			s.logger.Debug("index created",
				zap.String("collection", s.collection), zap.String("field", idx.Field))
		}
	}()
}

// GetOne finds the first document matching criteria and decodes it into
// result. The second return value reports whether a document was found.
func (s *Store) GetOne(ctx context.Context, criteria bson.M, result any) (bool, error) {
	err := s.coll().FindOne(ctx, criteria).Decode(result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find document in %s: %w", s.collection, err)
	}
	return true, nil
}

// GetList finds documents matching criteria and decodes them into results,
// which must be a pointer to a slice.
func (s *Store) GetList(ctx context.Context, criteria bson.M, sort bson.D, limit, skip int64, results any) error {
	opts := options.Find().SetLimit(limit).SetSkip(skip)
	if len(sort) > 0 {
		opts.SetSort(sort)
	}

	cursor, err := s.coll().Find(ctx, criteria, opts)
	if err != nil {
		return fmt.Errorf("failed to find documents in %s: %w", s.collection, err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, results); err != nil {
		return fmt.Errorf("failed to decode documents from %s: %w", s.collection, err)
	}
	return nil
}

// Insert stores the document and returns its generated id.
func (s *Store) Insert(ctx context.Context, document any) (string, error) {
	result, err := s.coll().InsertOne(ctx, document)
	if err != nil {
		return "", fmt.Errorf("failed to insert document into %s: %w", s.collection, err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprintf("%v", result.InsertedID), nil
}

// Update applies the given fields to the first document matching criteria.
func (s *Store) Update(ctx context.Context, criteria bson.M, fields bson.M) error {
	_, err := s.coll().UpdateOne(ctx, criteria, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update document in %s: %w", s.collection, err)
	}
	return nil
}
