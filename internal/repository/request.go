package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"inn_service/internal/model"
	"inn_service/internal/storage"
)

const requestCollection = "request"

// documentStore is the slice of storage.Store the repository needs.
type documentStore interface {
	GetOne(ctx context.Context, criteria bson.M, result any) (bool, error)
	Insert(ctx context.Context, document any) (string, error)
	Update(ctx context.Context, criteria bson.M, fields bson.M) error
	EnsureIndexes(indexes []storage.IndexDef)
}

type RequestRepository interface {
	// FindClientData returns the first record matching either the passport
	// number or the request id, or nil when none matches.
	FindClientData(ctx context.Context, passportNum, requestID string) (*model.ClientRecord, error)
	SaveClientData(ctx context.Context, record *model.ClientRecord) (string, error)
	UpdateClientData(ctx context.Context, requestID string, fields map[string]any) error
	EnsureIndexes()
}

type requestRepository struct {
	store  documentStore
	logger *zap.Logger
}

func NewRequestRepository(conn *storage.ConnectionManager, dbName string, logger *zap.Logger) RequestRepository {
	return &requestRepository{
		store:  storage.NewStore(conn, dbName, requestCollection, logger),
		logger: logger,
	}
}

func (r *requestRepository) EnsureIndexes() {
	r.store.EnsureIndexes([]storage.IndexDef{
		{Field: "passport_num", Order: 1},
		{Field: "request_id", Order: 1},
	})
}

func (r *requestRepository) FindClientData(ctx context.Context, passportNum, requestID string) (*model.ClientRecord, error) {
	criteria := bson.M{"$or": []bson.M{
		{"passport_num": passportNum},
		{"request_id": requestID},
	}}

	var record model.ClientRecord
	found, err := r.store.GetOne(ctx, criteria, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to look up client data: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &record, nil
}

func (r *requestRepository) SaveClientData(ctx context.Context, record *model.ClientRecord) (string, error) {
	id, err := r.store.Insert(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to save client data: %w", err)
	}
	r.logger.Debug("client data saved",
		zap.String("id", id), zap.String("request_id", record.RequestID))
	return id, nil
}

func (r *requestRepository) UpdateClientData(ctx context.Context, requestID string, fields map[string]any) error {
	if err := r.store.Update(ctx, bson.M{"request_id": requestID}, bson.M(fields)); err != nil {
		return fmt.Errorf("failed to update client data: %w", err)
	}
	return nil
}
