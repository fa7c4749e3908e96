package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ConnectionManager owns the process-wide MongoDB client. The driver connects
// lazily, so construction never blocks on the database being up.
type ConnectionManager struct {
	client  *mongo.Client
	timeout time.Duration
	logger  *zap.Logger
}

func NewConnectionManager(dsn string, timeout time.Duration, logger *zap.Logger) (*ConnectionManager, error) {
	opts := options.Client().
		ApplyURI(dsn).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	logger.Info("created MongoDB client")
	return &ConnectionManager{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (m *ConnectionManager) Client() *mongo.Client {
	return m.client
}

func (m *ConnectionManager) Name() string {
	return "MongoDB"
}

// IsConnected is the live probe: a bounded ping against the server.
func (m *ConnectionManager) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.client.Ping(ctx, nil) == nil
}

func (m *ConnectionManager) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect mongo client: %w", err)
	}
	m.logger.Info("MongoDB connection closed")
	return nil
}
