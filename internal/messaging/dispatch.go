package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"inn_service/internal/model"
)

// ErrNoRequestID marks a message whose correlation id is missing entirely.
// It takes the generic-fault path: best-effort bare error reply, then ack.
var ErrNoRequestID = errors.New("message has no request id")

// MessageHandler binds a source queue to its processing logic. Run returns
// processed=false only when the message should be rejected into the retry
// ring; any error resolves to a terminal acknowledgement.
type MessageHandler interface {
	Name() string
	SourceQueue() string
	UseRetry() bool
	RetryTTL() time.Duration
	Run(ctx context.Context, body []byte, requestID, replyQueue string, retryCount int) (bool, error)
	ErrorResponse(requestID, detail string) any
}

type consumerRegistrar interface {
	CreateConsumer(queueName string, fn ConsumerFunc, useRetry bool, retryTTL time.Duration) error
}

// QueueManager registers message handlers as queue consumers and translates
// handler outcomes into acknowledgement decisions.
type QueueManager struct {
	registrar consumerRegistrar
	publisher Publisher
	logger    *zap.Logger
	handlers  []MessageHandler
}

func NewQueueManager(manager *RabbitManager, logger *zap.Logger) *QueueManager {
	return &QueueManager{
		registrar: manager,
		publisher: manager,
		logger:    logger,
	}
}

func (q *QueueManager) AddHandler(h MessageHandler) {
	q.handlers = append(q.handlers, h)
}

// Run creates one consumer per registered handler.
func (q *QueueManager) Run() error {
	for _, h := range q.handlers {
		q.logger.Info("create consumer", zap.String("queue", h.SourceQueue()))
		handler := h
		err := q.registrar.CreateConsumer(h.SourceQueue(), func(d amqp.Delivery) {
			q.handleMessage(handler, &d)
		}, h.UseRetry(), h.RetryTTL())
		if err != nil {
			return fmt.Errorf("failed to create consumer for %s: %w", h.SourceQueue(), err)
		}
	}
	return nil
}

// handleMessage is the per-message state machine. Every terminal state
// acknowledges; a reject (feeding the retry ring) happens only when the
// handler reports the message as not processed.
func (q *QueueManager) handleMessage(h MessageHandler, d *amqp.Delivery) {
	ctx := context.Background()
	replyQueue := d.ReplyTo

	var payload map[string]any
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		q.logger.Error("unable to parse message",
			zap.Error(err), zap.ByteString("message", d.Body))
		q.ack(d)
		return
	}

	requestID, _ := payload["requestId"].(string)
	retryCount := retryCountFromHeaders(d.Headers)

	processed, err := h.Run(ctx, d.Body, requestID, replyQueue, retryCount)
	if err != nil {
		var validationErr *model.ValidationError
		if errors.As(err, &validationErr) {
			q.logger.Error("request body content error",
				zap.Error(err), zap.String("request_id", requestID))
			if replyQueue != "" {
				q.reply(ctx, h.ErrorResponse(requestID, err.Error()), replyQueue)
			}
			q.ack(d)
			return
		}

		q.logger.Error("handler error",
			zap.String("handler", h.Name()),
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.String("reply_to", replyQueue))
		if replyQueue != "" {
			q.reply(ctx, &model.ErrorReply{RequestID: requestID, Error: err.Error()}, replyQueue)
		}
		q.ack(d)
		return
	}

	if processed {
		q.ack(d)
		return
	}
	if err := d.Reject(false); err != nil {
		q.logger.Error("failed to reject message", zap.Error(err))
	}
}

func (q *QueueManager) ack(d *amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		q.logger.Error("failed to ack message", zap.Error(err))
	}
}

func (q *QueueManager) reply(ctx context.Context, response any, queueName string) {
	if err := q.publisher.Publish(ctx, response, queueName); err != nil {
		q.logger.Error("failed to send error response",
			zap.Error(err), zap.String("queue", queueName))
	}
}

// retryCountFromHeaders reads the number of completed dead-letter cycles from
// the x-death header array.
func retryCountFromHeaders(headers amqp.Table) int {
	xDeath, ok := headers["x-death"].([]any)
	if !ok || len(xDeath) == 0 {
		return 0
	}
	first, ok := xDeath[0].(amqp.Table)
	if !ok {
		return 0
	}
	switch count := first["count"].(type) {
	case int64:
		return int(count)
	case int32:
		return int(count)
	case int:
		return count
	default:
		return 0
	}
}
