package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"inn_service/internal/config"
)

const reconnectDelay = 5 * time.Second

// ErrNotConnected is returned for channel operations while the broker
// connection is down; the reconnect loop restores it in the background.
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// ConsumerFunc processes a single delivery and owns its acknowledgement.
type ConsumerFunc func(amqp.Delivery)

// Publisher is the publish primitive handlers use to send replies.
type Publisher interface {
	Publish(ctx context.Context, document any, queueName string) error
}

type consumerSpec struct {
	queueName string
	fn        ConsumerFunc
	useRetry  bool
	retryTTL  time.Duration
}

// RabbitManager maintains one durable connection, one channel with the
// configured prefetch and one topic exchange. The channel and exchange are
// recreated lazily after a connection loss; registered consumers are restored
// by the reconnect loop.
type RabbitManager struct {
	dsn       string
	exchange  string
	prefetch  int
	logger    *zap.Logger
	connected atomic.Bool

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	consumers []consumerSpec
	closing   bool
}

func NewRabbitManager(dsn string, cfg config.RabbitConfig, logger *zap.Logger) *RabbitManager {
	return &RabbitManager{
		dsn:      dsn,
		exchange: cfg.Exchange,
		prefetch: cfg.PrefetchCount,
		logger:   logger,
	}
}

// Connect dials the broker and starts watching for connection loss.
func (m *RabbitManager) Connect() error {
	m.logger.Info("create connection RabbitMQ")

	conn, err := amqp.Dial(m.dsn)
	if err != nil {
		return fmt.Errorf("rabbit connection problem: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.channel = nil
	m.mu.Unlock()
	m.connected.Store(true)

	go m.watch(conn)
	return nil
}

// watch marks the manager disconnected when the connection drops and keeps
// redialing until it is restored, then re-registers the known consumers.
func (m *RabbitManager) watch(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr == nil {
		// Graceful shutdown.
		return
	}

	m.logger.Error("lost connection to RabbitMQ", zap.Error(closeErr))
	m.connected.Store(false)

	m.mu.Lock()
	m.channel = nil
	closing := m.closing
	m.mu.Unlock()
	if closing {
		return
	}

	for {
		time.Sleep(reconnectDelay)

		if err := m.Connect(); err != nil {
			m.logger.Error("failed to reconnect to RabbitMQ", zap.Error(err))
			continue
		}

		m.mu.Lock()
		consumers := make([]consumerSpec, len(m.consumers))
		copy(consumers, m.consumers)
		m.mu.Unlock()

		restored := true
		for _, spec := range consumers {
			if err := m.startConsumer(spec); err != nil {
				m.logger.Error("failed to restore consumer",
					zap.String("queue", spec.queueName), zap.Error(err))
				restored = false
				break
			}
		}
		if restored {
			m.logger.Info("connection to RabbitMQ has been restored")
			return
		}
	}
}

func (m *RabbitManager) Close() error {
	m.mu.Lock()
	m.closing = true
	conn := m.conn
	m.mu.Unlock()

	m.connected.Store(false)
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

func (m *RabbitManager) Name() string {
	return "RabbitMQ"
}

// IsConnected is the live probe used by the health endpoint.
func (m *RabbitManager) IsConnected(_ context.Context) bool {
	return m.connected.Load()
}

// getChannel lazily opens the channel, sets QoS and declares the exchange.
func (m *RabbitManager) getChannel() (*amqp.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil {
		return m.channel, nil
	}
	if m.conn == nil || m.conn.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(m.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set channel QoS: %w", err)
	}
	if err := ch.ExchangeDeclare(m.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", m.exchange, err)
	}

	m.channel = ch
	return ch, nil
}

// resetChannel drops the cached channel after a channel-level error (the
// broker closes the channel on declaration failures).
func (m *RabbitManager) resetChannel() {
	m.mu.Lock()
	m.channel = nil
	m.mu.Unlock()
}

// DeclareAndBind declares a durable queue bound to the exchange with the
// queue name as routing key. A non-empty deadRoutingKey attaches manual
// dead-letter routing to the queue.
func (m *RabbitManager) DeclareAndBind(queueName, deadExchange, deadRoutingKey string) error {
	var args amqp.Table
	if deadRoutingKey != "" {
		args = amqp.Table{
			"x-dead-letter-exchange":    deadExchange,
			"x-dead-letter-routing-key": deadRoutingKey,
		}
	}
	return m.declareQueue(queueName, args)
}

func (m *RabbitManager) declareQueue(queueName string, args amqp.Table) error {
	ch, err := m.getChannel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		m.resetChannel()
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	if err := ch.QueueBind(queueName, queueName, m.exchange, false, nil); err != nil {
		m.resetChannel()
		return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}
	return nil
}

// declareDLQueue declares the companion delay queue of the retry ring:
// rejected messages sit in dl-<queue> for the ttl and are then routed back to
// the source queue.
func (m *RabbitManager) declareDLQueue(queueName string, ttl time.Duration) error {
	return m.declareQueue(dlQueueName(queueName), amqp.Table{
		"x-dead-letter-exchange":    m.exchange,
		"x-dead-letter-routing-key": queueName,
		"x-message-ttl":             ttl.Milliseconds(),
	})
}

func (m *RabbitManager) deleteQueue(queueName string) error {
	ch, err := m.getChannel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDelete(queueName, false, false, false); err != nil {
		m.resetChannel()
		return fmt.Errorf("failed to delete queue %s: %w", queueName, err)
	}
	return nil
}

// CreateConsumer declares the queue, optionally with the dead-letter retry
// ring, and starts consuming with fn. A dl-queue left over with incompatible
// arguments is deleted and recreated once.
func (m *RabbitManager) CreateConsumer(queueName string, fn ConsumerFunc, useRetry bool, retryTTL time.Duration) error {
	spec := consumerSpec{queueName: queueName, fn: fn, useRetry: useRetry, retryTTL: retryTTL}

	if err := m.startConsumer(spec); err != nil {
		return err
	}

	m.mu.Lock()
	m.consumers = append(m.consumers, spec)
	m.mu.Unlock()
	return nil
}

func (m *RabbitManager) startConsumer(spec consumerSpec) error {
	var queueArgs amqp.Table

	if spec.useRetry {
		dlName := dlQueueName(spec.queueName)
		queueArgs = amqp.Table{
			"x-dead-letter-exchange":    m.exchange,
			"x-dead-letter-routing-key": dlName,
		}

		if err := m.declareDLQueue(spec.queueName, spec.retryTTL); err != nil {
			if !isPreconditionFailed(err) {
				return err
			}
			m.logger.Warn("PRECONDITION_FAILED - trying to reset dead letter queue",
				zap.String("queue", dlName))
			if err := m.deleteQueue(dlName); err != nil {
				return err
			}
			if err := m.declareDLQueue(spec.queueName, spec.retryTTL); err != nil {
				return err
			}
			m.logger.Info("dead letter queue recreated", zap.String("queue", dlName))
		}
	}

	if err := m.declareQueue(spec.queueName, queueArgs); err != nil {
		return err
	}

	ch, err := m.getChannel()
	if err != nil {
		return err
	}
	deliveries, err := ch.Consume(spec.queueName, "", false, false, false, false, nil)
	if err != nil {
		m.resetChannel()
		return fmt.Errorf("failed to start consumer for %s: %w", spec.queueName, err)
	}

	go func() {
		for d := range deliveries {
			// Параллельная обработка, ограниченная prefetch.
			go spec.fn(d)
		}
	}()

	m.logger.Info("consumer started", zap.String("queue", spec.queueName))
	return nil
}

// Publish JSON-encodes the document and publishes it to the exchange with the
// queue name as routing key.
func (m *RabbitManager) Publish(ctx context.Context, document any, queueName string) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", queueName, err)
	}

	ch, err := m.getChannel()
	if err != nil {
		return err
	}

	m.logger.Debug("send message", zap.String("queue", queueName), zap.ByteString("body", body))

	err = ch.PublishWithContext(ctx, m.exchange, queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Body:        body,
	})
	if err != nil {
		m.resetChannel()
		return fmt.Errorf("failed to publish message to %s: %w", queueName, err)
	}
	return nil
}

func dlQueueName(queueName string) string {
	return "dl-" + queueName
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}
