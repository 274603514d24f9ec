package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"catalogsync/internal/metrics"
)

// Handler processes one decoded batch.
type Handler func(ctx context.Context, msg BatchMessage) error

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	Queue       string
	ConsumerTag string
	// Prefetch bounds the number of unacknowledged deliveries, which is
	// also the number of batches handled concurrently.
	Prefetch int
}

// Consumer reads batch messages from the queue and dispatches them to a
// Handler, acknowledging each delivery according to the outcome.
type Consumer struct {
	cm      *ConnectionManager
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewConsumer builds a consumer. Call Run to start consuming.
func NewConsumer(cm *ConnectionManager, cfg ConsumerConfig, handler Handler, logger *slog.Logger, m *metrics.Metrics) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("consumer: handler is required")
	}
	if cfg.Queue == "" {
		return nil, errors.New("consumer: queue name is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{cm: cm, cfg: cfg, handler: handler, logger: logger, metrics: m}, nil
}

// Run consumes until ctx is cancelled or the connection closes. In-flight
// deliveries are drained before it returns.
func (c *Consumer) Run(ctx context.Context) error {
	conn, ch, err := c.cm.Channel()
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("consumer: set qos: %w", err)
	}
	if err := declareQueue(ch, c.cfg.Queue); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue,
		c.cfg.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consumer: register on %q: %w", c.cfg.Queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.logger.Info("waiting for batches", "queue", c.cfg.Queue, "prefetch", c.cfg.Prefetch)

	defer c.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "queue", c.cfg.Queue)
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("consumer: connection closed: %w", amqpErr)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", c.cfg.Queue)
				return nil
			}
			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer c.wg.Done()
				c.handle(ctx, d)
			}(d)
		}
	}
}

// handle decodes and dispatches a single delivery. Contract violations are
// dropped. Handler failures are logged and dropped without a retry.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With("delivery_tag", d.DeliveryTag, "message_id", d.MessageId)

	msg, err := Decode(d.Body)
	if err != nil {
		log.Error("rejecting invalid batch message", "err", err)
		c.metrics.IncQueueMessage("consume", "invalid")
		_ = d.Nack(false, false)
		return
	}

	log = log.With("run_id", msg.RunID, "batch", msg.BatchNumber, "total_batches", msg.TotalBatches)
	if err := c.handler(ctx, msg); err != nil {
		log.Error("batch handler failed, dropping message", "err", err, "redelivered", d.Redelivered)
		c.metrics.IncQueueMessage("consume", "error")
		_ = d.Nack(false, false)
		return
	}

	c.metrics.IncQueueMessage("consume", "ok")
	if err := d.Ack(false); err != nil {
		log.Error("ack failed", "err", err)
		return
	}
	log.Debug("batch acknowledged")
}
