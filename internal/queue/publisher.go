package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"catalogsync/internal/metrics"
)

// Publisher is what the orchestrator needs to hand batches to workers.
type Publisher interface {
	PublishBatch(ctx context.Context, msg BatchMessage) error
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes batch messages to a durable queue through the
// default exchange.
type AMQPPublisher struct {
	ch      publishChannel
	queue   string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPublisher opens a channel and declares the durable batch queue.
func NewPublisher(cm *ConnectionManager, queue string, logger *slog.Logger, m *metrics.Metrics) (*AMQPPublisher, error) {
	_, ch, err := cm.Channel()
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("publisher: %w", err)
	}
	return newPublisher(ch, queue, logger, m), nil
}

func newPublisher(ch publishChannel, queue string, logger *slog.Logger, m *metrics.Metrics) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue, logger: logger, metrics: m, now: time.Now}
}

// PublishBatch encodes msg and publishes it as a persistent message.
func (p *AMQPPublisher) PublishBatch(ctx context.Context, msg BatchMessage) error {
	body, err := Encode(msg)
	if err != nil {
		p.metrics.IncQueueMessage("publish", "invalid")
		return err
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now(),
		Type:         MessageType,
		Headers: amqp.Table{
			"version": MessageVersion,
			"run_id":  msg.RunID,
		},
		Body: body,
	})
	if err != nil {
		p.metrics.IncQueueMessage("publish", "error")
		return fmt.Errorf("publish batch %d/%d: %w", msg.BatchNumber, msg.TotalBatches, err)
	}

	p.metrics.IncQueueMessage("publish", "ok")
	p.logger.Debug("batch published",
		"run_id", msg.RunID,
		"batch", msg.BatchNumber,
		"total_batches", msg.TotalBatches,
		"records", len(msg.Records),
	)
	return nil
}

// Close closes the publisher's channel.
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}
	return nil
}
