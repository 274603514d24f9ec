package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const reconnectInterval = 10 * time.Second

// ConnectionManager owns the single AMQP connection shared by the
// publisher and the consumer of a process.
type ConnectionManager struct {
	url    string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
}

// Dial connects to the broker and starts watching the connection until ctx
// is cancelled.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*ConnectionManager, error) {
	m := &ConnectionManager{url: url, logger: logger}
	if _, err := m.connection(); err != nil {
		return nil, err
	}
	go m.watch(ctx)
	return m, nil
}

func (m *ConnectionManager) connection() (*amqp.Connection, error) {
	m.mu.RLock()
	if m.conn != nil && !m.conn.IsClosed() {
		conn := m.conn
		m.mu.RUnlock()
		return conn, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}

	m.logger.Debug("connecting to rabbitmq")
	conn, err := amqp.Dial(m.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	m.conn = conn
	m.logger.Info("connected to rabbitmq")
	return conn, nil
}

// Channel opens a new channel on the shared connection, reconnecting first
// when the connection was lost.
func (m *ConnectionManager) Channel() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return conn, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

func (m *ConnectionManager) watch(ctx context.Context) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		lost := m.conn != nil && m.conn.IsClosed()
		m.mu.RUnlock()
		if !lost {
			continue
		}

		m.logger.Warn("rabbitmq connection lost, reconnecting")
		if _, err := m.connection(); err != nil {
			m.logger.Error("rabbitmq reconnect failed", "err", err)
		}
	}
}

// Close closes the shared connection.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.conn.IsClosed() {
		return nil
	}
	if err := m.conn.Close(); err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}
