package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig describes the audit queue connection.
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// RabbitMQSink publishes audit records to a queue so an external collector
// can persist them. The core never reads them back.
type RabbitMQSink struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQSink connects and declares the queue.
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL is empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentpay.audit"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare audit queue: %w", err)
	}
	return &RabbitMQSink{conn: conn, ch: ch, queue: queue}, nil
}

// Emit implements Sink.
func (s *RabbitMQSink) Emit(ctx context.Context, record Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   record.ID,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.ch != nil {
		err = errors.Join(err, s.ch.Close())
	}
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

var _ Sink = (*RabbitMQSink)(nil)
