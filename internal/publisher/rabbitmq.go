package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fb_downloader/internal/domain"
)

const dialTimeout = 10 * time.Second

// RabbitMQ publishes export events to a durable queue with publisher
// confirms enabled.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	if cfg.Exchange == "" || cfg.QueueName == "" {
		return nil, errors.New("rabbitmq exchange and queue name are required")
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: amqp.Table{"connection_name": "fb_downloader"},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.With("component", "publisher"),
	}, nil
}

// declareTopology binds a durable queue to a durable direct exchange.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// SnapshotMessage is the body published for each completed export.
type SnapshotMessage struct {
	Event     string               `json:"event"`
	Snapshot  domain.SnapshotEvent `json:"snapshot"`
	Timestamp time.Time            `json:"timestamp"`
}

const (
	EventExportCompleted = "export.completed"
	EventExportPartial   = "export.partial"
)

// Publish announces an archived export. Exports that carry truncated
// comment threads are published as partial.
func (r *RabbitMQ) Publish(ctx context.Context, event *domain.SnapshotEvent) error {
	name := EventExportCompleted
	if event.PartialPosts > 0 {
		name = EventExportPartial
	}

	msg := SnapshotMessage{
		Event:     name,
		Snapshot:  *event,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         name,
			Body:         body,
			Timestamp:    msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for publish confirm: %w", err)
	}
	if !acked {
		return errors.New("publish message: broker nacked")
	}

	r.logger.Debug("published export event",
		"event", name,
		"snapshot_id", event.SnapshotID,
		"filename", event.Filename,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	var chErr error
	if r.channel != nil {
		chErr = r.channel.Close()
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	if chErr != nil && !errors.Is(chErr, amqp.ErrClosed) {
		return fmt.Errorf("close channel: %w", chErr)
	}
	return nil
}
