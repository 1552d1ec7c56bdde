//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"fb_downloader/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) config(name string) Config {
	return Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-" + name,
		RoutingKey: "test-routing-key-" + name,
		QueueName:  "test-queue-" + name,
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	pub, err := NewRabbitMQ(s.config("connect"), s.logger)
	s.NoError(err)
	s.NotNil(pub)

	s.NoError(pub.Close())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_RequiresTopologyNames() {
	_, err := NewRabbitMQ(Config{URL: s.amqpURL}, s.logger)
	s.Error(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishCompleted() {
	cfg := s.config("completed")
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	event := &domain.SnapshotEvent{
		SnapshotID:  7,
		UserID:      "123",
		Filename:    "facebook_data_20260304_050607.json",
		Path:        "data/facebook_data_20260304_050607.json",
		SizeBytes:   2048,
		Posts:       10,
		Comments:    42,
		GeneratedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	s.Require().NoError(pub.Publish(s.ctx, event))

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)
	s.Equal("application/json", msg.ContentType)
	s.Equal(EventExportCompleted, msg.Type)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received SnapshotMessage
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(EventExportCompleted, received.Event)
	s.Equal(*event, received.Snapshot)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishPartial() {
	cfg := s.config("partial")
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	s.Require().NoError(pub.Publish(s.ctx, &domain.SnapshotEvent{UserID: "123", Posts: 3, PartialPosts: 1}))

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received SnapshotMessage
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(EventExportPartial, received.Event)
	s.Equal(1, received.Snapshot.PartialPosts)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_CloseTwice() {
	pub, err := NewRabbitMQ(s.config("close"), s.logger)
	s.Require().NoError(err)

	s.NoError(pub.Close())
	s.Error(pub.Close())
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msg, ok, err := ch.Get(cfg.QueueName, true)
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && !ok && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		msg, ok, err = ch.Get(cfg.QueueName, true)
	}
	s.Require().NoError(err)
	if !ok {
		s.Fail("Timeout waiting for message")
		return nil
	}
	return &msg
}
