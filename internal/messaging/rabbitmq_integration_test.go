//go:build integration

package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"serial-novel/internal/messaging"

	"github.com/docker/docker/client"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RabbitMQSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	ch        *amqp.Channel
}

func (s *RabbitMQSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server startup complete")),
	)
	s.Require().NoError(err)
	url, err := s.container.AmqpURL(s.ctx)
	s.Require().NoError(err)

	s.conn, err = amqp.Dial(url)
	s.Require().NoError(err)
	s.ch, err = s.conn.Channel()
	s.Require().NoError(err)
	s.Require().NoError(messaging.DeclareTopology(s.ch))
	s.Require().NoError(messaging.DeclareTopology(s.ch))
}

func (s *RabbitMQSuite) TearDownSuite() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

type handlerFunc func(ctx context.Context, p messaging.TaskPayload) error

func (f handlerFunc) Handle(ctx context.Context, p messaging.TaskPayload) error { return f(ctx, p) }

func (s *RabbitMQSuite) TestFailedTaskGoesToDeadLetterQueue() {
	pub := messaging.NewRabbitMQTaskPublisher(s.ch, zerolog.Nop())
	s.Require().NoError(pub.PublishTask(s.ctx, messaging.TaskPayload{
		TaskID: "ok", Type: messaging.TaskFinalizeStory, StoryTitle: "A",
	}))
	s.Require().NoError(pub.PublishTask(s.ctx, messaging.TaskPayload{
		TaskID: "bad", Type: messaging.TaskFinalizeStory, StoryTitle: "A",
	}))

	consumeCh, err := s.conn.Channel()
	s.Require().NoError(err)
	defer consumeCh.Close()
	deliveries, err := consumeCh.Consume(messaging.TaskQueue, "", false, false, false, false, nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	seen := make(chan string, 2)
	go messaging.NewConsumer(handlerFunc(func(_ context.Context, p messaging.TaskPayload) error {
		seen <- p.TaskID
		if p.TaskID == "bad" {
			return errors.New("boom")
		}
		return nil
	}), zerolog.Nop()).Run(ctx, deliveries)

	s.Equal("ok", <-seen)
	s.Equal("bad", <-seen)

	s.Eventually(func() bool {
		msg, ok, err := s.ch.Get("story_tasks_dlq", true)
		if err != nil || !ok {
			return false
		}
		var p messaging.TaskPayload
		return json.Unmarshal(msg.Body, &p) == nil && p.TaskID == "bad"
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRabbitMQSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Skipf("Docker client init error: %v", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon is not accessible: %v", err)
	}
	cli.Close()

	suite.Run(t, new(RabbitMQSuite))
}
