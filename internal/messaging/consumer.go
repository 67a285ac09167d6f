package messaging

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// TaskHandler обрабатывает одну задачу.
type TaskHandler interface {
	Handle(ctx context.Context, payload TaskPayload) error
}

// Consumer читает задачи из канала доставок и передает их обработчику.
// Успех - ack, любая ошибка - nack без возврата в очередь (сообщение уходит в DLQ).
type Consumer struct {
	handler TaskHandler
	logger  zerolog.Logger
}

func NewConsumer(handler TaskHandler, logger zerolog.Logger) *Consumer {
	return &Consumer{handler: handler, logger: logger.With().Str("component", "TaskConsumer").Logger()}
}

// Run обрабатывает доставки по одной, пока канал открыт или ctx не отменен.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	c.logger.Info().Msg("Waiting for tasks")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Context cancelled, consumer stops")
			return
		case msg, ok := <-deliveries:
			if !ok {
				c.logger.Info().Msg("Delivery channel closed, consumer stops")
				return
			}
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg amqp.Delivery) {
	var payload TaskPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("Failed to decode task, rejecting")
		c.nack(msg)
		return
	}
	log := c.logger.With().Str("task_id", payload.TaskID).Str("type", string(payload.Type)).Logger()

	if err := payload.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid task, rejecting")
		c.nack(msg)
		return
	}
	if err := c.handler.Handle(ctx, payload); err != nil {
		log.Error().Err(err).Msg("Task failed, rejecting")
		c.nack(msg)
		return
	}
	if err := msg.Ack(false); err != nil {
		log.Error().Err(err).Msg("Failed to ack task")
		return
	}
	log.Info().Msg("Task processed")
}

func (c *Consumer) nack(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("Failed to nack task")
	}
}
