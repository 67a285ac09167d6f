package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher - часть *amqp.Channel для публикации.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// TaskPublisher ставит задачи в очередь.
type TaskPublisher interface {
	PublishTask(ctx context.Context, payload TaskPayload) error
}

// Notifier отправляет уведомления о ходе задачи.
type Notifier interface {
	Notify(ctx context.Context, payload NotificationPayload) error
}

type rabbitMQTaskPublisher struct {
	ch     Publisher
	logger zerolog.Logger
}

// NewRabbitMQTaskPublisher публикует в TaskQueue; топология должна быть объявлена заранее.
func NewRabbitMQTaskPublisher(ch Publisher, logger zerolog.Logger) TaskPublisher {
	return &rabbitMQTaskPublisher{ch: ch, logger: logger.With().Str("component", "TaskPublisher").Logger()}
}

func (p *rabbitMQTaskPublisher) PublishTask(ctx context.Context, payload TaskPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	if err := publishJSON(ctx, p.ch, TaskQueue, payload.TaskID, payload); err != nil {
		p.logger.Error().Err(err).Str("task_id", payload.TaskID).Msg("Failed to publish task")
		return fmt.Errorf("failed to publish task %s: %w", payload.TaskID, err)
	}
	p.logger.Info().
		Str("task_id", payload.TaskID).
		Str("type", string(payload.Type)).
		Str("story_title", payload.StoryTitle).
		Msg("Task published")
	return nil
}

type rabbitMQNotifier struct {
	ch     Publisher
	logger zerolog.Logger
}

func NewRabbitMQNotifier(ch Publisher, logger zerolog.Logger) Notifier {
	return &rabbitMQNotifier{ch: ch, logger: logger.With().Str("component", "Notifier").Logger()}
}

func (n *rabbitMQNotifier) Notify(ctx context.Context, payload NotificationPayload) error {
	messageID := fmt.Sprintf("%s-%s-%d-%s", payload.TaskID, payload.Status, payload.Episode, payload.State)
	if err := publishJSON(ctx, n.ch, NotificationQueue, messageID, payload); err != nil {
		n.logger.Error().Err(err).Str("task_id", payload.TaskID).Msg("Failed to publish notification")
		return fmt.Errorf("failed to publish notification for task %s: %w", payload.TaskID, err)
	}
	n.logger.Debug().
		Str("task_id", payload.TaskID).
		Str("status", string(payload.Status)).
		Int("episode", payload.Episode).
		Msg("Notification sent")
	return nil
}

func publishJSON(ctx context.Context, ch Publisher, queue, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
		AppId:        "serial-novel",
		MessageId:    messageID,
	})
}
