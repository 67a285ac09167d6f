package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	TaskQueue         = "story_tasks"
	NotificationQueue = "story_notifications"

	deadLetterExchange   = "story_tasks_dlx"
	deadLetterQueue      = "story_tasks_dlq"
	deadLetterRoutingKey = "dlq"
)

// Declarer - часть *amqp.Channel, нужная для объявления очередей.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology объявляет очередь задач с dead-letter и очередь уведомлений.
// Повторный вызов ничего не меняет.
func DeclareTopology(ch Declarer) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", deadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(deadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", deadLetterQueue, err)
	}
	if err := ch.QueueBind(deadLetterQueue, deadLetterRoutingKey, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind '%s' to '%s': %w", deadLetterQueue, deadLetterExchange, err)
	}

	taskArgs := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(TaskQueue, true, false, false, false, taskArgs); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", TaskQueue, err)
	}
	if _, err := ch.QueueDeclare(NotificationQueue, true, false, false, false, amqp.Table{"x-queue-mode": "lazy"}); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", NotificationQueue, err)
	}

	log.Info().
		Str("task_queue", TaskQueue).
		Str("notification_queue", NotificationQueue).
		Str("dlq", deadLetterQueue).
		Msg("Messaging topology declared")
	return nil
}
