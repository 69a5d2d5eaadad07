package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DLQExchangeName returns the dead letter exchange paired with exchange.
func DLQExchangeName(exchange string) string {
	return exchangeOrDefault(exchange) + ".dlq"
}

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		DLQExchangeName(exchange),
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDLQQueue declares a dead letter queue for a specific routing key.
func DeclareDLQQueue(ch *amqp091.Channel, exchange, routingKey string) (amqp091.Queue, error) {
	queueName := fmt.Sprintf("%s.dlq", routingKey)

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		DLQExchangeName(exchange),
		false,
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	return q, nil
}

// DeadLetter describes a message the consumer gave up on.
type DeadLetter struct {
	RoutingKey string
	Queue      string
	MessageID  string
	Body       []byte
	Error      string
	ErrorType  string
	Attempts   int64
	FailedAt   time.Time
}

// DeadLetterSink receives messages that exhausted their retries.
type DeadLetterSink interface {
	PublishToDLQ(ctx context.Context, dl DeadLetter) error
}

// DeadLetterRecorder keeps an audit trail of dead letters outside the broker.
type DeadLetterRecorder interface {
	RecordDeadLetter(ctx context.Context, dl DeadLetter) error
}

// PublishToDLQ publishes a message to the dead letter queue.
func (p *Publisher) PublishToDLQ(ctx context.Context, dl DeadLetter) error {
	headers := amqp091.Table{
		"x-original-error": dl.Error,
		"x-error-type":     dl.ErrorType,
		"x-attempts":       dl.Attempts,
		"x-failed-at":      dl.FailedAt.UTC().Format(time.RFC3339),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx,
		DLQExchangeName(p.exchange),
		dl.RoutingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "text/plain",
			MessageId:    dl.MessageID,
			Body:         dl.Body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
