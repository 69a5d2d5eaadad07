package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"mailpipe/pkg/trace"
)

// Publisher sends message ids to routing keys on one exchange. A single AMQP
// channel is shared, so publishes are serialized.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	mu       sync.Mutex
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	exchange = exchangeOrDefault(exchange)

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// Publish sends id to the given channel (routing key). The id is both the
// message body and the AMQP message id.
func (p *Publisher) Publish(ctx context.Context, routingKey, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("refusing to publish empty id to %s", routingKey)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		newIDPublishing(ctx, id),
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", id, routingKey, err)
	}
	return nil
}

func newIDPublishing(ctx context.Context, id string) amqp091.Publishing {
	pub := amqp091.Publishing{
		ContentType:  "text/plain",
		MessageId:    id,
		Body:         []byte(id),
		DeliveryMode: amqp091.Persistent,
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		pub.Headers = amqp091.Table{trace.HeaderName: traceID}
	}
	return pub
}
