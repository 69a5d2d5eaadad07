package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/trace"
	"mailpipe/pkg/util"
)

// MessageHandler processes one message body. A nil return acks the message.
type MessageHandler func(ctx context.Context, body []byte) error

// RetryTracker counts attempts per message across redeliveries.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// ErrHandlerNotSet is returned by StartConsuming when SetHandler was not called.
var ErrHandlerNotSet = errors.New("consumer handler not set")

type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      string
	routingKey string
	handler    MessageHandler
	logger     *zap.Logger

	retries    RetryTracker
	maxRetries int64
	dlq        DeadLetterSink
	recorder   DeadLetterRecorder
}

// NewConsumer creates a consumer for a specific routing key. The queue is
// durable and named after the routing key; prefetch bounds in-flight messages.
func NewConsumer(url, exchange, routingKey string, prefetch int, logger *zap.Logger) (*Consumer, error) {
	exchange = exchangeOrDefault(exchange)
	if prefetch <= 0 {
		prefetch = 1
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch, exchange); err != nil {
		return fail("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, exchange, routingKey); err != nil {
		return fail("failed to declare dlq queue: %w", err)
	}

	q, err := ch.QueueDeclare(
		QueueName(routingKey),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return fail("failed to bind queue: %w", err)
	}

	// 单分区语义：prefetch=1 时同一队列内按顺序逐条处理
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", q.Name),
		zap.String("exchange", exchange),
		zap.Int("prefetch", prefetch),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q.Name,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// WithRetry bounds redeliveries of a failing message. Once the count passes
// maxRetries the message is dead-lettered.
func (c *Consumer) WithRetry(tracker RetryTracker, maxRetries int64) *Consumer {
	c.retries = tracker
	c.maxRetries = maxRetries
	return c
}

// WithDeadLetter sets where exhausted messages go. recorder may be nil.
func (c *Consumer) WithDeadLetter(sink DeadLetterSink, recorder DeadLetterRecorder) *Consumer {
	c.dlq = sink
	c.recorder = recorder
	return c
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// IsConnected reports whether the underlying connection is open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return ErrHandlerNotSet
	}

	deliveries, err := c.channel.Consume(
		c.queue,
		"",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for %s", c.queue)
			}
			c.process(ctx, msg)
		}
	}
}

// process runs the handler for one delivery and guarantees exactly one of
// ack, nack or dead-letter. The handler's context outlives ctx, so a
// shutdown lets the current message finish.
func (c *Consumer) process(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx = trace.WithContext(ctx, headerString(msg.Headers, trace.HeaderName))
	ctx, _ = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, c.logger).With(
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue),
	)
	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue, time.Since(start))
	}()

	log.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	// 停止消费不取消正在处理的消息
	hctx := context.WithoutCancel(ctx)
	err := c.invoke(hctx, msg.Body)
	retryKey := util.FormatRetryKey(c.routingKey, messageKey(msg))

	if err == nil {
		if c.retries != nil {
			if rerr := c.retries.Reset(hctx, retryKey); rerr != nil {
				log.Debug("Failed to reset retry count", zap.Error(rerr))
			}
		}
		if aerr := msg.Ack(false); aerr != nil {
			log.Error("Failed to ack message", zap.Error(aerr))
		}
		return
	}

	if ctx.Err() != nil {
		// 关闭期间失败：不计重试次数，重新入队
		log.Warn("Handler failed during shutdown, requeueing", zap.Error(err))
		if nerr := msg.Nack(false, true); nerr != nil {
			log.Error("Failed to nack message", zap.Error(nerr))
		}
		return
	}

	isRetryable, errType := util.IsRetryableError(err)
	attempts := int64(1)
	if c.retries != nil {
		n, rerr := c.retries.IncrementAndGet(hctx, retryKey)
		if rerr != nil {
			// Redis 不可用时不阻止重试
			log.Warn("Failed to get retry count, continuing anyway", zap.Error(rerr))
		} else {
			attempts = n
		}
	}

	log.Error("Handler error",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("attempt", attempts),
		zap.Error(err),
	)

	// 可重试且未超过最大次数 → nack 重新入队，让 MQ 重试
	if isRetryable && (c.retries == nil || util.ShouldRetry(attempts, c.maxRetries, isRetryable)) {
		if nerr := msg.Nack(false, true); nerr != nil {
			log.Error("Failed to nack message", zap.Error(nerr))
		}
		return
	}

	c.deadLetter(hctx, log, msg, DeadLetter{
		RoutingKey: c.routingKey,
		Queue:      c.queue,
		MessageID:  messageKey(msg),
		Body:       msg.Body,
		Error:      err.Error(),
		ErrorType:  errType,
		Attempts:   attempts,
		FailedAt:   time.Now(),
	}, retryKey)
}

func (c *Consumer) invoke(ctx context.Context, body []byte) (err error) {
	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			err = util.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, body)
}

func (c *Consumer) deadLetter(ctx context.Context, log *zap.Logger, msg amqp091.Delivery, dl DeadLetter, retryKey string) {
	if c.dlq == nil {
		log.Warn("No dead letter sink, dropping message", zap.String("message_id", dl.MessageID))
		if err := msg.Nack(false, false); err != nil {
			log.Error("Failed to reject message", zap.Error(err))
		}
		return
	}

	if err := c.dlq.PublishToDLQ(ctx, dl); err != nil {
		// DLQ 不可用 → 重新入队，不丢消息
		log.Error("Failed to publish to DLQ, requeueing", zap.Error(err))
		if nerr := msg.Nack(false, true); nerr != nil {
			log.Error("Failed to nack message", zap.Error(nerr))
		}
		return
	}

	metrics.IncrementDeadLetter(c.routingKey)
	log.Warn("Message moved to DLQ",
		zap.String("message_id", dl.MessageID),
		zap.Int64("attempts", dl.Attempts),
	)

	if c.recorder != nil {
		if err := c.recorder.RecordDeadLetter(ctx, dl); err != nil {
			log.Error("Failed to record dead letter", zap.Error(err))
		}
	}
	if c.retries != nil {
		_ = c.retries.Reset(ctx, retryKey)
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
}

func messageKey(msg amqp091.Delivery) string {
	if msg.MessageId != "" {
		return msg.MessageId
	}
	return strings.TrimSpace(string(msg.Body))
}

func headerString(headers amqp091.Table, key string) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[key].(string); ok {
		return v
	}
	return ""
}
