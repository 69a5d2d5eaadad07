package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailpipe/pkg/trace"
	"mailpipe/pkg/util"
)

type fakeAck struct {
	acks     int
	nacks    int
	requeued int
}

func (f *fakeAck) Ack(uint64, bool) error { f.acks++; return nil }
func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	if requeue {
		f.requeued++
	}
	return nil
}
func (f *fakeAck) Reject(_ uint64, requeue bool) error { return f.Nack(0, false, requeue) }

type memRetries struct{ counts map[string]int64 }

func (m *memRetries) IncrementAndGet(_ context.Context, key string) (int64, error) {
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memRetries) Reset(_ context.Context, key string) error {
	delete(m.counts, key)
	return nil
}

type memDLQ struct {
	letters []DeadLetter
	err     error
}

func (m *memDLQ) PublishToDLQ(_ context.Context, dl DeadLetter) error {
	if m.err != nil {
		return m.err
	}
	m.letters = append(m.letters, dl)
	return nil
}

type memRecorder struct{ letters []DeadLetter }

func (m *memRecorder) RecordDeadLetter(_ context.Context, dl DeadLetter) error {
	m.letters = append(m.letters, dl)
	return nil
}

func newTestConsumer(h MessageHandler) *Consumer {
	return &Consumer{
		queue:      "categorization.q",
		routingKey: "categorization",
		handler:    h,
		logger:     zap.NewNop(),
	}
}

func delivery(ack *fakeAck, id string) amqp091.Delivery {
	return amqp091.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    id,
		Body:         []byte(id),
	}
}

func TestConsumer_AcksOnSuccess(t *testing.T) {
	var got string
	c := newTestConsumer(func(ctx context.Context, body []byte) error {
		got = string(body)
		assert.NotEmpty(t, trace.FromContext(ctx))
		return nil
	})
	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack, "e1"))

	assert.Equal(t, "e1", got)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestConsumer_PropagatesTraceHeader(t *testing.T) {
	var traceID string
	c := newTestConsumer(func(ctx context.Context, _ []byte) error {
		traceID = trace.FromContext(ctx)
		return nil
	})
	d := delivery(&fakeAck{}, "e1")
	d.Headers = amqp091.Table{trace.HeaderName: "t-123"}
	c.process(context.Background(), d)

	assert.Equal(t, "t-123", traceID)
}

func TestConsumer_RequeuesRetryableUntilExhausted(t *testing.T) {
	retries := &memRetries{counts: map[string]int64{}}
	dlq := &memDLQ{}
	rec := &memRecorder{}
	c := newTestConsumer(func(context.Context, []byte) error {
		return context.DeadlineExceeded
	}).WithRetry(retries, 2).WithDeadLetter(dlq, rec)

	ack := &fakeAck{}
	for i := 0; i < 3; i++ {
		c.process(context.Background(), delivery(ack, "e1"))
	}

	assert.Equal(t, 2, ack.requeued)
	assert.Equal(t, 1, ack.acks)
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, "e1", dlq.letters[0].MessageID)
	assert.Equal(t, int64(3), dlq.letters[0].Attempts)
	assert.Len(t, rec.letters, 1)
	assert.Empty(t, retries.counts, "retry count reset after dead-lettering")
}

func TestConsumer_NonRetryableGoesStraightToDLQ(t *testing.T) {
	dlq := &memDLQ{}
	c := newTestConsumer(func(context.Context, []byte) error {
		return util.Permanent(errors.New("bad payload"))
	}).WithRetry(&memRetries{counts: map[string]int64{}}, 5).WithDeadLetter(dlq, nil)

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack, "e1"))

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.requeued)
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, "permanent", dlq.letters[0].ErrorType)
}

func TestConsumer_PanicIsDeadLettered(t *testing.T) {
	dlq := &memDLQ{}
	c := newTestConsumer(func(context.Context, []byte) error {
		panic("boom")
	}).WithDeadLetter(dlq, nil)

	ack := &fakeAck{}
	assert.NotPanics(t, func() { c.process(context.Background(), delivery(ack, "e1")) })
	require.Len(t, dlq.letters, 1)
	assert.Contains(t, dlq.letters[0].Error, "boom")
}

func TestConsumer_DLQFailureRequeues(t *testing.T) {
	dlq := &memDLQ{err: errors.New("dlq down")}
	c := newTestConsumer(func(context.Context, []byte) error {
		return util.Permanent(errors.New("bad"))
	}).WithDeadLetter(dlq, nil)

	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack, "e1"))
	assert.Equal(t, 1, ack.requeued)
	assert.Zero(t, ack.acks)
}

func TestConsumer_NoSinkRejects(t *testing.T) {
	c := newTestConsumer(func(context.Context, []byte) error {
		return util.Permanent(errors.New("bad"))
	})
	ack := &fakeAck{}
	c.process(context.Background(), delivery(ack, "e1"))
	assert.Equal(t, 1, ack.nacks)
	assert.Zero(t, ack.requeued)
}

func TestStartConsuming_RequiresHandler(t *testing.T) {
	c := &Consumer{logger: zap.NewNop()}
	assert.ErrorIs(t, c.StartConsuming(context.Background()), ErrHandlerNotSet)
}

func TestNewIDPublishing(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "t-1")
	pub := newIDPublishing(ctx, "e9")
	assert.Equal(t, "e9", pub.MessageId)
	assert.Equal(t, []byte("e9"), pub.Body)
	assert.Equal(t, "t-1", pub.Headers[trace.HeaderName])
	assert.Equal(t, amqp091.Persistent, pub.DeliveryMode)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "draft-generation.q", QueueName("draft-generation"))
	assert.Equal(t, "mailpipe.dlq", DLQExchangeName(""))
}

func TestConsumer_ShutdownDoesNotCancelHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var handlerErr error
	c := newTestConsumer(func(hctx context.Context, _ []byte) error {
		cancel()
		handlerErr = hctx.Err()
		return nil
	})
	ack := &fakeAck{}
	c.process(ctx, delivery(ack, "e1"))

	assert.NoError(t, handlerErr)
	assert.Equal(t, 1, ack.acks)
}

func TestConsumer_FailureDuringShutdownIsRequeued(t *testing.T) {
	retries := &memRetries{counts: map[string]int64{}}
	dlq := &memDLQ{}
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestConsumer(func(context.Context, []byte) error {
		cancel()
		return context.Canceled
	}).WithRetry(retries, 0).WithDeadLetter(dlq, nil)

	ack := &fakeAck{}
	c.process(ctx, delivery(ack, "e1"))

	assert.Equal(t, 1, ack.requeued)
	assert.Zero(t, ack.acks)
	assert.Empty(t, dlq.letters)
	assert.Empty(t, retries.counts, "shutdown is not counted as an attempt")
}
