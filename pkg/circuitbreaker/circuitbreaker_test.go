package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		HalfOpenMaxRequests: 2,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })

	now = now.Add(2 * time.Second)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })

	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, "open", cb.GetState().String())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}
