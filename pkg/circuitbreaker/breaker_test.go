package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDep = errors.New("dependency down")

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errDep })
	}
}

func TestClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{})

	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3})

	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 3})

	failN(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		MaxRequests:      2,
		Timeout:          5 * time.Millisecond,
	})

	failN(cb, 2)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 2,
		Timeout:          5 * time.Millisecond,
	})

	failN(cb, 2)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		MaxRequests:      1,
		Timeout:          5 * time.Millisecond,
	})

	failN(cb, 1)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func() error {
			<-release
			return nil
		})
	}()

	// Wait for the probe to occupy the half-open slot.
	require.Eventually(t, func() bool {
		return cb.Counts().Requests == 1
	}, time.Second, time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	failN(cb, 1)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestExecuteCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
