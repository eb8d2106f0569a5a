package mcircuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker down")

func failing() error { return errBroker }

func succeeding() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, failing)
		require.ErrorIs(t, err, errBroker)
	}

	assert.Equal(t, StateOpen, cb.State())

	// Open state sheds load without invoking the function.
	invoked := false

	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.Error(t, cb.Execute(ctx, failing))
	require.NoError(t, cb.Execute(ctx, succeeding))
	require.Error(t, cb.Execute(ctx, failing))
	require.Error(t, cb.Execute(ctx, failing))

	assert.Equal(t, StateClosed, cb.State(), "failures are counted consecutively")
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})

	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// The probe succeeds and closes the circuit.
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})

	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))

	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	transitions := make(chan State, 4)

	cb := New(Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to State) {
			transitions <- to
		},
	})

	require.Error(t, cb.Execute(context.Background(), failing))

	select {
	case to := <-transitions:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change callback never fired")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
