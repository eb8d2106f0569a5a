package mretry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0

	err := Retry(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}, func() error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, Multiplier: 2}, func() error {
		return errors.New("always")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	base := time.Second

	assert.Equal(t, base, BackoffDelay(base, 2, 0, 0))
	assert.Equal(t, 2*base, BackoffDelay(base, 2, 0, 1))
	assert.Equal(t, 4*base, BackoffDelay(base, 2, 0, 2))
	assert.Equal(t, 8*base, BackoffDelay(base, 2, 0, 3))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	base := time.Second

	for i := 0; i < 100; i++ {
		delay := BackoffDelay(base, 2, 0.2, 1)

		assert.GreaterOrEqual(t, delay, 1600*time.Millisecond)
		assert.LessOrEqual(t, delay, 2400*time.Millisecond)
	}
}
