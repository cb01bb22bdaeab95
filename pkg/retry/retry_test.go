package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.NonRetryableErrors = []error{errFatal}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, attempts)
}

func TestRetry_OnRetrySeesEachRetriedFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2

	var seen []int
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		assert.ErrorIs(t, err, errTransient)
		assert.Positive(t, wait)
		seen = append(seen, attempt)
	}

	err := Retry(context.Background(), cfg, func() error { return errTransient })
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetry_Disabled(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, cfg, func() error {
		attempts++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDelay_ExponentialAndCapped(t *testing.T) {
	cfg := Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, time.Second, Delay(cfg, 0))
	assert.Equal(t, 2*time.Second, Delay(cfg, 1))
	assert.Equal(t, 4*time.Second, Delay(cfg, 2))
	assert.Equal(t, 16*time.Second, Delay(cfg, 4))
	assert.Equal(t, 30*time.Second, Delay(cfg, 5))
	assert.Equal(t, 30*time.Second, Delay(cfg, 50))
	assert.Equal(t, time.Second, Delay(cfg, -1))
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	cfg := Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for i := 0; i < 100; i++ {
		d := Delay(cfg, 1)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}
