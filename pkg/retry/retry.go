// Package retry runs an operation with capped exponential backoff. The same
// Delay schedule paces invitation cooldowns.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Config struct {
	Enabled      bool
	MaxAttempts  int // retries after the first call
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // spread each delay by up to 25% either way

	// NonRetryableErrors stop the loop on the first match (errors.Is).
	NonRetryableErrors []error

	// OnRetry, when set, sees each failure that will be retried and the
	// wait before the next call.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends. The last error stays in the chain.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	if !cfg.Enabled {
		return fn()
	}

	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("retry cancelled: %w", ctxErr)
		}
		if err = fn(); err == nil {
			return nil
		}
		if matchesAny(err, cfg.NonRetryableErrors) {
			return fmt.Errorf("non-retryable error: %w", err)
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		wait := Delay(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}
		if ctxErr := sleep(ctx, wait); ctxErr != nil {
			return fmt.Errorf("retry cancelled during wait: %w", ctxErr)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay is the wait before retry number attempt (0-based):
// InitialDelay * Multiplier^attempt, capped at MaxDelay, then jittered.
func Delay(cfg Config, attempt int) time.Duration {
	attempt = max(attempt, 0)
	mult := math.Max(cfg.Multiplier, 1)

	raw := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt))
	if cfg.MaxDelay > 0 {
		raw = math.Min(raw, float64(cfg.MaxDelay))
	}
	d := time.Duration(raw)

	if !cfg.Jitter || d <= 0 {
		return d
	}
	spread := d / 4
	return d - spread + time.Duration(rand.Int63n(int64(spread)*2+1))
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
