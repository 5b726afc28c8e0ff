package base

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/fedstream/pkg/config"
	"github.com/ajitpratap0/fedstream/pkg/errors"
)

// RetryPolicy retries connection attempts with exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultRetryPolicy returns the policy used when a source sets no options.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// RetryFromConfig reads the connect_retries and connect_backoff options.
func RetryFromConfig(cfg config.SourceConfig) (RetryPolicy, error) {
	rp := DefaultRetryPolicy()
	attempts, err := cfg.IntOption("connect_retries", rp.MaxAttempts)
	if err != nil {
		return rp, errors.Config(cfg.Name, "invalid connect_retries", err)
	}
	if attempts < 1 {
		return rp, errors.Config(cfg.Name, fmt.Sprintf("connect_retries must be at least 1, got %d", attempts), nil)
	}
	rp.MaxAttempts = attempts
	if v := cfg.Option("connect_backoff", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return rp, errors.Config(cfg.Name, "invalid connect_backoff "+v, err)
		}
		rp.InitialDelay = d
	}
	return rp, nil
}

// Execute calls fn until it succeeds, the attempts run out or ctx is done.
// Configuration errors are returned at once.
func (rp RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if errors.IsType(lastErr, errors.ErrorTypeConfig) || attempt == rp.MaxAttempts-1 {
			break
		}
		timer := time.NewTimer(rp.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}
	if rp.MaxAttempts > 1 {
		return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
	}
	return lastErr
}

// Delay returns the jittered wait after the given zero-based attempt.
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta //nolint:gosec // jitter only
	}
	return time.Duration(delay)
}
