package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Total attempts, including the first
	Delay       time.Duration // Delay before the next attempt
	Multiplier  float64       // Delay multiplier; 1.0 keeps the delay fixed
	MaxDelay    time.Duration // Upper bound on the delay, 0 = unbounded
}

// Fixed returns a config that retries with a constant delay.
func Fixed(attempts int, delay time.Duration) Config {
	return Config{MaxAttempts: attempts, Delay: delay, Multiplier: 1.0}
}

// DefaultConfig returns exponential backoff defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		Delay:       1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// permanentError marks an error as not worth retrying. Structured
// retryability replaces matching on error message substrings.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do executes fn until it succeeds, the attempt budget is exhausted, fn
// returns a permanent error, or ctx is cancelled.
func Do(ctx context.Context, config Config, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1.0
	}

	var lastErr error
	delay := config.Delay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}
