package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/clock"
)

// RetryConfig defines the retry behavior
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the computed backoff
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff on each retry
	BackoffMultiplier float64

	// Jitter adds up to 20% to each backoff
	Jitter bool

	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.RetryableErrors == nil {
		c.RetryableErrors = DefaultRetryableErrors
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 1
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// DefaultRetryableErrors retries everything except an open circuit, caller
// cancellation, local cost rejections and validation failures.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen),
		errors.Is(err, ErrCircuitBreakerTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, apierror.ErrCancelled),
		errors.Is(err, apierror.ErrCostLimitExceeded):
		return false
	}
	return apierror.Classify(err).Kind != apierror.KindValidation
}

// calculateBackoff returns the wait before retry number attempt+1.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff += backoff * 0.2 * rand.Float64()
	}
	return time.Duration(backoff)
}

// retryAfter is the server-provided wait carried by a rate limit error.
func retryAfter(err error) time.Duration {
	var rl *apierror.RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	var classified *apierror.Error
	if errors.As(err, &classified) {
		return classified.RetryAfter
	}
	return 0
}

func nextWait(attempt int, config RetryConfig, err error) time.Duration {
	return max(calculateBackoff(attempt, config), retryAfter(err))
}

// RetryStats describes a finished retry loop.
type RetryStats struct {
	TotalAttempts   int
	SuccessfulCalls int
	TotalRetries    int
	TotalBackoff    time.Duration
	AverageBackoff  time.Duration
}

// Retry executes fn until it succeeds, returns a non-retryable error or the
// retries are exhausted. A rate limit error's RetryAfter extends the backoff.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithStats(ctx, config, fn)
	return err
}

// RetryWithStats is Retry that also reports attempts and time spent waiting.
func RetryWithStats(ctx context.Context, config RetryConfig, fn func() error) (RetryStats, error) {
	config = config.withDefaults()
	var stats RetryStats
	defer func() {
		if stats.TotalRetries > 0 {
			stats.AverageBackoff = stats.TotalBackoff / time.Duration(stats.TotalRetries)
		}
	}()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.TotalAttempts++
		err := fn()
		if err == nil {
			stats.SuccessfulCalls++
			return stats, nil
		}
		if !config.RetryableErrors(err) {
			return stats, err
		}
		if attempt >= config.MaxRetries {
			return stats, errors.Wrapf(err, "giving up after %d attempts", stats.TotalAttempts)
		}
		wait := nextWait(attempt, config, err)
		if serr := config.Clock.Sleep(ctx, wait); serr != nil {
			return stats, errors.WithSecondaryError(serr, err)
		}
		stats.TotalRetries++
		stats.TotalBackoff += wait
	}
}

// ExponentialBackoff retries fn maxRetries times, doubling the wait from
// initial without jitter.
func ExponentialBackoff(ctx context.Context, maxRetries int, initial time.Duration, fn func() error) error {
	config := DefaultRetryConfig()
	config.MaxRetries = maxRetries
	config.InitialBackoff = initial
	config.Jitter = false
	return Retry(ctx, config, fn)
}

// RetryWithCircuitBreaker runs fn through cb on every attempt. An open
// circuit ends the loop without calling fn.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn func(ctx context.Context) error) error {
	retryable := config.withDefaults().RetryableErrors
	config.RetryableErrors = func(err error) bool {
		if errors.Is(err, ErrCircuitBreakerOpen) {
			return false
		}
		return retryable(err)
	}
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
