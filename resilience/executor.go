package resilience

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/hallucifix/go-resilience/optimizer"
	"github.com/hallucifix/go-resilience/recovery"
)

type executorConfig struct {
	retry       RetryConfig
	breakers    *Breakers
	breakersSet bool
	log         logger.Logger
	clock       clock.Clock
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

// WithRetryConfig sets the retry budget and backoff used between attempts.
func WithRetryConfig(config RetryConfig) ExecutorOption {
	return func(c *executorConfig) { c.retry = config }
}

// WithBreakers sets the per-provider circuit breakers. A nil registry
// disables circuit breaking.
func WithBreakers(b *Breakers) ExecutorOption {
	return func(c *executorConfig) {
		c.breakers = b
		c.breakersSet = true
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) ExecutorOption {
	return func(c *executorConfig) { c.log = log }
}

// WithClock sets the clock used for backoff sleeps.
func WithClock(clk clock.Clock) ExecutorOption {
	return func(c *executorConfig) { c.clock = clk }
}

// ExecutorStats counts what the Executor did across calls.
type ExecutorStats struct {
	Calls             int64
	Attempts          int64
	Retries           int64
	Recoveries        int64
	FailedRecoveries  int64
	BreakerRejections int64
}

// Executor runs requests through an Optimizer and, when they fail with a
// retryable error, asks a recovery Manager to repair the condition before
// trying again. Without a Manager it backs off instead.
type Executor struct {
	optimizer *optimizer.Optimizer
	recovery  *recovery.Manager
	cfg       executorConfig

	calls             atomic.Int64
	attempts          atomic.Int64
	retries           atomic.Int64
	recoveries        atomic.Int64
	failedRecoveries  atomic.Int64
	breakerRejections atomic.Int64
}

// NewExecutor returns an Executor. r may be nil.
func NewExecutor(o *optimizer.Optimizer, r *recovery.Manager, opts ...ExecutorOption) *Executor {
	cfg := executorConfig{
		retry: DefaultRetryConfig(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.breakersSet {
		cbConfig := DefaultCircuitBreakerConfig()
		cbConfig.Clock = cfg.clock
		cfg.breakers = NewBreakers(cbConfig)
	}
	if cfg.retry.Clock == nil {
		cfg.retry.Clock = cfg.clock
	}
	cfg.retry = cfg.retry.withDefaults()
	cfg.log = logger.OrNoop(cfg.log).WithPrefix("[resilience]")
	return &Executor{optimizer: o, recovery: r, cfg: cfg}
}

// Breakers returns the circuit breaker registry, or nil when disabled.
func (e *Executor) Breakers() *Breakers {
	return e.cfg.breakers
}

// Execute calls Optimizer.OptimizeRequest and retries retryable failures up
// to the configured budget. Before each retry the failure is handed to the
// recovery Manager; if recovery does not succeed the original error is
// returned. An open circuit for provider fails immediately.
func (e *Executor) Execute(ctx context.Context, provider, cacheKey string, work optimizer.Work, opts optimizer.RequestOptions) (any, error) {
	e.calls.Add(1)
	for attempt := 0; ; attempt++ {
		e.attempts.Add(1)
		val, err := e.attempt(ctx, provider, cacheKey, work, opts)
		if err == nil {
			return val, nil
		}
		if errors.Is(err, ErrCircuitBreakerOpen) {
			e.breakerRejections.Add(1)
			return nil, errors.Wrapf(err, "provider %s", provider)
		}
		if !e.cfg.retry.RetryableErrors(err) || attempt >= e.cfg.retry.MaxRetries {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		if e.recovery != nil {
			result := e.recovery.AttemptRecovery(ctx, describe(err, provider))
			if !result.Success {
				e.failedRecoveries.Add(1)
				e.cfg.log.Debug("recovery for %s failed: %s", provider, result.Message)
				if result.Err != nil {
					return nil, errors.Join(err, result.Err)
				}
				return nil, err
			}
			e.recoveries.Add(1)
			e.cfg.log.Debug("recovered %s via %s after %d attempts", provider, result.StrategyID, result.Attempts)
		} else {
			wait := nextWait(attempt, e.cfg.retry, err)
			if serr := e.cfg.retry.Clock.Sleep(ctx, wait); serr != nil {
				return nil, errors.WithSecondaryError(serr, err)
			}
		}
		e.retries.Add(1)
	}
}

func (e *Executor) attempt(ctx context.Context, provider, cacheKey string, work optimizer.Work, opts optimizer.RequestOptions) (any, error) {
	if e.cfg.breakers == nil {
		return e.optimizer.OptimizeRequest(ctx, provider, cacheKey, work, opts)
	}
	var val any
	err := e.cfg.breakers.Get(provider).Execute(ctx, func(ctx context.Context) error {
		v, err := e.optimizer.OptimizeRequest(ctx, provider, cacheKey, work, opts)
		val = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// describe classifies err for recovery, tagging it with provider. The
// classified error is copied so the caller's error is left untouched.
func describe(err error, provider string) *apierror.Error {
	d := *apierror.Classify(err)
	if d.Provider == "" {
		d.Provider = provider
	}
	return &d
}

// Stats returns a snapshot of the Executor's counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Calls:             e.calls.Load(),
		Attempts:          e.attempts.Load(),
		Retries:           e.retries.Load(),
		Recoveries:        e.recoveries.Load(),
		FailedRecoveries:  e.failedRecoveries.Load(),
		BreakerRejections: e.breakerRejections.Load(),
	}
}

// Do is a typed wrapper around Executor.Execute.
func Do[T any](ctx context.Context, e *Executor, provider, cacheKey string, work func(ctx context.Context) (T, error), opts optimizer.RequestOptions) (T, error) {
	var zero T
	val, err := e.Execute(ctx, provider, cacheKey, func(ctx context.Context) (any, error) {
		v, err := work(ctx)
		return v, err
	}, opts)
	if err != nil {
		return zero, err
	}
	if val == nil {
		return zero, nil
	}
	return cache.As[T](val)
}
