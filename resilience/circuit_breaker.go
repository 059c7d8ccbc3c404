package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/clock"
)

var (
	ErrCircuitBreakerOpen    = errors.New("circuit breaker is open")
	ErrCircuitBreakerTimeout = errors.New("circuit breaker operation timeout")
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int

	// Timeout is how long to wait before transitioning from Open to Half-Open
	Timeout time.Duration

	// MaxConcurrentRequests is the max requests allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// RequestTimeout is the maximum time to wait for a single request. Zero disables it.
	RequestTimeout time.Duration

	// IsFailure decides which errors count against the circuit. Defaults to
	// CountsAsFailure.
	IsFailure func(error) bool

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      3,
		RequestTimeout:        10 * time.Second,
	}
}

// CountsAsFailure reports whether err indicates an unhealthy provider.
// Rejections raised locally before a request is sent, such as rate limits,
// cost limits and cancellations, do not count.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, apierror.ErrRateLimited),
		errors.Is(err, apierror.ErrCostLimitExceeded),
		errors.Is(err, apierror.ErrConcurrencyLimit),
		errors.Is(err, apierror.ErrCancelled),
		errors.Is(err, context.Canceled):
		return false
	}
	return apierror.Classify(err).Kind != apierror.KindValidation
}

// CircuitBreaker stops calling a provider after repeated failures and lets a
// few probe requests through once Timeout has passed.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state           int32 // CircuitBreakerState
	failures        int32
	successes       int32
	requests        int32
	lastFailureTime int64 // Unix nano

	mu sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.IsFailure == nil {
		config.IsFailure = CountsAsFailure
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  int32(StateClosed),
	}
}

// Execute wraps a function call with circuit breaker logic. fn receives a
// context bounded by RequestTimeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	var timeoutCtx context.Context
	var cancel context.CancelFunc
	if cb.config.RequestTimeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
	} else {
		timeoutCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := fn(timeoutCtx)
		cb.afterRequest()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			if cb.config.IsFailure(err) {
				cb.onFailure()
			}
			return err
		}
		cb.onSuccess()
		return nil

	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			cb.onFailure()
			return ErrCircuitBreakerTimeout
		}
		return ctx.Err()
	}
}

// beforeRequest checks if the request should be allowed
func (cb *CircuitBreaker) beforeRequest() error {
	state := CircuitBreakerState(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.shouldAttemptReset() {
			cb.TransitionToHalfOpen()
			atomic.AddInt32(&cb.requests, 1)
			return nil
		}
		return ErrCircuitBreakerOpen

	case StateHalfOpen:
		if atomic.AddInt32(&cb.requests, 1) > int32(cb.config.MaxConcurrentRequests) {
			atomic.AddInt32(&cb.requests, -1)
			return ErrCircuitBreakerOpen
		}
		return nil

	default:
		return ErrCircuitBreakerOpen
	}
}

// afterRequest is called after a request completes
func (cb *CircuitBreaker) afterRequest() {
	state := CircuitBreakerState(atomic.LoadInt32(&cb.state))
	if state == StateHalfOpen {
		atomic.AddInt32(&cb.requests, -1)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	state := CircuitBreakerState(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)

	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.successes, 1)
		if int(successes) >= cb.config.SuccessThreshold {
			cb.transitionToClosed()
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, cb.config.Clock.Now().UnixNano())

	state := CircuitBreakerState(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		if int(failures) >= cb.config.MaxFailures {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) shouldAttemptReset() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	return cb.config.Clock.Now().Sub(time.Unix(0, lastFailure)) >= cb.config.Timeout
}

// RetryAfter returns how long until an open circuit admits a probe request.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	if cb.State() != StateOpen {
		return 0
	}
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	wait := cb.config.Timeout - cb.config.Clock.Now().Sub(time.Unix(0, lastFailure))
	return max(wait, 0)
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.successes, 0)
	atomic.StoreInt32(&cb.requests, 0)
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.StoreInt32(&cb.state, int32(StateOpen))
	atomic.StoreInt64(&cb.lastFailureTime, cb.config.Clock.Now().UnixNano())
}

// TransitionToHalfOpen transitions the circuit breaker to half-open state
func (cb *CircuitBreaker) TransitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.StoreInt32(&cb.state, int32(StateHalfOpen))
	atomic.StoreInt32(&cb.successes, 0)
	atomic.StoreInt32(&cb.requests, 0)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt32(&cb.failures))
}

// Successes returns the current success count (only relevant in half-open state)
func (cb *CircuitBreaker) Successes() int {
	return int(atomic.LoadInt32(&cb.successes))
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transitionToClosed()
}

// CircuitBreakerStats is a snapshot of a circuit breaker.
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
	Requests  int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	return CircuitBreakerStats{
		State:     cb.State(),
		Failures:  cb.Failures(),
		Successes: cb.Successes(),
		Requests:  int(atomic.LoadInt32(&cb.requests)),
	}
}

// Breakers holds one circuit breaker per provider.
type Breakers struct {
	config   CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers returns a registry that creates breakers with config on first use.
func NewBreakers(config CircuitBreakerConfig) *Breakers {
	return &Breakers{config: config, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for provider, creating it if needed.
func (b *Breakers) Get(provider string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(b.config)
		b.breakers[provider] = cb
	}
	return cb
}

// Stats returns a snapshot of every breaker by provider.
func (b *Breakers) Stats() map[string]CircuitBreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]CircuitBreakerStats, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.Stats()
	}
	return out
}
