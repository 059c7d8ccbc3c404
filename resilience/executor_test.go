package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/dedup"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/hallucifix/go-resilience/optimizer"
	"github.com/hallucifix/go-resilience/recovery"
)

type upstreamError struct {
	code int
}

func (e upstreamError) Error() string   { return fmt.Sprintf("upstream returned %d", e.code) }
func (e upstreamError) StatusCode() int { return e.code }

func newTestOptimizer(t *testing.T, clk *clock.Fake, opts ...optimizer.Option) *optimizer.Optimizer {
	t.Helper()
	ctx := context.Background()
	c := cache.New(ctx, cache.WithClock(clk), cache.WithSweepInterval(time.Hour))
	d := dedup.New(ctx, dedup.WithClock(clk), dedup.WithSweepInterval(time.Hour))
	o := optimizer.New(c, d, append([]optimizer.Option{optimizer.WithClock(clk)}, opts...)...)
	t.Cleanup(func() { o.Shutdown() })
	return o
}

func newTestClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func noJitter(clk clock.Clock, retries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        retries,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
		Clock:             clk,
	}
}

// failing returns work that fails with err for the first n calls.
func failing(n int, err error, calls *atomic.Int32) optimizer.Work {
	return func(ctx context.Context) (any, error) {
		if int(calls.Add(1)) <= n {
			return nil, err
		}
		return "ok", nil
	}
}

func TestExecutor_SuccessIsCached(t *testing.T) {
	clk := newTestClock()
	e := NewExecutor(newTestOptimizer(t, clk), nil, WithClock(clk))

	var calls atomic.Int32
	opts := optimizer.RequestOptions{Cacheable: true}
	for i := 0; i < 2; i++ {
		val, err := e.Execute(context.Background(), "openai", "prompt-1", failing(0, nil, &calls), opts)
		if err != nil {
			t.Fatalf("Expected success, got %v", err)
		}
		if val != "ok" {
			t.Errorf("Expected ok, got %v", val)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("Expected work to run once, ran %d times", calls.Load())
	}
	if stats := e.Stats(); stats.Calls != 2 || stats.Retries != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestExecutor_RecoversAndRetries(t *testing.T) {
	clk := newTestClock()
	m := recovery.New(recovery.WithClock(clk), recovery.WithCooldown(0))
	var seen atomic.Pointer[apierror.Error]
	m.RegisterStrategy(apierror.KindServer, recovery.Strategy{
		ID:       "failover",
		Priority: 100,
		Action: func(ctx context.Context, err *apierror.Error, rc *recovery.Context, attempt int) (recovery.Outcome, error) {
			seen.Store(err)
			return recovery.Outcome{Success: true}, nil
		},
	})
	e := NewExecutor(newTestOptimizer(t, clk), m, WithClock(clk), WithRetryConfig(noJitter(clk, 3)))

	var calls atomic.Int32
	val, err := e.Execute(context.Background(), "openai", "prompt-1", failing(1, upstreamError{503}, &calls), optimizer.RequestOptions{})
	if err != nil {
		t.Fatalf("Expected success after recovery, got %v", err)
	}
	if val != "ok" {
		t.Errorf("Expected ok, got %v", val)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if d := seen.Load(); d == nil || d.Provider != "openai" || d.StatusCode != 503 {
		t.Errorf("Expected recovery to see a classified 503 from openai, got %+v", d)
	}
	if len(clk.Sleeps()) != 0 {
		t.Errorf("Expected recovery to replace the backoff, slept %v", clk.Sleeps())
	}

	stats := e.Stats()
	if stats.Retries != 1 || stats.Recoveries != 1 || stats.Attempts != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestExecutor_FailedRecoveryReturnsOriginalError(t *testing.T) {
	clk := newTestClock()
	m := recovery.New(recovery.WithClock(clk), recovery.WithCooldown(0))
	e := NewExecutor(newTestOptimizer(t, clk), m, WithClock(clk), WithRetryConfig(noJitter(clk, 3)))

	cause := upstreamError{502}
	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "openai", "prompt-1", failing(10, cause, &calls), optimizer.RequestOptions{})

	var got upstreamError
	if !errors.As(err, &got) || got.code != 502 {
		t.Errorf("Expected the upstream error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
	if e.Stats().FailedRecoveries != 1 {
		t.Errorf("Expected 1 failed recovery, got %d", e.Stats().FailedRecoveries)
	}
}

func TestExecutor_RecoveryCooldownIsMarked(t *testing.T) {
	clk := newTestClock()
	m := recovery.New(recovery.WithClock(clk), recovery.WithCooldown(time.Minute))
	m.RegisterStrategy(apierror.KindServer, recovery.Strategy{
		ID: "failover",
		Action: func(ctx context.Context, err *apierror.Error, rc *recovery.Context, attempt int) (recovery.Outcome, error) {
			return recovery.Outcome{Success: true}, nil
		},
	})
	e := NewExecutor(newTestOptimizer(t, clk), m, WithClock(clk), WithRetryConfig(noJitter(clk, 3)))

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "openai", "prompt-2", failing(10, upstreamError{503}, &calls), optimizer.RequestOptions{})

	if !errors.Is(err, apierror.ErrCooldownActive) {
		t.Errorf("Expected the error to match ErrCooldownActive, got %v", err)
	}
	var got upstreamError
	if !errors.As(err, &got) || got.code != 503 {
		t.Errorf("Expected the upstream error to be kept, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	stats := e.Stats()
	if stats.Recoveries != 1 || stats.FailedRecoveries != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestExecutor_BacksOffWithoutRecovery(t *testing.T) {
	clk := newTestClock()
	e := NewExecutor(newTestOptimizer(t, clk), nil, WithClock(clk), WithRetryConfig(noJitter(clk, 2)), WithBreakers(nil))

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "openai", "prompt-1", failing(10, upstreamError{500}, &calls), optimizer.RequestOptions{})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}

	sleeps := clk.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Errorf("Expected backoff of [100ms 200ms], got %v", sleeps)
	}
}

func TestExecutor_NonRetryableFailsFast(t *testing.T) {
	clk := newTestClock()
	e := NewExecutor(newTestOptimizer(t, clk), nil, WithClock(clk), WithRetryConfig(noJitter(clk, 3)))

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "openai", "prompt-1", failing(10, upstreamError{400}, &calls), optimizer.RequestOptions{})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestExecutor_OpenCircuitFailsFast(t *testing.T) {
	clk := newTestClock()
	breakers := NewBreakers(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, SuccessThreshold: 1, Clock: clk})
	e := NewExecutor(newTestOptimizer(t, clk), nil, WithClock(clk), WithRetryConfig(noJitter(clk, 0)), WithBreakers(breakers))

	var calls atomic.Int32
	work := failing(10, upstreamError{503}, &calls)
	if _, err := e.Execute(context.Background(), "openai", "prompt-1", work, optimizer.RequestOptions{}); err == nil {
		t.Fatal("Expected error, got nil")
	}

	_, err := e.Execute(context.Background(), "openai", "prompt-1", work, optimizer.RequestOptions{})
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected work not to run while the circuit is open, ran %d times", calls.Load())
	}
	if e.Stats().BreakerRejections != 1 {
		t.Errorf("Expected 1 breaker rejection, got %d", e.Stats().BreakerRejections)
	}

	// Other providers are unaffected.
	if _, err := e.Execute(context.Background(), "anthropic", "prompt-1", failing(0, nil, &calls), optimizer.RequestOptions{}); err != nil {
		t.Errorf("Expected anthropic to succeed, got %v", err)
	}
}

func TestExecutor_WaitsOutRateLimit(t *testing.T) {
	clk := newTestClock()
	log := logger.NewTestLogger()
	m := recovery.New(recovery.WithClock(clk), recovery.WithCooldown(0), recovery.WithLogger(log))
	recovery.RegisterDefaultStrategies(m, recovery.DefaultStrategyConfig{Clock: clk})
	o := newTestOptimizer(t, clk, optimizer.WithProvider("openai", optimizer.ProviderLimits{RequestsPerMinute: 1}))
	e := NewExecutor(o, m, WithClock(clk), WithRetryConfig(noJitter(clk, 3)), WithLogger(log))

	var calls atomic.Int32
	if _, err := e.Execute(context.Background(), "openai", "prompt-1", failing(0, nil, &calls), optimizer.RequestOptions{}); err != nil {
		t.Fatalf("Expected first request to succeed, got %v", err)
	}
	if _, err := e.Execute(context.Background(), "openai", "prompt-2", failing(0, nil, &calls), optimizer.RequestOptions{}); err != nil {
		t.Fatalf("Expected second request to succeed after waiting, got %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if len(clk.Sleeps()) == 0 {
		t.Error("Expected the rate limit to be waited out")
	}
	if e.Stats().Recoveries == 0 {
		t.Error("Expected at least one recovery")
	}
	if breaker := e.Breakers().Get("openai"); breaker.Failures() != 0 {
		t.Errorf("Expected rate limiting not to count against the circuit, got %d failures", breaker.Failures())
	}
}

func TestExecutor_Do(t *testing.T) {
	clk := newTestClock()
	e := NewExecutor(newTestOptimizer(t, clk), nil, WithClock(clk))

	type completion struct {
		Text   string
		Tokens int
	}
	got, err := Do(context.Background(), e, "openai", "prompt-1", func(ctx context.Context) (completion, error) {
		return completion{Text: "hello", Tokens: 3}, nil
	}, optimizer.RequestOptions{Cacheable: true})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got.Text != "hello" || got.Tokens != 3 {
		t.Errorf("Unexpected completion %+v", got)
	}
}
