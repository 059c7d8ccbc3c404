package config

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/clock"
	"github.com/hallucifix/go-resilience/dedup"
	"github.com/hallucifix/go-resilience/llm"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/hallucifix/go-resilience/optimizer"
	"github.com/hallucifix/go-resilience/recovery"
	"github.com/hallucifix/go-resilience/resilience"
	"github.com/hallucifix/go-resilience/snapshot"
	"github.com/hallucifix/go-resilience/telemetry"
	"github.com/redis/go-redis/v9"
)

// Logger returns a console or JSON logger at the configured level.
func (c LogConfig) Logger() logger.Logger {
	level := logger.ParseLevel(c.Level, logger.LevelInfo)
	if c.Format == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

func (c CacheConfig) Options() []cache.Option {
	return []cache.Option{
		cache.WithDefaultTTL(c.DefaultTTL.Std()),
		cache.WithSweepInterval(c.SweepInterval.Std()),
		cache.WithMaxSize(int64(c.MaxSize)),
		cache.WithMaxEntries(c.MaxEntries),
	}
}

func (c DedupConfig) Options() []dedup.Option {
	return []dedup.Option{
		dedup.WithTTL(c.TTL.Std()),
		dedup.WithMaxConcurrent(c.MaxConcurrent),
		dedup.WithSweepInterval(c.SweepInterval.Std()),
	}
}

func (c PricingConfig) Options() []llm.Option {
	var opts []llm.Option
	if len(c.Models) > 0 {
		opts = append(opts, llm.WithPrices(c.Models))
	}
	if c.URL != "" {
		opts = append(opts, llm.WithSourceURL(c.URL))
	}
	if c.RefreshInterval > 0 {
		opts = append(opts, llm.WithInterval(c.RefreshInterval.Std()))
	}
	return opts
}

// Options does not include pricing; see PricingConfig.
func (c OptimizerConfig) Options() []optimizer.Option {
	opts := []optimizer.Option{
		optimizer.WithDeduplication(c.Deduplication),
		optimizer.WithCostEnforcement(c.EnforceCost),
	}
	for name, limits := range c.Providers {
		opts = append(opts, optimizer.WithProvider(name, limits))
	}
	return opts
}

func (c RecoveryConfig) Options() []recovery.Option {
	return []recovery.Option{
		recovery.WithEnabled(c.Enabled),
		recovery.WithMaxConcurrent(c.MaxConcurrent),
		recovery.WithCooldown(c.Cooldown.Std()),
		recovery.WithHistorySize(c.HistorySize),
	}
}

// Strategies returns the settings for recovery.RegisterDefaultStrategies.
func (c RecoveryConfig) Strategies() recovery.DefaultStrategyConfig {
	return recovery.DefaultStrategyConfig{
		NetworkTimeout:  c.NetworkTimeout.Std(),
		RateLimitWait:   c.RateLimitWait.Std(),
		BackoffBase:     c.BackoffBase.Std(),
		BackoffMax:      c.BackoffMax.Std(),
		BackoffAttempts: c.BackoffAttempts,
	}
}

func (c RetryConfig) Retry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:        c.MaxRetries,
		InitialBackoff:    c.InitialBackoff.Std(),
		MaxBackoff:        c.MaxBackoff.Std(),
		BackoffMultiplier: c.Multiplier,
		Jitter:            c.Jitter,
		RetryableErrors:   resilience.DefaultRetryableErrors,
	}
}

// Breakers returns a per-provider registry, or nil when circuit breaking is
// disabled.
func (c BreakerConfig) Breakers(clk clock.Clock) *resilience.Breakers {
	if !c.Enabled {
		return nil
	}
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = c.MaxFailures
	cfg.Timeout = c.Timeout.Std()
	cfg.SuccessThreshold = c.SuccessThreshold
	cfg.RequestTimeout = c.RequestTimeout.Std()
	cfg.Clock = clk
	return resilience.NewBreakers(cfg)
}

// Open connects the configured snapshot store. It returns nil when no
// driver is set.
func (c SnapshotConfig) Open(ctx context.Context, log logger.Logger) (snapshot.Store, error) {
	opts := []snapshot.Option{snapshot.WithLogger(log)}
	if c.Retention > 0 {
		opts = append(opts, snapshot.WithRetention(c.Retention.Std()))
	}
	if c.Prefix != "" {
		opts = append(opts, snapshot.WithPrefix(c.Prefix))
	}
	switch c.Driver {
	case "":
		return nil, nil
	case DriverSQLite:
		store, err := snapshot.NewSQLite(ctx, c.Path, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "opening sqlite snapshot store")
		}
		return store, nil
	case DriverRedis:
		redisOpts := &redis.Options{Addr: c.RedisAddr.Text()}
		if strings.Contains(c.RedisAddr.Text(), "://") {
			parsed, err := redis.ParseURL(c.RedisAddr.Text())
			if err != nil {
				return nil, errors.Wrap(err, "parsing snapshot.redis_addr")
			}
			redisOpts = parsed
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "connecting to redis at %s", c.RedisAddr)
		}
		return snapshot.NewRedis(client, opts...), nil
	}
	return nil, errors.Newf("unknown snapshot driver %q", c.Driver)
}

// Stack is every component built from a Config.
type Stack struct {
	Log       logger.Logger
	Cache     *cache.ResponseCache
	Dedup     *dedup.Deduplicator
	Pricing   *llm.Pricing
	Optimizer *optimizer.Optimizer
	Recovery  *recovery.Manager
	Executor  *resilience.Executor
	// Store is nil when snapshots are disabled.
	Store snapshot.Store

	shutdownTelemetry telemetry.ShutdownFunc
}

type buildConfig struct {
	log     logger.Logger
	clock   clock.Clock
	network recovery.NetworkMonitor
	session recovery.SessionService
}

// BuildOption supplies collaborators that cannot be expressed in a file.
type BuildOption func(*buildConfig)

// WithLogger overrides the logger described by the log section.
func WithLogger(log logger.Logger) BuildOption {
	return func(c *buildConfig) { c.log = log }
}

func WithClock(clk clock.Clock) BuildOption {
	return func(c *buildConfig) { c.clock = clk }
}

// WithNetworkMonitor enables the network-wait recovery strategy.
func WithNetworkMonitor(n recovery.NetworkMonitor) BuildOption {
	return func(c *buildConfig) { c.network = n }
}

// WithSessionService enables the token-refresh recovery strategy.
func WithSessionService(s recovery.SessionService) BuildOption {
	return func(c *buildConfig) { c.session = s }
}

// Build creates and wires every component described by cfg. When a
// telemetry endpoint is set, logs and recovery attempts are exported over
// OTLP. Close releases everything Build started.
func Build(ctx context.Context, cfg Config, opts ...BuildOption) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var bc buildConfig
	for _, opt := range opts {
		opt(&bc)
	}
	if bc.clock == nil {
		bc.clock = clock.New()
	}
	if bc.log == nil {
		bc.log = cfg.Log.Logger()
	}

	s := &Stack{Log: bc.log}
	recoveryOpts := append(cfg.Recovery.Options(), recovery.WithClock(bc.clock))

	if cfg.Telemetry.Endpoint != "" {
		level := logger.ParseLevel(cfg.Log.Level, logger.LevelInfo)
		otelLog, tracer, shutdown, err := telemetry.New(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint, cfg.Telemetry.AuthToken.Text(), level)
		if err != nil {
			return nil, errors.Wrap(err, "starting telemetry")
		}
		s.Log = otelLog
		s.shutdownTelemetry = shutdown
		recoveryOpts = append(recoveryOpts, recovery.WithTracker(telemetry.NewRecoveryTracker(tracer, otelLog)))
	}

	s.Cache = cache.New(ctx, append(cfg.Cache.Options(), cache.WithLogger(s.Log), cache.WithClock(bc.clock))...)
	s.Dedup = dedup.New(ctx, append(cfg.Dedup.Options(), dedup.WithLogger(s.Log), dedup.WithClock(bc.clock))...)
	s.Pricing = llm.NewPricing(ctx, append(cfg.Optimizer.Pricing.Options(), llm.WithLogger(s.Log))...)
	s.Optimizer = optimizer.New(s.Cache, s.Dedup, append(cfg.Optimizer.Options(),
		optimizer.WithPricing(s.Pricing),
		optimizer.WithLogger(s.Log),
		optimizer.WithClock(bc.clock),
	)...)

	s.Recovery = recovery.New(append(recoveryOpts, recovery.WithLogger(s.Log))...)
	strategies := cfg.Recovery.Strategies()
	strategies.Network = bc.network
	strategies.Session = bc.session
	strategies.Clock = bc.clock
	recovery.RegisterDefaultStrategies(s.Recovery, strategies)

	retry := cfg.Retry.Retry()
	retry.Clock = bc.clock
	s.Executor = resilience.NewExecutor(s.Optimizer, s.Recovery,
		resilience.WithRetryConfig(retry),
		resilience.WithBreakers(cfg.Breaker.Breakers(bc.clock)),
		resilience.WithLogger(s.Log),
		resilience.WithClock(bc.clock),
	)

	store, err := cfg.Snapshot.Open(ctx, s.Log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = store

	if store != nil && cfg.Snapshot.RestoreOnStart {
		n, found, err := snapshot.RestoreCache(ctx, store, cfg.Snapshot.Name, s.Cache)
		if err != nil {
			s.Close()
			return nil, err
		}
		if found {
			s.Log.Info("restored %d cache entries from snapshot %s", n, cfg.Snapshot.Name)
		}
	}
	return s, nil
}

// Close stops background work and closes the snapshot store.
func (s *Stack) Close() error {
	var errs []error
	if s.Optimizer != nil {
		errs = append(errs, s.Optimizer.Shutdown())
	}
	if s.Pricing != nil {
		s.Pricing.Close()
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.shutdownTelemetry != nil {
		s.shutdownTelemetry()
		s.shutdownTelemetry = nil
	}
	return errors.Join(errs...)
}
