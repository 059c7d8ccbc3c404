// Package config loads the YAML configuration of a resilience stack and
// converts each section into the options of the component it configures.
package config

import (
	"bytes"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/dedup"
	"github.com/hallucifix/go-resilience/llm"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/hallucifix/go-resilience/optimizer"
	"github.com/hallucifix/go-resilience/recovery"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	// Level is one of trace, debug, info, warn, error or none.
	Level string `yaml:"level"`
	// Format is console or json.
	Format string `yaml:"format"`
}

type CacheConfig struct {
	DefaultTTL    Duration `yaml:"default_ttl"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
	MaxSize       ByteSize `yaml:"max_size"`
	MaxEntries    int      `yaml:"max_entries"`
}

type DedupConfig struct {
	TTL Duration `yaml:"ttl"`
	// MaxConcurrent caps distinct keys in flight. Zero means unlimited.
	MaxConcurrent int      `yaml:"max_concurrent"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

type PricingConfig struct {
	URL             string                    `yaml:"url,omitempty"`
	RefreshInterval Duration                  `yaml:"refresh_interval,omitempty"`
	Models          map[string]llm.ModelPrice `yaml:"models,omitempty"`
}

type OptimizerConfig struct {
	Deduplication bool                                `yaml:"deduplication"`
	EnforceCost   bool                                `yaml:"enforce_cost"`
	Providers     map[string]optimizer.ProviderLimits `yaml:"providers,omitempty"`
	Pricing       PricingConfig                       `yaml:"pricing,omitempty"`
}

type RecoveryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	Cooldown        Duration `yaml:"cooldown"`
	HistorySize     int      `yaml:"history_size"`
	NetworkTimeout  Duration `yaml:"network_timeout"`
	RateLimitWait   Duration `yaml:"rate_limit_wait"`
	BackoffBase     Duration `yaml:"backoff_base"`
	BackoffMax      Duration `yaml:"backoff_max"`
	BackoffAttempts int      `yaml:"backoff_attempts"`
}

type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier"`
	Jitter         bool     `yaml:"jitter"`
}

type BreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	MaxFailures      int      `yaml:"max_failures"`
	Timeout          Duration `yaml:"timeout"`
	SuccessThreshold int      `yaml:"success_threshold"`
	RequestTimeout   Duration `yaml:"request_timeout"`
}

type SnapshotConfig struct {
	// Driver is empty (disabled), sqlite or redis.
	Driver    string   `yaml:"driver,omitempty"`
	Path      string   `yaml:"path,omitempty"`
	// RedisAddr is host:port or a redis:// URL.
	RedisAddr Secret   `yaml:"redis_addr,omitempty"`
	Prefix    string   `yaml:"prefix,omitempty"`
	Name      string   `yaml:"name,omitempty"`
	Retention Duration `yaml:"retention,omitempty"`
	// RestoreOnStart imports the named snapshot when the stack is built.
	RestoreOnStart bool `yaml:"restore_on_start,omitempty"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
	AuthToken   Secret `yaml:"auth_token,omitempty"`
}

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"

	defaultSnapshotName = "default"
	defaultServiceName  = "resilience"
)

// Default returns the configuration used for every key a file leaves out.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Cache: CacheConfig{
			DefaultTTL: Duration(cache.DefaultTTL),
			MaxSize:    DefaultCacheSize(),
			MaxEntries: cache.DefaultMaxEntries,
		},
		Dedup: DedupConfig{
			TTL:           Duration(dedup.DefaultTTL),
			MaxConcurrent: dedup.DefaultMaxConcurrent,
		},
		Optimizer: OptimizerConfig{Deduplication: true},
		Recovery: RecoveryConfig{
			Enabled:         true,
			MaxConcurrent:   recovery.DefaultMaxConcurrent,
			Cooldown:        Duration(recovery.DefaultCooldown),
			HistorySize:     recovery.DefaultHistorySize,
			NetworkTimeout:  Duration(30 * time.Second),
			RateLimitWait:   Duration(time.Second),
			BackoffBase:     Duration(time.Second),
			BackoffMax:      Duration(30 * time.Second),
			BackoffAttempts: 3,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: Duration(100 * time.Millisecond),
			MaxBackoff:     Duration(10 * time.Second),
			Multiplier:     2,
			Jitter:         true,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxFailures:      5,
			Timeout:          Duration(30 * time.Second),
			SuccessThreshold: 3,
			RequestTimeout:   Duration(time.Minute),
		},
		Snapshot: SnapshotConfig{Name: defaultSnapshotName},
		Telemetry: TelemetryConfig{ServiceName: defaultServiceName},
	}
}

// DefaultCacheSize is the smaller of cache.DefaultMaxSize and 5% of system
// memory.
func DefaultCacheSize() ByteSize {
	size := ByteSize(cache.DefaultMaxSize)
	if total := systemMemory(); total > 0 {
		size = min(size, ByteSize(total/20))
	}
	return size
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse expands environment references in data, decodes it over Default
// and validates the result. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	return ParseWithLookup(data, osLookup)
}

// ParseWithLookup is Parse with a custom environment.
func ParseWithLookup(data []byte, lookup LookupFunc) (Config, error) {
	data, err := Expand(data, lookup)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decoding yaml")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, errors.Newf(format, args...))
		}
	}

	check(logger.ParseLevel(c.Log.Level, -1) >= 0, "log.level: unknown level %q", c.Log.Level)
	check(c.Log.Format == "console" || c.Log.Format == "json", "log.format: must be console or json, got %q", c.Log.Format)

	check(c.Cache.DefaultTTL > 0, "cache.default_ttl: must be > 0")
	check(c.Cache.MaxSize > 0, "cache.max_size: must be > 0")
	check(c.Cache.MaxEntries > 0, "cache.max_entries: must be > 0")

	check(c.Dedup.TTL > 0, "dedup.ttl: must be > 0")
	check(c.Dedup.MaxConcurrent >= 0, "dedup.max_concurrent: must be >= 0")

	for name, l := range c.Optimizer.Providers {
		check(name != "", "optimizer.providers: provider name is empty")
		check(l.RequestsPerMinute >= 0 && l.RequestsPerHour >= 0, "optimizer.providers.%s: request limits must be >= 0", name)
		check(l.MaxCostPerRequest >= 0 && l.DailyCostLimit >= 0 && l.MonthlyCostLimit >= 0, "optimizer.providers.%s: cost limits must be >= 0", name)
		check(l.DailyCostLimit == 0 || l.MonthlyCostLimit == 0 || l.DailyCostLimit <= l.MonthlyCostLimit,
			"optimizer.providers.%s: daily_cost_limit exceeds monthly_cost_limit", name)
	}
	if u := c.Optimizer.Pricing.URL; u != "" {
		check(isAbsoluteURL(u), "optimizer.pricing.url: %q is not an absolute url", u)
	}

	check(c.Recovery.MaxConcurrent >= 0, "recovery.max_concurrent: must be >= 0")
	check(c.Recovery.HistorySize >= 0, "recovery.history_size: must be >= 0")
	check(c.Recovery.BackoffAttempts >= 0, "recovery.backoff_attempts: must be >= 0")
	check(c.Recovery.BackoffMax == 0 || c.Recovery.BackoffBase <= c.Recovery.BackoffMax, "recovery.backoff_base: exceeds backoff_max")

	check(c.Retry.MaxRetries >= 0, "retry.max_retries: must be >= 0")
	check(c.Retry.Multiplier == 0 || c.Retry.Multiplier >= 1, "retry.multiplier: must be >= 1")
	check(c.Retry.MaxBackoff == 0 || c.Retry.InitialBackoff <= c.Retry.MaxBackoff, "retry.initial_backoff: exceeds max_backoff")

	if c.Breaker.Enabled {
		check(c.Breaker.MaxFailures > 0, "circuit_breaker.max_failures: must be > 0")
		check(c.Breaker.SuccessThreshold > 0, "circuit_breaker.success_threshold: must be > 0")
		check(c.Breaker.Timeout > 0, "circuit_breaker.timeout: must be > 0")
	}

	switch c.Snapshot.Driver {
	case "":
		check(!c.Snapshot.RestoreOnStart, "snapshot.restore_on_start: requires a driver")
	case DriverSQLite:
	case DriverRedis:
		check(c.Snapshot.RedisAddr != "", "snapshot.redis_addr: required for the redis driver")
	default:
		check(false, "snapshot.driver: must be sqlite or redis, got %q", c.Snapshot.Driver)
	}

	if e := c.Telemetry.Endpoint; e != "" {
		check(isAbsoluteURL(e), "telemetry.endpoint: %q is not an absolute url", e)
	}

	return errors.Join(errs...)
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
