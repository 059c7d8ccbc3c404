// Package metrics exposes the statistics of the resilience components as
// Prometheus metrics. Values are read from each component's Stats on every
// scrape, so nothing needs to be recorded on the request path.
package metrics

import (
	"net/http"

	"github.com/hallucifix/go-resilience/cache"
	"github.com/hallucifix/go-resilience/dedup"
	"github.com/hallucifix/go-resilience/optimizer"
	"github.com/hallucifix/go-resilience/recovery"
	"github.com/hallucifix/go-resilience/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "resilience"

// Sources are the components to export. Nil fields are skipped.
type Sources struct {
	Cache     *cache.ResponseCache
	Dedup     *dedup.Deduplicator
	Optimizer *optimizer.Optimizer
	Recovery  *recovery.Manager
	Executor  *resilience.Executor
}

// Collector implements prometheus.Collector over Sources.
type Collector struct {
	src Sources

	cacheEntries   *prometheus.Desc
	cacheBytes     *prometheus.Desc
	cacheLimit     *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvictions *prometheus.Desc

	dedupRequests     *prometheus.Desc
	dedupJoined       *prometheus.Desc
	dedupActive       *prometheus.Desc
	dedupOutcomes     *prometheus.Desc
	dedupResponseTime *prometheus.Desc

	requests       *prometheus.Desc
	requestsSaved  *prometheus.Desc
	costSaved      *prometheus.Desc
	tokensSaved    *prometheus.Desc
	rateLimited    *prometheus.Desc
	costRejected   *prometheus.Desc
	batches        *prometheus.Desc
	providerReqs   *prometheus.Desc
	providerCost   *prometheus.Desc
	providerTokens *prometheus.Desc
	providerErrors *prometheus.Desc
	providerSpend  *prometheus.Desc
	rateRemaining  *prometheus.Desc

	recoveryAttempts  *prometheus.Desc
	recoverySuccesses *prometheus.Desc
	recoveryRejected  *prometheus.Desc
	recoveryDuration  *prometheus.Desc

	executorCalls   *prometheus.Desc
	executorRetries *prometheus.Desc
	executorRecover *prometheus.Desc
	breakerRejected *prometheus.Desc
	breakerState    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for src. An empty namespace uses
// DefaultNamespace.
func NewCollector(namespace string, src Sources) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		src: src,

		cacheEntries:   desc("cache", "entries", "Number of entries in the response cache."),
		cacheBytes:     desc("cache", "size_bytes", "Estimated bytes held by the response cache."),
		cacheLimit:     desc("cache", "limit_bytes", "Configured byte ceiling of the response cache."),
		cacheHits:      desc("cache", "hits_total", "Cache lookups that returned a live entry."),
		cacheMisses:    desc("cache", "misses_total", "Cache lookups that found nothing or an expired entry."),
		cacheEvictions: desc("cache", "evictions_total", "Entries evicted to respect the cache limits."),

		dedupRequests:     desc("dedup", "requests_total", "Requests submitted to the deduplicator."),
		dedupJoined:       desc("dedup", "joined_total", "Requests that joined an execution already in flight."),
		dedupActive:       desc("dedup", "active", "Keys currently in flight."),
		dedupOutcomes:     desc("dedup", "settled_total", "Executions by outcome.", "outcome"),
		dedupResponseTime: desc("dedup", "response_seconds_avg", "Average time an execution took to settle."),

		requests:       desc("optimizer", "requests_total", "Requests admitted by the usage optimizer."),
		requestsSaved:  desc("optimizer", "requests_saved_total", "Requests served from cache or a shared execution."),
		costSaved:      desc("optimizer", "cost_saved_total", "Estimated cost avoided by saved requests."),
		tokensSaved:    desc("optimizer", "tokens_saved_total", "Estimated tokens avoided by saved requests."),
		rateLimited:    desc("optimizer", "rate_limited_total", "Requests rejected by a provider rate limit."),
		costRejected:   desc("optimizer", "cost_rejected_total", "Requests rejected by a cost limit."),
		batches:        desc("optimizer", "batches_total", "Batch requests executed."),
		providerReqs:   desc("provider", "requests_total", "Requests sent to the provider.", "provider"),
		providerCost:   desc("provider", "cost_total", "Cumulative cost charged by the provider.", "provider"),
		providerTokens: desc("provider", "tokens_total", "Cumulative tokens used with the provider.", "provider"),
		providerErrors: desc("provider", "errors_total", "Failed requests to the provider.", "provider"),
		providerSpend:  desc("provider", "period_cost", "Cost in the current budget period.", "provider", "period"),
		rateRemaining:  desc("provider", "rate_limit_remaining", "Requests left in the tightest rate window.", "provider"),

		recoveryAttempts:  desc("recovery", "attempts_total", "Recovery strategy attempts.", "kind"),
		recoverySuccesses: desc("recovery", "successes_total", "Successful recovery strategy attempts.", "kind"),
		recoveryRejected:  desc("recovery", "rejected_total", "Recoveries refused before any strategy ran.", "reason"),
		recoveryDuration:  desc("recovery", "duration_seconds_avg", "Average duration of a recovery attempt."),

		executorCalls:   desc("executor", "calls_total", "Calls made through the executor."),
		executorRetries: desc("executor", "retries_total", "Retries made after a failure."),
		executorRecover: desc("executor", "recoveries_total", "Recoveries by outcome.", "outcome"),
		breakerRejected: desc("executor", "breaker_rejections_total", "Calls refused by an open circuit."),
		breakerState:    desc("circuit_breaker", "state", "Circuit state per provider (0=closed, 1=half-open, 2=open).", "provider"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Cache != nil {
		c.collectCache(ch, c.src.Cache.Stats())
	}
	if c.src.Dedup != nil {
		c.collectDedup(ch, c.src.Dedup.Stats())
	}
	if c.src.Optimizer != nil {
		c.collectOptimizer(ch, c.src.Optimizer.Stats())
	}
	if c.src.Recovery != nil {
		c.collectRecovery(ch, c.src.Recovery.Stats())
	}
	if c.src.Executor != nil {
		c.collectExecutor(ch, c.src.Executor)
	}
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
}

func (c *Collector) collectCache(ch chan<- prometheus.Metric, s cache.Stats) {
	gauge(ch, c.cacheEntries, float64(s.EntryCount))
	gauge(ch, c.cacheBytes, float64(s.TotalSize))
	gauge(ch, c.cacheLimit, float64(s.Memory.Limit))
	counter(ch, c.cacheHits, float64(s.Hits))
	counter(ch, c.cacheMisses, float64(s.Misses))
	counter(ch, c.cacheEvictions, float64(s.EvictionCount))
}

func (c *Collector) collectDedup(ch chan<- prometheus.Metric, s dedup.Stats) {
	counter(ch, c.dedupRequests, float64(s.TotalRequests))
	counter(ch, c.dedupJoined, float64(s.DeduplicatedRequests))
	gauge(ch, c.dedupActive, float64(s.ActiveRequests))
	counter(ch, c.dedupOutcomes, float64(s.CompletedRequests), "completed")
	counter(ch, c.dedupOutcomes, float64(s.FailedRequests), "failed")
	counter(ch, c.dedupOutcomes, float64(s.RejectedRequests), "rejected")
	counter(ch, c.dedupOutcomes, float64(s.TimedOutRequests), "timed_out")
	gauge(ch, c.dedupResponseTime, s.AverageResponseTime.Seconds())
}

func (c *Collector) collectOptimizer(ch chan<- prometheus.Metric, s optimizer.Stats) {
	counter(ch, c.requests, float64(s.TotalRequests))
	counter(ch, c.requestsSaved, float64(s.RequestsSaved))
	counter(ch, c.costSaved, s.CostSaved)
	counter(ch, c.tokensSaved, float64(s.TokensSaved))
	counter(ch, c.rateLimited, float64(s.RateLimited))
	counter(ch, c.costRejected, float64(s.CostRejected))
	counter(ch, c.batches, float64(s.Batches))
	for provider, u := range s.Providers {
		counter(ch, c.providerReqs, float64(u.RequestCount), provider)
		counter(ch, c.providerCost, u.CumulativeCost, provider)
		counter(ch, c.providerTokens, float64(u.CumulativeTokens), provider)
		counter(ch, c.providerErrors, float64(u.ErrorCount), provider)
		gauge(ch, c.providerSpend, u.DailyCost, provider, "day")
		gauge(ch, c.providerSpend, u.MonthlyCost, provider, "month")
	}
	for provider, rl := range s.RateLimits {
		if rl.Remaining < 0 {
			continue
		}
		gauge(ch, c.rateRemaining, float64(rl.Remaining), provider)
	}
}

func (c *Collector) collectRecovery(ch chan<- prometheus.Metric, s recovery.Stats) {
	for kind, ks := range s.ByKind {
		counter(ch, c.recoveryAttempts, float64(ks.Attempts), kind.String())
		counter(ch, c.recoverySuccesses, float64(ks.Successes), kind.String())
	}
	for reason, n := range s.Rejected {
		counter(ch, c.recoveryRejected, float64(n), reason)
	}
	gauge(ch, c.recoveryDuration, s.AverageRecoveryTime.Seconds())
}

func (c *Collector) collectExecutor(ch chan<- prometheus.Metric, e *resilience.Executor) {
	s := e.Stats()
	counter(ch, c.executorCalls, float64(s.Calls))
	counter(ch, c.executorRetries, float64(s.Retries))
	counter(ch, c.executorRecover, float64(s.Recoveries), "succeeded")
	counter(ch, c.executorRecover, float64(s.FailedRecoveries), "failed")
	counter(ch, c.breakerRejected, float64(s.BreakerRejections))
	if b := e.Breakers(); b != nil {
		for provider, bs := range b.Stats() {
			gauge(ch, c.breakerState, float64(bs.State), provider)
		}
	}
}

// NewRegistry returns a registry holding a Collector for src and the Go
// runtime and process collectors.
func NewRegistry(namespace string, src Sources) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(namespace, src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics in reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
