// Package llm holds a per-model price table used to turn token counts into
// an estimated request cost.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hallucifix/go-resilience/logger"
)

// DefaultRefreshInterval is how often a remote price table is reloaded.
var DefaultRefreshInterval = 12 * time.Hour

// LiteLLMPricingURL publishes per-token prices for most hosted models.
const LiteLLMPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/refs/heads/main/model_prices_and_context_window.json"

// ModelPrice is the per-token price of a model in US dollars.
type ModelPrice struct {
	OutputCostPerToken float64 `json:"output_cost_per_token" yaml:"output_cost_per_token"`
	InputCostPerToken  float64 `json:"input_cost_per_token" yaml:"input_cost_per_token"`
	Provider           string  `json:"litellm_provider" yaml:"provider"`
	Mode               string  `json:"mode" yaml:"mode"` // chat, embedding, moderation, audio_speech, audio_transcription, etc
}

// Cost returns the price of a request with the given token counts.
func (p *ModelPrice) Cost(inputTokens, outputTokens int64) float64 {
	if p == nil {
		return 0
	}
	return float64(inputTokens)*p.InputCostPerToken + float64(outputTokens)*p.OutputCostPerToken
}

// Pricing is a concurrency-safe price table. It is seeded from WithPrices
// and, when a source URL is configured, refreshed in the background.
type Pricing struct {
	pricing     map[string]*ModelPrice
	lastUpdated time.Time
	mu          sync.RWMutex
	ctx         context.Context
	cancelFunc  context.CancelFunc
	once        sync.Once
	wg          sync.WaitGroup
	log         logger.Logger
	client      *http.Client
	url         string
	onUpdate    func(int)
	interval    time.Duration
}

// Price returns the price entry for model, or nil.
func (p *Pricing) Price(model string) *ModelPrice {
	p.mu.RLock()
	val := p.pricing[model]
	p.mu.RUnlock()
	return val
}

// Cost estimates the price of a request. Unknown models cost zero.
func (p *Pricing) Cost(model string, inputTokens, outputTokens int64) float64 {
	if p == nil {
		return 0
	}
	return p.Price(model).Cost(inputTokens, outputTokens)
}

// Set adds or replaces the price of model.
func (p *Pricing) Set(model string, price ModelPrice) {
	p.mu.Lock()
	p.pricing[model] = &price
	p.mu.Unlock()
}

// Len returns the number of priced models.
func (p *Pricing) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pricing)
}

// LastUpdated returns when the table was last loaded from the source URL.
func (p *Pricing) LastUpdated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdated
}

// Close stops the background refresh.
func (p *Pricing) Close() {
	p.once.Do(func() {
		p.cancelFunc()
		p.wg.Wait()
	})
}

// Refresh loads the table from the source URL. Fetched prices are merged
// over the existing table so statically configured models survive.
func (p *Pricing) Refresh(ctx context.Context) error {
	if p.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to update prices: unexpected status %d", resp.StatusCode)
	}

	var pricing map[string]*ModelPrice
	if err = json.NewDecoder(resp.Body).Decode(&pricing); err != nil {
		return fmt.Errorf("failed to decode pricing: %w", err)
	}
	p.mu.Lock()
	for model, price := range pricing {
		if price != nil {
			p.pricing[model] = price
		}
	}
	p.lastUpdated = time.Now()
	n := len(p.pricing)
	p.mu.Unlock()
	p.onUpdate(n)
	return nil
}

func (p *Pricing) run() {
	defer p.wg.Done()
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.refresh()

	for {
		select {
		case <-t.C:
			p.refresh()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pricing) refresh() {
	if err := p.Refresh(p.ctx); err != nil && p.ctx.Err() == nil {
		p.log.Error("error updating LLM pricing: %s", err)
	}
}

// Option configures a Pricing table.
type Option func(*Pricing)

// WithPrices seeds the table.
func WithPrices(prices map[string]ModelPrice) Option {
	return func(p *Pricing) {
		for model, price := range prices {
			p.pricing[model] = &price
		}
	}
}

// WithSourceURL enables background refresh from a LiteLLM-format JSON
// document, usually LiteLLMPricingURL.
func WithSourceURL(url string) Option {
	return func(p *Pricing) {
		p.url = url
	}
}

// WithInterval sets the refresh interval.
func WithInterval(interval time.Duration) Option {
	return func(p *Pricing) {
		p.interval = interval
	}
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pricing) {
		p.client = client
	}
}

// WithLogger sets the logger for refresh failures.
func WithLogger(log logger.Logger) Option {
	return func(p *Pricing) {
		p.log = log
	}
}

// WithOnUpdate registers a callback invoked with the table size after each
// successful refresh.
func WithOnUpdate(onUpdate func(int)) Option {
	return func(p *Pricing) {
		p.onUpdate = onUpdate
	}
}

// NewPricing returns a price table. When a source URL is configured the
// first load starts immediately in the background.
func NewPricing(ctx context.Context, options ...Option) *Pricing {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pricing{
		ctx:        ctx,
		cancelFunc: cancel,
		pricing:    make(map[string]*ModelPrice),
		client:     http.DefaultClient,
	}

	for _, option := range options {
		option(p)
	}
	p.log = logger.OrNoop(p.log).WithPrefix("[llm]")
	if p.onUpdate == nil {
		p.onUpdate = func(count int) {} // no-op
	}
	if p.interval == 0 {
		p.interval = DefaultRefreshInterval
	}

	if p.url != "" {
		p.wg.Add(1)
		go p.run()
	}
	return p
}
