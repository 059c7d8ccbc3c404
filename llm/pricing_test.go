package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hallucifix/go-resilience/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPricing(t *testing.T) {
	p := NewPricing(context.Background(), WithPrices(map[string]ModelPrice{
		"gpt-4o": {InputCostPerToken: 0.0000025, OutputCostPerToken: 0.00001, Provider: "openai"},
	}))
	defer p.Close()

	assert.Equal(t, 1, p.Len())
	assert.InDelta(t, 0.0025+0.005, p.Cost("gpt-4o", 1000, 500), 1e-9)
	assert.Zero(t, p.Cost("unknown", 1000, 1000))
	assert.Nil(t, p.Price("unknown"))

	p.Set("claude", ModelPrice{InputCostPerToken: 0.000003})
	assert.InDelta(t, 0.003, p.Cost("claude", 1000, 0), 1e-9)

	var nilPricing *Pricing
	assert.Zero(t, nilPricing.Cost("gpt-4o", 1, 1))
}

func TestRefreshFromSource(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"gpt-4o-mini":{"input_cost_per_token":0.00000015,"output_cost_per_token":0.0000006,"litellm_provider":"openai","mode":"chat"}}`))
	}))
	defer srv.Close()

	updated := make(chan int, 4)
	p := NewPricing(context.Background(),
		WithSourceURL(srv.URL),
		WithInterval(time.Hour),
		WithPrices(map[string]ModelPrice{"local": {InputCostPerToken: 1}}),
		WithOnUpdate(func(n int) { updated <- n }),
	)
	defer p.Close()

	select {
	case n := <-updated:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("pricing was not refreshed")
	}
	price := p.Price("gpt-4o-mini")
	require.NotNil(t, price)
	assert.Equal(t, "openai", price.Provider)
	assert.Equal(t, "chat", price.Mode)
	assert.NotNil(t, p.Price("local"))
	assert.False(t, p.LastUpdated().IsZero())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestRefreshErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	log := logger.NewTestLogger()
	p := NewPricing(context.Background(), WithSourceURL(srv.URL), WithLogger(log))
	defer p.Close()

	err := p.Refresh(context.Background())
	assert.ErrorContains(t, err, "unexpected status 502")
	assert.Eventually(t, func() bool {
		return log.Contains("ERROR", "error updating LLM pricing")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshWithoutSourceIsNoop(t *testing.T) {
	p := NewPricing(context.Background())
	defer p.Close()
	assert.NoError(t, p.Refresh(context.Background()))
	assert.True(t, p.LastUpdated().IsZero())
}
