package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hallucifix/go-resilience/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var mu sync.Mutex
	paths := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	log, tracer, shutdown, err := New(context.Background(), "resilience-test", server.URL, "secret", logger.LevelInfo)
	require.NoError(t, err)
	require.NotNil(t, log)
	require.NotNil(t, tracer)

	log.Info("cache warmed with %d entries", 3)
	_, span := tracer.Start(context.Background(), "request")
	span.End()
	shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", paths["/v1/logs"])
	assert.Equal(t, "Bearer secret", paths["/v1/traces"])
}

func TestNewWithInvalidURL(t *testing.T) {
	log, tracer, shutdown, err := New(context.Background(), "resilience-test", "://invalid-url", "", logger.LevelInfo)
	assert.Error(t, err)
	assert.Nil(t, log)
	assert.Nil(t, tracer)
	assert.Nil(t, shutdown)
	assert.Contains(t, err.Error(), "error parsing endpoint")
}

func TestNewWithRelativeURL(t *testing.T) {
	_, _, _, err := New(context.Background(), "resilience-test", "collector/v1", "", logger.LevelInfo)
	assert.Error(t, err)
}
