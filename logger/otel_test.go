package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (m *memoryExporter) Export(ctx context.Context, records []sdklog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records = append(m.records, r.Clone())
	}
	return nil
}

func (m *memoryExporter) Shutdown(ctx context.Context) error   { return nil }
func (m *memoryExporter) ForceFlush(ctx context.Context) error { return nil }

func TestOtelLoggerWithMergesMetadata(t *testing.T) {
	base := NewOtelLogger(noop.NewLoggerProvider().Logger("test"), LevelTrace).With(map[string]interface{}{
		"base_key": "base_value",
		"shared":   "from_base",
	})
	extended := base.With(map[string]interface{}{
		"extra_key": "extra_value",
		"shared":    "from_extended",
	}).(*otelLogger)

	assert.Len(t, extended.metadata, 3)
	assert.Equal(t, "base_value", extended.metadata["base_key"].AsString())
	assert.Equal(t, "extra_value", extended.metadata["extra_key"].AsString())
	assert.Equal(t, "from_extended", extended.metadata["shared"].AsString())
}

func TestOtelLoggerEmitsRecords(t *testing.T) {
	exp := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	lg := NewOtelLogger(provider.Logger("test"), LevelInfo)
	assert.False(t, lg.IsLevelEnabled(LevelDebug))

	lg.Debug("hidden")
	lg.WithPrefix("[recovery]").With(map[string]interface{}{"kind": "network", "attempt": 2}).Warn("strategy %s failed", "network-wait")

	exp.mu.Lock()
	defer exp.mu.Unlock()
	require.Len(t, exp.records, 1)
	rec := exp.records[0]
	assert.Equal(t, "[recovery] strategy network-wait failed", rec.Body().AsString())
	assert.Equal(t, log.SeverityWarn, rec.Severity())

	attrs := map[string]string{}
	rec.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value.String()
		return true
	})
	assert.Equal(t, "network", attrs["kind"])
	assert.Equal(t, "2", attrs["attempt"])
}
