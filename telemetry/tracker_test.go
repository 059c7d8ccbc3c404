package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/hallucifix/go-resilience/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return sr, tp
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestStartSpanTagsLogger(t *testing.T) {
	_, tp := newRecorder(t)
	log := logger.NewTestLogger()

	ctx, spanLog, span := StartSpan(context.Background(), log, tp.Tracer("test"), "work")
	require.NotNil(t, ctx)
	spanLog.Info("inside")
	span.End()

	logs := log.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), logs[0].Metadata["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), logs[0].Metadata["span_id"])
}

func TestStartSpanNoopTracer(t *testing.T) {
	log := logger.NewTestLogger()
	_, spanLog, span := StartSpan(context.Background(), log, noop.NewTracerProvider().Tracer("test"), "work")
	spanLog.Info("inside")
	span.End()

	logs := log.Logs()
	require.Len(t, logs, 1)
	assert.NotContains(t, logs[0].Metadata, "trace_id")
}

func TestRecordAttempt(t *testing.T) {
	sr, tp := newRecorder(t)
	tracker := NewRecoveryTracker(tp.Tracer("test"), logger.NewTestLogger())

	e := &apierror.Error{Kind: apierror.KindServer, Provider: "openai", StatusCode: 503, Message: "unavailable"}
	tracker.RecordAttempt(context.Background(), e, recovery.StrategyBackoff, true, true, 250*time.Millisecond)
	tracker.RecordAttempt(context.Background(), e, "failover", false, false, time.Second)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, SpanRecoveryAttempt, ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Equal(t, 250*time.Millisecond, ok.EndTime().Sub(ok.StartTime()))
	attrs := attrMap(ok.Attributes())
	assert.Equal(t, recovery.StrategyBackoff, attrs["recovery.strategy"].AsString())
	assert.Equal(t, "server", attrs["error.kind"].AsString())
	assert.Equal(t, "openai", attrs["provider"].AsString())
	assert.Equal(t, int64(503), attrs["http.response.status_code"].AsInt64())
	assert.True(t, attrs["recovery.automatic"].AsBool())

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.False(t, attrMap(failed.Attributes())["recovery.success"].AsBool())
}

func TestTrackerWiredIntoManager(t *testing.T) {
	sr, tp := newRecorder(t)
	m := recovery.New(recovery.WithCooldown(0), recovery.WithTracker(NewRecoveryTracker(tp.Tracer("test"), nil)))
	m.RegisterStrategy(apierror.KindNetwork, recovery.Strategy{
		ID:          "reconnect",
		MaxAttempts: 2,
		Action: func(ctx context.Context, err *apierror.Error, rc *recovery.Context, attempt int) (recovery.Outcome, error) {
			if attempt == 1 {
				return recovery.Outcome{ShouldRetry: true}, nil
			}
			return recovery.Outcome{Success: true}, nil
		},
	})

	res := m.AttemptRecovery(context.Background(), apierror.New(apierror.KindNetwork, "connection reset"))
	require.True(t, res.Success)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Equal(t, "network", attrMap(spans[1].Attributes())["error.kind"].AsString())
}
