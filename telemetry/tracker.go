package telemetry

import (
	"context"
	"time"

	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/logger"
	"github.com/hallucifix/go-resilience/recovery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanRecoveryAttempt is the name of spans created by RecoveryTracker.
const SpanRecoveryAttempt = "recovery.attempt"

// StartSpan starts a span and returns a logger carrying its trace and span ids.
func StartSpan(ctx context.Context, log logger.Logger, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, logger.Logger, trace.Span) {
	ctx, span := tracer.Start(ctx, name, opts...)
	log = logger.OrNoop(log)
	if sc := span.SpanContext(); sc.IsValid() {
		log = log.With(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	return ctx, log, span
}

// RecoveryTracker records each recovery attempt as a span whose duration is
// the time the strategy took.
type RecoveryTracker struct {
	tracer trace.Tracer
	log    logger.Logger
}

var _ recovery.Tracker = (*RecoveryTracker)(nil)

// NewRecoveryTracker returns a tracker that emits spans through tracer.
func NewRecoveryTracker(tracer trace.Tracer, log logger.Logger) *RecoveryTracker {
	return &RecoveryTracker{tracer: tracer, log: logger.OrNoop(log).WithPrefix("[telemetry]")}
}

func (t *RecoveryTracker) RecordAttempt(ctx context.Context, err *apierror.Error, strategyID string, success, automatic bool, duration time.Duration) {
	end := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("recovery.strategy", strategyID),
		attribute.Bool("recovery.success", success),
		attribute.Bool("recovery.automatic", automatic),
	}
	kind := apierror.KindUnknown
	if err != nil {
		kind = err.Kind
		if err.Provider != "" {
			attrs = append(attrs, attribute.String("provider", err.Provider))
		}
		if err.StatusCode > 0 {
			attrs = append(attrs, attribute.Int("http.response.status_code", err.StatusCode))
		}
	}
	attrs = append(attrs, attribute.String("error.kind", kind.String()))

	_, log, span := StartSpan(ctx, t.log, t.tracer, SpanRecoveryAttempt,
		trace.WithTimestamp(end.Add(-duration)),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if success {
		span.SetStatus(codes.Ok, "")
		log.Debug("%s recovered %s error in %v", strategyID, kind, duration)
	} else {
		span.SetStatus(codes.Error, "recovery failed")
		log.Debug("%s did not recover %s error", strategyID, kind)
	}
	span.End(trace.WithTimestamp(end))
}
