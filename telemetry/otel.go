// Package telemetry exports logs and traces over OTLP/HTTP and records
// recovery attempts as spans.
package telemetry

import (
	"context"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/logger"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const exportTimeout = 10 * time.Second

// ShutdownFunc flushes pending telemetry and stops the exporters.
type ShutdownFunc func()

// New configures OTLP/HTTP log and trace exporters against endpoint and
// returns a Logger and Tracer backed by them. authToken, when set, is sent
// as a bearer token.
func New(ctx context.Context, serviceName, endpoint, authToken string, level logger.LogLevel) (logger.Logger, trace.Tracer, ShutdownFunc, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error parsing endpoint")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, nil, nil, errors.Newf("error parsing endpoint: %q is not an absolute url", endpoint)
	}

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, nil, nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	insecure := u.Scheme == "http"

	logURL := *u
	logURL.Path = "/v1/logs"
	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL.String()),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(exportTimeout),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	if insecure {
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}
	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error creating log exporter")
	}

	traceURL := *u
	traceURL.Path = "/v1/traces"
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(exportTimeout),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error creating trace exporter")
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	log := logger.NewOtelLogger(logProvider.Logger(serviceName), level)

	return log, tracerProvider.Tracer(serviceName), func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		tracerProvider.Shutdown(ctx)
		logProvider.Shutdown(ctx)
	}, nil
}
