package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/nazeru/order-fulfillment/internal/config"
	"github.com/nazeru/order-fulfillment/pkg/logging"
)

type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func newResource(service string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
}

func authHeaders(cfg *config.Config) map[string]string {
	if cfg.OtelAuthHeader == "" {
		return nil
	}
	return map[string]string{"Authorization": cfg.OtelAuthHeader}
}

// SetupLoggingSDK installs the global OTel logger provider. Without an
// endpoint it does nothing.
func SetupLoggingSDK(ctx context.Context, cfg *config.Config, service string) (ShutdownFunc, error) {
	if cfg.OtelEndpoint == "" {
		return noopShutdown, nil
	}
	res, err := newResource(service)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exp, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.OtelEndpoint),
		otlploghttp.WithURLPath(config.LogsPath),
		otlploghttp.WithHeaders(authHeaders(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp,
			sdklog.WithExportTimeout(config.ExportTimeout),
			sdklog.WithMaxQueueSize(config.MaxQueueSize),
		)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(provider)
	return provider.Shutdown, nil
}

// SetupTracingSDK installs the global tracer provider and the W3C propagator
// used for Kafka headers. Without an endpoint the returned provider is a noop.
func SetupTracingSDK(ctx context.Context, cfg *config.Config, service string) (trace.TracerProvider, ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.OtelEndpoint == "" {
		return noop.NewTracerProvider(), noopShutdown, nil
	}

	res, err := newResource(service)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OtelEndpoint),
		otlptracehttp.WithURLPath(config.TracesPath),
		otlptracehttp.WithHeaders(authHeaders(cfg)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp,
			sdktrace.WithExportTimeout(config.ExportTimeout),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// Setup wires logs and traces and returns a logger that writes to stdout and,
// when exporting, to the OTel logger provider.
func Setup(ctx context.Context, cfg *config.Config, service string) (*zap.Logger, trace.TracerProvider, ShutdownFunc, error) {
	level := logging.ParseLevel(cfg.LogLevel)

	logShutdown, err := SetupLoggingSDK(ctx, cfg, service)
	if err != nil {
		return nil, nil, nil, err
	}
	tp, traceShutdown, err := SetupTracingSDK(ctx, cfg, service)
	if err != nil {
		return nil, nil, nil, errors.Join(err, logShutdown(ctx))
	}

	var logger *zap.Logger
	if cfg.OtelEndpoint != "" {
		core := otelzap.NewCore(service, otelzap.WithLoggerProvider(global.GetLoggerProvider()))
		logger = logging.New(service, level, core)
	} else {
		logger = logging.New(service, level)
	}

	shutdown := func(ctx context.Context) error {
		_ = logger.Sync()
		return errors.Join(traceShutdown(ctx), logShutdown(ctx))
	}
	return logger, tp, shutdown, nil
}
