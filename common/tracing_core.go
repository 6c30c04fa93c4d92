package common

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/erpc/contractreads"

var (
	IsTracingEnabled  bool
	IsTracingDetailed bool

	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	initOnce       sync.Once
)

func InitializeTracing(ctx context.Context, logger *zerolog.Logger, cfg *TracingConfig) error {
	var err error

	initOnce.Do(func() {
		if cfg == nil || !cfg.Enabled {
			logger.Info().Msg("OpenTelemetry tracing is disabled")
			IsTracingEnabled = false
			IsTracingDetailed = false
			return
		}

		logger.Info().
			Str("endpoint", cfg.Endpoint).
			Str("serviceName", cfg.ServiceName).
			Float64("sampleRate", cfg.SampleRate).
			Bool("detailed", cfg.Detailed).
			Msg("initializing OpenTelemetry tracing")

		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		var exporter *otlptrace.Exporter
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
		if err != nil {
			err = fmt.Errorf("failed to create span exporter: %w", err)
			return
		}

		var res *resource.Resource
		res, err = resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				attribute.String("library", instrumentationName),
			),
		)
		if err != nil {
			return
		}

		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		if logger.GetLevel() <= zerolog.DebugLevel {
			otel.SetLogger(zerologr.New(logger))
		}
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			logger.Trace().Err(err).Msg("open telemetry export error")
		}))

		tracer = otel.Tracer(instrumentationName)
		IsTracingEnabled = true
		IsTracingDetailed = cfg.Detailed

		logger.Info().Msg("OpenTelemetry tracing initialized successfully")
	})

	return err
}

func ShutdownTracing(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	return tracerProvider.Shutdown(ctx)
}
