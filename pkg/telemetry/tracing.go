// Package telemetry wires OpenTelemetry tracing for registry loads and
// routing decisions. Spans are exported over OTLP/HTTP when enabled and are
// no-ops otherwise.
package telemetry

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ServiceName is reported on every exported span.
const ServiceName = "skillrouter"

// Sampler names accepted in Config.SamplerType.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// Config controls tracing.
type Config struct {
	Enabled        bool
	ServiceVersion string
	SamplerType    string
	SamplerRatio   float64

	// Exporter replaces the OTLP/HTTP exporter. Tests pass an in-memory one.
	Exporter sdktrace.SpanExporter
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracer installs the global tracer provider and returns its shutdown
// function. With tracing disabled the global no-op provider stays in place.
func InitTracer(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	sampler, err := NewSampler(cfg.SamplerType, cfg.SamplerRatio)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	exporter := cfg.Exporter
	if exporter == nil {
		// Endpoint and headers come from OTEL_EXPORTER_OTLP_* variables.
		exporter, err = otlptracehttp.New(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create trace exporter")
		}
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(256),
			sdktrace.WithBatchTimeout(time.Second),
		),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var result *multierror.Error
		if err := provider.ForceFlush(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to flush spans"))
		}
		if err := provider.Shutdown(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to shut down tracer provider"))
		}
		return result.ErrorOrNil()
	}, nil
}

// NewSampler maps a sampler name to an SDK sampler. An empty name samples
// everything.
func NewSampler(name string, ratio float64) (sdktrace.Sampler, error) {
	switch name {
	case "", SamplerAlways:
		return sdktrace.AlwaysSample(), nil
	case SamplerNever:
		return sdktrace.NeverSample(), nil
	case SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, errors.Errorf("sampler ratio %v outside [0,1]", ratio)
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, errors.Errorf("unknown sampler %q (expected always, never or ratio)", name)
	}
}
