// Package observability provides tracing for poolbench benchmark runs.
// Spans are emitted around benchmark phases so a run can be inspected
// end to end; the default exporter writes to stdout, which is enough for
// a tool that runs locally.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	initOnce sync.Once
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

// Init sets up the tracer provider with a stdout exporter. It is safe to
// call more than once; only the first call takes effect.
func Init(cfg TracingConfig) error {
	var err error

	initOnce.Do(func() {
		var res *resource.Resource
		res, err = resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			),
		)
		if err != nil {
			err = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		var exporter sdktrace.SpanExporter
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			err = fmt.Errorf("failed to create stdout exporter: %w", err)
			return
		}

		var sampler sdktrace.Sampler
		switch {
		case cfg.SamplingRate <= 0:
			sampler = sdktrace.NeverSample()
		case cfg.SamplingRate >= 1.0:
			sampler = sdktrace.AlwaysSample()
		default:
			sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
			sdktrace.WithBatcher(exporter),
		)

		otel.SetTracerProvider(provider)
		tracer = provider.Tracer(cfg.ServiceName)
	})

	return err
}

// GetTracer returns the global tracer. Before Init it returns a no-op
// tracer, so callers can emit spans unconditionally.
func GetTracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer("poolbench")
	}
	return tracer
}

// StartPhase starts a span for a benchmark phase with standard attributes.
func StartPhase(ctx context.Context, phase, mode string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "bench."+phase,
		trace.WithAttributes(
			attribute.String("bench.phase", phase),
			attribute.String("bench.mode", mode),
		),
	)
}

// Shutdown flushes pending spans and stops the provider.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}
