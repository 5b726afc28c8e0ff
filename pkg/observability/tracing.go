// Package observability provides OpenTelemetry tracing for fedstream. Until
// Init installs a provider, spans go to the global otel provider, which is a
// no-op by default.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/fedstream"

var (
	mu       sync.RWMutex
	provider trace.TracerProvider
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	ExporterType   string    // "stdout" or "none"
	Output         io.Writer // stdout exporter target, os.Stderr when nil
	BatchTimeout   time.Duration
}

// DefaultTracingConfig returns a stdout configuration that samples everything.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "fedstream",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		ExporterType:   "stdout",
		BatchTimeout:   time.Second,
	}
}

// Init installs a tracer provider built from config as the global provider
// and returns its shutdown function.
func Init(config TracingConfig) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	switch config.ExporterType {
	case "none":
	case "", "stdout":
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)))
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", config.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	SetTracerProvider(tp)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SetTracerProvider overrides the provider used by this package.
func SetTracerProvider(tp trace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = tp
}

// Tracer returns the fedstream tracer.
func Tracer() trace.Tracer {
	mu.RLock()
	tp := provider
	mu.RUnlock()
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// SourceTracer starts spans for one source.
type SourceTracer struct {
	kind string
	name string
}

// NewSourceTracer creates a tracer for the named source.
func NewSourceTracer(kind, name string) *SourceTracer {
	return &SourceTracer{kind: kind, name: name}
}

// FetchSpan covers one fetch.
type FetchSpan struct {
	span  trace.Span
	start time.Time
}

// StartFetch opens a span for a fetch at cursor.
func (st *SourceTracer) StartFetch(ctx context.Context, cursor int64) (context.Context, *FetchSpan) {
	ctx, span := Tracer().Start(ctx, "source.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("source.kind", st.kind),
			attribute.String("source.name", st.name),
			attribute.Int64("source.cursor", cursor),
		),
	)
	return ctx, &FetchSpan{span: span, start: time.Now()}
}

// End closes the span with the fetch result and returns its duration.
func (fs *FetchSpan) End(outcome string, rows int, err error) time.Duration {
	d := time.Since(fs.start)
	fs.span.SetAttributes(
		attribute.String("fetch.outcome", outcome),
		attribute.Int("fetch.rows", rows),
	)
	if err != nil {
		fs.span.RecordError(err)
		fs.span.SetStatus(codes.Error, err.Error())
	} else {
		fs.span.SetStatus(codes.Ok, "")
	}
	fs.span.End()
	return d
}
