// Package tracing wires up OpenTelemetry tracing, exporting spans to
// Jaeger. The quorum coordinator's write and read fan-out each wrap
// themselves in a span via StartSpan; individual replica calls and the
// client sync loop are not traced.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider is the process-wide OpenTelemetry tracer provider.
type TracerProvider = sdktrace.TracerProvider

// InitTracer builds a TracerProvider exporting to the given Jaeger
// collector endpoint and registers it as the global provider. The
// TracerProvider is always returned, even when jaegerEndpoint is
// unreachable: Jaeger export failures surface later, asynchronously, on
// span export, not at construction.
func InitTracer(serviceName, jaegerEndpoint string) (*TracerProvider, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartSpan starts a new span named name under ctx, attributing attrs to
// it. Callers must call span.End() on the returned span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("shoplist")
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
