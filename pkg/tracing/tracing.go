// Package tracing sets up OpenTelemetry tracing for the agent. Spans are
// written by the stdout exporter, so no collector is required.
package tracing

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ServiceName names the agent in spans and in the gin middleware
const ServiceName = "vendorpulse"

// Options configures the tracer provider
type Options struct {
	Enabled     bool
	PrettyPrint bool
	// Writer receives exported spans; stdout when nil
	Writer io.Writer
}

// Setup installs the propagator and, when enabled, a tracer provider.
// The returned function flushes and stops the provider.
func Setup(ctx context.Context, opts Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tracerProvider, err := newTracerProvider(opts)
	if err != nil {
		return func(context.Context) error { return nil }, err
	}
	otel.SetTracerProvider(tracerProvider)

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.ForceFlush(ctx), tracerProvider.Shutdown(ctx))
	}, nil
}

func newTracerProvider(opts Options) (*trace.TracerProvider, error) {
	var exporterOpts []stdouttrace.Option
	if opts.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	if opts.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
	}
	traceExporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(traceExporter,
			trace.WithBatchTimeout(0)),
	), nil
}

// Start opens a span on the global tracer provider
func Start(ctx context.Context, instrumentation, name string, kv ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, oteltrace.WithAttributes(kv...))
}

// End records err on span, if any, and ends it
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
