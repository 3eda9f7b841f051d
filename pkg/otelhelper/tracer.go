// Package otelhelper provides the OpenTelemetry tracing used around job execution.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Common attribute keys.
	WorkflowIDKey   = "flowcore.workflow.id"
	ExecutionIDKey  = "flowcore.execution.id"
	JobIDKey        = "flowcore.job.id"
	NodeIDKey       = "flowcore.node.id"
	NodeTypeKey     = "flowcore.node.type"
	PortKey         = "flowcore.port"
	UserIDKey       = "flowcore.user.id"
	WorkerIDKey     = "flowcore.worker.id"
	DownstreamKey   = "flowcore.downstream.count"
	ErrorMessageKey = "flowcore.error.message"
)

// JobAttributes returns the span attributes identifying a job.
func JobAttributes(workflowID, executionID, jobID, nodeID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(WorkflowIDKey, workflowID),
		attribute.String(ExecutionIDKey, executionID),
		attribute.String(JobIDKey, jobID),
		attribute.String(NodeIDKey, nodeID),
	}
}

// NoopTracer returns a tracer that records nothing, for tests and disabled tracing.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("flowcore")
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return provider.Tracer(serviceName), nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
