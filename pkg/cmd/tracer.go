package cmd

import (
	"context"

	"github.com/flowork/flowcore/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer exports spans over OTLP/HTTP when enabled, and records nothing otherwise.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, error) {
	if !enabled {
		return otelhelper.NoopTracer(), nil
	}

	return otelhelper.NewTracer(ctx, serviceName)
}
