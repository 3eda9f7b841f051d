package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailureEvent is the span event added when a job body fails.
const FailureEvent = "job_failed"

// SetError marks the span failed and records err on it.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent(FailureEvent, trace.WithAttributes(
		append([]attribute.KeyValue{attribute.String(ErrorMessageKey, err.Error())}, attrs...)...,
	))
}
