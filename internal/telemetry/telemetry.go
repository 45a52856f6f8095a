// Package telemetry provides the SDK's tracing helper. Only the
// OpenTelemetry API is used; installing a TracerProvider and exporter is the
// embedding application's decision, and without one every span is a no-op.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/parosapp/paros-go"

// StartSpan opens a span for one SDK operation.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(scopeName).Start(ctx, operation)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
