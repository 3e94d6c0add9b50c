package wflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level meter/tracer and instruments, following the teacher
// project's vertex.go pattern of module-scoped otel handles rather than
// threading a telemetry provider through every call.
var (
	meter  = otel.GetMeterProvider().Meter("wflow")
	tracer = otel.GetTracerProvider().Tracer("wflow")

	inCounter, _     = meter.Int64Counter("wflow.replica.incoming")
	outCounter, _    = meter.Int64Counter("wflow.replica.outgoing")
	errorsCounter, _ = meter.Int64Counter("wflow.replica.errors")
	batchDuration, _ = meter.Int64Histogram("wflow.replica.duration_ns")
	ignoredCounter, _ = meter.Int64Counter("wflow.window.ignored_tuples")
)

func replicaAttributes(id, vertexType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("vertex_id", id),
		attribute.String("vertex_type", vertexType),
	}
}

// startSpan opens a span for one decorated batch invocation; the replica's
// span decorator closes it once the wrapped handler returns.
func startSpan(ctx context.Context, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, id)
}
