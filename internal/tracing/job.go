package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceCarrier travels inside job payloads so the worker span continues the
// upload request's trace.
type TraceCarrier struct {
	TraceParent string `json:"trace_parent,omitempty"`
	TraceState  string `json:"trace_state,omitempty"`
}

func InjectTraceContext(ctx context.Context) TraceCarrier {
	m := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, m)
	return TraceCarrier{
		TraceParent: m.Get("traceparent"),
		TraceState:  m.Get("tracestate"),
	}
}

func ExtractTraceContext(ctx context.Context, carrier TraceCarrier) context.Context {
	if carrier.TraceParent == "" {
		return ctx
	}
	m := propagation.MapCarrier{"traceparent": carrier.TraceParent}
	if carrier.TraceState != "" {
		m["tracestate"] = carrier.TraceState
	}
	return propagation.TraceContext{}.Extract(ctx, m)
}

func StartJobSpan(ctx context.Context, jobType, jobID string, climbID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "job.process."+jobType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.type", jobType),
			attribute.String("job.id", jobID),
			attribute.Int64("climb.id", climbID),
		),
	)
}

func StartJobEnqueueSpan(ctx context.Context, jobType string, climbID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "job.enqueue."+jobType,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("job.type", jobType),
			attribute.Int64("climb.id", climbID),
		),
	)
}
