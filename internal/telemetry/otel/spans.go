package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on dispatch spans. These replace go-claw's
// agent/task/run attributes with dispatch-relevant ones.
var (
	AttrPath      = attribute.Key("dispatch.path")
	AttrType      = attribute.Key("dispatch.type")
	AttrSid       = attribute.Key("dispatch.sid")
	AttrStatus    = attribute.Key("dispatch.status")
	AttrConnID    = attribute.Key("dispatch.conn_id")
	AttrRouteKind = attribute.Key("dispatch.route_kind")
)

// StartSpan starts a span under the given tracer, defaulting to the
// internal span kind.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartServerSpan starts a span representing a unit of inbound work
// (one Dispatch call from a transport).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
}

// EndWithError records err on the span (if non-nil) and sets the span
// status accordingly before the caller calls span.End().
func EndWithError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
