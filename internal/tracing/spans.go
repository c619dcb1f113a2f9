package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/defreg/internal/descriptor"
)

// Span names.
const (
	SpanGetUID  = "registry.get_uid"
	SpanResolve = "registry.resolve"
	SpanFind    = "registry.find"
	SpanCompile = "registry.compile"
)

// Attribute keys.
const (
	AttrDescriptor  = "descriptor.qualified_name"
	AttrDefType     = "descriptor.def_type"
	AttrFilter      = "find.filter"
	AttrMatches     = "find.matches"
	AttrContextID   = "registry.context_id"
	AttrClosureSize = "closure.size"
	AttrUID         = "closure.uid"
	AttrCacheHit    = "cache.hit"
	AttrSubRegistry = "registry.sub_registry"
	AttrErrorKind   = "error.kind"
)

// StartDescriptor starts a span tagged with d.
func StartDescriptor(ctx context.Context, tracer trace.Tracer, name string, d descriptor.Descriptor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Noop()
	}
	attrs = append(attrs,
		attribute.String(AttrDescriptor, d.QualifiedName()),
		attribute.String(AttrDefType, d.DefType().String()),
	)
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
