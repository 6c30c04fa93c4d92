package common

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// noopSpan is a no-op implementation of trace.Span that does nothing when methods are called
type noopSpan struct{ trace.Span }

func (s noopSpan) End(...trace.SpanEndOption)              {}
func (s noopSpan) AddEvent(string, ...trace.EventOption)   {}
func (s noopSpan) IsRecording() bool                       { return false }
func (s noopSpan) SetStatus(codes.Code, string)            {}
func (s noopSpan) SetName(string)                          {}
func (s noopSpan) SetAttributes(...attribute.KeyValue)     {}
func (s noopSpan) RecordError(error, ...trace.EventOption) {}
func (s noopSpan) SpanContext() trace.SpanContext          { return trace.SpanContext{} }
func (s noopSpan) TracerProvider() trace.TracerProvider    { return nil }

var defaultNoopSpan = noopSpan{nil}

// StartSpan creates spans for major operations such as rpc calls and persister access, with low-cardinality tags
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !IsTracingEnabled {
		return ctx, defaultNoopSpan
	}

	return tracer.Start(ctx, name, opts...)
}

// StartDetailSpan creates spans for internal operations and high-cardinality tags such as query hashes
func StartDetailSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !IsTracingEnabled || !IsTracingDetailed {
		return ctx, defaultNoopSpan
	}

	return tracer.Start(ctx, name, opts...)
}

func SetTraceSpanError(span trace.Span, err error) {
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var se StandardError
	if errors.As(err, &se) {
		span.SetAttributes(attribute.String("error.code", se.CodeChain()))
	}
}
