// Package tracing provides OpenTelemetry spans for cached calls and
// background refreshes. It is entirely optional; tracing is only active when
// a [Config] is wired in via the WithTracing option.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanCall    = "gorawrcache.call"
	SpanRefresh = "gorawrcache.refresh"
)

// Attribute keys.
const (
	AttrFunctionID = attribute.Key("cache.function_id")
	AttrResult     = attribute.Key("cache.result")
)

const instrumentationName = "github.com/Keksclan/goRawrCache/tracing"

// Config holds the OpenTelemetry configuration used for cache spans.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider
}

var noopTracer = noop.NewTracerProvider().Tracer(instrumentationName)

// tracer returns a configured [trace.Tracer]. A nil Config yields a no-op
// tracer.
func (c *Config) tracer() trace.Tracer {
	if c == nil {
		return noopTracer
	}
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// Start opens an internal span named name for functionID.
func (c *Config) Start(ctx context.Context, name, functionID string) (context.Context, trace.Span) {
	return c.tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrFunctionID.String(functionID)),
	)
}

// Finish records result and err on span and ends it.
func Finish(span trace.Span, result string, err error) {
	if result != "" {
		span.SetAttributes(AttrResult.String(result))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
