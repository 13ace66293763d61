// OpenTelemetry tracing for task operations.

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with task-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RPCSpanOptions describes a finished RPC call.
type RPCSpanOptions struct {
	Caller    string
	TaskID    string
	ErrorCode string
	Title     string // debug only
}

// StartRPCSpan starts a server span for an RPC method.
func (t *Tracer) StartRPCSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "rpc."+method, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	)
	return ctx, span
}

// EndRPCSpan records the outcome of an RPC call and ends the span.
func (t *Tracer) EndRPCSpan(span trace.Span, opts RPCSpanOptions, err error) {
	var attrs []attribute.KeyValue
	if opts.Caller != "" {
		attrs = append(attrs, attribute.String("taskkit.caller", opts.Caller))
	}
	if opts.TaskID != "" {
		attrs = append(attrs, attribute.String("taskkit.task_id", opts.TaskID))
	}
	if opts.ErrorCode != "" {
		attrs = append(attrs, attribute.String("taskkit.error_code", opts.ErrorCode))
	}
	if t.debug && opts.Title != "" {
		attrs = append(attrs, attribute.String("taskkit.title", truncate(opts.Title, 500)))
	}
	span.SetAttributes(attrs...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
