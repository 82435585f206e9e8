// Package tracing wraps OpenTelemetry for the few spans the reconciler
// emits: one per cycle, one per phase and one per meta-service call. With
// tracing disabled every helper is a no-op.
package tracing

import (
    "context"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/amirimatin/go-clustersync"

var enabled atomic.Bool

// Setup installs a stdout exporter as the global tracer provider when enable
// is set. The returned func flushes and shuts it down.
func Setup(enable bool) (func(context.Context) error, error) {
    if !enable {
        enabled.Store(false)
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil { return nil, err }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithSampler(sdktrace.AlwaysSample()))
    otel.SetTracerProvider(tp)
    enabled.Store(true)
    return func(ctx context.Context) error {
        enabled.Store(false)
        return tp.Shutdown(ctx)
    }, nil
}

// StartSpan opens a span with string attributes given as key/value pairs. A
// trailing key without value is ignored.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, func()) {
    if !enabled.Load() { return ctx, func() {} }
    attrs := make([]attribute.KeyValue, 0, len(kv)/2)
    for i := 0; i+1 < len(kv); i += 2 {
        attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
    }
    ctx, span := otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func() { span.End() }
}

// Fail marks the span in ctx as failed with err. Nil errors and contexts
// without a recording span are ignored.
func Fail(ctx context.Context, err error) {
    if err == nil { return }
    span := trace.SpanFromContext(ctx)
    if !span.IsRecording() { return }
    span.RecordError(err)
    span.SetStatus(codes.Error, err.Error())
}
