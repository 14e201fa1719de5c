package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with taskbot span helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the tracer returned by GetTracer.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if none is set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// Debug reports whether spans carry user text.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a generic span.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// DeliverySpanOptions describes one routed notification.
type DeliverySpanOptions struct {
	TaskID   int64
	Target   string // claimant, mentioned, conversation, author
	Address  int64
	Attempts int
	Text     string // debug only
}

// StartDeliverySpan starts a span around routing one notification.
func (t *Tracer) StartDeliverySpan(ctx context.Context, taskID int64) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "delivery.route", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Int64("task.id", taskID))
	return ctx, span
}

// EndDeliverySpan records the outcome and ends the span.
func (t *Tracer) EndDeliverySpan(span trace.Span, opts DeliverySpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("delivery.attempts", opts.Attempts),
	}
	if opts.Target != "" {
		attrs = append(attrs,
			attribute.String("delivery.target", opts.Target),
			attribute.Int64("delivery.address", opts.Address))
	}
	if t.debug && opts.Text != "" {
		attrs = append(attrs, attribute.String("delivery.text", truncate(opts.Text, 1000)))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// TickSpanOptions describes one scheduler or digest pass.
type TickSpanOptions struct {
	Scanned int
	Fired   int
}

// StartTickSpan starts a span for a periodic pass such as "reminders.tick"
// or "digest.run".
func (t *Tracer) StartTickSpan(ctx context.Context, name, traceID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("taskbot.trace_id", traceID))
	return ctx, span
}

// EndTickSpan records counts and ends the span.
func (t *Tracer) EndTickSpan(span trace.Span, opts TickSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("tick.scanned", opts.Scanned),
		attribute.Int("tick.fired", opts.Fired),
	)
	endSpan(span, err)
}

// StartRPCSpan starts a server span for one RPC request.
func (t *Tracer) StartRPCSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "rpc."+method, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("rpc.method", method))
	return ctx, span
}

// EndRPCSpan ends an RPC span.
func (t *Tracer) EndRPCSpan(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// WithParentSpan returns ctx carrying the span context found in from, so
// spans started under ctx join from's trace. Cancellation still follows ctx.
func WithParentSpan(ctx, from context.Context) context.Context {
	sc := trace.SpanContextFromContext(from)
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}

// InjectContext writes the trace context into carrier.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext reads the trace context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a map-based TextMapCarrier used for bus RPC metadata.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
