// Package telemetry configures OpenTelemetry tracing for treewire sessions
// and attaches the eventbus subscribers that turn session events into spans.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/treewire/internal/eventbus"
	"github.com/hanpama/treewire/internal/events"
	"github.com/hanpama/treewire/internal/sessionid"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("treewire")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer      trace.Tracer
	encodeSpans sync.Map // session id -> trace.Span
	streamSpans sync.Map // session id -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.EncodeStart) {
		_, span := s.tracer.Start(ctx, "treewire.encode")
		span.SetAttributes(attribute.Int64("treewire.session", e.Session))
		s.encodeSpans.Store(e.Session, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.EncodeFinish) {
		v, ok := s.encodeSpans.LoadAndDelete(e.Session)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("treewire.rows", e.Rows))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RenderFinish) {
		v, ok := s.encodeSpans.Load(e.Session)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.AddEvent("render", trace.WithAttributes(
			attribute.String("treewire.node", e.Node),
			attribute.String("treewire.outcome", e.Outcome),
			attribute.Int64("treewire.duration_us", e.Duration.Microseconds()),
		))
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StreamStart) {
		rid, _ := sessionid.FromContext(ctx)
		parent := ctx
		if v, ok := s.encodeSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "treewire.stream")
		span.SetAttributes(
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
		)
		s.streamSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StreamFinish) {
		rid, _ := sessionid.FromContext(ctx)
		v, ok := s.streamSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("treewire.rows", e.Rows))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
