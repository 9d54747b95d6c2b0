package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OtelProvider creates Tracings backed by an OpenTelemetry tracer.
type OtelProvider struct {
	tracer trace.Tracer
}

// NewOtelProvider creates an OtelProvider for the given tracer.
func NewOtelProvider(tracer trace.Tracer) *OtelProvider {
	return &OtelProvider{tracer: tracer}
}

// New returns a Tracing whose root spans are children of any span already in ctx.
func (p *OtelProvider) New(ctx context.Context) Tracing {
	return &otelTracing{
		root:   ctx,
		tracer: p.tracer,
		spans:  make(map[string]openSpan),
	}
}

type openSpan struct {
	ctx  context.Context
	span trace.Span
}

// otelTracing maps span names to open OpenTelemetry spans. Handlers of one call
// run sequentially, but the result stream span may be closed from the goroutine
// that writes the response, hence the mutex.
type otelTracing struct {
	root   context.Context
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]openSpan
}

func (t *otelTracing) StartSpan(name string, tags map[string]string, parent string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentCtx := t.root
	if parent != "" {
		if p, ok := t.spans[parent]; ok {
			parentCtx = p.ctx
		}
	}

	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(parentCtx, name, trace.WithAttributes(attrs...))
	t.spans[name] = openSpan{ctx: ctx, span: span}
}

func (t *otelTracing) FinishSpan(name string) {
	t.mu.Lock()
	s, ok := t.spans[name]
	delete(t.spans, name)
	t.mu.Unlock()

	if ok {
		s.span.End()
	}
}

func (t *otelTracing) SetError(name string, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	s, ok := t.spans[name]
	t.mu.Unlock()

	if ok {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}
