// Package tracing provides the per-call span bookkeeping used by the dispatcher.
//
// Spans are addressed by name rather than by handle: a call opens "api:<method>"
// and then one "fn:<handler>" span per handler, parented by name.
package tracing

import "context"

// Tracing tracks the spans of a single API call.
type Tracing interface {
	// StartSpan opens a span. parent is the name of an open span, or "" for a root span.
	StartSpan(name string, tags map[string]string, parent string)
	// FinishSpan closes the named span. Unknown names are ignored.
	FinishSpan(name string)
	// SetError records err on the named span.
	SetError(name string, err error)
}

// Provider creates a Tracing for each call.
type Provider interface {
	New(ctx context.Context) Tracing
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) Tracing

// New calls f.
func (f ProviderFunc) New(ctx context.Context) Tracing {
	return f(ctx)
}

// Noop is a Tracing that records nothing.
type Noop struct{}

func (Noop) StartSpan(string, map[string]string, string) {}
func (Noop) FinishSpan(string)                           {}
func (Noop) SetError(string, error)                      {}

// NoopProvider hands out Noop tracings.
type NoopProvider struct{}

// New returns a Noop.
func (NoopProvider) New(context.Context) Tracing {
	return Noop{}
}
