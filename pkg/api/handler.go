package api

import (
	"context"

	"github.com/morezero/api-server/pkg/result"
)

// Params holds the parameters of one API call.
type Params map[string]any

// HandlerFunc is one link of a method chain. Returning a non-nil error aborts
// the rest of the chain; returning nil hands over to the next link.
type HandlerFunc func(ctx context.Context, mc *MethodContext, params Params, res *result.Result) error

type handlerKind int

const (
	kindInvalid handlerKind = iota
	kindFunc
	kindRef
)

// Handler is an argument to Dispatcher.Register: either a function (Fn, Named)
// or a reference to the current chain of an already registered method (Ref).
type Handler struct {
	kind handlerKind
	name string
	fn   HandlerFunc
	ref  string
}

// Fn wraps an unnamed handler function. Its span is named after the method
// and its position among the unnamed handlers of the chain.
func Fn(f HandlerFunc) Handler {
	if f == nil {
		return Handler{}
	}
	return Handler{kind: kindFunc, fn: f}
}

// Named wraps a handler function whose span is "fn:<name>".
func Named(name string, f HandlerFunc) Handler {
	if f == nil {
		return Handler{}
	}
	return Handler{kind: kindFunc, name: name, fn: f}
}

// Ref splices in a copy of methodID's chain as it is at registration time.
func Ref(methodID string) Handler {
	return Handler{kind: kindRef, ref: methodID}
}

// link is a resolved, callable element of a method chain.
type link struct {
	name string
	fn   HandlerFunc
}
