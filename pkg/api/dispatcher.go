// Package api maps API method ids to chains of handlers and runs them.
//
// Chains are built during a registration phase: concrete ids receive handlers
// in order, wildcard ids ("events.*") register filters whose handlers run ahead
// of every matching method's own handlers, whether the method was registered
// before or after the filter.
// Once sealed the dispatcher is read-only and safe for concurrent calls.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/result"
	"github.com/morezero/api-server/pkg/tracing"
)

const logPrefix = "api:dispatcher"

// Wildcard ends a filter pattern.
const Wildcard = "*"

// DefaultArrayLimit bounds the arrays a call result can be drained into.
const DefaultArrayLimit = 100000

var (
	ErrSealed          = errors.New("api:dispatcher - registration is sealed")
	ErrInvalidWildcard = errors.New("api:dispatcher - wildcard is only allowed as suffix")
	ErrUnknownRef      = errors.New("api:dispatcher - backreference to unregistered method")
	ErrInvalidHandler  = errors.New("api:dispatcher - handler is neither a function nor a reference")
)

// Auditor is told about every successful call once its result has been sent.
type Auditor interface {
	ValidAPICall(ctx context.Context, mc *MethodContext, res *result.Result) error
}

// Options configures a Dispatcher.
type Options struct {
	// ArrayLimit is passed to every call result. Defaults to DefaultArrayLimit.
	ArrayLimit int
	Tracing    tracing.Provider
	Meta       result.MetaFunc
	Auditor    Auditor
	// ValidateMethod, when set, rejects the registration of undeclared ids.
	ValidateMethod func(id string) error
}

type filter struct {
	prefix string
	links  []link
}

// entry is the chain of one method: handlers injected by matching filters,
// in filter registration order, then the handlers registered for the id.
type entry struct {
	filtered []link
	own      []link
}

func (e *entry) chain() []link {
	out := make([]link, 0, len(e.filtered)+len(e.own))
	out = append(out, e.filtered...)
	return append(out, e.own...)
}

// Dispatcher holds the method chains and runs calls against them.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]*entry
	order   []string
	filters []filter
	sealed  bool

	arrayLimit int
	tracing    tracing.Provider
	meta       result.MetaFunc
	auditor    Auditor
	validate   func(id string) error
}

// New creates an empty Dispatcher.
func New(opts Options) *Dispatcher {
	limit := opts.ArrayLimit
	if limit <= 0 {
		limit = DefaultArrayLimit
	}
	tp := opts.Tracing
	if tp == nil {
		tp = tracing.NoopProvider{}
	}
	return &Dispatcher{
		methods:    make(map[string]*entry),
		arrayLimit: limit,
		tracing:    tp,
		meta:       opts.Meta,
		auditor:    opts.Auditor,
		validate:   opts.ValidateMethod,
	}
}

// Register appends handlers to the chain of id, or registers a filter when id
// ends with Wildcard. It fails on a misplaced wildcard, a zero Handler, a
// reference to an unregistered method, an id rejected by ValidateMethod, or
// after Seal.
func (d *Dispatcher) Register(id string, handlers ...Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return fmt.Errorf("%w: %s", ErrSealed, id)
	}
	wildcardAt := strings.Index(id, Wildcard)
	if wildcardAt >= 0 && wildcardAt != len(id)-1 {
		return fmt.Errorf("%w: %q", ErrInvalidWildcard, id)
	}
	if d.validate != nil {
		if err := d.validate(id); err != nil {
			return fmt.Errorf("%s - method %q not declared: %w", logPrefix, id, err)
		}
	}

	links, err := d.resolveLocked(handlers)
	if err != nil {
		return fmt.Errorf("%s - register %q: %w", logPrefix, id, err)
	}

	if wildcardAt < 0 {
		d.registerMethodLocked(id, links)
		return nil
	}

	f := filter{prefix: id[:wildcardAt], links: links}
	for _, methodID := range d.order {
		d.applyIfMatches(f, methodID)
	}
	d.filters = append(d.filters, f)
	slog.Debug(fmt.Sprintf("%s - filter %s registered with %d handlers", logPrefix, id, len(links)))
	return nil
}

// MustRegister is Register for startup code: it panics on error.
func (d *Dispatcher) MustRegister(id string, handlers ...Handler) {
	if err := d.Register(id, handlers...); err != nil {
		panic(err)
	}
}

func (d *Dispatcher) registerMethodLocked(id string, links []link) {
	e, ok := d.methods[id]
	if !ok {
		e = &entry{}
		d.methods[id] = e
		d.order = append(d.order, id)
		for _, f := range d.filters {
			d.applyIfMatches(f, id)
		}
	}
	e.own = append(e.own, links...)
}

func (d *Dispatcher) applyIfMatches(f filter, methodID string) {
	if strings.HasPrefix(methodID, f.prefix) {
		e := d.methods[methodID]
		e.filtered = append(e.filtered, f.links...)
	}
}

// resolveLocked turns handlers into links, copying referenced chains.
func (d *Dispatcher) resolveLocked(handlers []Handler) ([]link, error) {
	var links []link
	for i, h := range handlers {
		switch h.kind {
		case kindFunc:
			links = append(links, link{name: h.name, fn: h.fn})
		case kindRef:
			e, ok := d.methods[h.ref]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownRef, h.ref)
			}
			links = append(links, e.chain()...)
		default:
			return nil, fmt.Errorf("%w (position %d)", ErrInvalidHandler, i)
		}
	}
	return links, nil
}

// Seal ends the registration phase.
func (d *Dispatcher) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

// GetMethodKeys returns the registered concrete method ids, in registration order.
func (d *Dispatcher) GetMethodKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, len(d.order))
	copy(keys, d.order)
	return keys
}

// NewMethodContext creates a MethodContext traced by the dispatcher's provider.
func (d *Dispatcher) NewMethodContext(ctx context.Context, methodID, username, source string) *MethodContext {
	return NewMethodContext(methodID, username, source, d.tracing.New(ctx))
}

// Call runs the chain of mc.MethodID. It returns either a result to be written
// or drained by the caller, or an error, never both.
func (d *Dispatcher) Call(ctx context.Context, mc *MethodContext, params Params) (*result.Result, error) {
	d.mu.RLock()
	e, ok := d.methods[mc.MethodID]
	var chain []link
	if ok {
		chain = e.chain()
	}
	d.mu.RUnlock()
	if !ok {
		return nil, apierrors.InvalidMethod(mc.MethodID)
	}

	tr := mc.Tracing
	if tr == nil {
		tr = tracing.Noop{}
	}
	tags := map[string]string{}
	if mc.Username != "" {
		tags["username"] = mc.Username
	}
	apiSpan := "api:" + mc.MethodID
	tr.StartSpan(apiSpan, tags, "")

	res := result.New(result.Options{ArrayLimit: d.arrayLimit, Tracing: tr, Meta: d.meta})

	unnamed := 0
	for _, l := range chain {
		name := l.name
		if name == "" {
			name = fmt.Sprintf("%s.unnamed%d", mc.MethodID, unnamed)
			unnamed++
		}
		if err := runLink(ctx, tr, apiSpan, "fn:"+name, l.fn, mc, params, res); err != nil {
			res.Abort()
			tr.SetError(apiSpan, err)
			tr.FinishSpan(apiSpan)
			if apiErr, ok := apierrors.AsAPIError(err); ok {
				return nil, apiErr
			}
			slog.Error(fmt.Sprintf("%s - %s failed in %s: %v", logPrefix, mc.MethodID, name, err))
			return nil, apierrors.UnexpectedError(err)
		}
	}

	if d.auditor != nil {
		auditCtx := context.WithoutCancel(ctx)
		res.OnEnd(func() {
			if err := d.auditor.ValidAPICall(auditCtx, mc, res); err != nil {
				slog.Warn(fmt.Sprintf("%s - audit of %s failed: %v", logPrefix, mc.MethodID, err))
			}
		})
	}
	tr.FinishSpan(apiSpan)
	return res, nil
}

// runLink runs one handler inside its own span. A panic is reported as the
// handler's error.
func runLink(ctx context.Context, tr tracing.Tracing, parent, spanName string, fn HandlerFunc, mc *MethodContext, params Params, res *result.Result) (err error) {
	tr.StartSpan(spanName, nil, parent)
	defer func() {
		if r := recover(); r != nil {
			if rErr, ok := r.(error); ok {
				err = rErr
			} else {
				err = fmt.Errorf("%s - %s panicked: %v", logPrefix, spanName, r)
			}
		}
		if err != nil {
			tr.SetError(spanName, err)
		}
		tr.FinishSpan(spanName)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, mc, params, res)
}
