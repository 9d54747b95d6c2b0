// Package result holds the object an API method chain writes its output into.
//
// A Result is either plain (named fields, sent as one JSON document) or
// streaming (named item streams, sent as a chunked JSON document whose
// properties are arrays). It is finalised exactly once, either by writing it
// to an HTTP response or by draining it into a map.
package result

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/tracing"
)

const logPrefix = "result:result"

// DefaultArrayLimit bounds drained arrays when Options.ArrayLimit is unset.
const DefaultArrayLimit = 10000

// streamSpanName is the span covering a result's streams, from the first
// stream added until the streams are written, drained or aborted.
const streamSpanName = "result:streams"

// flushThreshold is the amount of buffered output that triggers a flush of
// a chunked response.
const flushThreshold = 16 * 1024

// MetaFunc supplies the common metadata block added to every response.
type MetaFunc func() map[string]any

// Options configures a Result.
type Options struct {
	// ArrayLimit is the maximum number of items a stream may yield when drained by ToObject.
	ArrayLimit int
	Tracing    tracing.Tracing
	Meta       MetaFunc
}

type namedStream struct {
	name   string
	stream Stream
}

// Result accumulates the output of one API call.
type Result struct {
	arrayLimit int
	tracing    tracing.Tracing
	meta       MetaFunc

	fields   map[string]any
	isStream bool
	streams  []namedStream
	concat   map[string]*ConcatStream

	onEnd     []func()
	endOnce   sync.Once
	finalized bool

	spanMu   sync.Mutex
	spanOpen bool
}

// New creates an empty Result.
func New(opts Options) *Result {
	limit := opts.ArrayLimit
	if limit <= 0 {
		limit = DefaultArrayLimit
	}
	return &Result{
		arrayLimit: limit,
		tracing:    opts.Tracing,
		meta:       opts.Meta,
		fields:     make(map[string]any),
		concat:     make(map[string]*ConcatStream),
	}
}

// Set stores a named field.
func (r *Result) Set(name string, value any) {
	r.fields[name] = value
}

// Get returns a named field.
func (r *Result) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the named fields.
func (r *Result) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// AddStream appends a named stream. Streams are written and drained in the
// order they were added.
func (r *Result) AddStream(name string, s Stream) {
	r.isStream = true
	r.streams = append(r.streams, namedStream{name: name, stream: s})
	r.startStreamSpan()
}

// AddToConcatArrayStream queues s as one more source of the array name.
// The array becomes part of the result once CloseConcatArrayStream(name) is called.
func (r *Result) AddToConcatArrayStream(name string, s Stream) error {
	c, ok := r.concat[name]
	if !ok {
		c = NewConcatStream()
		r.concat[name] = c
	}
	if err := c.Add(s); err != nil {
		return fmt.Errorf("%s - add to %q: %w", logPrefix, name, err)
	}
	r.startStreamSpan()
	return nil
}

// CloseConcatArrayStream declares that no more sources will be added to the
// array name, and adds the concatenated array as a regular named stream.
// It does nothing if no source was ever added under name.
func (r *Result) CloseConcatArrayStream(name string) {
	c, ok := r.concat[name]
	if !ok {
		return
	}
	r.AddStream(name, c)
	c.Seal()
}

// IsStreamResult reports whether the result holds streams.
func (r *Result) IsStreamResult() bool {
	return r.isStream
}

// OnEnd registers fn to run once the result has been fully sent or drained.
func (r *Result) OnEnd(fn func()) {
	r.onEnd = append(r.onEnd, fn)
}

func (r *Result) fireEnd() {
	r.endOnce.Do(func() {
		for _, fn := range r.onEnd {
			fn()
		}
	})
}

func (r *Result) finalize() {
	if r.finalized {
		panic(fmt.Sprintf("%s - result already finalized", logPrefix))
	}
	r.finalized = true
}

// discardInternals drops the bookkeeping that only matters before finalisation.
func (r *Result) discardInternals() {
	r.streams = nil
	r.concat = nil
}

func (r *Result) metaBlock() map[string]any {
	if r.meta == nil {
		return map[string]any{}
	}
	m := r.meta()
	if m == nil {
		return map[string]any{}
	}
	return m
}

// WriteToHTTPResponse sends the result with the given success status code.
// Completion callbacks run once the response body has been written.
func (r *Result) WriteToHTTPResponse(ctx context.Context, w http.ResponseWriter, successCode int) error {
	r.finalize()
	defer r.fireEnd()
	if r.isStream {
		return r.writeStreams(ctx, w, successCode)
	}
	return r.writeSingle(w, successCode)
}

func (r *Result) writeSingle(w http.ResponseWriter, successCode int) error {
	body := r.Fields()
	body["meta"] = r.metaBlock()
	r.discardInternals()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(successCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("%s - failed to encode response: %w", logPrefix, err)
	}
	return nil
}

func (r *Result) writeStreams(ctx context.Context, w http.ResponseWriter, successCode int) error {
	if !r.isStream {
		panic(fmt.Sprintf("%s - not a stream result", logPrefix))
	}
	if len(r.streams) < 1 {
		panic(fmt.Sprintf("%s - streams array empty", logPrefix))
	}
	defer r.CloseTracing()

	meta, err := json.Marshal(r.metaBlock())
	if err != nil {
		r.closeStreams(r.streams)
		return fmt.Errorf("%s - failed to encode meta: %w", logPrefix, err)
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Transfer-Encoding", "chunked")
	w.WriteHeader(successCode)

	flusher, _ := w.(http.Flusher)
	bw := bufio.NewWriterSize(w, flushThreshold*2)
	flush := func() error {
		if err := bw.Flush(); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	fw := newFrameWriter(bw)
	streams := r.streams
	r.discardInternals()
	for i, ns := range streams {
		if err := r.writeStream(ctx, fw, ns, bw, flush); err != nil {
			r.closeStreams(streams[i:])
			r.setStreamError(err)
			slog.Warn(fmt.Sprintf("%s - streaming %q aborted: %v", logPrefix, ns.name, err))
			return fmt.Errorf("%s - failed to write stream %q: %w", logPrefix, ns.name, err)
		}
	}

	if err := fw.finish(meta); err != nil {
		return fmt.Errorf("%s - failed to finish response: %w", logPrefix, err)
	}
	return flush()
}

func (r *Result) writeStream(ctx context.Context, fw *frameWriter, ns namedStream, bw *bufio.Writer, flush func() error) error {
	if err := fw.beginProperty(ns.name); err != nil {
		return err
	}
	for {
		item, err := ns.stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := fw.writeItem(data); err != nil {
			return err
		}
		if bw.Buffered() >= flushThreshold {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ns.stream.Close(); err != nil {
		slog.Debug(fmt.Sprintf("%s - closing stream %q: %v", logPrefix, ns.name, err))
	}
	return fw.endProperty()
}

// ToObject finalises the result into a plain map. A streaming result has
// each stream drained, in order, into a list of at most ArrayLimit items;
// the first failing drain aborts the others and no partial data is returned.
func (r *Result) ToObject(ctx context.Context) (map[string]any, error) {
	r.finalize()
	defer r.fireEnd()

	if !r.isStream {
		out := r.Fields()
		r.discardInternals()
		return out, nil
	}

	defer r.CloseTracing()
	streams := r.streams
	r.discardInternals()

	out := make(map[string]any, len(streams))
	for i, ns := range streams {
		list, err := r.drain(ctx, ns)
		if err != nil {
			r.closeStreams(streams[i+1:])
			r.setStreamError(err)
			return nil, err
		}
		out[ns.name] = list
	}
	return out, nil
}

func (r *Result) drain(ctx context.Context, ns namedStream) ([]any, error) {
	defer ns.stream.Close()

	list := make([]any, 0)
	for {
		item, err := ns.stream.Next(ctx)
		if err == io.EOF {
			return list, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s - failed to drain %q: %w", logPrefix, ns.name, err)
		}
		if len(list) >= r.arrayLimit {
			return nil, apierrors.TooManyResults(ns.name, r.arrayLimit)
		}
		list = append(list, item)
	}
}

// Abort releases everything a failed call may have left behind: pending
// streams, unsealed concat builders and the stream span.
func (r *Result) Abort() {
	for name, c := range r.concat {
		if err := c.Close(); err != nil {
			slog.Debug(fmt.Sprintf("%s - closing concat stream %q: %v", logPrefix, name, err))
		}
	}
	r.closeStreams(r.streams)
	r.CloseTracing()
}

func (r *Result) closeStreams(streams []namedStream) {
	var errs []error
	for _, ns := range streams {
		errs = append(errs, ns.stream.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Debug(fmt.Sprintf("%s - closing streams: %v", logPrefix, err))
	}
}

func (r *Result) startStreamSpan() {
	if r.tracing == nil {
		return
	}
	r.spanMu.Lock()
	defer r.spanMu.Unlock()
	if r.spanOpen {
		return
	}
	r.tracing.StartSpan(streamSpanName, nil, "")
	r.spanOpen = true
}

func (r *Result) setStreamError(err error) {
	if r.tracing == nil {
		return
	}
	r.spanMu.Lock()
	defer r.spanMu.Unlock()
	if r.spanOpen {
		r.tracing.SetError(streamSpanName, err)
	}
}

// CloseTracing finishes the stream span if it is still open.
func (r *Result) CloseTracing() {
	if r.tracing == nil {
		return
	}
	r.spanMu.Lock()
	defer r.spanMu.Unlock()
	if !r.spanOpen {
		return
	}
	r.tracing.FinishSpan(streamSpanName)
	r.spanOpen = false
}
