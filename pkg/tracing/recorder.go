package tracing

import (
	"context"
	"sync"
)

// Event is one call recorded by a Recorder.
type Event struct {
	Op     string // "start", "finish" or "error"
	Name   string
	Parent string
	Tags   map[string]string
	Err    error
}

// Recorder is a Tracing that records every call (for testing).
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorderProvider returns a Provider that always hands out rec.
func NewRecorderProvider(rec *Recorder) Provider {
	return ProviderFunc(func(context.Context) Tracing { return rec })
}

func (r *Recorder) StartSpan(name string, tags map[string]string, parent string) {
	r.record(Event{Op: "start", Name: name, Parent: parent, Tags: tags})
}

func (r *Recorder) FinishSpan(name string) {
	r.record(Event{Op: "finish", Name: name})
}

func (r *Recorder) SetError(name string, err error) {
	r.record(Event{Op: "error", Name: name, Err: err})
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Open returns the names of spans started but not yet finished, in start order.
func (r *Recorder) Open() []string {
	var open []string
	for _, e := range r.Events() {
		switch e.Op {
		case "start":
			open = append(open, e.Name)
		case "finish":
			for i, n := range open {
				if n == e.Name {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		}
	}
	return open
}
