// Package methods registers the API methods served by the dispatcher.
package methods

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/changes"
	"github.com/morezero/api-server/pkg/db"
	"github.com/morezero/api-server/pkg/result"
	"github.com/morezero/api-server/pkg/serviceinfo"
)

const logPrefix = "methods:methods"

// StreamStore reads and writes a user's streams.
type StreamStore interface {
	ListStreams(ctx context.Context, username string) ([]*db.Stream, error)
	ListStreamDeletions(ctx context.Context, username string, since float64) ([]db.ItemDeletion, error)
	CreateStream(ctx context.Context, username string, s *db.Stream) (*db.Stream, error)
}

// EventStore opens cursors over a user's events.
type EventStore interface {
	EventsCursor(username string, q db.EventsQuery) result.Stream
	EventDeletionsCursor(username string, since float64) result.Stream
}

// Deps are the collaborators of the registered methods.
type Deps struct {
	Streams     StreamStore
	Events      EventStore
	ServiceInfo *serviceinfo.Info
	// Changes is told about successful writes. Defaults to changes.NoOpPublisher.
	Changes changes.Publisher
	// Now defaults to time.Now.
	Now func() time.Time
}

type methods struct {
	deps Deps
}

// Register adds the filters and methods of this package to d.
func Register(d *api.Dispatcher, deps Deps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Changes == nil {
		deps.Changes = changes.NoOpPublisher{}
	}
	m := &methods{deps: deps}

	registrations := []struct {
		id       string
		handlers []api.Handler
	}{
		{api.Wildcard, []api.Handler{api.Named("logCall", logCall)}},
		{"streams.*", []api.Handler{api.Named("requireUsername", requireUsername)}},
		{"events.*", []api.Handler{api.Named("requireUsername", requireUsername)}},
		{"service.info", []api.Handler{api.Named("serviceInfo", m.serviceInfo)}},
		{"streams.get", []api.Handler{streamsGetSchema.handler(), api.Named("getStreams", m.getStreams)}},
		{"streams.create", []api.Handler{streamsCreateSchema.handler(), api.Named("createStream", m.createStream)}},
		{"events.get", []api.Handler{eventsGetSchema.handler(), api.Named("getEvents", m.getEvents)}},
	}
	for _, r := range registrations {
		if err := d.Register(r.id, r.handlers...); err != nil {
			return fmt.Errorf("%s - %w", logPrefix, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - Registered %d methods", logPrefix, len(d.GetMethodKeys())))
	return nil
}

// ParamSchemas returns the JSON schema of the params of each method that
// declares one, keyed by method id.
func ParamSchemas() map[string]map[string]any {
	return map[string]map[string]any{
		"streams.get":    streamsGetSchema.doc,
		"streams.create": streamsCreateSchema.doc,
		"events.get":     eventsGetSchema.doc,
	}
}

func logCall(_ context.Context, mc *api.MethodContext, params api.Params, _ *result.Result) error {
	slog.Debug(fmt.Sprintf("%s - call %s id=%s user=%s source=%s params=%d",
		logPrefix, mc.MethodID, mc.CallID, mc.Username, mc.Source, len(params)))
	return nil
}

func requireUsername(_ context.Context, mc *api.MethodContext, _ api.Params, _ *result.Result) error {
	if mc.Username == "" {
		return apierrors.InvalidRequestStructure(fmt.Sprintf("Method %s requires a username.", mc.MethodID))
	}
	return nil
}

func (m *methods) serviceInfo(_ context.Context, _ *api.MethodContext, _ api.Params, res *result.Result) error {
	if m.deps.ServiceInfo == nil {
		return apierrors.UnexpectedError(fmt.Errorf("%s - service info not configured", logPrefix))
	}
	for k, v := range m.deps.ServiceInfo.AsMap() {
		res.Set(k, v)
	}
	return nil
}

// notifyChanged publishes a change notification. A failed publish does not
// fail the call.
func (m *methods) notifyChanged(ctx context.Context, mc *api.MethodContext, kind string, itemIDs ...string) {
	event := &changes.ChangedEvent{
		Username:  mc.Username,
		Kind:      kind,
		MethodID:  mc.MethodID,
		ItemIDs:   itemIDs,
		Timestamp: m.deps.Now().UTC().Format(time.RFC3339),
	}
	if err := m.deps.Changes.PublishChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - change notification for %s failed: %v", logPrefix, mc.MethodID, err))
	}
}

// timestamp returns now in seconds since the epoch, millisecond precision.
func (m *methods) timestamp() float64 {
	return float64(m.deps.Now().UnixMilli()) / 1000
}
