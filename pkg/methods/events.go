package methods

import (
	"context"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/db"
	"github.com/morezero/api-server/pkg/result"
)

// DefaultEventsLimit applies per stream when no time range is given.
const DefaultEventsLimit = 20

var eventsGetSchema = mustCompileSchema("events.get.json", `{
	"type": "object",
	"properties": {
		"streams": {"type": "array", "items": {"type": "string"}},
		"fromTime": {"type": "number"},
		"toTime": {"type": "number"},
		"state": {"type": "string", "enum": ["default", "trashed", "all"]},
		"limit": {"type": "integer", "minimum": 1},
		"includeDeletions": {"type": "boolean"},
		"modifiedSince": {"type": "number"}
	},
	"additionalProperties": false
}`)

type eventsGetParams struct {
	Streams          []string `mapstructure:"streams"`
	FromTime         *float64 `mapstructure:"fromTime"`
	ToTime           *float64 `mapstructure:"toTime"`
	State            string   `mapstructure:"state"`
	Limit            int      `mapstructure:"limit"`
	IncludeDeletions bool     `mapstructure:"includeDeletions"`
	ModifiedSince    *float64 `mapstructure:"modifiedSince"`
}

// getEvents streams the events of the requested streams, and of their
// descendants, as one "events" array. Each stream gets its own cursor.
func (m *methods) getEvents(ctx context.Context, mc *api.MethodContext, params api.Params, res *result.Result) error {
	var p eventsGetParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}

	ids, err := m.resolveEventStreams(ctx, mc.Username, p)
	if err != nil {
		return err
	}

	limit := p.Limit
	if limit == 0 && p.FromTime == nil && p.ToTime == nil {
		limit = DefaultEventsLimit
	}

	seen := map[string]bool{}
	for _, id := range ids {
		cursor := m.deps.Events.EventsCursor(mc.Username, db.EventsQuery{
			StreamID: id,
			FromTime: p.FromTime,
			ToTime:   p.ToTime,
			State:    p.State,
			Limit:    limit,
		})
		if err := res.AddToConcatArrayStream("events", &uniqueEvents{src: cursor, seen: seen}); err != nil {
			cursor.Close()
			return apierrors.UnexpectedError(err)
		}
	}
	if len(ids) == 0 {
		res.AddStream("events", result.NewSliceStream())
	}
	res.CloseConcatArrayStream("events")

	if p.IncludeDeletions {
		since := 0.0
		if p.ModifiedSince != nil {
			since = *p.ModifiedSince
		}
		res.AddStream("eventDeletions", m.deps.Events.EventDeletionsCursor(mc.Username, since))
	}
	return nil
}

// resolveEventStreams returns the stream ids to read, parents before children.
func (m *methods) resolveEventStreams(ctx context.Context, username string, p eventsGetParams) ([]string, error) {
	all, err := m.deps.Streams.ListStreams(ctx, username)
	if err != nil {
		return nil, apierrors.UnexpectedError(err)
	}
	roots := buildTree(all)
	includeTrashed := p.State == db.StateAll || p.State == db.StateTrashed

	if len(p.Streams) == 0 {
		if !includeTrashed {
			roots = withoutTrashed(roots)
		}
		return streamIDs(roots, nil), nil
	}

	var ids []string
	for _, id := range p.Streams {
		s := findStream(roots, id)
		if s == nil {
			return nil, apierrors.UnknownResource("stream", id)
		}
		children := s.Children
		if !includeTrashed {
			children = withoutTrashed(children)
		}
		ids = append(ids, s.ID)
		ids = streamIDs(children, ids)
	}
	return ids, nil
}

// uniqueEvents skips events already yielded by a sibling cursor, for events
// filed in more than one of the requested streams. Cursors sharing seen must
// be read one after the other.
type uniqueEvents struct {
	src  result.Stream
	seen map[string]bool
}

func (u *uniqueEvents) Next(ctx context.Context) (any, error) {
	for {
		item, err := u.src.Next(ctx)
		if err != nil {
			return nil, err
		}
		e, ok := item.(*db.Event)
		if !ok {
			return item, nil
		}
		if u.seen[e.ID] {
			continue
		}
		u.seen[e.ID] = true
		return e, nil
	}
}

func (u *uniqueEvents) Close() error {
	return u.src.Close()
}
