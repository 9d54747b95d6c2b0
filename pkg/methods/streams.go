package methods

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/changes"
	"github.com/morezero/api-server/pkg/db"
	"github.com/morezero/api-server/pkg/result"
)

var streamsGetSchema = mustCompileSchema("streams.get.json", `{
	"type": "object",
	"properties": {
		"parentId": {"type": ["string", "null"]},
		"state": {"type": "string", "enum": ["default", "all"]},
		"includeDeletionsSince": {"type": "number"}
	},
	"additionalProperties": false
}`)

var streamsCreateSchema = mustCompileSchema("streams.create.json", `{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1, "pattern": "^[a-zA-Z0-9_.:-]+$"},
		"name": {"type": "string", "minLength": 1},
		"parentId": {"type": ["string", "null"]},
		"clientData": {"type": "object"},
		"trashed": {"type": "boolean"}
	},
	"required": ["name"],
	"additionalProperties": false
}`)

type streamsGetParams struct {
	ParentID              *string  `mapstructure:"parentId"`
	State                 string   `mapstructure:"state"`
	IncludeDeletionsSince *float64 `mapstructure:"includeDeletionsSince"`
}

type streamsCreateParams struct {
	ID         string         `mapstructure:"id"`
	Name       string         `mapstructure:"name"`
	ParentID   *string        `mapstructure:"parentId"`
	ClientData map[string]any `mapstructure:"clientData"`
	Trashed    bool           `mapstructure:"trashed"`
}

func (m *methods) getStreams(ctx context.Context, mc *api.MethodContext, params api.Params, res *result.Result) error {
	var p streamsGetParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}

	all, err := m.deps.Streams.ListStreams(ctx, mc.Username)
	if err != nil {
		return apierrors.UnexpectedError(err)
	}
	roots := buildTree(all)

	if p.ParentID != nil {
		parent := findStream(roots, *p.ParentID)
		if parent == nil {
			return apierrors.UnknownResource("stream", *p.ParentID)
		}
		roots = parent.Children
	}
	if p.State != db.StateAll {
		roots = withoutTrashed(roots)
	}
	res.Set("streams", roots)

	if p.IncludeDeletionsSince != nil {
		deletions, err := m.deps.Streams.ListStreamDeletions(ctx, mc.Username, *p.IncludeDeletionsSince)
		if err != nil {
			return apierrors.UnexpectedError(err)
		}
		res.Set("streamDeletions", deletions)
	}
	return nil
}

func (m *methods) createStream(ctx context.Context, mc *api.MethodContext, params api.Params, res *result.Result) error {
	var p streamsCreateParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	now := m.timestamp()
	s := &db.Stream{
		ID:         p.ID,
		Name:       p.Name,
		ParentID:   p.ParentID,
		ClientData: p.ClientData,
		Trashed:    p.Trashed,
		Created:    now,
		CreatedBy:  mc.Username,
		Modified:   now,
		ModifiedBy: mc.Username,
	}

	created, err := m.deps.Streams.CreateStream(ctx, mc.Username, s)
	switch {
	case errors.Is(err, db.ErrAlreadyExists):
		return apierrors.ItemAlreadyExists("stream", p.ID)
	case errors.Is(err, db.ErrUnknownParent):
		return apierrors.UnknownResource("stream", *p.ParentID)
	case err != nil:
		return apierrors.UnexpectedError(fmt.Errorf("%s - create stream: %w", logPrefix, err))
	}
	res.Set("stream", created)
	m.notifyChanged(ctx, mc, changes.KindStreams, created.ID)
	return nil
}

// buildTree links a flat stream list into a forest, keeping list order among
// siblings. A stream whose parent is missing becomes a root.
func buildTree(flat []*db.Stream) []*db.Stream {
	byID := make(map[string]*db.Stream, len(flat))
	for _, s := range flat {
		s.Children = []*db.Stream{}
		byID[s.ID] = s
	}
	roots := []*db.Stream{}
	for _, s := range flat {
		if s.ParentID != nil {
			if parent, ok := byID[*s.ParentID]; ok && parent != s {
				parent.Children = append(parent.Children, s)
				continue
			}
		}
		roots = append(roots, s)
	}
	return roots
}

func findStream(streams []*db.Stream, id string) *db.Stream {
	for _, s := range streams {
		if s.ID == id {
			return s
		}
		if found := findStream(s.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// withoutTrashed returns copies of streams with trashed streams and their
// descendants removed.
func withoutTrashed(streams []*db.Stream) []*db.Stream {
	out := []*db.Stream{}
	for _, s := range streams {
		if s.Trashed {
			continue
		}
		c := *s
		c.Children = withoutTrashed(s.Children)
		out = append(out, &c)
	}
	return out
}

// streamIDs lists the ids of streams and all their descendants.
func streamIDs(streams []*db.Stream, out []string) []string {
	for _, s := range streams {
		out = append(out, s.ID)
		out = streamIDs(s.Children, out)
	}
	return out
}
