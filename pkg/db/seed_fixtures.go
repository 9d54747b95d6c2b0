package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const seedLogPrefix = "db:seed"

// Ids of the stream tree that holds migrated tags.
const (
	TagRootStreamID = "tags-migrated"
	TagPrefix       = "tag-migrated-"
)

// Fixtures is the data loaded by SeedFixtures. Streams are given as trees.
type Fixtures struct {
	Streams         []*Stream      `json:"streams"`
	StreamDeletions []ItemDeletion `json:"streamDeletions"`
	Events          []*Event       `json:"events"`
}

// LoadFixtures reads fixtures from a JSON file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - read %s: %w", seedLogPrefix, path, err)
	}
	var f Fixtures
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s - parse %s: %w", seedLogPrefix, path, err)
	}
	return &f, nil
}

// DefaultFixtures returns the built-in test data set, with times relative to now.
func DefaultFixtures(now time.Time) *Fixtures {
	ts := func(ago time.Duration) float64 {
		return float64(now.Add(-ago).UnixMilli()) / 1000
	}
	node := func(id, name string, parent *string, trashed bool, created float64, children ...*Stream) *Stream {
		s := &Stream{
			ID: id, Name: name, ParentID: parent, Trashed: trashed,
			Created: created, CreatedBy: "test", Modified: created, ModifiedBy: "test",
			Children: children,
		}
		for _, c := range children {
			c.ParentID = &s.ID
		}
		if s.Children == nil {
			s.Children = []*Stream{}
		}
		return s
	}
	t0 := ts(0)
	tagsCreated := 1632320812.196
	tag := func(name string) *Stream {
		return node(TagPrefix+name, name, nil, false, tagsCreated)
	}

	s1 := node("s_1", "Root Stream 1", nil, false, t0,
		node("s_1_0", "Child Stream 1.0", nil, false, t0))
	s1.ClientData = map[string]interface{}{"stringProp": "O Brother", "numberProp": float64(1)}

	streams := []*Stream{
		node("s_0", "Root Stream 0", nil, false, t0,
			node("s_0_0", "Child Stream 0.0", nil, false, t0),
			node("s_0_1", "Child Stream 0.1", nil, false, t0)),
		s1,
		node("s_2", "Root Stream 2", nil, false, t0,
			node("s_2_0", "Child Stream 2.0 (trashed)", nil, true, t0,
				node("s_2_0_0", "Child Stream 2.0.0", nil, false, t0)),
			node("s_2_1", "Child Stream 2.1", nil, false, t0,
				node("s_2_1_0", "Child Stream 2.1.0", nil, false, t0))),
		node("s_3", "Root Stream 3 (trashed)", nil, true, t0,
			node("s_3_0", "Child Stream 3.0", nil, false, t0)),
		node("s_7", "Root Stream 7 - for auditing", nil, false, ts(10*time.Hour),
			node("s_7_0", "Child Stream 7.0, event is trashed, used for merge on delete", nil, true, t0)),
		node("s_8", "Root Stream 8 - for auditing", nil, false, ts(10*time.Hour)),
		node(TagRootStreamID, "Tags Migrated", nil, false, t0,
			tag("cali"), tag("docious"), tag("expiali"), tag("fragilistic"), tag("super")),
	}

	event := func(id string, streamIDs []string, typ string, content interface{}, ago time.Duration, trashed bool) *Event {
		at := ts(ago)
		return &Event{
			ID: id, StreamIDs: streamIDs, Type: typ, Content: content, Time: at, Trashed: trashed,
			Created: at, CreatedBy: "test", Modified: at, ModifiedBy: "test",
		}
	}

	return &Fixtures{
		Streams: streams,
		StreamDeletions: []ItemDeletion{
			{ID: "s_4", Deleted: ts(5 * time.Minute)},
			{ID: "s_5", Deleted: ts(24 * time.Hour)},
			{ID: "s_6", Deleted: ts(2 * 365 * 24 * time.Hour)},
		},
		Events: []*Event{
			event("e_0", []string{"s_0"}, "note/txt", "First note", 4*time.Hour, false),
			event("e_1", []string{"s_0", "s_1"}, "mass/kg", float64(72.5), 3*time.Hour, false),
			event("e_2", []string{"s_1"}, "note/txt", "Second note", 2*time.Hour, false),
			event("e_3", []string{"s_1_0"}, "activity/plain", nil, time.Hour, true),
			event("e_4", []string{"s_7_0"}, "note/txt", "trashed audit event", 30*time.Minute, true),
		},
	}
}

// SeedFixtures inserts f for username. Items that already exist are skipped,
// so seeding twice is harmless.
func SeedFixtures(ctx context.Context, pool *pgxpool.Pool, username string, f *Fixtures) error {
	repo := NewRepository(pool)

	var inserted, skipped int
	for _, s := range flattenStreams(f.Streams) {
		_, err := repo.CreateStream(ctx, username, s)
		switch {
		case errors.Is(err, ErrAlreadyExists):
			skipped++
		case err != nil:
			return fmt.Errorf("%s - stream %s: %w", seedLogPrefix, s.ID, err)
		default:
			inserted++
		}
	}
	for _, d := range f.StreamDeletions {
		if err := repo.insertStreamDeletion(ctx, username, d); err != nil {
			return err
		}
	}
	for _, e := range f.Events {
		err := repo.CreateEvent(ctx, username, e)
		switch {
		case errors.Is(err, ErrAlreadyExists):
			skipped++
		case err != nil:
			return fmt.Errorf("%s - event %s: %w", seedLogPrefix, e.ID, err)
		default:
			inserted++
		}
	}

	slog.Info(fmt.Sprintf("%s - Seeded user %s: %d inserted, %d skipped, %d deletions",
		seedLogPrefix, username, inserted, skipped, len(f.StreamDeletions)))
	return nil
}

// flattenStreams lists a stream forest parents first, setting each child's
// ParentID from its position in the tree.
func flattenStreams(roots []*Stream) []*Stream {
	var out []*Stream
	var walk func(parent *string, streams []*Stream)
	walk = func(parent *string, streams []*Stream) {
		for _, s := range streams {
			if parent != nil {
				id := *parent
				s.ParentID = &id
			}
			out = append(out, s)
			walk(&s.ID, s.Children)
		}
	}
	walk(nil, roots)
	return out
}
