package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/api-server/pkg/result"
)

const repoLogPrefix = "db:repository"

const pgUniqueViolation = "23505"

var (
	// ErrAlreadyExists is returned when an item with the same id, or a sibling
	// stream with the same name, already exists.
	ErrAlreadyExists = errors.New("item already exists")
	// ErrUnknownParent is returned when a stream's parent does not exist.
	ErrUnknownParent = errors.New("unknown parent stream")
)

// Repository provides database access for streams and events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =========================================================================
// STREAM OPERATIONS
// =========================================================================

const streamColumns = `id, name, parent_id, client_data, trashed,
	created, created_by, modified, modified_by`

// ListStreams returns every live stream of username as a flat list ordered by
// name. Deleted streams are left out.
func (r *Repository) ListStreams(ctx context.Context, username string) ([]*Stream, error) {
	slog.Debug(fmt.Sprintf("%s - ListStreams username=%s", repoLogPrefix, username))

	rows, err := r.pool.Query(ctx,
		`SELECT `+streamColumns+`
		 FROM streams
		 WHERE username = $1 AND deleted IS NULL
		 ORDER BY name`, username)
	if err != nil {
		return nil, fmt.Errorf("%s - list streams: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	streams := []*Stream{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list streams: %w", repoLogPrefix, err)
	}
	return streams, nil
}

// ListStreamDeletions returns stream deletions at or after since, newest first.
func (r *Repository) ListStreamDeletions(ctx context.Context, username string, since float64) ([]ItemDeletion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, deleted FROM streams
		 WHERE username = $1 AND deleted IS NOT NULL AND deleted >= $2
		 ORDER BY deleted DESC`, username, since)
	if err != nil {
		return nil, fmt.Errorf("%s - list stream deletions: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	deletions := []ItemDeletion{}
	for rows.Next() {
		var d ItemDeletion
		if err := rows.Scan(&d.ID, &d.Deleted); err != nil {
			return nil, fmt.Errorf("%s - scan stream deletion: %w", repoLogPrefix, err)
		}
		deletions = append(deletions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list stream deletions: %w", repoLogPrefix, err)
	}
	return deletions, nil
}

// CreateStream inserts s for username and returns the stored row.
func (r *Repository) CreateStream(ctx context.Context, username string, s *Stream) (*Stream, error) {
	slog.Info(fmt.Sprintf("%s - CreateStream username=%s id=%s", repoLogPrefix, username, s.ID))

	if s.ParentID != nil {
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM streams WHERE username = $1 AND id = $2 AND deleted IS NULL)`,
			username, *s.ParentID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("%s - check parent: %w", repoLogPrefix, err)
		}
		if !exists {
			return nil, ErrUnknownParent
		}
	}

	clientData, err := marshalJSON(s.ClientData)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO streams (username, id, name, parent_id, client_data, trashed,
		                      created, created_by, modified, modified_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+streamColumns,
		username, s.ID, s.Name, s.ParentID, clientData, s.Trashed,
		s.Created, s.CreatedBy, s.Modified, s.ModifiedBy)

	created, err := scanStream(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return created, nil
}

// insertStreamDeletion records a deleted stream id. Used by fixtures.
func (r *Repository) insertStreamDeletion(ctx context.Context, username string, d ItemDeletion) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO streams (username, id, deleted) VALUES ($1, $2, $3)
		 ON CONFLICT (username, id) DO UPDATE SET deleted = EXCLUDED.deleted`,
		username, d.ID, d.Deleted)
	if err != nil {
		return fmt.Errorf("%s - insert stream deletion %s: %w", repoLogPrefix, d.ID, err)
	}
	return nil
}

// =========================================================================
// EVENT OPERATIONS
// =========================================================================

const eventColumns = `id, stream_ids, type, content, time, duration, trashed,
	created, created_by, modified, modified_by`

// CreateEvent inserts e for username.
func (r *Repository) CreateEvent(ctx context.Context, username string, e *Event) error {
	content, err := marshalJSON(e.Content)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO events (username, id, stream_ids, type, content, time, duration, trashed,
		                     created, created_by, modified, modified_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		username, e.ID, e.StreamIDs, e.Type, content, e.Time, e.Duration, e.Trashed,
		e.Created, e.CreatedBy, e.Modified, e.ModifiedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%s - insert event %s: %w", repoLogPrefix, e.ID, err)
	}
	return nil
}

// EventsCursor returns a lazily opened cursor over the events matching q,
// most recent first. Each item is an *Event.
func (r *Repository) EventsCursor(username string, q EventsQuery) result.Stream {
	sql, args := buildEventsQuery(username, q)
	return NewRowsStream(r.pool, scanEvent, sql, args...)
}

// EventDeletionsCursor returns a lazily opened cursor over event deletions at
// or after since. Each item is an ItemDeletion.
func (r *Repository) EventDeletionsCursor(username string, since float64) result.Stream {
	return NewRowsStream(r.pool, scanDeletion,
		`SELECT id, deleted FROM events
		 WHERE username = $1 AND deleted IS NOT NULL AND deleted >= $2
		 ORDER BY deleted DESC`, username, since)
}

func buildEventsQuery(username string, q EventsQuery) (string, []any) {
	var sb strings.Builder
	args := []any{username, q.StreamID}
	sb.WriteString(`SELECT ` + eventColumns + `
		 FROM events
		 WHERE username = $1 AND deleted IS NULL AND $2 = ANY(stream_ids)`)

	if q.FromTime != nil {
		args = append(args, *q.FromTime)
		sb.WriteString(" AND time >= $" + strconv.Itoa(len(args)))
	}
	if q.ToTime != nil {
		args = append(args, *q.ToTime)
		sb.WriteString(" AND time <= $" + strconv.Itoa(len(args)))
	}
	switch q.State {
	case StateAll:
	case StateTrashed:
		sb.WriteString(" AND trashed = TRUE")
	default:
		sb.WriteString(" AND trashed = FALSE")
	}
	sb.WriteString(" ORDER BY time DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return sb.String(), args
}

// =========================================================================
// SCANNING
// =========================================================================

func scanStream(row pgx.Row) (*Stream, error) {
	var (
		s          Stream
		name       *string
		clientData []byte
		created    *float64
		createdBy  *string
		modified   *float64
		modifiedBy *string
	)
	err := row.Scan(&s.ID, &name, &s.ParentID, &clientData, &s.Trashed,
		&created, &createdBy, &modified, &modifiedBy)
	if err != nil {
		return nil, fmt.Errorf("%s - scan stream: %w", repoLogPrefix, err)
	}
	s.Name = deref(name)
	s.CreatedBy = deref(createdBy)
	s.ModifiedBy = deref(modifiedBy)
	if created != nil {
		s.Created = *created
	}
	if modified != nil {
		s.Modified = *modified
	}
	if len(clientData) > 0 {
		if err := json.Unmarshal(clientData, &s.ClientData); err != nil {
			return nil, fmt.Errorf("%s - decode client data of %s: %w", repoLogPrefix, s.ID, err)
		}
	}
	s.Children = []*Stream{}
	return &s, nil
}

func scanEvent(rows pgx.Rows) (any, error) {
	var (
		e       Event
		content []byte
	)
	err := rows.Scan(&e.ID, &e.StreamIDs, &e.Type, &content, &e.Time, &e.Duration, &e.Trashed,
		&e.Created, &e.CreatedBy, &e.Modified, &e.ModifiedBy)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &e.Content); err != nil {
			return nil, fmt.Errorf("%s - decode content of %s: %w", repoLogPrefix, e.ID, err)
		}
	}
	return &e, nil
}

func scanDeletion(rows pgx.Rows) (any, error) {
	var d ItemDeletion
	if err := rows.Scan(&d.ID, &d.Deleted); err != nil {
		return nil, err
	}
	return d, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok && m == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode json: %w", repoLogPrefix, err)
	}
	return b, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
