package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearData removes the streams and events of username, or of every user when
// username is empty. The schema is preserved.
func ClearData(ctx context.Context, pool *pgxpool.Pool, username string) error {
	if username == "" {
		slog.Info(fmt.Sprintf("%s - Clearing all users", clearLogPrefix))
		if _, err := pool.Exec(ctx, `TRUNCATE TABLE events, streams`); err != nil {
			return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
		}
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Clearing user %s", clearLogPrefix, username))
	batch := []string{
		`DELETE FROM events WHERE username = $1`,
		`DELETE FROM streams WHERE username = $1`,
	}
	for _, sql := range batch {
		if _, err := pool.Exec(ctx, sql, username); err != nil {
			return fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
		}
	}
	return nil
}
