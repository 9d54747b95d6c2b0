package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/morezero/api-server/internal/config"
	"github.com/morezero/api-server/internal/server"
	"github.com/morezero/api-server/pkg/db"
)

// defaultTestDatabase is the database created by ensure-db without a name.
const defaultTestDatabase = "api_server_test"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-server",
		Short: "api-server - method dispatch API over HTTP, WebSocket and COMMS",
		Long: `api-server registers the API methods and answers calls over HTTP,
WebSocket and, when COMMS_ENABLED is set, NATS request/reply.

Without a command it serves. Configuration comes from the environment:
DATABASE_URL, MIGRATION_PATH, HTTP_PORT, COMMS_ENABLED, COMMS_URL, LOG_LEVEL.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serveE,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newEnsureDBCommand())
	cmd.AddCommand(newClearCommand())
	cmd.AddCommand(newSeedCommand())
	cmd.AddCommand(newMethodsCommand())

	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server (default)",
		Args:  cobra.NoArgs,
		RunE:  serveE,
	}
}

func serveE(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return server.Run(cmd.Context(), cfg)
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, _ *cobra.Command, _ []string) error {
			migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			return db.RunMigrations(ctx, pool, migrations)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, _ *cobra.Command, _ []string) error {
			return db.MigrationDown(ctx, pool, cfg.MigrationPath)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, _ *cobra.Command, _ []string) error {
			return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
		}),
	})
	return cmd
}

func newEnsureDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-db [name]",
		Short: "Create a database on the DATABASE_URL host if missing",
		Long: fmt.Sprintf(`Create a database on the same host as DATABASE_URL, with the same
credentials, when it does not exist yet. The name defaults to %s.`, defaultTestDatabase),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDBConfig()
			if err != nil {
				return err
			}
			name := defaultTestDatabase
			if len(args) == 1 && args[0] != "" {
				name = args[0]
			}
			target, err := db.WithDatabase(cfg.DatabaseURL, name)
			if err != nil {
				return err
			}
			if err := db.EnsureDatabase(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %q is ready.\n", name)
			return nil
		},
	}
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [username]",
		Short: "Delete stored data, of one user or of everyone; schema is preserved",
		Args:  cobra.MaximumNArgs(1),
		RunE: withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, _ *cobra.Command, args []string) error {
			username := ""
			if len(args) == 1 {
				username = args[0]
			}
			return db.ClearData(ctx, pool, username)
		}),
	}
}

func newSeedCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Load fixture streams and events for a user",
		Long: `Load streams, stream deletions and events for --username from a JSON
fixtures file, or the built-in fixtures when no file is given. Existing
items are left untouched.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(*cobra.Command, []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			return nil
		},
		RunE: withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, _ *cobra.Command, args []string) error {
			fixtures := db.DefaultFixtures(time.Now())
			if len(args) == 1 {
				var err error
				if fixtures, err = db.LoadFixtures(args[0]); err != nil {
					return err
				}
			}
			return db.SeedFixtures(ctx, pool, username, fixtures)
		}),
	}
	cmd.Flags().StringVar(&username, "username", "", "Owner of the seeded data")
	return cmd
}

func newMethodsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the registered API method ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			keys, err := server.MethodKeys(cfg)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	server.SetupLogging(cfg.LogLevel, "")
	return cfg, nil
}

type poolRunE func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, cmd *cobra.Command, args []string) error

// withPool runs fn with a pool connected to DATABASE_URL.
func withPool(fn poolRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadDBConfig()
		if err != nil {
			return err
		}
		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		return fn(cmd.Context(), cfg, pool, cmd, args)
	}
}
