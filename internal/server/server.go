// Package server orchestrates all components: DB, dispatcher, COMMS client, HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/morezero/api-server/internal/config"
	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/audit"
	"github.com/morezero/api-server/pkg/changes"
	"github.com/morezero/api-server/pkg/commsutil"
	"github.com/morezero/api-server/pkg/db"
	"github.com/morezero/api-server/pkg/meta"
	"github.com/morezero/api-server/pkg/methods"
	"github.com/morezero/api-server/pkg/serviceinfo"
	"github.com/morezero/api-server/pkg/tracing"
	"github.com/morezero/api-server/pkg/transport"
)

const logPrefix = "server:server"

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the api-server orchestrator.
type Server struct {
	cfg        *config.Config
	pool       *pgxpool.Pool
	nc         *comms.Conn
	dispatcher *api.Dispatcher
	httpServer *http.Server

	shutdownTracing func(context.Context) error
}

// Run loads the components described by cfg, serves until SIGINT or SIGTERM
// (or ctx is done), then cleans up.
func Run(ctx context.Context, cfg *config.Config) error {
	logFile := SetupLogging(cfg.LogLevel, cfg.LogFile)
	if logFile != nil {
		defer logFile.Close()
	}

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting api-server", logPrefix))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, httpAddr, err)
	}
	return s.Serve(ctx, ln)
}

// SetupLogging installs the default slog logger at level. When file is set,
// logs also go to that file, rotated by size; the returned logger must then
// be closed.
func SetupLogging(level, file string) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var rotated *lumberjack.Logger
	if file != "" {
		rotated = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rotated)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)})))
	return rotated
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New connects to the database (and COMMS when enabled), applies migrations
// and fixtures as configured, and builds the sealed dispatcher and HTTP API.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	tp, shutdown, err := newTracing(cfg.TracingEnabled, os.Stdout)
	if err != nil {
		return nil, err
	}
	s.shutdownTracing = shutdown

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	if cfg.SeedFixturesFile != "" {
		fixtures, err := db.LoadFixtures(cfg.SeedFixturesFile)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load fixtures: %w", logPrefix, err)
		}
		if err := db.SeedFixtures(ctx, pool, cfg.SeedUsername, fixtures); err != nil {
			return nil, fmt.Errorf("%s - failed to seed fixtures: %w", logPrefix, err)
		}
	}

	if cfg.COMMSEnabled {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, 0)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
	}

	metaProvider, err := meta.New(cfg.APIVersion, cfg.ServerSerial)
	if err != nil {
		return nil, err
	}

	var auditor api.Auditor = audit.NoOpAuditor{}
	if cfg.AuditActive {
		auditor = audit.NewCommsAuditor(s.nc, &audit.CommsAuditorOpts{GlobalSubject: cfg.AuditSubject})
	}
	var publisher changes.Publisher = changes.NoOpPublisher{}
	if s.nc != nil {
		publisher = changes.NewCommsPublisher(s.nc, &changes.CommsPublisherOpts{GlobalChangeSubject: cfg.ChangeEventSubject})
	}

	repo := db.NewRepository(pool)
	d, err := newDispatcher(cfg, methods.Deps{
		Streams:     repo,
		Events:      repo,
		ServiceInfo: newServiceInfo(cfg),
		Changes:     publisher,
	}, api.Options{
		Tracing: tp,
		Meta:    metaProvider.Meta,
		Auditor: auditor,
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher = d
	s.httpServer = &http.Server{
		Handler: transport.NewHTTPHandler(d, transport.HTTPOptions{
			Meta:           metaProvider.Meta,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Health:         pool.Ping,
			HealthTimeout:  cfg.HealthCheckTimeout,
			CallTimeout:    cfg.RequestTimeout,
			ServiceName:    cfg.ServiceDisplayName,
			APIVersion:     metaProvider.APIVersion(),
			ParamSchemas:   methods.ParamSchemas(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return s, nil
}

// newDispatcher builds the dispatcher with every method registered, then
// seals it. With audit active, only declared method ids may be registered.
func newDispatcher(cfg *config.Config, deps methods.Deps, opts api.Options) (*api.Dispatcher, error) {
	opts.ArrayLimit = cfg.ResultArrayLimit
	if cfg.AuditActive {
		opts.ValidateMethod = audit.LoadDeclaredMethods(cfg.AuditMethodsFile).Validate
	}
	d := api.New(opts)
	if err := methods.Register(d, deps); err != nil {
		return nil, fmt.Errorf("%s - failed to register methods: %w", logPrefix, err)
	}
	d.Seal()
	return d, nil
}

func newServiceInfo(cfg *config.Config) *serviceinfo.Info {
	return serviceinfo.New(cfg.ServiceAPIURL, cfg.ServiceAccessURL, cfg.ServiceRegisterURL,
		cfg.ServiceHomeURL, cfg.ServiceDisplayName, cfg.TemplateVersion)
}

// MethodKeys returns the method ids the server registers under cfg, without
// connecting to anything.
func MethodKeys(cfg *config.Config) ([]string, error) {
	d, err := newDispatcher(cfg, methods.Deps{ServiceInfo: newServiceInfo(cfg)}, api.Options{})
	if err != nil {
		return nil, err
	}
	return d.GetMethodKeys(), nil
}

// newTracing returns the span provider of the dispatcher. When enabled, spans
// are exported as JSON to w.
func newTracing(enabled bool, w io.Writer) (tracing.Provider, func(context.Context) error, error) {
	if !enabled {
		return tracing.NoopProvider{}, func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("%s - failed to create trace exporter: %w", logPrefix, err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	slog.Info(fmt.Sprintf("%s - Tracing enabled", logPrefix))
	return tracing.NewOtelProvider(tp.Tracer("api-server")), tp.Shutdown, nil
}

// Serve answers HTTP calls on ln, and COMMS calls when connected, until ctx
// is done. The HTTP server is then shut down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.nc != nil {
		sub, err := transport.SubscribeCalls(ctx, s.nc, s.dispatcher, transport.CommsOptions{
			Subject:    s.cfg.APICallSubject,
			QueueGroup: s.cfg.COMMSName,
			Timeout:    s.cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, ln.Addr()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	slog.Info(fmt.Sprintf("%s - api-server is ready", logPrefix))
	return g.Wait()
}

// Close releases the COMMS connection, the pool and the tracer.
func (s *Server) Close() {
	commsutil.Drain(s.nc)
	if s.pool != nil {
		s.pool.Close()
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.shutdownTracing(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - tracer shutdown: %v", logPrefix, err))
		}
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}
