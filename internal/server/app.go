// Package server provides the application composition root: it builds every
// dependency from config, runs the HTTP server and tears everything down.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/analytics"
	"github.com/naoTimesdev/naotimes-og/internal/api"
	"github.com/naoTimesdev/naotimes-og/internal/archive"
	"github.com/naoTimesdev/naotimes-og/internal/config"
	"github.com/naoTimesdev/naotimes-og/internal/id/uuid"
	"github.com/naoTimesdev/naotimes-og/internal/logging"
	"github.com/naoTimesdev/naotimes-og/internal/policy/ratelimit"
	memorypublisher "github.com/naoTimesdev/naotimes-og/internal/publisher/memory"
	gcppublisher "github.com/naoTimesdev/naotimes-og/internal/publisher/pubsub"
	"github.com/naoTimesdev/naotimes-og/internal/render"
	"github.com/naoTimesdev/naotimes-og/internal/render/headless"
	blobstorage "github.com/naoTimesdev/naotimes-og/internal/storage"
	gcsstorage "github.com/naoTimesdev/naotimes-og/internal/storage/gcs"
	localstorage "github.com/naoTimesdev/naotimes-og/internal/storage/local"
	memorystorage "github.com/naoTimesdev/naotimes-og/internal/storage/memory"
	pgstore "github.com/naoTimesdev/naotimes-og/internal/storage/postgres"
	s3storage "github.com/naoTimesdev/naotimes-og/internal/storage/s3"
	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
	"github.com/naoTimesdev/naotimes-og/internal/templates"
	"github.com/naoTimesdev/naotimes-og/internal/thumb"
	"github.com/naoTimesdev/naotimes-og/internal/worker"
)

const (
	limiterIdle = 10 * time.Minute
	// defaultTopic names notifications when pubsub.topic_name is empty and
	// the in-memory publisher is used.
	defaultTopic = "og-renders"
)

// Version is stamped at build time.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	engine    *headless.Engine
	renderer  *render.Renderer
	pool      *worker.Pool
	analytics *analytics.Dispatcher
	archiver  *archive.Archiver
	limiter   *ratelimit.Limiter
	gcs       *storage.Client
	ledger    *pgstore.RenderStore
	publisher *gcppublisher.Publisher
	draining  atomic.Bool

	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Creating application",
		zap.String("address", cfg.Address()),
		zap.Int("render_max_parallel", cfg.Render.MaxParallel),
		zap.Int("workers", cfg.Worker.Workers),
		zap.String("archive_backend", cfg.Archive.Backend),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Renderer exposes the renderer for one-off CLI renders.
func (a *App) Renderer() *render.Renderer {
	return a.renderer
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()
	if a.limiter.Enabled() {
		go a.pruneLimiter(ctx)
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

func (a *App) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Prune(limiterIdle); n > 0 {
				a.logger.Debug("rate limiter pruned", zap.Int("clients", n))
			}
		}
	}
}

// Close gracefully shuts down the application. In-flight renders finish
// first, then background telemetry and archive work is drained.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.analytics.Close(ctx); err != nil {
		a.logger.Warn("analytics drain incomplete", zap.Error(err))
	}
	if err := a.archiver.Close(ctx); err != nil {
		a.logger.Warn("archive drain incomplete", zap.Error(err))
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *App) ready(context.Context) error {
	if a.draining.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// build wires every dependency. Anything already opened is released when a
// later step fails.
func (a *App) build(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			a.abort()
		}
	}()
	cfg, logger := a.cfg, a.logger

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
	}

	a.logger.Info("building application dependencies")
	if err = setupRenderer(a); err != nil {
		return err
	}
	a.pool = worker.New(worker.Config{
		Workers:   cfg.Worker.Workers,
		QueueSize: cfg.Worker.QueueSize,
		Logger:    logging.Named(logger, "worker"),
	})
	a.analytics = setupAnalytics(a)

	blobs, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	if err = setupDatabase(ctx, a); err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	a.archiver = setupArchiver(a, blobs, publisher)

	if cfg.RateLimit.RPS > 0 {
		a.limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
		a.logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	tmpl, err := templates.New()
	if err != nil {
		return fmt.Errorf("templates init failed: %w", err)
	}

	deps := api.Deps{
		Renderer:  a.renderer,
		Pool:      a.pool,
		Templates: tmpl,
		IDs:       uuid.New(),
		Telemetry: a.analytics,
		Limiter:   a.limiter,
		Ready:     a.ready,
	}
	if a.archiver.Enabled() {
		deps.Archiver = a.archiver
	}
	if cfg.Thumb.Enabled {
		deps.Thumbs = thumb.New(thumb.Config{
			UserAgent: cfg.Thumb.UserAgent,
			Timeout:   config.Seconds(cfg.Thumb.TimeoutSeconds),
			Logger:    logging.Named(logger, "thumb"),
		})
	}
	a.apiServer = api.NewServer(deps, api.Options{
		Logger:         logging.Named(logger, "api"),
		CacheMaxAge:    config.Seconds(cfg.Server.CacheMaxAgeSeconds),
		RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSeconds),
	})

	return nil
}

// abort releases what a failed build opened.
func (a *App) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.pool != nil {
		_ = a.pool.Close(ctx)
	}
	if a.analytics != nil {
		_ = a.analytics.Close(ctx)
	}
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(ctx)
	}
}

func setupRenderer(app *App) error {
	cfg := app.cfg
	host, explicit := cfg.GeneratorHost()
	if !explicit {
		app.logger.Warn("server.hostname is not set, the browser will load templates from the listen address",
			zap.String("generator_host", host))
	}
	engine, err := headless.New(headless.Config{
		ExecPath:      cfg.Render.ExecPath,
		MaxParallel:   cfg.Render.MaxParallel,
		LaunchTimeout: config.Seconds(cfg.Render.LaunchTimeoutSeconds),
		NoSandbox:     cfg.Render.NoSandbox,
	})
	if err != nil {
		return fmt.Errorf("headless engine init failed: %w", err)
	}
	app.engine = engine
	app.renderer, err = render.NewRenderer(engine, render.Config{
		BaseURL:      host,
		Timeout:      config.Seconds(cfg.Render.TimeoutSeconds),
		ReadyTimeout: config.Seconds(cfg.Render.ReadyTimeoutSeconds),
		Logger:       logging.Named(app.logger, "render"),
	})
	if err != nil {
		engine.Close()
		app.engine = nil
		return fmt.Errorf("renderer init failed: %w", err)
	}
	app.logger.Info("renderer initialized",
		zap.String("generator_host", host),
		zap.Int("max_parallel", cfg.Render.MaxParallel),
	)
	return nil
}

func setupAnalytics(app *App) *analytics.Dispatcher {
	cfg := app.cfg.Telemetry
	d := analytics.NewDispatcher(analytics.Config{
		Endpoint: cfg.Endpoint,
		Domain:   cfg.Domain,
		Timeout:  config.Seconds(cfg.TimeoutSeconds),
		Logger:   logging.Named(app.logger, "analytics"),
	}, analytics.NewSlot())
	if d.Enabled() {
		app.logger.Info("analytics enabled", zap.String("endpoint", cfg.Endpoint), zap.String("domain", cfg.Domain))
	} else {
		app.logger.Info("analytics disabled, endpoint or domain missing")
	}
	return d
}

func setupStorage(ctx context.Context, app *App) (blobstorage.BlobStore, error) {
	cfg := app.cfg.Archive
	var (
		blobStore blobstorage.BlobStore
		err       error
	)
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS archive backend", zap.String("bucket", cfg.Bucket))
		app.gcs, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.gcs, gcsstorage.Config{
			Bucket:       cfg.Bucket,
			CacheControl: cfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.BackendS3:
		app.logger.Info("using S3 archive backend", zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
		blobStore, err = s3storage.NewFromEnv(ctx, s3storage.Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
			CacheControl: cfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
	case config.BackendLocal:
		app.logger.Info("using local archive backend", zap.String("path", cfg.LocalDir))
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
	case config.BackendMemory:
		app.logger.Info("using in-memory archive backend")
		blobStore = memorystorage.NewBlobStore()
	default:
		app.logger.Info("artifact archiving disabled")
		return nil, nil
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Info("No DSN specified for database, skipping render ledger")
		return nil
	}
	var err error
	app.ledger, err = pgstore.NewRenderStore(ctx, pgstore.Config{
		DSN:      cfg.DSN,
		Table:    cfg.Table,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("render store init failed: %w", err)
	}
	if cfg.EnsureSchema {
		if err := app.ledger.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("render store schema failed: %w", err)
		}
	}
	app.logger.Info("render ledger initialized", zap.String("table", cfg.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (archive.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		if app.cfg.Archive.Backend == config.BackendMemory {
			app.logger.Info("No Pub/Sub project configured, using in-memory publisher")
			return memorypublisher.New(), nil
		}
		app.logger.Info("No Pub/Sub project configured, notifications disabled")
		return nil, nil
	}
	var err error
	app.publisher, err = gcppublisher.Dial(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return app.publisher, nil
}

func setupArchiver(app *App, blobs blobstorage.BlobStore, publisher archive.Publisher) *archive.Archiver {
	var ledger archive.Ledger
	if app.ledger != nil {
		ledger = app.ledger
	}
	topic := app.cfg.PubSub.TopicName
	if topic == "" && publisher != nil {
		topic = defaultTopic
	}
	return archive.New(archive.Config{
		Topic:      topic,
		PathPrefix: app.cfg.Archive.Prefix,
		Timeout:    config.Seconds(app.cfg.Archive.TimeoutSeconds),
		Logger:     logging.Named(app.logger, "archive"),
	}, blobs, ledger, publisher)
}
