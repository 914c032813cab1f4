// Package server wires configuration into the tiler's long-lived services and
// runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/api"
	"github.com/JakeFAU/terrain-tiler/internal/build"
	"github.com/JakeFAU/terrain-tiler/internal/clock/system"
	"github.com/JakeFAU/terrain-tiler/internal/config"
	"github.com/JakeFAU/terrain-tiler/internal/dispatcher"
	"github.com/JakeFAU/terrain-tiler/internal/dsf"
	"github.com/JakeFAU/terrain-tiler/internal/hash/sha256"
	idgen "github.com/JakeFAU/terrain-tiler/internal/id/uuid"
	"github.com/JakeFAU/terrain-tiler/internal/logging"
	"github.com/JakeFAU/terrain-tiler/internal/policy/ratelimit"
	"github.com/JakeFAU/terrain-tiler/internal/progress"
	progresssinks "github.com/JakeFAU/terrain-tiler/internal/progress/sinks"
	"github.com/JakeFAU/terrain-tiler/internal/publisher"
	gcppublisher "github.com/JakeFAU/terrain-tiler/internal/publisher/pubsub"
	blobstorage "github.com/JakeFAU/terrain-tiler/internal/storage"
	gcsstorage "github.com/JakeFAU/terrain-tiler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/terrain-tiler/internal/storage/local"
	memorystorage "github.com/JakeFAU/terrain-tiler/internal/storage/memory"
	pgstore "github.com/JakeFAU/terrain-tiler/internal/storage/postgres"
	"github.com/JakeFAU/terrain-tiler/internal/store"
	memorystore "github.com/JakeFAU/terrain-tiler/internal/store/memory"
	"github.com/JakeFAU/terrain-tiler/internal/telemetry"
	"github.com/JakeFAU/terrain-tiler/internal/tile"
	"github.com/JakeFAU/terrain-tiler/internal/vector"
)

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger replaces the logger Build would create from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobs        blobstorage.BlobStore
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	progressRepo store.ProgressRepository
	pgStore      *pgstore.ProgressStore
	progressHub  *progress.Hub
	builder      *build.Builder
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server
	tracer       *sdktrace.TracerProvider

	cancelBuilds context.CancelFunc
}

// Build creates the application's dependencies. Resources acquired before a
// failure are released before Build returns.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}

	app := &App{cfg: cfg, logger: o.logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("output", cfg.Output.Provider),
		zap.Int("sources", len(cfg.Sources)),
		zap.Int("categories", len(cfg.Categories)),
	)
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	if cfg.Telemetry.Enabled {
		app.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.logger.Info("tracing enabled", zap.Float64("sample_ratio", cfg.Telemetry.SampleRatio))
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	pub, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, o.registerer); err != nil {
		return nil, err
	}
	if err = app.setupBuilder(pub); err != nil {
		return nil, err
	}

	app.dispatch = dispatcher.New(app.builder, cfg.Build.Builders, app.logger.Named("dispatcher"))
	apiCfg := api.Config{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	if cfg.Server.RateLimit.RPS > 0 {
		apiCfg.Limiter = ratelimit.New(cfg.Server.RateLimit)
		app.logger.Info("submission rate limit enabled",
			zap.Float64("rps", cfg.Server.RateLimit.RPS),
			zap.Int("burst", cfg.Server.RateLimit.Burst),
		)
	}
	app.apiServer = api.NewServer(
		app.progressRepo,
		app.dispatch,
		idgen.New(),
		system.New(),
		apiCfg,
		app.logger.Named("api"),
	)
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runs exposes the run repository.
func (a *App) Runs() store.ProgressRepository {
	return a.progressRepo
}

// Handler returns the HTTP API, instrumented for tracing.
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.apiServer.Handler(), "tiler-api")
}

// BuildTile builds one tile synchronously.
func (a *App) BuildTile(ctx context.Context, t tile.Tile) (build.Report, error) {
	return a.builder.BuildTile(ctx, t)
}

// Start launches the build dispatcher. Builds keep running after ctx ends
// until Close drains them or its deadline passes.
func (a *App) Start(ctx context.Context) error {
	buildCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := a.dispatch.Start(buildCtx); err != nil {
		cancel()
		return fmt.Errorf("start dispatcher: %w", err)
	}
	a.cancelBuilds = cancel
	return nil
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close drains queued builds, flushes progress and releases every client. If
// ctx ends before the builds finish they are canceled.
func (a *App) Close(ctx context.Context) error {
	var shutdownErr error
	if a.dispatch != nil {
		if err := a.dispatch.Shutdown(ctx); err != nil && !errors.Is(err, dispatcher.ErrNotStarted) {
			a.logger.Warn("dispatcher did not drain", zap.Error(err))
			shutdownErr = err
		}
	}
	if a.cancelBuilds != nil {
		a.cancelBuilds()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return shutdownErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Output.Provider {
	case config.ProviderGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Output.Bucket))
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Output.Bucket,
			Prefix: a.cfg.Output.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.ProviderLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Output.BaseDir))
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, keeping run history in memory")
		a.progressRepo = memorystore.NewRunStore()
		return nil
	}
	var err error
	a.pgStore, err = pgstore.NewProgressStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	a.progressRepo = a.pgStore
	a.logger.Info("postgres run store initialized")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Warn("No Pub/Sub topic configured, build notifications are disabled")
		return publisher.Nop{}, nil
	}
	var err error
	a.publisher, a.pubsubClient, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.publisher, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewStoreSink(a.progressRepo, a.logger.Named("progress_store")),
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupBuilder(pub publisher.Publisher) error {
	sources := make([]vector.Source, 0, len(a.cfg.Sources))
	for _, s := range a.cfg.Sources {
		sources = append(sources, vector.NewFileSource(s.Name, s.Path))
	}
	writer := dsf.NewWriter(a.blobs, sha256.New(), a.logger.Named("dsf"), dsf.Options{
		Decimals:      a.cfg.Build.Decimals,
		Exclusions:    a.cfg.Build.Exclusions,
		IndexComments: a.cfg.Build.IndexComments,
	})

	var err error
	a.builder, err = build.New(
		build.Config{Workers: a.cfg.Build.Workers, ChunksPerSide: a.cfg.Build.ChunksPerSide},
		build.Deps{
			Sources:     sources,
			Classify:    a.cfg.Categories.Classify,
			Definitions: a.cfg.Categories.Definitions(),
			Writer:      writer,
			Publisher:   pub,
			Emitter:     a.progressHub,
			Clock:       system.New(),
			IDs:         idgen.New(),
			Logger:      a.logger.Named("build"),
		},
	)
	if err != nil {
		return fmt.Errorf("builder init failed: %w", err)
	}
	a.logger.Info("builder initialized",
		zap.Int("workers", a.cfg.Build.Workers),
		zap.Int("chunks_per_side", a.cfg.Build.ChunksPerSide),
		zap.Int("builders", a.cfg.Build.Builders),
	)
	return nil
}
