// Package server builds the tracker's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/api"
	"github.com/JakeFAU/taleon-tracker/internal/clock/system"
	"github.com/JakeFAU/taleon-tracker/internal/config"
	"github.com/JakeFAU/taleon-tracker/internal/extractor"
	collyfetcher "github.com/JakeFAU/taleon-tracker/internal/fetcher/colly"
	"github.com/JakeFAU/taleon-tracker/internal/hash/sha256"
	"github.com/JakeFAU/taleon-tracker/internal/id/uuid"
	"github.com/JakeFAU/taleon-tracker/internal/logging"
	"github.com/JakeFAU/taleon-tracker/internal/metrics"
	"github.com/JakeFAU/taleon-tracker/internal/orchestrator"
	memorypublisher "github.com/JakeFAU/taleon-tracker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/taleon-tracker/internal/publisher/pubsub"
	"github.com/JakeFAU/taleon-tracker/internal/reconciler"
	"github.com/JakeFAU/taleon-tracker/internal/scheduler"
	gcsstorage "github.com/JakeFAU/taleon-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/taleon-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/taleon-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/taleon-tracker/internal/storage/postgres"
	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	repo         store.Repository
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	storage      *storage.Client
}

// Build creates the application's dependencies. On error everything built
// so far is closed.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.Background()); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.Int("server_port", a.cfg.Server.Port),
		zap.String("base_url", a.cfg.Fetcher.BaseURL),
		zap.String("archive_backend", a.cfg.Archive.Backend),
	)
	metrics.Init()

	var err error
	if a.repo, err = a.setupRepository(ctx); err != nil {
		return err
	}
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:        a.cfg.Fetcher.BaseURL,
		UserAgent:      a.cfg.Fetcher.UserAgent,
		Accept:         a.cfg.Fetcher.Accept,
		AcceptLanguage: a.cfg.Fetcher.AcceptLanguage,
		Timeout:        a.cfg.Fetcher.Timeout,
		CacheTTL:       a.cfg.Fetcher.CacheTTL,
		CacheSize:      a.cfg.Fetcher.CacheSize,
		RateLimitRPS:   a.cfg.Fetcher.RateLimitRPS,
		RateLimitBurst: a.cfg.Fetcher.RateLimitBurst,
		TLSBypass:      a.cfg.Fetcher.TLSBypass,
	}, a.logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	clock := system.New()
	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Fetcher:    fetcher,
		Extractor:  extractor.New(extractorConfig(a.cfg.Extractor), a.logger.Named("extractor")),
		Reconciler: reconciler.New(a.repo, clock),
		Characters: a.repo,
		Archive:    archive,
		Publisher:  publisher,
		Hasher:     sha256.New(),
		Clock:      clock,
		IDs:        uuid.New(),
	}, orchestrator.Config{
		Pause:               a.cfg.Sweep.Pause,
		ArchivePrefix:       a.cfg.Archive.Prefix,
		ArchiveFailuresOnly: a.cfg.Archive.FailuresOnly,
	}, a.logger.Named("orchestrator"))

	if a.cfg.Scheduler.Enabled {
		loc, err := a.cfg.Location()
		if err != nil {
			return err
		}
		a.scheduler, err = scheduler.New(scheduler.Config{
			Spec:     a.cfg.Scheduler.Spec,
			Location: loc,
		}, a.orchestrator, a.logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	a.apiServer = api.NewServer(a.orchestrator, a.repo, clock, api.Config{
		DefaultHistoryDays: a.cfg.History.DefaultDays,
	}, a.logger.Named("api"))
	return nil
}

func extractorConfig(c config.ExtractorConfig) extractor.Config {
	return extractor.Config{
		World:              c.World,
		ProfileMarkers:     c.ProfileMarkers,
		NotFoundMarkers:    c.NotFoundMarkers,
		InfoTableClasses:   c.InfoTableClasses,
		InfoTableHeadings:  c.InfoTableHeadings,
		ExperienceHeadings: c.ExperienceHeadings,
		DeathHeadings:      c.DeathHeadings,
	}
}

func (a *App) setupRepository(ctx context.Context) (store.Repository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory repository")
		return memorystorage.NewCharacterStore(), nil
	}
	repo, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres repository init failed: %w", err)
	}
	if a.cfg.Database.Migrate {
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("schema migration failed: %w", err)
		}
		a.logger.Info("schema migration applied")
	}
	a.logger.Info("postgres repository initialized")
	return repo, nil
}

func (a *App) setupArchive(ctx context.Context) (tracker.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		a.logger.Info("using GCS page archive", zap.String("bucket", a.cfg.Archive.Bucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket: a.cfg.Archive.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.ArchiveLocal:
		a.logger.Info("using local page archive", zap.String("path", a.cfg.Archive.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case config.ArchiveMemory:
		a.logger.Info("using in-memory page archive")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("page archive disabled")
		return nil, nil
	}
}

// memoryPublisherLimit bounds the events kept when Pub/Sub is not configured.
const memoryPublisherLimit = 1000

func (a *App) setupPublisher(ctx context.Context) (tracker.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher",
			zap.Int("retained_events", memoryPublisherLimit))
		return memorypublisher.NewWithLimit(memoryPublisherLimit), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient.Topic(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.gcpPublisher, nil
}

// Orchestrator exposes the scrape pipeline to one-shot commands.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and the daily scheduler until ctx is canceled or the
// process receives SIGINT/SIGTERM, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if a.scheduler == nil {
			a.logger.Info("scheduler disabled")
			return
		}
		if err := a.scheduler.Run(ctx); err != nil {
			a.logger.Error("scheduler error", zap.Error(err))
		}
	}()

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedDone

	return a.Close(shutdownCtx)
}

// Close releases clients and connections. It is safe on a partially built App.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.gcpPublisher != nil {
		a.gcpPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.repo != nil {
		a.repo.Close()
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Migrate applies the embedded schema to the configured database.
func Migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required to migrate")
	}
	repo, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres repository init failed: %w", err)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	logger.Info("schema migration applied")
	return nil
}
