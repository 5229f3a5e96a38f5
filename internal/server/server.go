// Package server builds the crawler service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/api"
	"github.com/JakeFAU/realtime-feed-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-feed-crawler/internal/config"
	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-feed-crawler/internal/hash/sha256"
	"github.com/JakeFAU/realtime-feed-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-feed-crawler/internal/logging"
	"github.com/JakeFAU/realtime-feed-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-feed-crawler/internal/orchestrator"
	"github.com/JakeFAU/realtime-feed-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/realtime-feed-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-feed-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/realtime-feed-crawler/internal/queue/memory"
	"github.com/JakeFAU/realtime-feed-crawler/internal/source/registry"
	"github.com/JakeFAU/realtime-feed-crawler/internal/storage/chunkmeta"
	gcsstorage "github.com/JakeFAU/realtime-feed-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-feed-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-feed-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-feed-crawler/internal/storage/postgres"
	s3storage "github.com/JakeFAU/realtime-feed-crawler/internal/storage/s3"
	"github.com/JakeFAU/realtime-feed-crawler/internal/worker"
)

// CompletionEvent is the Pub/Sub event attribute of job completion messages.
const CompletionEvent = "crawl.completed"

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queuememory.Queue
	feedBlobs crawler.BlobStore
	logBlobs  crawler.BlobStore
	marks     crawler.WatermarkStore
	jobs      crawler.JobStore
	verifier  *sha256.Hasher

	storageClient   *storage.Client
	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	readyChecks     map[string]api.ReadyCheck
	closeOnce       sync.Once
}

// Build creates the application's dependencies from cfg.
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
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:         cfg,
		logger:      logger,
		verifier:    sha256.New(),
		readyChecks: map[string]api.ReadyCheck{},
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("watermark_backend", cfg.Watermark.Backend),
		zap.String("jobs_backend", cfg.Jobs.Backend),
		zap.Int("sources", len(cfg.Sources)),
	)

	steps := []func(context.Context) error{
		app.setupStorage,
		app.setupDatabase,
		app.setupWatermark,
		app.setupJobs,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}

	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if err := app.setupDispatcher(publisher); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	queries := api.NewQueryHandler(
		app.marks,
		cfg.Watermark.Key,
		app.feedBlobs,
		cfg.Crawl.KeyPrefix,
		app.verifier,
		logger.Named("query"),
	)
	app.apiServer = api.NewServer(app.jobs, app.dispatch, queries, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		ReadyChecks:    app.readyChecks,
	}, logger.Named("api"))

	return app, nil
}

// Logger returns the service logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Dispatcher returns the job dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// RunNow executes one crawl on the calling goroutine.
func (a *App) RunNow(ctx context.Context, trigger crawler.Trigger) (crawler.CrawlResult, error) {
	result, err := a.dispatch.RunNow(ctx, trigger)
	if err != nil {
		return result, fmt.Errorf("crawl: %w", err)
	}
	return result, nil
}

// ReadItems loads and verifies every chunk persisted for the job at jobTime.
func (a *App) ReadItems(ctx context.Context, jobTime time.Time) ([]crawler.CrawlItem, error) {
	prefix := crawler.JobChunkPrefix(a.cfg.Crawl.KeyPrefix, jobTime)
	items, err := orchestrator.ReadChunks(ctx, a.feedBlobs, prefix, a.verifier)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return items, nil
}

// Run starts the workers, the schedule and the HTTP server, and blocks until
// ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawl.Workers))
		a.dispatch.Run(ctx)
	}()
	go a.dispatch.Schedule(ctx, a.cfg.Schedule.Interval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
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
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every external client. It is safe to call more than once.
func (a *App) Close(_ context.Context) error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		// stderr/stdout syncs fail on some platforms; nothing to act on.
		_ = a.logger.Sync()
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storageClient = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		if a.feedBlobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.FeedBucket}); err != nil {
			return fmt.Errorf("gcs feed store init failed: %w", err)
		}
		if a.logBlobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.LogBucket}); err != nil {
			return fmt.Errorf("gcs log store init failed: %w", err)
		}
	case config.BackendS3:
		s3cfg := s3storage.Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
			Region:          cfg.S3.Region,
		}
		var err error
		s3cfg.Bucket = cfg.FeedBucket
		if a.feedBlobs, err = s3storage.New(s3cfg); err != nil {
			return fmt.Errorf("s3 feed store init failed: %w", err)
		}
		s3cfg.Bucket = cfg.LogBucket
		if a.logBlobs, err = s3storage.New(s3cfg); err != nil {
			return fmt.Errorf("s3 log store init failed: %w", err)
		}
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.feedBlobs, a.logBlobs = store, store
	default:
		store := memorystorage.NewBlobStore()
		a.feedBlobs, a.logBlobs = store, store
	}
	a.logger.Info("blob storage ready",
		zap.String("backend", cfg.Backend),
		zap.String("feed_bucket", cfg.FeedBucket),
		zap.String("log_bucket", cfg.LogBucket),
	)
	return nil
}

func (a *App) usesPostgres() bool {
	return a.cfg.Watermark.Backend == config.BackendPostgres || a.cfg.Jobs.Backend == config.BackendPostgres
}

func (a *App) setupDatabase(ctx context.Context) error {
	if !a.usesPostgres() {
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	a.readyChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	a.logger.Info("postgres pool ready", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupWatermark(context.Context) error {
	var err error
	switch a.cfg.Watermark.Backend {
	case config.BackendPostgres:
		a.marks, err = pgstore.NewWatermarkStore(a.pool, a.cfg.DB.Table)
	case config.BackendChunks:
		a.marks, err = chunkmeta.New(a.feedBlobs, a.cfg.Crawl.KeyPrefix)
	default:
		a.marks = memorystorage.NewWatermarkStore()
	}
	if err != nil {
		return fmt.Errorf("watermark store init failed: %w", err)
	}
	a.logger.Info("watermark store ready",
		zap.String("backend", a.cfg.Watermark.Backend),
		zap.String("key", a.cfg.Watermark.Key),
	)
	return nil
}

func (a *App) setupJobs(context.Context) error {
	if a.cfg.Jobs.Backend != config.BackendPostgres {
		a.jobs = memorystorage.NewJobStore()
		return nil
	}
	jobs, err := pgstore.NewJobStore(a.pool, a.cfg.Jobs.Table)
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	a.jobs = jobs
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, completion events stay in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Topic(a.cfg.PubSub.TopicName), CompletionEvent)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupDispatcher(publisher crawler.Publisher) error {
	built, err := registry.Build(a.cfg.Sources, registry.Deps{
		HTTPClient: &http.Client{Timeout: a.cfg.Crawl.HTTPTimeout},
		Limiter:    ratelimit.New(),
		UserAgent:  a.cfg.Crawl.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("source init failed: %w", err)
	}
	sources := make([]orchestrator.SourceCrawler, 0, len(built))
	for _, src := range built {
		sources = append(sources, src)
		a.logger.Info("source configured", zap.String("source", src.ID()), zap.String("type", string(src.Kind())))
	}
	if len(sources) == 0 {
		a.logger.Warn("no sources configured; crawls will produce no items")
	}

	clock := system.New()
	orch := orchestrator.New(a.feedBlobs, a.marks, a.verifier, clock, orchestrator.Config{
		ChunkSize:        a.cfg.Crawl.ChunkSize,
		DefaultLookback:  a.cfg.Crawl.DefaultLookback,
		RunTimeout:       a.cfg.Crawl.RunTimeout,
		WriteConcurrency: a.cfg.Crawl.WriteConcurrency,
		WatermarkKey:     a.cfg.Watermark.Key,
		KeyPrefix:        a.cfg.Crawl.KeyPrefix,
	}, a.logger.Named("orchestrator"))

	level, err := a.cfg.LogSinkLevel()
	if err != nil {
		return fmt.Errorf("logsink level: %w", err)
	}
	runner := worker.NewRunner(a.jobs, a.logBlobs, orch, sources, publisher, clock, worker.Config{
		Topic:            a.cfg.PubSub.TopicName,
		LogFlushInterval: a.cfg.LogSink.FlushInterval,
		LogCloseTimeout:  a.cfg.LogSink.CloseTimeout,
		LogLevel:         level,
	}, a.logger.Named("runner"))

	a.queue = queuememory.NewQueue(a.cfg.Crawl.QueueDepth)
	a.dispatch = dispatcher.New(
		a.queue,
		a.jobs,
		runner,
		a.cfg.Crawl.Workers,
		uuid.NewUUIDGenerator(),
		clock,
		a.logger.Named("dispatcher"),
	)
	return nil
}
