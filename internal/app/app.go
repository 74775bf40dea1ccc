// Package app builds and holds the long-lived services of paperfetch, acting
// as the dependency injection container for the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/clock/system"
	"github.com/JakeFAU/paperfetch/internal/config"
	"github.com/JakeFAU/paperfetch/internal/dispatcher"
	"github.com/JakeFAU/paperfetch/internal/download"
	collyfetcher "github.com/JakeFAU/paperfetch/internal/fetcher/colly"
	"github.com/JakeFAU/paperfetch/internal/id/uuid"
	"github.com/JakeFAU/paperfetch/internal/metrics"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
	"github.com/JakeFAU/paperfetch/internal/policy/ratelimit"
	"github.com/JakeFAU/paperfetch/internal/progress"
	"github.com/JakeFAU/paperfetch/internal/progress/sinks"
	"github.com/JakeFAU/paperfetch/internal/publisher/pubsub"
	"github.com/JakeFAU/paperfetch/internal/session"
	"github.com/JakeFAU/paperfetch/internal/sources"
	"github.com/JakeFAU/paperfetch/internal/storage/gcs"
	"github.com/JakeFAU/paperfetch/internal/storage/local"
	"github.com/JakeFAU/paperfetch/internal/storage/memory"
	"github.com/JakeFAU/paperfetch/internal/storage/postgres"
)

// Options carries process-level wiring that does not belong in config.
type Options struct {
	// Out receives one line per progress event. Nil disables console output.
	Out io.Writer
	// Registerer receives the progress collectors. Nil means the default registry.
	Registerer prometheus.Registerer
	// Concurrency overrides download.concurrency when positive.
	Concurrency int
	// OutputDir overrides download.output_dir when set.
	OutputDir string
}

// App holds the shared services built from a Config.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *sources.Registry
	Manager  *session.Manager
	Runner   *session.Runner
	History  *sinks.HistorySink
	Hub      *progress.Hub
	Store    newspaper.SessionStore

	pool    *dispatcher.Dispatcher
	closers []func(ctx context.Context) error
	ping    func(ctx context.Context) error
}

// Build wires every component described by cfg. It fails fast when a
// configured backend cannot be reached. Call Close to release resources.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	outputDir := cfg.Download.OutputDir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	concurrency := cfg.Download.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}

	transport := download.NewTransport(download.TransportConfig{
		MaxIdleConns:          cfg.HTTP.MaxIdleConns,
		InsecureSkipVerify:    cfg.HTTP.InsecureSkipVerify,
		ResponseHeaderTimeout: cfg.DownloadTimeout(),
	})
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		RespectRobots:  cfg.HTTP.RespectRobots,
		Timeout:        cfg.DiscoveryTimeout(),
		Transport:      transport,
	})
	a.Registry = sources.Default(sources.Config{
		Fetcher: pages,
		Logger:  logger,
		Roots:   cfg.Download.Roots,
	})

	downloader := download.New(download.Config{
		Timeout:        cfg.DownloadTimeout(),
		ChunkBytes:     cfg.Download.ChunkBytes,
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Transport:      transport,
		Retry: download.NewRetryPolicy(
			cfg.HTTP.MaxRetries,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
		Limiter: ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS}),
		Logger:  logger,
	})

	hubSinks := []progress.Sink{sinks.NewLogSink(logger)}
	if opts.Out != nil {
		hubSinks = append(hubSinks, sinks.NewWriterSink(opts.Out))
	}
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	a.History = sinks.NewHistorySink(cfg.Progress.HistoryLimit)
	hubSinks = append(hubSinks, promSink, a.History)
	a.Hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger,
	}, hubSinks...)
	a.closers = append(a.closers, a.Hub.Close)

	// Anything opened below must be released if a later step fails.
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	blobs, err := a.openBlobs(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var pub newspaper.Publisher
	if cfg.PubSub.TopicName != "" {
		logger.Info("connecting to pub/sub", zap.String("topic", cfg.PubSub.TopicName))
		p, err := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		pub = p
	}

	a.pool = dispatcher.New(downloader, a.Hub, dispatcher.Config{Concurrency: concurrency}, logger)
	a.Runner, err = session.NewRunner(session.Deps{
		Registry:   a.Registry,
		Dispatcher: a.pool,
		Store:      a.Store,
		Blobs:      blobs,
		Publisher:  pub,
		Emitter:    a.Hub,
		Clock:      system.In(loc),
		Logger:     logger,
	}, session.Config{
		OutputDir:     outputDir,
		DateSubdir:    cfg.Download.DateSubdir,
		ArchivePrefix: cfg.Storage.Prefix,
		ContentType:   cfg.Storage.ContentType,
		Topic:         cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, err
	}
	a.Manager = session.NewManager(a.Runner, uuid.New(), session.ManagerConfig{
		QueueDepth: cfg.Download.QueueDepth,
		OnEvict:    a.History.Forget,
	})

	ok = true
	logger.Info("application services initialized",
		zap.String("output_dir", outputDir),
		zap.Int("concurrency", concurrency),
		zap.Int("sources", len(a.Registry.All())),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) error {
	if cfg.DB.DSN == "" {
		a.Logger.Info("using in-memory session store")
		a.Store = memory.NewSessionStore()
		return nil
	}
	a.Logger.Info("connecting to postgres", zap.String("table", cfg.DB.Table))
	store, err := postgres.NewSessionStore(ctx, postgres.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	a.Store = store
	a.ping = store.Ping
	return nil
}

func (a *App) openBlobs(ctx context.Context, cfg config.Config) (newspaper.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "", config.BackendNone:
		a.Logger.Info("archiving disabled")
		return nil, nil
	case config.BackendLocal:
		a.Logger.Info("archiving to local directory", zap.String("dir", cfg.Storage.LocalDir))
		blobs, err := local.New(local.Config{Dir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		return blobs, nil
	case config.BackendGCS:
		a.Logger.Info("archiving to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return blobs.Close() })
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// Ready reports whether the session store is reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// Close stops accepting sessions, waits for in-flight transfers, flushes
// progress and releases backends in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	if a.Manager != nil {
		a.Manager.Close()
	}
	var errs []error
	if a.pool != nil {
		if err := a.pool.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error shutting down services", zap.Error(err))
		return err
	}
	return nil
}
