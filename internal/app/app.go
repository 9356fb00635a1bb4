// Package app builds the long-lived cloner services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/analysis"
	"github.com/JakeFAU/site-cloner/internal/api"
	"github.com/JakeFAU/site-cloner/internal/assets"
	"github.com/JakeFAU/site-cloner/internal/clock/system"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/content/wordpress"
	"github.com/JakeFAU/site-cloner/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-cloner/internal/fetcher/colly"
	"github.com/JakeFAU/site-cloner/internal/fetcher/headless"
	"github.com/JakeFAU/site-cloner/internal/fetcher/relay"
	"github.com/JakeFAU/site-cloner/internal/hash/sha256"
	"github.com/JakeFAU/site-cloner/internal/id/uuid"
	"github.com/JakeFAU/site-cloner/internal/metrics"
	"github.com/JakeFAU/site-cloner/internal/pipeline"
	"github.com/JakeFAU/site-cloner/internal/policy/hostlist"
	"github.com/JakeFAU/site-cloner/internal/policy/ratelimit"
	"github.com/JakeFAU/site-cloner/internal/progress"
	"github.com/JakeFAU/site-cloner/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/site-cloner/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-cloner/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-cloner/internal/queue/memory"
	"github.com/JakeFAU/site-cloner/internal/storage/gcs"
	"github.com/JakeFAU/site-cloner/internal/storage/local"
	"github.com/JakeFAU/site-cloner/internal/storage/memory"
	"github.com/JakeFAU/site-cloner/internal/storage/postgres"
	redisstore "github.com/JakeFAU/site-cloner/internal/storage/redis"
	"github.com/JakeFAU/site-cloner/internal/strategy"
	"github.com/JakeFAU/site-cloner/internal/worker"
)

// memoryPublisherLimit bounds retained notifications when no Pub/Sub project is set.
const memoryPublisherLimit = 1000

// Options adjust wiring that is not part of the configuration file.
type Options struct {
	// Registerer receives the progress collectors. Defaults to the global registry.
	Registerer prometheus.Registerer
}

// App holds the shared services for one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Runs       cloner.Repository
	Blobs      cloner.BlobStore
	Publisher  cloner.Publisher
	Queue      *queueMemory.Queue
	Hub        *progress.Hub
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatcher.Dispatcher

	closers []func(ctx context.Context) error
}

// New wires every service described by cfg. It fails fast when a configured
// backend cannot be reached; anything opened before the failure is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := a.initRuns(ctx); err != nil {
		return nil, err
	}
	if err := a.initBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initProgress(opts.Registerer); err != nil {
		return nil, err
	}
	capturer, err := a.newCapturer()
	if err != nil {
		return nil, err
	}

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	headers := http.Header{}
	if cfg.Fetch.UserAgent != "" {
		headers.Set("User-Agent", cfg.Fetch.UserAgent)
	}
	selector := &strategy.Selector{
		Documents: relay.New(httpFetcher, relay.Config{
			Relays:   cfg.Fetch.Relays,
			Direct:   cfg.Fetch.DirectLast,
			Timeout:  cfg.FetchTimeout(),
			MinBytes: cfg.Fetch.MinBytes,
			Headers:  headers,
		}, logger.Named("relay")),
		Capturer: capturer,
		Content:  wordpress.New(httpFetcher, time.Duration(cfg.Content.TimeoutSeconds)*time.Second, logger.Named("wordpress")),
		Caps:     cloner.ContentCaps{Posts: cfg.Content.MaxPosts, Pages: cfg.Content.MaxPages},
		Logger:   logger.Named("strategy"),
	}
	assetPipeline := assets.New(httpFetcher, assets.Limits{
		MaxStylesheets:      cfg.Assets.MaxStylesheets,
		MaxScripts:          cfg.Assets.MaxScripts,
		MaxImages:           cfg.Assets.MaxImages,
		MaxBackgroundImages: cfg.Assets.MaxBackgroundImages,
		MaxFonts:            cfg.Assets.MaxFonts,
		TextTimeout:         time.Duration(cfg.Assets.TextTimeoutSeconds) * time.Second,
		BinaryTimeout:       time.Duration(cfg.Assets.BinaryTimeoutSeconds) * time.Second,
		MaxAssetBytes:       cfg.Assets.MaxAssetBytes,
	}, headers, logger.Named("assets"))

	a.Pipeline = pipeline.New(pipeline.Deps{
		Selector:   selector,
		Assets:     assetPipeline,
		Analysis:   analysis.NewRunner(cfg.Backoff(), logger.Named("analysis")),
		Repository: a.Runs,
		Blobs:      a.Blobs,
		Publisher:  a.Publisher,
		Limiter: ratelimit.New(ratelimit.Config{
			RunsPerMinute: cfg.RateLimit.RunsPerMinute,
			Burst:         cfg.RateLimit.Burst,
		}),
		IDs:     uuid.New(),
		Clock:   system.New(),
		Hasher:  sha256.NewShort(16),
		Emitter: a.Hub,
	}, pipeline.Config{
		AllowPrivate: cfg.Server.AllowPrivate,
		BlobPrefix:   cfg.Storage.Prefix,
		Topic:        cfg.PubSub.TopicName,
		DenyHosts:    hostlist.New(cfg.Server.DenyHosts),
	}, logger.Named("pipeline"))

	a.Queue = queueMemory.NewQueue(cfg.Queue.Depth)
	a.Dispatcher = dispatcher.NewPool(cfg.Queue.Workers, a.Queue, a.Pipeline, worker.Config{
		RunTimeout: time.Duration(cfg.Queue.RunTimeoutSeconds) * time.Second,
	}, logger.Named("worker"))

	logger.Info("application services initialized",
		zap.String("runs", cfg.Storage.Runs),
		zap.String("blobs", cfg.Storage.Blobs),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Int("workers", cfg.Queue.Workers),
	)
	return a, nil
}

func (a *App) initRuns(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Storage.Runs {
	case config.BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres run store: %w", err)
		}
		a.onClose(func(context.Context) error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure run schema: %w", err)
		}
		a.Runs = store
	case config.BackendRedis:
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.RedisTTL(),
		})
		if err != nil {
			return fmt.Errorf("init redis run store: %w", err)
		}
		a.onClose(func(context.Context) error { return store.Close() })
		a.Runs = store
	default:
		a.Runs = memory.NewRunStore()
	}
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Storage.Blobs {
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.Blobs = store
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.Blobs = store
	default:
		a.Blobs = memory.NewBlobStore()
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.Config.PubSub
	if cfg.ProjectID == "" {
		a.Publisher = memorypublisher.New(memoryPublisherLimit)
		return nil
	}
	pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
		ProjectID: cfg.ProjectID,
		TopicName: cfg.TopicName,
	}, a.Logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.onClose(func(context.Context) error { return pub.Close() })
	a.Publisher = pub
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger.Named("progress")},
		sinks.NewLogSink(a.Logger.Named("progress")),
		promSink,
	)
	a.onClose(a.Hub.Close)
	return nil
}

func (a *App) newCapturer() (cloner.Capturer, error) {
	cfg := a.Config
	if !cfg.Headless.Enabled {
		return headless.NewNoop(), nil
	}
	capturer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
		Screenshot:        cfg.Headless.Screenshot,
	}, a.Logger.Named("headless"))
	if err != nil {
		return nil, fmt.Errorf("init headless capturer: %w", err)
	}
	a.onClose(func(context.Context) error { capturer.Close(); return nil })
	return capturer, nil
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Pipeline, a.Dispatcher, a.Runs, a.Config, a.Logger.Named("api"))
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close stops accepting queued runs and releases backends in reverse order of
// creation. It returns every error encountered.
func (a *App) Close(ctx context.Context) error {
	if a.Queue != nil {
		a.Queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
