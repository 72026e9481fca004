// Package app builds the long-lived crawl services from configuration and acts
// as the dependency injection container shared by the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/api"
	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/clock/system"
	"github.com/JakeFAU/crawlbridge/internal/config"
	"github.com/JakeFAU/crawlbridge/internal/connectors"
	"github.com/JakeFAU/crawlbridge/internal/connectors/filesystem"
	"github.com/JakeFAU/crawlbridge/internal/connectors/objectstore"
	"github.com/JakeFAU/crawlbridge/internal/connectors/web"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/dispatcher"
	"github.com/JakeFAU/crawlbridge/internal/hash/sha256"
	"github.com/JakeFAU/crawlbridge/internal/id/uuid"
	"github.com/JakeFAU/crawlbridge/internal/progress"
	"github.com/JakeFAU/crawlbridge/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/crawlbridge/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/crawlbridge/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/crawlbridge/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/crawlbridge/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/crawlbridge/internal/storage/gcs"
	"github.com/JakeFAU/crawlbridge/internal/storage/local"
	memoryStorage "github.com/JakeFAU/crawlbridge/internal/storage/memory"
	"github.com/JakeFAU/crawlbridge/internal/storage/postgres"
	"github.com/JakeFAU/crawlbridge/internal/store"
	"github.com/JakeFAU/crawlbridge/internal/worker"
)

const schemaTimeout = 30 * time.Second

// App holds the shared services. It is built once at startup and closed on exit.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Connectors *connectors.Registry
	Queue      *queueMemory.Queue
	JobStore   crawler.JobStore
	Blobs      crawler.BlobStore
	Versions   crawler.VersionStore
	Activity   store.ActivityRepository
	Publisher  crawler.Publisher
	Hub        *progress.Hub
	Supervisor *bridge.Supervisor
	Workers    []*worker.Worker
	Dispatcher *dispatcher.Dispatcher
	Server     *api.Server

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers activity metrics against reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New builds every service described by cfg. On failure, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.closeResources(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
		}
	}()

	logger.Info("initializing application services")
	if err := a.initConnectors(ctx); err != nil {
		return nil, err
	}
	if err := a.initBlobStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initMetadataStores(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initProgress(o.registerer); err != nil {
		return nil, err
	}

	a.Queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	a.Supervisor = bridge.NewSupervisor(logger.Named("bridge"))
	clock := system.New()

	deps := worker.Deps{
		Queue:      a.Queue,
		Connectors: a.Connectors,
		JobStore:   a.JobStore,
		BlobStore:  a.Blobs,
		Versions:   a.Versions,
		Publisher:  a.Publisher,
		Hasher:     sha256.New(),
		Clock:      clock,
		Emitter:    a.Hub,
		Supervisor: a.Supervisor,
	}
	workerCfg := worker.Config{
		BlobPrefix:       cfg.Storage.Prefix,
		ChannelCapacity:  cfg.Crawler.ChannelCapacity,
		ChunkSize:        cfg.Crawler.ChunkSize,
		TaskTimeout:      cfg.Crawler.TaskTimeout,
		MaxAttempts:      cfg.Retry.MaxAttempts,
		RetryDelay:       cfg.Retry.Delay,
		GiveUpAfter:      cfg.Retry.GiveUpAfter,
		ProgressInterval: cfg.Crawler.ProgressInterval,
	}
	if a.Publisher != nil {
		workerCfg.Topic = cfg.Publisher.Topic
	}
	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		w := worker.New(deps, workerCfg, logger.Named("worker").With(zap.Int("worker", i)))
		a.Workers = append(a.Workers, w)
		runners = append(runners, w)
	}
	a.Dispatcher = dispatcher.New(a.Queue, runners)
	a.Server = api.NewServer(api.Deps{
		JobStore:    a.JobStore,
		Dispatcher:  a.Dispatcher,
		Connections: a.Connectors,
		Activity:    a.Activity,
		IDs:         uuid.New(),
		Clock:       clock,
	}, cfg, logger.Named("api"))

	logger.Info("application services initialized",
		zap.Strings("connections", a.Connectors.Names()),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("versions", cfg.Versions.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.Int("workers", len(a.Workers)),
	)
	return a, nil
}

func (a *App) initConnectors(ctx context.Context) error {
	registry, err := connectors.NewRegistry()
	if err != nil {
		return fmt.Errorf("connector registry: %w", err)
	}
	a.Connectors = registry
	for name, cc := range a.Config.Connectors {
		conn, err := a.buildConnector(ctx, name, cc)
		if err != nil {
			return fmt.Errorf("connector %s: %w", name, err)
		}
		if err := registry.Register(conn); err != nil {
			return fmt.Errorf("register connector %s: %w", name, err)
		}
	}
	return nil
}

func (a *App) buildConnector(ctx context.Context, name string, cc config.ConnectorConfig) (crawler.Connector, error) {
	logger := a.Logger.Named("connector").With(zap.String("connection", name))
	switch cc.Kind {
	case config.KindFilesystem:
		fc := cc.Filesystem
		fc.Name = name
		return filesystem.New(fc, logger)
	case config.KindWeb:
		wc := a.webDefaults(cc.Web)
		wc.Name = name
		var renderer web.Renderer
		if wc.Render.Enabled {
			r, err := web.NewChromedpRenderer(wc.Render)
			if err != nil {
				return nil, fmt.Errorf("init renderer: %w", err)
			}
			a.addCloser("renderer "+name, func(context.Context) error {
				r.Close()
				return nil
			})
			renderer = r
		}
		return web.New(wc, renderer, logger)
	case config.KindGCS, config.KindS3:
		oc := cc.Object
		oc.Name = name
		if oc.Provider == "" {
			oc.Provider = cc.Kind
		}
		bucket, err := objectstore.OpenBucket(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("open bucket: %w", err)
		}
		if c, ok := bucket.(interface{ Close() error }); ok {
			a.addCloser("bucket "+name, func(context.Context) error { return c.Close() })
		}
		return objectstore.New(oc, bucket, logger)
	default:
		return nil, fmt.Errorf("unsupported connector kind %q", cc.Kind)
	}
}

// webDefaults fills unset web connector fields from the shared http and headless sections.
func (a *App) webDefaults(wc web.Config) web.Config {
	cfg := a.Config
	if wc.UserAgent == "" {
		wc.UserAgent = cfg.HTTP.UserAgent
	}
	if wc.Timeout <= 0 {
		wc.Timeout = cfg.HTTPTimeout()
	}
	if !wc.RespectRobots {
		wc.RespectRobots = cfg.HTTP.RespectRobots
	}
	if wc.MaxBodySize <= 0 {
		wc.MaxBodySize = cfg.HTTP.MaxBodyBytes
	}
	if wc.RateLimit.DefaultRPS <= 0 {
		wc.RateLimit = cfg.HTTP.RateLimit
	}
	if !wc.Render.Enabled && cfg.Headless.Enabled {
		wc.Render.Enabled = true
		wc.Render.MaxParallel = cfg.Headless.MaxParallel
		wc.Render.NavigationTimeout = time.Duration(cfg.Headless.NavTimeoutSec) * time.Second
	}
	if wc.Render.UserAgent == "" {
		wc.Render.UserAgent = wc.UserAgent
	}
	return wc
}

func (a *App) initBlobStore(ctx context.Context) error {
	sc := a.Config.Storage
	switch sc.Backend {
	case "", "memory":
		a.Blobs = memoryStorage.NewBlobStore()
	case "local":
		bs, err := local.New(local.Config{BaseDir: sc.BaseDir}, a.Logger.Named("storage"))
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Blobs = bs
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs client", func(context.Context) error { return client.Close() })
		bs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: sc.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Blobs = bs
	default:
		return fmt.Errorf("unknown storage backend: %s", sc.Backend)
	}
	return nil
}

func (a *App) initMetadataStores(ctx context.Context) error {
	vc := a.Config.Versions
	switch vc.Backend {
	case "", "memory":
		a.Versions = memoryStorage.NewVersionStore()
		a.JobStore = memoryStorage.NewJobStore()
		a.Activity = memoryStorage.NewActivityStore()
		return nil
	case "postgres":
	default:
		return fmt.Errorf("unknown versions backend: %s", vc.Backend)
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:             vc.DSN,
		MaxConns:        vc.MaxConns,
		MinConns:        vc.MinConns,
		MaxConnLifetime: vc.ConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.addCloser("postgres pool", func(context.Context) error {
		pool.Close()
		return nil
	})

	versions, err := postgres.NewVersionStore(pool, vc.Table)
	if err != nil {
		return fmt.Errorf("init version store: %w", err)
	}
	jobs, err := postgres.NewJobStore(pool, vc.JobTable, vc.DocumentTable)
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	activity, err := postgres.NewActivityStore(pool, vc.ActivityTable)
	if err != nil {
		return fmt.Errorf("init activity store: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
	defer cancel()
	for _, s := range []interface{ EnsureSchema(context.Context) error }{versions, jobs, activity} {
		if err := s.EnsureSchema(schemaCtx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	a.Versions, a.JobStore, a.Activity = versions, jobs, activity
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	pc := a.Config.Publisher
	switch pc.Backend {
	case "", "none":
	case "memory":
		a.Publisher = memorypublisher.New(pc.Topic)
	case "pubsub":
		client, err := pubsub.NewClient(ctx, pc.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client, pc.Topic)
		a.addCloser("pubsub client", func(context.Context) error {
			pub.Close()
			return client.Close()
		})
		a.Publisher = pub
	case "kafka":
		pub, err := kafkapublisher.Dial(pc.Kafka, pc.Topic)
		if err != nil {
			return fmt.Errorf("dial kafka: %w", err)
		}
		a.addCloser("kafka producer", func(context.Context) error { return pub.Close() })
		a.Publisher = pub
	default:
		return fmt.Errorf("unknown publisher backend: %s", pc.Backend)
	}
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	pc := a.Config.Progress
	var hubSinks []progress.Sink
	if pc.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.Logger.Named("activity")))
	}
	if pc.Prometheus {
		ps, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("init prometheus sink: %w", err)
		}
		hubSinks = append(hubSinks, ps)
	}
	if a.Activity != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(a.Activity, a.Logger.Named("activity")))
	}
	hubCfg := pc.Hub
	hubCfg.Logger = a.Logger.Named("progress")
	a.Hub = progress.NewHub(hubCfg, hubSinks...)
	return nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close stops intake, waits for outstanding bridge tasks, flushes activity and
// releases backend clients in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application services")
	if a.Queue != nil {
		a.Queue.Close()
	}
	var errs []error
	if a.Supervisor != nil {
		if err := a.Supervisor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}
	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		a.Hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
