// Package app wires configuration into the long-lived services of one crawl
// run: record store, blob store, fetch client, queue, worker pool, navigator,
// publisher, and the optional status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gcsclient "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/api"
	"github.com/JakeFAU/cne-results-crawler/internal/assets"
	"github.com/JakeFAU/cne-results-crawler/internal/builder"
	"github.com/JakeFAU/cne-results-crawler/internal/clock/system"
	"github.com/JakeFAU/cne-results-crawler/internal/config"
	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/dispatcher"
	"github.com/JakeFAU/cne-results-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/cne-results-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/cne-results-crawler/internal/id/uuid"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
	"github.com/JakeFAU/cne-results-crawler/internal/navigator"
	"github.com/JakeFAU/cne-results-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/cne-results-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/cne-results-crawler/internal/queue/memory"
	"github.com/JakeFAU/cne-results-crawler/internal/storage"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/gcs"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/local"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/memory"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/postgres"
	"github.com/JakeFAU/cne-results-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/cne-results-crawler/internal/telemetry"
	"github.com/JakeFAU/cne-results-crawler/internal/worker"
)

// ServiceName identifies the crawler in traces.
const ServiceName = "cne-results-crawler"

type closer struct {
	name string
	fn   func() error
}

// App holds the services of a single run. Build it with New, call Run once,
// then Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	store   crawler.RecordStore
	engine  *engine.Engine
	server  *api.Server
	closers []closer
}

// New initializes every service described by cfg. It fails fast: any service
// that cannot start aborts construction and releases what was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("cleanup after failed start", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	clock := system.New()

	runID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	a.runID = runID
	a.logger = a.logger.With(zap.String("run_id", runID))

	exporter, err := a.openTraceExporter()
	if err != nil {
		return err
	}
	tp, err := telemetry.InitTracerProvider(ctx, ServiceName, runID, telemetry.ProviderOptions(exporter)...)
	if err != nil {
		return err
	}
	a.onClose("tracer provider", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	store, err := a.openStore(ctx, clock)
	if err != nil {
		return err
	}
	a.store = store
	a.onClose("record store", store.Close)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	})
	fetcher, err := collyfetcher.New(fetcherConfig(cfg), limiter, a.logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}

	assetStore := assets.New(blobs, fetcher, a.logger.Named("assets"))
	recordBuilder := builder.New(builder.Config{
		BaseAPI:           cfg.Source.BaseAPI,
		Level:             cfg.Source.Level,
		BlankCodes:        cfg.Source.BlankCodes,
		NullCodes:         cfg.Source.NullCodes,
		SpecialVotesPause: millis(cfg.Crawler.SpecialVotesPauseMs),
		DocumentsDir:      cfg.Assets.DocumentsDir,
		LogosDir:          cfg.Assets.LogosDir,
		DocumentPrefix:    cfg.Assets.DocumentPrefix,
	}, fetcher, assetStore, clock, a.logger.Named("builder"))

	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return err
	}

	counters := &crawler.RunCounters{}
	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	a.onClose("queue", func() error {
		queue.Close()
		return nil
	})

	workerCfg := worker.Config{
		PauseMin: millis(cfg.Crawler.WorkerPauseMinMs),
		PauseMax: millis(cfg.Crawler.WorkerPauseMaxMs),
		Topic:    cfg.PubSub.TopicName,
		RunID:    runID,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		runners = append(runners, worker.New(queue, store, recordBuilder, publisher, clock, counters,
			workerCfg, a.logger.Named("worker").With(zap.Int("worker", i))))
	}
	pool := dispatcher.New(queue, runners, a.logger.Named("dispatcher"))

	nav := navigator.New(navigatorConfig(cfg), fetcher, store, pool, counters, a.logger.Named("navigator"))
	a.engine = engine.New(runID, nav, queue, pool, counters, clock, a.logger.Named("engine"))

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.engine, clock, a.logger.Named("api"))
	}

	a.logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("assets", cfg.Assets.Backend),
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Int("departments", len(cfg.Navigator.Departments)),
		zap.Bool("publishing", publisher != nil),
		zap.Bool("server", a.server != nil),
	)
	return nil
}

func (a *App) openStore(ctx context.Context, clock crawler.Clock) (crawler.RecordStore, error) {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.SQLitePath,
			Table:        cfg.Table,
			MaxOpenConns: cfg.MaxOpenConns,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.PostgresDSN,
			Table:    cfg.Table,
			MaxConns: int32(min(cfg.MaxOpenConns, 1<<10)), //nolint:gosec // bounded above
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case "memory":
		a.logger.Warn("using the in-memory record store; nothing survives this run")
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// openTraceExporter returns nil when span export is disabled. A stdout
// exporter with an output file appends to it and closes it after the
// provider flushes.
func (a *App) openTraceExporter() (sdktrace.SpanExporter, error) {
	cfg := a.cfg.Tracing
	exporterCfg := telemetry.ExporterConfig{Kind: cfg.Exporter, ProjectID: cfg.ProjectID}
	if cfg.Exporter == telemetry.ExporterStdout && cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o750); err != nil {
			return nil, fmt.Errorf("create trace output directory: %w", err)
		}
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open trace output file: %w", err)
		}
		a.onClose("trace output file", f.Close)
		exporterCfg.Writer = f
	}
	exporter, err := telemetry.NewExporter(exporterCfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		a.logger.Info("exporting traces", zap.String("exporter", cfg.Exporter))
	}
	return exporter, nil
}

func (a *App) openBlobs(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.cfg.Assets
	switch cfg.Backend {
	case "local":
		blobs, err := local.New(local.Config{BaseDir: cfg.Root, Subdirs: []string{cfg.DocumentsDir, cfg.LogosDir}})
		if err != nil {
			return nil, fmt.Errorf("open asset directory: %w", err)
		}
		return blobs, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose("gcs client", client.Close)
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs bucket: %w", err)
		}
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown assets backend: %s", cfg.Backend)
	}
}

// openPublisher returns nil when no topic is configured.
func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.cfg.PubSub
	if cfg.TopicName == "" {
		return nil, nil
	}
	publisher, err := pubsubpublisher.New(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}
	a.onClose("publisher", publisher.Close)
	a.logger.Info("publishing record notifications", zap.String("topic", cfg.TopicName))
	return publisher, nil
}

func fetcherConfig(cfg config.Config) collyfetcher.Config {
	jitter := collyfetcher.UniformJitter(millis(cfg.HTTP.JitterMinMs), millis(cfg.HTTP.JitterMaxMs))
	return collyfetcher.Config{
		UserAgent:       cfg.Source.UserAgent,
		Referer:         cfg.Source.Referer(),
		Origin:          cfg.Source.Origin(),
		Cookie:          cfg.Source.Cookie,
		Timeout:         cfg.RequestTimeout(),
		AssetTimeout:    cfg.AssetTimeout(),
		MaxConnsPerHost: cfg.HTTP.MaxConnsPerHost,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		Data: collyfetcher.RetryPolicy{
			MaxAttempts: cfg.HTTP.DataMaxAttempts,
			Backoff:     collyfetcher.LinearBackoff(millis(cfg.HTTP.DataBackoffMs)),
			Jitter:      jitter,
		},
		Navigation: collyfetcher.RetryPolicy{
			MaxAttempts: cfg.HTTP.NavigationMaxAttempts,
			Backoff:     collyfetcher.LinearBackoff(millis(cfg.HTTP.NavigationBackoffMs)),
		},
	}
}

func navigatorConfig(cfg config.Config) navigator.Config {
	depts := make([]navigator.Department, 0, len(cfg.Navigator.Departments))
	for _, d := range cfg.Navigator.Departments {
		depts = append(depts, navigator.Department{ID: d.ID, Name: d.Name})
	}
	return navigator.Config{
		BaseAPI:          cfg.Source.BaseAPI,
		Level:            cfg.Source.Level,
		Departments:      depts,
		ZoneLabels:       cfg.Navigator.ZoneLabels,
		UnknownZoneLabel: cfg.Navigator.UnknownZoneLabel,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// RunID identifies this run in logs, traces, and notifications.
func (a *App) RunID() string { return a.runID }

// Store exposes the record store, mainly for tests and reporting.
func (a *App) Store() crawler.RecordStore { return a.store }

// Run executes one crawl. The status server, when enabled, lives exactly as
// long as the crawl.
func (a *App) Run(ctx context.Context) (engine.Summary, error) {
	if a.engine == nil {
		return engine.Summary{}, errors.New("app is not initialized")
	}
	if a.server == nil {
		return a.engine.Run(ctx)
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.ListenAndServe(serverCtx, a.cfg.Server.Port)
	}()

	summary, err := a.engine.Run(ctx)
	stopServer()
	if srvErr := <-serverErr; srvErr != nil {
		a.logger.Warn("status server stopped with error", zap.Error(srvErr))
	}
	return summary, err
}

// Close releases services in reverse order of initialization.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
