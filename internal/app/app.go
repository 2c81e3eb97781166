// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aidosq/kolesa-ingest/internal/archive"
	"github.com/aidosq/kolesa-ingest/internal/config"
	"github.com/aidosq/kolesa-ingest/internal/events"
	"github.com/aidosq/kolesa-ingest/internal/fetch"
	"github.com/aidosq/kolesa-ingest/internal/ingest"
	"github.com/aidosq/kolesa-ingest/internal/logging"
	"github.com/aidosq/kolesa-ingest/internal/metrics"
	"github.com/aidosq/kolesa-ingest/internal/promote"
	"github.com/aidosq/kolesa-ingest/internal/queue"
	"github.com/aidosq/kolesa-ingest/internal/scan"
	"github.com/aidosq/kolesa-ingest/internal/silver"
	"github.com/aidosq/kolesa-ingest/internal/views"
)

// App holds the shared services behind one pipeline invocation. It is built
// once at startup and fails fast when a critical service cannot initialize.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	queue     *queue.Store
	silver    *silver.Store
	archive   archive.Provider
	publisher events.Publisher
	navigator *fetch.Navigator
	probe     *fetch.Probe
	stats     *ingest.Stats
}

// New builds the container from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	// Every log line of one invocation shares a run id, so interleaved cron
	// runs stay separable in aggregated logs.
	logger = logger.With(zap.String("run_id", uuid.NewString()))
	metrics.Init()

	queueStore, err := queue.NewFromDSN(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("init queue store: %w", err)
	}
	silverStore, err := silver.NewFromDSN(ctx, cfg.DB.DSN)
	if err != nil {
		queueStore.Close()
		return nil, fmt.Errorf("init silver store: %w", err)
	}

	provider, err := newArchiveProvider(ctx, cfg.Archive, logger)
	if err != nil {
		queueStore.Close()
		silverStore.Close()
		return nil, err
	}

	publisher, err := newPublisher(ctx, cfg.Events, logger)
	if err != nil {
		queueStore.Close()
		silverStore.Close()
		return nil, err
	}

	navigator, err := fetch.NewNavigator(fetch.NavigatorConfig{
		UserAgent:      cfg.Site.UserAgent,
		BaseURL:        cfg.Site.BaseURL,
		MaxParallel:    cfg.Fetch.Concurrency,
		NavTimeout:     cfg.Fetch.NavTimeout(),
		ContentTimeout: cfg.Fetch.ContentTimeout(),
		IdleTimeout:    cfg.Fetch.IdleTimeout(),
	}, logger)
	if err != nil {
		queueStore.Close()
		silverStore.Close()
		return nil, fmt.Errorf("init browser: %w", err)
	}

	probe := fetch.NewProbe(fetch.ProbeConfig{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.Fetch.NavTimeout(),
	})

	return &App{
		cfg:       cfg,
		logger:    logger,
		queue:     queueStore,
		silver:    silverStore,
		archive:   provider,
		publisher: publisher,
		navigator: navigator,
		probe:     probe,
		stats:     ingest.NewStats(),
	}, nil
}

func newArchiveProvider(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (archive.Provider, error) {
	switch cfg.Provider {
	case "gcs":
		logger.Info("using GCS archive provider", zap.String("bucket", cfg.Bucket))
		provider, err := archive.NewGCSProvider(ctx, cfg.Bucket, logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return provider, nil
	case "local":
		logger.Info("using local archive provider", zap.String("base_dir", cfg.BaseDir))
		provider, err := archive.NewLocalProvider(cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return provider, nil
	case "noop":
		logger.Info("raw HTML archiving disabled")
		return archive.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Provider {
	case "pubsub":
		logger.Info("publishing price events to Pub/Sub", zap.String("topic", cfg.TopicID))
		publisher, err := events.NewPubSubPublisher(ctx, cfg.ProjectID, cfg.TopicID, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return publisher, nil
	case "noop":
		logger.Info("price event publishing disabled")
		return events.NoOpPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown events provider: %s", cfg.Provider)
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Stats returns the per-invocation counters.
func (a *App) Stats() *ingest.Stats { return a.stats }

// Pool builds the fetch worker pool on the container's services.
func (a *App) Pool() *fetch.Pool {
	return fetch.NewPool(
		a.queue,
		a.silver,
		a.navigator,
		a.archive,
		a.publisher,
		a.stats,
		fetch.PoolConfig{
			Concurrency: a.cfg.Fetch.Concurrency,
			ArchiveRaw:  a.cfg.Fetch.ArchiveRaw,
			SleepMinMs:  a.cfg.Politeness.MinMs,
			SleepMaxMs:  a.cfg.Politeness.MaxMs,
		},
		a.logger,
	)
}

// Scanner builds the discovery scanner on the container's services.
func (a *App) Scanner() *scan.Scanner {
	return scan.New(
		a.probe,
		a.navigator,
		promote.NewHeuristic(a.cfg.Scan.PromoteThreshold),
		a.queue,
		a.stats,
		scan.Config{
			BaseURL:    a.cfg.Site.BaseURL,
			MaxPages:   a.cfg.Scan.MaxPages,
			SleepMinMs: a.cfg.Politeness.MinMs,
			SleepMaxMs: a.cfg.Politeness.MaxMs,
		},
		a.logger,
	)
}

// ViewsEnricher builds the snapshot view-count enricher.
func (a *App) ViewsEnricher() *views.Enricher {
	return views.New(a.silver.DB(), nil, views.Config{
		BaseURL:   a.cfg.Site.BaseURL,
		UserAgent: a.cfg.Site.UserAgent,
		ChunkSize: a.cfg.Fetch.ViewsEnrichBatch,
	}, a.logger)
}

// OpsServer returns the HTTP server exposing health and metrics.
func (a *App) OpsServer() *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close releases every held resource; safe to call once at shutdown.
func (a *App) Close() {
	if a.navigator != nil {
		a.navigator.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("closing publisher", zap.Error(err))
		}
	}
	if a.silver != nil {
		a.silver.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	_ = a.logger.Sync()
}
