// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/fund-document-crawler/internal/browser"
	"github.com/JakeFAU/fund-document-crawler/internal/clock/system"
	"github.com/JakeFAU/fund-document-crawler/internal/config"
	"github.com/JakeFAU/fund-document-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/fund-document-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/fund-document-crawler/internal/hash/digest"
	"github.com/JakeFAU/fund-document-crawler/internal/id/uuid"
	"github.com/JakeFAU/fund-document-crawler/internal/metrics"
	memorypublisher "github.com/JakeFAU/fund-document-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/fund-document-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/fund-document-crawler/internal/recordlog"
	"github.com/JakeFAU/fund-document-crawler/internal/schedule"
	gcsstore "github.com/JakeFAU/fund-document-crawler/internal/storage/gcs"
	"github.com/JakeFAU/fund-document-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/fund-document-crawler/internal/storage/memory"
	"github.com/JakeFAU/fund-document-crawler/internal/storage/postgres"
)

// App holds the services shared by every crawl. It is built once at startup
// and closed when the command exits.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	engine    *crawler.Engine
	publisher crawler.Publisher
	closers   []func()
}

// Option customizes service construction.
type Option func(*options)

type options struct {
	browser crawler.Browser
}

// WithBrowser replaces the Chrome browser, mainly for tests.
func WithBrowser(b crawler.Browser) Option {
	return func(o *options) { o.browser = b }
}

// New creates and initializes the application services from cfg. It fails
// fast when an enabled backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	logger.Info("initializing application services")
	metrics.Init()

	loc, err := cfg.Location()
	if err != nil {
		return a, err
	}
	clock := system.New(loc)

	hasher, err := digest.New(cfg.Storage.HashAlgorithm)
	if err != nil {
		return a, fmt.Errorf("init hasher: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxBodySize:       cfg.HTTP.MaxBodyBytes,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	})
	content := crawler.NewContentFetcher(fetcher, hasher, local.NewFileSystem())

	evalOpts, err := a.buildOutputs(ctx)
	if err != nil {
		return a, err
	}
	evaluator, err := crawler.NewEvaluator(cfg.EvaluatorConfig(), content, clock, logger.Named("evaluator"), evalOpts...)
	if err != nil {
		return a, fmt.Errorf("init evaluator: %w", err)
	}

	nav := o.browser
	if nav == nil {
		nav = browser.New(browser.Config{
			Headless:      cfg.Browser.Headless,
			ExecPath:      cfg.Browser.ExecPath,
			UserAgent:     cfg.HTTP.UserAgent,
			ActionTimeout: time.Duration(cfg.Browser.ActionTimeoutSeconds) * time.Second,
			WindowWidth:   cfg.Browser.WindowWidth,
			WindowHeight:  cfg.Browser.WindowHeight,
		}, logger.Named("browser"))
	}

	stores := recordlog.Opener{Path: cfg.RecordLogPath(), Logger: logger.Named("recordlog")}
	a.engine, err = crawler.NewEngine(crawler.EngineConfig{
		Walker:        cfg.WalkerConfig(),
		Summary:       cfg.Logging.Summary,
		ExecutionTime: cfg.Logging.ExecutionTime,
	}, stores, nav, evaluator, uuid.New(), clock, logger.Named("engine"))
	if err != nil {
		return a, fmt.Errorf("init engine: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("catalog", cfg.Catalog.URL),
		zap.String("record_log", cfg.RecordLogPath()),
		zap.Int("max_entries", cfg.Crawler.MaxEntries),
	)
	return a, nil
}

// buildOutputs wires the optional record mirror, notifications and blob
// mirror. Each one is skipped when unconfigured.
func (a *App) buildOutputs(ctx context.Context) ([]crawler.EvaluatorOption, error) {
	cfg := a.cfg
	var sinks []crawler.RecordSink
	var opts []crawler.EvaluatorOption

	if cfg.DB.DSN != "" {
		a.logger.Info("connecting to PostgreSQL record mirror", zap.String("table", cfg.DB.Table))
		mirror, err := postgres.NewRecordMirror(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init record mirror: %w", err)
		}
		a.closers = append(a.closers, mirror.Close)
		if cfg.DB.EnsureSchema {
			if err := mirror.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		sinks = append(sinks, mirror)
	}

	switch strings.ToLower(cfg.PubSub.Backend) {
	case "pubsub":
		a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", cfg.PubSub.TopicName))
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
		a.closers = append(a.closers, func() {
			pub.Stop()
			if cerr := client.Close(); cerr != nil {
				a.logger.Warn("close pubsub client", zap.Error(cerr))
			}
		})
		a.publisher = pub
	case "memory":
		a.logger.Info("using in-memory publisher; notifications are not delivered")
		a.publisher = memorypublisher.New()
	}
	if a.publisher != nil {
		sink, err := crawler.NewPublisherSink(a.publisher, cfg.PubSub.TopicName)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) > 0 {
		opts = append(opts, crawler.WithSinks(sinks...))
	}

	switch cfg.Storage.Mirror {
	case "gcs":
		a.logger.Info("mirroring documents to GCS", zap.String("bucket", cfg.Storage.GCSBucket))
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := client.Close(); cerr != nil {
				a.logger.Warn("close gcs client", zap.Error(cerr))
			}
		})
		blobs, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.GCSPrefix})
		if err != nil {
			return nil, err
		}
		opts = append(opts, crawler.WithBlobMirror(blobs))
	case "local":
		a.logger.Info("mirroring documents to local directory", zap.String("dir", cfg.Storage.MirrorDir))
		blobs, err := local.New(local.Config{BaseDir: cfg.Storage.MirrorDir})
		if err != nil {
			return nil, fmt.Errorf("init local mirror: %w", err)
		}
		opts = append(opts, crawler.WithBlobMirror(blobs))
	case "memory":
		a.logger.Info("mirroring documents in memory; copies are discarded on exit")
		opts = append(opts, crawler.WithBlobMirror(memorystore.NewBlobStore()))
	}
	return opts, nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetPublisher returns the notification publisher, or nil when disabled.
func (a *App) GetPublisher() crawler.Publisher {
	return a.publisher
}

// CrawlOnce runs a single crawl and refreshes the metrics textfile.
func (a *App) CrawlOnce(ctx context.Context) (crawler.Summary, error) {
	summary, err := a.engine.Crawl(ctx)
	if werr := metrics.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
		a.logger.Warn("write metrics textfile", zap.Error(werr))
	}
	return summary, err
}

// Run crawls on the configured schedule until ctx is canceled. Only a record
// log that cannot be opened stops the loop.
func (a *App) Run(ctx context.Context) error {
	schedCfg, err := a.cfg.ScheduleConfig()
	if err != nil {
		return err
	}
	sched, err := schedule.New(schedCfg, a.logger.Named("schedule"), schedule.WithFatal(crawler.IsProcessFatal))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	return sched.Run(ctx, func(ctx context.Context) error {
		_, err := a.CrawlOnce(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// Close shuts down every backend client. It is safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
