package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/fund-document-crawler/internal/metrics"
)

// EngineConfig controls one crawl.
type EngineConfig struct {
	Walker WalkerConfig
	// Summary logs the end-of-crawl report; ExecutionTime adds its duration.
	Summary       bool
	ExecutionTime bool
}

// Engine runs single crawls. Each crawl opens its own record store and
// browser session and releases both before returning.
type Engine struct {
	cfg       EngineConfig
	stores    StoreOpener
	browser   Browser
	evaluator RowEvaluator
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// NewEngine wires an Engine.
func NewEngine(
	cfg EngineConfig,
	stores StoreOpener,
	browser Browser,
	evaluator RowEvaluator,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) (*Engine, error) {
	switch {
	case stores == nil:
		return nil, errors.New("store opener is required")
	case browser == nil:
		return nil, errors.New("browser is required")
	case evaluator == nil:
		return nil, errors.New("row evaluator is required")
	case ids == nil:
		return nil, errors.New("id generator is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	case cfg.Walker.CatalogURL == "":
		return nil, errors.New("catalog url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		stores:    stores,
		browser:   browser,
		evaluator: evaluator,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Crawl performs one crawl and reports its outcome. The returned error is
// also stored in Summary.Err.
func (e *Engine) Crawl(ctx context.Context) (summary Summary, err error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary = Summary{RunID: runID, Started: e.clock.Now(), State: StateAcceptingDisclaimer}
	log := e.logger.With(zap.String("run_id", runID))

	defer func() {
		summary.Duration = e.clock.Now().Sub(summary.Started)
		summary.Err = err
		e.report(log, summary)
	}()

	store, err := e.stores.OpenStore(ctx)
	if err != nil {
		summary.State = StateFailed
		return summary, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn("close record store", zap.Error(cerr))
		}
	}()
	log.Info("crawl started", zap.Int("known_records", store.Len()))

	session, err := e.browser.OpenSession(ctx)
	if err != nil {
		summary.State = StateFailed
		return summary, NavigationError("open browser session", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("close browser session", zap.Error(cerr))
		}
	}()

	if err = session.Navigate(ctx, e.cfg.Walker.CatalogURL); err != nil {
		summary.State = StateFailed
		return summary, NavigationError("open catalog", err)
	}

	walker := NewWalker(e.cfg.Walker, session, store, e.evaluator, log.Named("walker"))
	err = walker.Run(ctx)
	summary.State = walker.State()
	summary.Counters = walker.Counters()
	return summary, err
}

func (e *Engine) report(log *zap.Logger, summary Summary) {
	status := "success"
	if summary.Err != nil {
		status = "failure"
	}
	metrics.ObserveCrawlFinished(status, summary.Duration, e.clock.Now())

	if !e.cfg.Summary {
		return
	}
	c := summary.Counters
	fields := []zap.Field{
		zap.String("state", string(summary.State)),
		zap.Int("examined", c.Examined),
		zap.Int("skipped", c.Skipped),
		zap.Int("stored", c.Stored()),
		zap.Int("fetched", c.Fetched),
		zap.Int("reused", c.Reused),
		zap.Int("field_errors", c.FieldErrors),
	}
	if e.cfg.ExecutionTime {
		fields = append(fields, zap.Duration("duration", summary.Duration))
	}
	if summary.Err != nil {
		fields = append(fields, zap.Error(summary.Err))
		log.Warn("crawl finished with error", fields...)
		return
	}
	log.Info("crawl finished", fields...)
}
