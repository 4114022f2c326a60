package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WalkState is a state of the pagination walk.
type WalkState string

// Walk states. DONE and FAILED are terminal.
const (
	StateAcceptingDisclaimer WalkState = "accepting_disclaimer"
	StateLoadingPage         WalkState = "loading_page"
	StateProcessingRows      WalkState = "processing_rows"
	StateAdvancing           WalkState = "advancing"
	StateDone                WalkState = "done"
	StateFailed              WalkState = "failed"
)

// Terminal reports whether the walk has ended.
func (s WalkState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// WalkerConfig bounds the waits of a walk.
type WalkerConfig struct {
	Layout            Layout
	Categories        []Category
	CatalogURL        string
	DisclaimerTimeout time.Duration
	PageTimeout       time.Duration
	ControlTimeout    time.Duration
	SettleDelay       time.Duration
}

func (c WalkerConfig) withDefaults() WalkerConfig {
	if c.DisclaimerTimeout <= 0 {
		c.DisclaimerTimeout = 10 * time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 10 * time.Second
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = 5 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

// Walker drives one crawl across the catalog pages. It is not reusable.
type Walker struct {
	cfg       WalkerConfig
	nav       Navigator
	store     RecordStore
	evaluator RowEvaluator
	logger    *zap.Logger
	base      *url.URL

	state    WalkState
	counters RunCounters
	pages    int
}

// NewWalker builds a walker over an opened session and store.
func NewWalker(cfg WalkerConfig, nav Navigator, store RecordStore, evaluator RowEvaluator, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(cfg.CatalogURL)
	if err != nil {
		base = nil
	}
	return &Walker{
		cfg:       cfg.withDefaults(),
		nav:       nav,
		store:     store,
		evaluator: evaluator,
		logger:    logger,
		base:      base,
		state:     StateAcceptingDisclaimer,
	}
}

// State returns the current state.
func (w *Walker) State() WalkState {
	return w.state
}

// Counters returns the counters accumulated so far.
func (w *Walker) Counters() RunCounters {
	return w.counters
}

// Pages returns the number of catalog pages loaded.
func (w *Walker) Pages() int {
	return w.pages
}

// Run walks until DONE or FAILED. Records appended before a failure are kept.
func (w *Walker) Run(ctx context.Context) error {
	for !w.state.Terminal() {
		if err := ctx.Err(); err != nil {
			w.state = StateFailed
			return fmt.Errorf("walk canceled: %w", err)
		}
		next, err := w.step(ctx)
		if err != nil {
			w.logger.Error("walk failed", zap.String("state", string(w.state)), zap.Error(err))
			w.state = StateFailed
			return err
		}
		w.state = next
	}
	return nil
}

func (w *Walker) step(ctx context.Context) (WalkState, error) {
	switch w.state {
	case StateAcceptingDisclaimer:
		w.acceptDisclaimer(ctx)
		return StateLoadingPage, nil
	case StateLoadingPage:
		return w.loadPage(ctx)
	case StateProcessingRows:
		return w.processRows(ctx)
	case StateAdvancing:
		return w.advance(ctx)
	default:
		return StateFailed, fmt.Errorf("unexpected walk state %q", w.state)
	}
}

func (w *Walker) acceptDisclaimer(ctx context.Context) {
	sel := w.cfg.Layout.DisclaimerButton
	if sel == "" {
		return
	}
	if err := w.nav.WaitPresent(ctx, sel, w.cfg.DisclaimerTimeout); err != nil {
		w.logger.Warn("disclaimer not shown", zap.Error(err))
		return
	}
	if err := w.nav.Click(ctx, sel); err != nil {
		w.logger.Warn("disclaimer click failed", zap.Error(err))
		return
	}
	w.logger.Debug("disclaimer accepted")
}

func (w *Walker) loadPage(ctx context.Context) (WalkState, error) {
	if err := sleepCtx(ctx, w.cfg.SettleDelay); err != nil {
		return StateFailed, fmt.Errorf("settle canceled: %w", err)
	}
	if err := w.nav.WaitPresent(ctx, w.cfg.Layout.ActivePage, w.cfg.PageTimeout); err != nil {
		return StateFailed, NavigationError("wait for page", err)
	}
	page, err := w.nav.Text(ctx, w.cfg.Layout.ActivePage)
	if err != nil {
		w.logger.Warn("page number unreadable", zap.Error(err))
	}
	w.pages++
	w.logger.Info("page loaded", zap.String("page", strings.TrimSpace(page)))
	return StateProcessingRows, nil
}

func (w *Walker) processRows(ctx context.Context) (WalkState, error) {
	rows, err := w.nav.List(ctx, w.cfg.Layout.Rows)
	if err != nil && !errors.Is(err, ErrNoElement) {
		return StateFailed, NavigationError("list rows", err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return StateFailed, fmt.Errorf("walk canceled: %w", err)
		}
		entry, err := w.cfg.Layout.ReadEntry(ctx, row, w.cfg.Categories, w.base)
		if err != nil {
			return StateFailed, err
		}
		more, err := w.evaluator.Evaluate(ctx, w.store, entry, &w.counters)
		if err != nil {
			return StateFailed, err
		}
		if !more {
			w.logger.Info("entry budget reached", zap.Int("examined", w.counters.Examined))
			return StateDone, nil
		}
	}
	return StateAdvancing, nil
}

func (w *Walker) advance(ctx context.Context) (WalkState, error) {
	if w.evaluator.Exhausted(w.counters) {
		w.logger.Info("entry budget reached", zap.Int("examined", w.counters.Examined))
		return StateDone, nil
	}
	sel := w.cfg.Layout.NextButton
	if err := w.nav.WaitPresent(ctx, sel, w.cfg.ControlTimeout); err != nil {
		return StateFailed, NavigationError("wait for next control", err)
	}
	class, err := w.nav.Attribute(ctx, sel, "class")
	if err != nil && !errors.Is(err, ErrNoElement) {
		return StateFailed, NavigationError("read next control", err)
	}
	if w.cfg.Layout.IsDisabled(class) {
		w.logger.Info("last page reached", zap.Int("pages", w.pages))
		return StateDone, nil
	}
	if err := w.nav.Click(ctx, sel); err != nil {
		return StateFailed, NavigationError("click next control", err)
	}
	return StateLoadingPage, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
