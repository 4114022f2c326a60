// Package browser drives a headless Chrome through chromedp and exposes it
// as the crawler's page navigator. Selectors are CSS selectors.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/fund-document-crawler/internal/crawler"
)

// Config controls the browser process.
type Config struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// ActionTimeout bounds every read, click, and navigation.
	ActionTimeout time.Duration
	WindowWidth   int
	WindowHeight  int
}

// Browser launches one Chrome instance per session.
type Browser struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger}
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(b.cfg.WindowWidth, b.cfg.WindowHeight),
	)
	if b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	return opts
}

// OpenSession starts Chrome and opens a tab. The session owns the process
// until Close.
func (b *Browser) OpenSession(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and binds it to the context it is
	// given, so it runs on tabCtx and is bounded from outside.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx)
	}()
	timer := time.NewTimer(b.cfg.ActionTimeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("timed out after %s", b.cfg.ActionTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	b.logger.Debug("browser session opened")
	return &Session{
		tab:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		timeout:     b.cfg.ActionTimeout,
		logger:      b.logger,
	}, nil
}

// Session is one browser tab. It implements crawler.Session.
type Session struct {
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	logger      *zap.Logger
	closeOnce   sync.Once
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = s.timeout
	}
	opCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url in the tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitPresent waits until selector matches an element in the DOM.
func (s *Session) WaitPresent(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Click scrolls selector into view and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	err := s.run(ctx, 0,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Text returns the text of the first element matching selector.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	return s.text(ctx, nil, selector)
}

// Attribute returns an attribute of the first element matching selector.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, error) {
	return s.attribute(ctx, nil, selector, name)
}

// List returns every element matching selector. No match is not an error.
func (s *Session) List(ctx context.Context, selector string) ([]crawler.Element, error) {
	nodes, err := s.query(ctx, nil, selector)
	if err != nil {
		return nil, err
	}
	out := make([]crawler.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{session: s, node: n})
	}
	return out, nil
}

// Close shuts down the tab and the browser process.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		s.logger.Debug("browser session closed")
	})
	return nil
}

func (s *Session) query(ctx context.Context, parent *cdp.Node, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if parent != nil {
		opts = append(opts, chromedp.FromNode(parent))
	}
	if err := s.run(ctx, 0, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return nodes, nil
}

func (s *Session) first(ctx context.Context, parent *cdp.Node, selector string) (*cdp.Node, error) {
	nodes, err := s.query(ctx, parent, selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%q: %w", selector, crawler.ErrNoElement)
	}
	return nodes[0], nil
}

func (s *Session) text(ctx context.Context, parent *cdp.Node, selector string) (string, error) {
	node, err := s.first(ctx, parent, selector)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, 0, chromedp.TextContent([]cdp.NodeID{node.NodeID}, &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (s *Session) attribute(ctx context.Context, parent *cdp.Node, selector, name string) (string, error) {
	node, err := s.first(ctx, parent, selector)
	if err != nil {
		return "", err
	}
	var (
		value string
		ok    bool
	)
	err = s.run(ctx, 0, chromedp.AttributeValue([]cdp.NodeID{node.NodeID}, name, &value, &ok, chromedp.ByNodeID))
	if err != nil {
		return "", fmt.Errorf("read attribute %s of %q: %w", name, selector, err)
	}
	if !ok {
		return "", fmt.Errorf("attribute %s of %q: %w", name, selector, errAttributeMissing)
	}
	return value, nil
}

var errAttributeMissing = errors.New("attribute missing")

// element scopes reads to one node's subtree.
type element struct {
	session *Session
	node    *cdp.Node
}

func (e *element) Text(ctx context.Context, selector string) (string, error) {
	return e.session.text(ctx, e.node, selector)
}

func (e *element) Attribute(ctx context.Context, selector, name string) (string, error) {
	return e.session.attribute(ctx, e.node, selector, name)
}

// forwardCancel cancels a chromedp context when parent is done.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
