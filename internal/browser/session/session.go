// File: internal/browser/session/session.go
package session

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed scripts/tag_by_text.js
var tagByTextScript string

// markAttr is set on elements found by TagByText so they can be addressed
// with a plain CSS selector afterwards.
const markAttr = "data-authcheck-mark"

// Session is one browser process with one tab. It is owned by a single
// request and must be handed back to the Manager that created it.
type Session struct {
	id     string
	ctx    context.Context // tab context, carries the CDP target
	logger *zap.Logger

	// teardown closes the tab and terminates the process.
	teardown  func() error
	onClose   func()
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Page = (*Session)(nil)

func newSession(ctx context.Context, logger *zap.Logger, teardown func() error) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		ctx:      ctx,
		logger:   logger.With(zap.String("session_id", id)),
		teardown: teardown,
		closed:   make(chan struct{}),
	}
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string { return s.id }

// run executes actions on the tab, bounded by the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-s.closed:
		return fmt.Errorf("session %s is closed", s.id)
	default:
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		// Report the caller's deadline rather than the derived cancellation.
		return fmt.Errorf("%v: %w", err, ctx.Err())
	}
	return err
}

// Navigate loads url and waits for its load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// ExpectNavigation arms a load-event listener on the tab.
func (s *Session) ExpectNavigation() NavigationWaiter {
	listenCtx, cancel := context.WithCancel(s.ctx)
	loaded := make(chan struct{})
	var once sync.Once

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			once.Do(func() { close(loaded) })
		}
	})

	return func(ctx context.Context) error {
		defer cancel()
		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for page load: %w", ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("session %s ended while waiting for page load: %w", s.id, s.ctx.Err())
		}
	}
}

// TagByText evaluates the marking script and, on a hit, returns a CSS
// locator for the marked element.
func (s *Session) TagByText(ctx context.Context, selector string, keywords []string) (Locator, bool, error) {
	token := uuid.NewString()
	args, err := json.Marshal([]interface{}{selector, keywords, markAttr, token})
	if err != nil {
		return Locator{}, false, fmt.Errorf("failed to encode script arguments: %w", err)
	}
	// args is a JSON array; spread it into the arrow function's parameters.
	expr := fmt.Sprintf("(%s)(...%s)", tagByTextScript, args)

	var found bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return Locator{}, false, fmt.Errorf("text search over %q failed: %w", selector, err)
	}
	if !found {
		return Locator{}, false, nil
	}
	return CSS(fmt.Sprintf(`[%s=%q]`, markAttr, token)), true, nil
}

// WaitVisible blocks until the element is rendered and visible.
func (s *Session) WaitVisible(ctx context.Context, loc Locator) error {
	if err := s.run(ctx, chromedp.WaitVisible(loc.Expr, loc.queryOption())); err != nil {
		return fmt.Errorf("element %s not visible: %w", loc, err)
	}
	return nil
}

// Exists reports whether at least one element matches, without waiting.
func (s *Session) Exists(ctx context.Context, loc Locator) (bool, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(loc.Expr, &nodes, loc.queryOption(), chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("query %s failed: %w", loc, err)
	}
	return len(nodes) > 0, nil
}

// Click activates the first element matching loc.
func (s *Session) Click(ctx context.Context, loc Locator) error {
	if err := s.run(ctx, chromedp.Click(loc.Expr, loc.queryOption(), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click on %s failed: %w", loc, err)
	}
	return nil
}

// Type focuses the element and sends text as key events.
func (s *Session) Type(ctx context.Context, loc Locator, text string) error {
	if err := s.run(ctx, chromedp.SendKeys(loc.Expr, text, loc.queryOption(), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("typing into %s failed: %w", loc, err)
	}
	return nil
}

// SetValue writes the value property of the element.
func (s *Session) SetValue(ctx context.Context, loc Locator, value string) error {
	if err := s.run(ctx, chromedp.SetValue(loc.Expr, value, loc.queryOption())); err != nil {
		return fmt.Errorf("setting value of %s failed: %w", loc, err)
	}
	return nil
}

// Snapshot returns the current URL and the outer HTML of the document.
func (s *Session) Snapshot(ctx context.Context) (string, string, error) {
	var url, markup string
	err := s.run(ctx,
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to capture page state: %w", err)
	}
	return url, markup, nil
}

// close tears the session down once. Later calls are no-ops.
func (s *Session) close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		done := make(chan error, 1)
		go func() { done <- s.teardown() }()

		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("teardown of session %s did not finish: %w", s.id, ctx.Err())
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}
