// File: internal/verifier/helpers_test.go
package verifier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xkilldash9x/airwork-authcheck/internal/browser/session"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
)

// fakePage scripts a login site. Elements listed in visible (by XPath) or
// present (by CSS) exist; everything else never appears.
type fakePage struct {
	mu sync.Mutex

	navigateErr     error
	hasLoginControl bool
	// navigates[i] says whether the i-th armed navigation completes.
	navigates []bool
	visible   map[string]bool
	present   map[string]bool
	finalURL  string
	markup    string
	panicOn   string

	armed          int
	snapshotBudget time.Duration
	clicks  []string
	typed   map[string]string
	values  map[string]string
	visited []string
}

func newFakePage() *fakePage {
	return &fakePage{
		hasLoginControl: true,
		navigates:       []bool{true, true},
		visible:         map[string]bool{},
		present:         map[string]bool{},
		typed:           map[string]string{},
		values:          map[string]string{},
		finalURL:        "https://ats.example.test/home",
	}
}

// withPrimaryForm makes the structural paths of cfg visible.
func (f *fakePage) withPrimaryForm(t config.TargetConfig) *fakePage {
	f.visible[t.AccountXPath] = true
	f.visible[t.PasswordXPath] = true
	f.visible[t.SubmitXPath] = true
	return f
}

func (f *fakePage) maybePanic(op string) {
	if f.panicOn == op {
		panic(fmt.Sprintf("fake page exploded in %s", op))
	}
}

func (f *fakePage) ID() string { return "fake-session" }

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.maybePanic("Navigate")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	return f.navigateErr
}

func (f *fakePage) ExpectNavigation() session.NavigationWaiter {
	f.mu.Lock()
	n := f.armed
	f.armed++
	ok := n < len(f.navigates) && f.navigates[n]
	f.mu.Unlock()

	return func(ctx context.Context) error {
		if ok {
			return nil
		}
		<-ctx.Done()
		return fmt.Errorf("waiting for page load: %w", ctx.Err())
	}
}

func (f *fakePage) TagByText(ctx context.Context, selector string, keywords []string) (session.Locator, bool, error) {
	f.maybePanic("TagByText")
	if !f.hasLoginControl {
		return session.Locator{}, false, nil
	}
	return session.CSS(`[data-authcheck-mark="t"]`), true, nil
}

func (f *fakePage) WaitVisible(ctx context.Context, loc session.Locator) error {
	f.mu.Lock()
	ok := f.visible[loc.Expr]
	f.mu.Unlock()
	if ok {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("element %s not visible: %w", loc, ctx.Err())
}

func (f *fakePage) Exists(ctx context.Context, loc session.Locator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[loc.Expr] || f.visible[loc.Expr], nil
}

func (f *fakePage) Click(ctx context.Context, loc session.Locator) error {
	f.maybePanic("Click")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, loc.Expr)
	return nil
}

func (f *fakePage) Type(ctx context.Context, loc session.Locator, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[loc.Expr] = text
	return nil
}

func (f *fakePage) SetValue(ctx context.Context, loc session.Locator, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[loc.Expr] = value
	return nil
}

func (f *fakePage) Snapshot(ctx context.Context) (string, string, error) {
	f.maybePanic("Snapshot")
	if deadline, ok := ctx.Deadline(); ok {
		f.mu.Lock()
		f.snapshotBudget = time.Until(deadline)
		f.mu.Unlock()
	}
	return f.finalURL, f.markup, nil
}

// fakeProvider hands out one scripted page and counts the lifecycle calls.
type fakeProvider struct {
	mu         sync.Mutex
	page       *fakePage
	acquireErr error
	releaseErr error
	acquired   int
	released   int
}

func (p *fakeProvider) Acquire(ctx context.Context) (session.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquired++
	return p.page, nil
}

func (p *fakeProvider) Release(ctx context.Context, pg session.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return p.releaseErr
}

// testConfig shortens every wait so timeouts resolve quickly.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Verifier.NavigationTimeout = 150 * time.Millisecond
	cfg.Verifier.FieldTimeout = 30 * time.Millisecond
	cfg.Target.EntryURL = "https://ats.example.test/"
	return cfg
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 45, 123000000, time.UTC)

func fixedBuilder(exposeStack bool) *Builder {
	b := NewBuilder(exposeStack)
	b.now = func() time.Time { return fixedNow }
	return b
}
