// File: internal/browser/session/manager.go
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/airwork-authcheck/internal/browser/stealth"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const defaultAcquireTimeout = 30 * time.Second

// ErrForeignPage is returned by Release for pages this manager did not create.
var ErrForeignPage = errors.New("page was not acquired from this manager")

// launchFunc starts one browser process and returns its session.
type launchFunc func(ctx context.Context) (*Session, error)

// Manager starts a fresh browser process for every Acquire and tears it down
// on Release. Processes are never pooled or reused.
type Manager struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	persona stealth.Persona
	caps    stealth.Capabilities

	slots          *semaphore.Weighted
	limiter        *rate.Limiter
	launch         launchFunc
	acquireTimeout time.Duration

	mu     sync.Mutex
	active map[string]*Session
	opened atomic.Int64
}

var _ Provider = (*Manager)(nil)

// NewManager creates a manager for the given browser settings.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSessions := cfg.MaxSessions
	if maxSessions < 1 {
		maxSessions = 1
	}

	limit := rate.Limit(cfg.LaunchRate)
	if cfg.LaunchRate <= 0 {
		limit = rate.Inf
	}
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	burst := cfg.LaunchBurst
	if burst < 1 {
		burst = 1
	}

	persona := stealth.Persona{
		UserAgent: cfg.UserAgent,
		Locale:    cfg.Locale,
		Languages: cfg.Languages,
		Timezone:  cfg.Timezone,
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger.Named("session_manager"),
		persona: persona,
		caps:    stealth.FullCapabilities(persona),
		slots:   semaphore.NewWeighted(int64(maxSessions)),
		limiter: rate.NewLimiter(limit, burst),
		active:  make(map[string]*Session),

		acquireTimeout: acquireTimeout,
	}
	m.launch = m.launchBrowser

	m.logger.Debug("Session manager ready",
		zap.Int("max_sessions", maxSessions),
		zap.String("launch_rate", limitString(limit)),
		zap.Int("launch_burst", burst),
		zap.Duration("acquire_timeout", acquireTimeout),
	)
	return m
}

// Acquire starts a new browser and opens one configured tab in it. Waiting
// for a free process slot, for the launch limiter and for the browser to
// start share one acquire timeout, on top of any deadline ctx carries.
func (m *Manager) Acquire(ctx context.Context) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("no browser slot available within %s: %w", m.acquireTimeout, err)
	}
	if err := m.limiter.Wait(ctx); err != nil {
		m.slots.Release(1)
		if ctx.Err() == nil {
			// The limiter refuses up front when the next token falls past the deadline.
			err = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("browser launch throttled: %w", err)
	}

	s, err := m.launch(ctx)
	if err != nil {
		m.slots.Release(1)
		return nil, err
	}

	s.onClose = func() {
		m.mu.Lock()
		delete(m.active, s.id)
		m.mu.Unlock()
		m.slots.Release(1)
	}
	m.mu.Lock()
	m.active[s.id] = s
	m.mu.Unlock()
	m.opened.Add(1)

	m.logger.Debug("Browser session acquired", zap.String("session_id", s.id))
	return s, nil
}

// Release closes the tab and terminates the browser process. Releasing the
// same page twice is a no-op.
func (m *Manager) Release(ctx context.Context, p Page) error {
	s, ok := p.(*Session)
	if !ok || s == nil {
		return ErrForeignPage
	}
	if err := s.close(ctx); err != nil {
		return fmt.Errorf("failed to release browser session: %w", err)
	}
	m.logger.Debug("Browser session released", zap.String("session_id", s.id))
	return nil
}

// Active returns the number of sessions acquired and not yet released.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Opened returns the number of sessions acquired over the manager's lifetime.
func (m *Manager) Opened() int64 { return m.opened.Load() }

// Shutdown releases every session still open, e.g. when the server stops
// while verifications are in flight.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		open = append(open, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// launchBrowser starts the process, opens the tab and applies the stealth
// persona before anything navigates.
func (m *Manager) launchBrowser(ctx context.Context) (*Session, error) {
	opts, err := AllocatorOptions(m.cfg)
	if err != nil {
		return nil, err
	}

	// The process lifetime is governed by Release, not by the request context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	teardown := func() error {
		// chromedp.Cancel closes the tab gracefully; the allocator cancel
		// then kills the process and waits for it to exit.
		err := chromedp.Cancel(tabCtx)
		tabCancel()
		allocCancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	tasks := chromedp.Tasks{network.Enable()}
	tasks = append(tasks, stealth.Apply(m.persona, m.caps, m.logger)...)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx, tasks) }()

	select {
	case err = <-started:
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		<-started
		return nil, fmt.Errorf("browser start aborted: %w", ctx.Err())
	}
	if err != nil {
		_ = teardown()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	s := newSession(tabCtx, m.logger, teardown)
	m.logger.Info("Browser process started", zap.String("session_id", s.id))
	return s, nil
}

// limitString renders the launch rate for logs.
func limitString(l rate.Limit) string {
	if l == rate.Inf || math.IsInf(float64(l), 1) {
		return "unlimited"
	}
	return fmt.Sprintf("%.2f/s", float64(l))
}
