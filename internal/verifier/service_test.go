// File: internal/verifier/service_test.go
package verifier

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(t *testing.T, cfg *config.Config, provider *fakeProvider) *Service {
	t.Helper()
	s := NewService(cfg, provider, zaptest.NewLogger(t))
	s.builder = fixedBuilder(true)
	return s
}

func TestCheckRejectsBeforeAcquiring(t *testing.T) {
	cfg := testConfig(t)
	bodies := map[string]string{
		"missing password": `{"username":"u"}`,
		"missing username": `{"password":"p"}`,
		"both blank":       `{"username":" ","password":" "}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			provider := &fakeProvider{page: newFakePage()}
			env := newTestService(t, cfg, provider).Check(context.Background(), []byte(body))

			assert.False(t, env.Success)
			assert.Equal(t, CodeMissingParameters, env.Details.Code)
			assert.Zero(t, provider.acquired, "no browser may be opened for an invalid request")
			assert.Zero(t, provider.released)
		})
	}

	provider := &fakeProvider{page: newFakePage()}
	env := newTestService(t, cfg, provider).Check(context.Background(), []byte(`{oops`))
	assert.Equal(t, CodeInvalidRequest, env.Details.Code)
	assert.Zero(t, provider.acquired)
}

// Scenario: default indicator, primary form, logout anchor on the landing page.
func TestCheckSuccess(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage().withPrimaryForm(cfg.Target)
	page.markup = `<html><body><header><a class="logout" href="/logout">ログアウト</a></header></body></html>`
	provider := &fakeProvider{page: page}

	env := newTestService(t, cfg, provider).Check(context.Background(), []byte(`{"username":"u","password":"p"}`))

	assert.True(t, env.Success)
	assert.Equal(t, "success", env.Details.Status)
	assert.Equal(t, "//a[contains(@class, 'logout')]", env.Details.FoundXPath)
	assert.Equal(t, page.finalURL, env.Details.URL)
	assert.Equal(t, 1, provider.acquired)
	assert.Equal(t, 1, provider.released)
}

// Scenario: structural paths absent, fallback selectors present.
func TestCheckFallbackForm(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage()
	page.present["#account"] = true
	page.present["#password"] = true
	page.present[".login-button"] = true
	page.markup = `<html><body><a class="logout">ログアウト</a></body></html>`
	provider := &fakeProvider{page: page}

	env := newTestService(t, cfg, provider).Check(context.Background(), []byte(`{"username":"u","password":"p"}`))

	assert.True(t, env.Success)
	assert.Equal(t, "u", page.values["#account"])
	assert.Equal(t, "p", page.values["#password"])
	assert.Equal(t, 1, provider.released)
}

// Scenario: no login control on the entry page.
func TestCheckLoginControlMissing(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage()
	page.hasLoginControl = false
	provider := &fakeProvider{page: page}

	env := newTestService(t, cfg, provider).Check(context.Background(), []byte(`{"username":"u","password":"p"}`))

	assert.False(t, env.Success)
	assert.Equal(t, "PUPPETEER_ERROR", env.Details.Code)
	assert.Equal(t, "ログインボタンが見つかりませんでした", env.Details.ErrorMessage)
	assert.Equal(t, "LoginControlNotFoundError", env.Details.ErrorType)
	assert.NotEmpty(t, env.Details.Stack)
	assert.Equal(t, 1, provider.released)
}

// Scenario: keyword present, no structural match, no corroborating link.
func TestCheckVerificationFailed(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage().withPrimaryForm(cfg.Target)
	page.markup = `<html><body><p>ログアウトしました</p></body></html>`
	provider := &fakeProvider{page: page}

	env := newTestService(t, cfg, provider).Check(context.Background(), []byte(`{"username":"u","password":"p"}`))

	assert.False(t, env.Success)
	assert.Equal(t, "VERIFICATION_FAILED", env.Details.Code)
	assert.Equal(t, 1, provider.released)
}

func TestCheckPartial(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage().withPrimaryForm(cfg.Target)
	page.markup = `<html><body><a href="/account/end"><span>ログアウト</span></a></body></html>`
	provider := &fakeProvider{page: page}

	env := newTestService(t, cfg, provider).Check(context.Background(), []byte(`{"username":"u","password":"p"}`))

	assert.True(t, env.Success)
	assert.Equal(t, "partial", env.Details.Status)
	assert.Equal(t, "logged_in", env.Details.LoginStatus)
	assert.NotEmpty(t, env.Details.Note)
	assert.Empty(t, env.Details.FoundXPath)
}

// Release runs exactly once whichever phase fails.
func TestVerifyReleasesOnEveryPath(t *testing.T) {
	cfg := testConfig(t)
	req := VerificationRequest{Username: "u", Password: "p", Indicator: config.DefaultIndicator}

	tests := []struct {
		name     string
		setup    func(p *fakePage)
		indicate string
		code     string
	}{
		{
			name:  "success",
			setup: func(p *fakePage) { p.withPrimaryForm(cfg.Target); p.markup = `<a class="logout">x</a>` },
		},
		{
			name:  "entry page unreachable",
			setup: func(p *fakePage) { p.navigateErr = errors.New("net::ERR_CONNECTION_REFUSED") },
			code:  CodeBrowserError,
		},
		{
			name:  "login control not found",
			setup: func(p *fakePage) { p.hasLoginControl = false },
			code:  CodeBrowserError,
		},
		{
			name:  "login form not found",
			setup: func(p *fakePage) {},
			code:  CodeBrowserError,
		},
		{
			name:     "classifier error",
			setup:    func(p *fakePage) { p.withPrimaryForm(cfg.Target); p.markup = `<p>x</p>` },
			indicate: "//a[",
			code:     CodeBrowserError,
		},
		{
			name:  "panic while driving",
			setup: func(p *fakePage) { p.withPrimaryForm(cfg.Target); p.panicOn = "Snapshot" },
			code:  CodeBrowserError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			tt.setup(page)
			provider := &fakeProvider{page: page}
			r := req
			if tt.indicate != "" {
				r.Indicator = tt.indicate
			}

			env := newTestService(t, cfg, provider).Verify(context.Background(), r)

			assert.Equal(t, 1, provider.acquired)
			assert.Equal(t, 1, provider.released, "release must run exactly once")
			assert.Equal(t, tt.code, env.Details.Code)
			assert.Equal(t, tt.code == "", env.Success)
		})
	}
}

func TestVerifyReleaseFailureDoesNotMaskOutcome(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage().withPrimaryForm(cfg.Target)
	page.markup = `<a class="logout">ログアウト</a>`
	provider := &fakeProvider{page: page, releaseErr: errors.New("browser already gone")}

	core, logs := observer.New(zap.ErrorLevel)
	s := NewService(cfg, provider, zap.New(core))

	env := s.Verify(context.Background(), VerificationRequest{Username: "u", Password: "p", Indicator: config.DefaultIndicator})
	assert.True(t, env.Success)
	assert.Equal(t, 1, provider.released)
	require.Equal(t, 1, logs.FilterMessage("Failed to release browser session").Len())
}

func TestVerifyAcquireFailure(t *testing.T) {
	cfg := testConfig(t)
	provider := &fakeProvider{acquireErr: errors.New("exec: \"google-chrome\": executable file not found")}

	env := newTestService(t, cfg, provider).Verify(context.Background(), VerificationRequest{Username: "u", Password: "p"})
	assert.False(t, env.Success)
	assert.Equal(t, CodeBrowserError, env.Details.Code)
	assert.Contains(t, env.Details.ErrorMessage, "executable file not found")
	assert.Zero(t, provider.released, "nothing to release when acquire failed")
}

func TestVerifyAcquireTimeout(t *testing.T) {
	cfg := testConfig(t)
	provider := &fakeProvider{acquireErr: fmt.Errorf("no browser slot available within 30s: %w", context.DeadlineExceeded)}

	env := newTestService(t, cfg, provider).Verify(context.Background(), VerificationRequest{Username: "u", Password: "p"})
	assert.False(t, env.Success)
	assert.Equal(t, CodeBrowserError, env.Details.Code)
	assert.Equal(t, "TimeoutError", env.Details.ErrorType)
	assert.Contains(t, env.Details.ErrorMessage, "no browser slot available")
}

func TestVerifyNeverLogsCredentials(t *testing.T) {
	cfg := testConfig(t)
	page := newFakePage().withPrimaryForm(cfg.Target)
	page.markup = `<a class="logout">x</a>`
	provider := &fakeProvider{page: page}

	core, logs := observer.New(zap.DebugLevel)
	s := NewService(cfg, provider, zap.New(core))
	s.Verify(context.Background(), VerificationRequest{Username: "agent-secret-id", Password: "hunter2", Indicator: config.DefaultIndicator})

	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			assert.NotContains(t, f.String, "hunter2")
			assert.NotContains(t, f.String, "agent-secret-id")
		}
	}
	assert.NotZero(t, logs.FilterField(zap.String("username", "a***")).Len())
}
