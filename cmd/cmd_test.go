// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/airwork-authcheck/internal/browser/session"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"github.com/xkilldash9x/airwork-authcheck/internal/observability"
	"github.com/xkilldash9x/airwork-authcheck/internal/verifier"
	"go.uber.org/zap"
)

// fakePool stands in for the browser manager so commands run without Chrome.
type fakePool struct {
	acquired atomic.Int32
	shutdown atomic.Int32
}

func (p *fakePool) Acquire(ctx context.Context) (session.Page, error) {
	p.acquired.Add(1)
	return nil, errors.New("browser unavailable in tests")
}

func (p *fakePool) Release(ctx context.Context, pg session.Page) error { return nil }

func (p *fakePool) Shutdown(ctx context.Context) error {
	p.shutdown.Add(1)
	return nil
}

// resetForTest isolates package state between command runs.
func resetForTest(t *testing.T) *fakePool {
	t.Helper()

	cfgFile = ""
	observability.ResetForTest()
	t.Setenv("AUTHCHECK_LOGGER_LEVEL", "fatal")

	pool := &fakePool{}
	original := newBrowserPool
	newBrowserPool = func(config.BrowserConfig, *zap.Logger) browserPool { return pool }
	t.Cleanup(func() {
		newBrowserPool = original
		observability.ResetForTest()
	})
	return pool
}

func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "authcheck version dev\n", out)

	out, err = executeCommand(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestCheckCommand(t *testing.T) {
	t.Run("missing credentials never start a browser", func(t *testing.T) {
		pool := resetForTest(t)

		out, err := executeCommand(t, context.Background(), "check", "--username", "someone")
		require.ErrorIs(t, err, errCheckFailed)

		var env verifier.Envelope
		require.NoError(t, json.Unmarshal([]byte(out), &env))
		assert.False(t, env.Success)
		assert.Equal(t, verifier.CodeMissingParameters, env.Details.Code)
		assert.Zero(t, pool.acquired.Load())
		assert.EqualValues(t, 1, pool.shutdown.Load())
	})

	t.Run("password from environment", func(t *testing.T) {
		pool := resetForTest(t)
		t.Setenv(passwordEnv, "from-env")

		out, err := executeCommand(t, context.Background(), "check", "-u", "someone")
		require.ErrorIs(t, err, errCheckFailed)

		var env verifier.Envelope
		require.NoError(t, json.Unmarshal([]byte(out), &env))
		assert.Equal(t, verifier.CodeBrowserError, env.Details.Code)
		assert.Contains(t, env.Details.ErrorMessage, "browser unavailable")
		assert.NotContains(t, out, "from-env", "the password is never echoed")
		assert.EqualValues(t, 1, pool.acquired.Load())
	})

	t.Run("rejects positional arguments", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, context.Background(), "check", "extra")
		assert.Error(t, err)
	})
}

func TestConfigFile(t *testing.T) {
	t.Run("invalid values fail before the command runs", func(t *testing.T) {
		pool := resetForTest(t)
		path := createTempConfig(t, "browser:\n  max_sessions: 0\n")

		_, err := executeCommand(t, context.Background(), "--config", path, "check", "-u", "u", "-p", "p")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load or validate config")
		assert.Zero(t, pool.acquired.Load())
	})

	t.Run("unreadable file", func(t *testing.T) {
		resetForTest(t)
		path := createTempConfig(t, "server: [not: valid")

		_, err := executeCommand(t, context.Background(), "--config", path, "check")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})

	t.Run("environment overrides", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("AUTHCHECK_VERIFIER_DEFAULT_INDICATOR", "//div[@id='dashboard']")

		root := newRootCmd()
		var seen *config.Config
		check, _, err := root.Find([]string{"check"})
		require.NoError(t, err)
		check.RunE = func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			seen = cfg
			return err
		}
		root.SetArgs([]string{"check"})
		require.NoError(t, root.ExecuteContext(context.Background()))
		require.NotNil(t, seen)
		assert.Equal(t, "//div[@id='dashboard']", seen.Verifier.DefaultIndicator)
	})
}

func TestServeCommand(t *testing.T) {
	pool := resetForTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executeCommand(t, ctx, "serve", "--listen", "127.0.0.1:0")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pool.shutdown.Load(), "browsers are shut down with the server")
}
