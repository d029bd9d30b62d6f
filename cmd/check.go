// File: cmd/check.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/airwork-authcheck/internal/browser/session"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"github.com/xkilldash9x/airwork-authcheck/internal/observability"
	"github.com/xkilldash9x/airwork-authcheck/internal/verifier"
	"go.uber.org/zap"
)

// passwordEnv lets scripts pass the password without exposing it in the process list.
const passwordEnv = "AUTHCHECK_PASSWORD"

// errCheckFailed signals a completed check whose envelope reported failure.
var errCheckFailed = errors.New("verification did not succeed")

// browserPool is what the commands need from the session manager.
type browserPool interface {
	session.Provider
	Shutdown(ctx context.Context) error
}

// newBrowserPool is replaced in tests.
var newBrowserPool = func(cfg config.BrowserConfig, logger *zap.Logger) browserPool {
	return session.NewManager(cfg, logger)
}

func newCheckCmd() *cobra.Command {
	var username, password, indicator string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Runs a single verification and prints the response envelope as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv(passwordEnv)
			}

			body, err := json.Marshal(map[string]string{
				"username": username,
				"password": password,
				"xpath":    indicator,
			})
			if err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}

			logger := observability.GetLogger()
			pool := newBrowserPool(cfg.Browser, logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Browser.ReleaseTimeout)
				defer cancel()
				if err := pool.Shutdown(ctx); err != nil {
					logger.Warn("Browser shutdown incomplete", zap.Error(err))
				}
			}()

			env := verifier.NewService(cfg, pool, logger).Check(cmd.Context(), body)

			out, err := json.MarshalIndent(env, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !env.Success {
				return errCheckFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Airwork login ID")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (defaults to $"+passwordEnv+")")
	cmd.Flags().StringVar(&indicator, "xpath", "", "XPath that proves a logged-in page (defaults to the configured indicator)")
	return cmd
}
