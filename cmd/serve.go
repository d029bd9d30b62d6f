// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/airwork-authcheck/internal/observability"
	"github.com/xkilldash9x/airwork-authcheck/internal/server"
	"github.com/xkilldash9x/airwork-authcheck/internal/verifier"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP verification service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.ListenAddr = listenAddr
			}

			logger := observability.GetLogger()
			pool := newBrowserPool(cfg.Browser, logger)
			svc := verifier.NewService(cfg, pool, logger)

			// Browsers still open when the listener stops are closed by the hook.
			srv := server.NewServer(cfg.Server, svc, logger, pool.Shutdown)

			logger.Info("Starting authcheck server",
				zap.String("version", Version),
				zap.String("address", cfg.Server.ListenAddr),
				zap.String("entry_url", cfg.Target.EntryURL),
			)
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "address to listen on (overrides server.listen_addr)")
	return cmd
}
