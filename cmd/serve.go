package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP tool server",
	Long: `Serve the question workflow over HTTP. The server exposes tool endpoints
(query_database, generate_sql, get_schema, check_query, execute_query) plus
/healthz and /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		logger := logging.GetLogger()

		engine, store, err := buildEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		srv := server.NewServer(cfg.Server, engine, logger)

		errCh := make(chan error, 1)

		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger.Infof("Received %s, shutting down", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return srv.Shutdown(ctx)
		}
	},
}
