package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	transport "github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/delivery/http"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the translation HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(false)
			if err != nil {
				return err
			}
			defer logger.Cleanup()

			logger.Info("Starting rule translation service",
				logging.String("version", Version),
				logging.String("git_commit", GitCommit),
				logging.String("environment", cfg.Service.Environment))

			if !cfg.Logging.Development {
				gin.SetMode(gin.ReleaseMode)
			}

			collector := metrics.NewCollector(cfg.Metrics.Namespace)
			svc, cleanup, err := buildService(cfg, logger, collector)
			if err != nil {
				logger.Error("Failed to initialize translation service", logging.Err(err))
				return err
			}
			defer cleanup()

			server := transport.NewServer(svc, cfg.Service, cfg.Server, cfg.Metrics, collector, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error("HTTP server failed", logging.Err(err))
				}
				return err
			case <-ctx.Done():
				logger.Info("Received shutdown signal")
			}

			timeout := cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown failed", logging.Err(err))
				return err
			}
			logger.Info("Rule translation service stopped")
			return nil
		},
	}
}
