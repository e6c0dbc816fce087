// Package commands implements the fishdash CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fishdash/internal/config"
	"fishdash/internal/logging"
)

// NewRootCommand builds the fishdash root command with all subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fishdash",
		Short: "Batch fish image analysis client",
		Long: `Fishdash uploads batches of fish images to a remote analysis
service, tracks analysis progress, and retrieves measurement and
population statistics.

Commands:
  run       Upload a batch of images and run analysis to completion
  analyze   Upload and analyze a single image
  thumbs    Generate local preview thumbnails only
  history   Show recent jobs and session statistics
  health    Check remote service and model health`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		NewRunCommand(),
		NewAnalyzeCommand(),
		NewThumbsCommand(),
		NewHistoryCommand(),
		NewHealthCommand(),
	)
	return root
}

// bootstrap loads configuration and constructs the logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// serveMetrics starts the local diagnostics endpoint when an address is
// configured. The returned function shuts the server down.
func serveMetrics(addr string, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics endpoint failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	}
}
