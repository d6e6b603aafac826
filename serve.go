package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"cohort-ledger/api"
	"cohort-ledger/ledger"
)

func serveRun(cmd *cobra.Command) error {
	logger := commonRun()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clock, err := ledger.NewZoneClock(cfg.Timezone)
	if err != nil {
		return err
	}
	mgr, err := ledger.OpenManager(cfg.DBDriver, cfg.DBDSN, ledger.Options{
		Clock:         clock,
		Logger:        logger,
		Registerer:    registry,
		MaxFutureDays: cfg.MaxFutureDays,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	blobs, err := newBlobStore(cmd.Context())
	if err != nil {
		return err
	}
	staticDir := ""
	if cfg.BlobBackend == "local" {
		staticDir = cfg.UploadDir
	}
	if !cfg.AdminEnabled() {
		logger.Warn("admin secret or token key not set; admin endpoints are disabled")
	}

	srv := api.NewServer(api.Options{
		Manager:        mgr,
		Authority:      newAuthority(),
		Blobs:          blobs,
		StaticDir:      staticDir,
		MaxUploadBytes: cfg.UploadMaxBytes,
		Logger:         logger,
		Registry:       registry,
	})
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger server starting",
			"addr", cfg.HTTPAddr, "db_driver", cfg.DBDriver, "timezone", cfg.Timezone, "blobs", cfg.BlobBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down ledger server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd)
		},
	}
}
