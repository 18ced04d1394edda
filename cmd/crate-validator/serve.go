package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/crateworks/crate-validator/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the embedded workers)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (overrides LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.ListenAddr = listen
	}

	logger := newLogger(cfg, stdout())
	logger.Info("starting crate validator",
		"listen", cfg.ListenAddr,
		"env", cfg.AppEnv,
		"embeddedWorker", cfg.EmbeddedWorker,
		"store", cfg.Redacted().Store)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()
	a.watchProfiles(ctx)

	opts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithJobs(a.queue, a.results),
		api.WithReadinessCheck("broker", a.queue),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if a.redis != nil {
		opts = append(opts, api.WithReadinessCheck("results", a.redis))
	}
	server := api.NewServer(a.dispatcher(), opts...)

	var wg sync.WaitGroup
	if cfg.EmbeddedWorker {
		pool := a.workerPool()
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("crate validator ready", "listen", cfg.ListenAddr)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	wg.Wait()

	logger.Info("crate validator stopped")
	return nil
}
