package main

import (
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run validation workers against the broker database",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().Int("concurrency", 0, "Number of concurrent workers (overrides JOB_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.Jobs.Concurrency = n
	}

	logger := newLogger(cfg, stdout())
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()
	a.watchProfiles(ctx)

	logger.Info("starting validation workers", "concurrency", cfg.Jobs.Concurrency, "broker", redactedBroker(cfg.BrokerURL))
	a.workerPool().Run(ctx)
	logger.Info("validation workers stopped")
	return nil
}
