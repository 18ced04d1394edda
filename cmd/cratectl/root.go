package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	outputFmt     string
	clientTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "cratectl",
	Short: "CLI for the RO-Crate validation service",
	Long: `cratectl submits RO-Crate validation requests to a crate-validator server
and reads back stored results, job state and server health.

Object store settings default to the MINIO_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CRATE_VALIDATOR_URL", "http://localhost:5001"), "Validation server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", 6*time.Minute, "HTTP client timeout")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(healthCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
