// Package main is the crate validation server. It serves the HTTP API, runs
// validation workers, or validates a local crate.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "crate-validator",
	Short: "RO-Crate validation service",
	Long: `crate-validator validates RO-Crates stored in an S3-compatible object store
against conformance profiles.

The serve command runs the HTTP API and, unless EMBEDDED_WORKER=false, the
validation workers. The worker command runs the workers alone against the
same broker database. The validate command checks a local crate.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML configuration file")
	// glog flags (-v, -logtostderr) are accepted for fatal start-up messages.
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	_ = flag.Set("logtostderr", "true")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
