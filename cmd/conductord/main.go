// Conductord is an autonomous workflow orchestration daemon.
//
// It advances projects through a fixed phase sequence on worker completion
// signals, reviews every deliverable through triangulated quality gates,
// tracks operator intent, and learns worker patterns across projects.
//
// Usage:
//
//	# Start the daemon with defaults
//	conductord serve
//
//	# Point at a config file
//	conductord serve --config /etc/conductord/config.yaml
//
//	# Configure via environment
//	CONDUCTORD_OPERATOR_PORT=9291 conductord serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/conductord/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath   string
	embeddedNATS bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conductord",
	Short: "Autonomous workflow orchestration daemon",
	Long: `conductord advances projects through a fixed phase sequence driven by
worker completion signals. Every deliverable passes triangulated review
gates before a phase transition; failures loop through fix-and-retry and
escalate to a human operator when retries run out.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("conductord\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to YAML config file")
	serveCmd.Flags().BoolVar(&embeddedNATS, "embedded-nats", false, "run an in-process NATS server instead of connecting")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
