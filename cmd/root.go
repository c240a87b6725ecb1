package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/goyais/worker/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "goyais-worker",
	Short: "Goyais worker — claims and runs agent executions",
	Long:  "Goyais worker: pulls queued executions from the hub, drives the agentic model loop against a per-execution git worktree, and streams ordered events back.",
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: worker.json or $GOYAIS_WORKER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			runtime := strings.ToLower(strings.TrimSpace(os.Getenv("WORKER_RUNTIME")))
			if runtime == "" {
				runtime = "vanilla"
			}
			fmt.Printf("goyais-worker %s (runtime %s)\n", Version, runtime)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("GOYAIS_WORKER_CONFIG"); v != "" {
		return v
	}
	return "worker.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
