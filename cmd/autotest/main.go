package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errConfirmationDeclined) {
			fmt.Println("Teardown cancelled")
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "autotest",
	Short: "Autotest - Ephemeral self-healing test environments",
	Long: `Autotest deploys isolated, single-host container test environments
from a declarative service file, keeps them healthy while tests run, and
removes them when you are done.

A running monitor restarts containers that fail their health checks and
adds replicas to services whose CPU usage crosses a threshold.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelName, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")

		level, ok := log.ParseLevel(levelName)
		if !ok {
			return fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", levelName)
		}

		log.Init(log.Config{
			Level:      level,
			JSONOutput: jsonOutput,
		})
		metrics.SetVersion(Version)
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Autotest version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(statusCmd)
}

// connectRuntime opens the Docker Engine client and reports it to /ready
func connectRuntime(ctx context.Context) (*runtime.DockerRuntime, error) {
	rt, err := runtime.NewDockerRuntime(ctx)
	if err != nil {
		metrics.SetComponent(metrics.ComponentRuntime, false, err.Error())
		return nil, err
	}
	metrics.SetComponent(metrics.ComponentRuntime, true, "connected")
	return rt, nil
}
