package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cuemby/autotest/pkg/config"
	"github.com/cuemby/autotest/pkg/environment"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy CONFIG",
	Short: "Deploy a new environment",
	Long: `Deploy a new isolated environment from a service file.

Each service gets one container on a fresh network; every resource is
labeled with the generated environment ID. Use that ID with monitor,
status and teardown.

Examples:
  # Deploy and keep whatever was created if a service fails
  autotest deploy services.yaml

  # Remove the partial environment when a service fails
  autotest deploy services.yaml --rollback-on-failure`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().Bool("rollback-on-failure", false, "Tear down the partial environment if any service fails")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	rollback, _ := cmd.Flags().GetBool("rollback-on-failure")

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	rt, err := connectRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	deployer := environment.NewDeployer(rt, environment.Options{RollbackOnFailure: rollback})

	fmt.Fprintf(cmd.OutOrStdout(), "Deploying %d services from %s...\n", len(cfg.Services), cfg.Path)
	result, err := deployer.Deploy(cmd.Context(), cfg)
	printDeployResult(cmd.OutOrStdout(), result)
	if err != nil {
		if result != nil && !result.RolledBack {
			fmt.Fprintf(cmd.OutOrStdout(), "\nPartial environment left in place. Remove it with:\n  autotest teardown %s\n", result.Env.ID)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Environment %s deployed\n", result.Env.ID)
	return nil
}

func printDeployResult(out io.Writer, result *environment.DeployResult) {
	if result == nil {
		return
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Environment: %s\n", result.Env.ID)
	fmt.Fprintf(out, "Network:     %s\n", result.Env.Network)
	if len(result.Services) == 0 {
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCONTAINER\tIMAGE\tPORTS\tSTATUS")
	for _, svc := range result.Services {
		status := "running"
		if svc.Err != nil {
			status = "failed: " + svc.Err.Error()
		}
		ports := strings.Join(svc.Ports, ",")
		if ports == "" {
			ports = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", svc.Name, orDash(svc.ShortID()), orDash(svc.Image), ports, status)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
