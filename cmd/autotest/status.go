package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cuemby/autotest/pkg/config"
	"github.com/cuemby/autotest/pkg/registry"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status ENV_ID",
	Short: "Show the services, containers and replicas of an environment",
	Long: `Show an environment as rebuilt from runtime labels. Read-only.

Without --config, services are derived from the container labels.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("config", "c", "", "Service file, to show declared services in order")
}

func runStatus(cmd *cobra.Command, args []string) error {
	envID := args[0]
	configPath, _ := cmd.Flags().GetString("config")

	var specs []*types.ServiceSpec
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		specs = cfg.Services
	}

	rt, err := connectRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	state, err := registry.New().Rebuild(cmd.Context(), rt, envID, specs)
	if err != nil {
		return err
	}

	printStatus(cmd.OutOrStdout(), state)
	return nil
}

func printStatus(out io.Writer, state *registry.EnvironmentState) {
	env := state.Env
	fmt.Fprintf(out, "Environment: %s\n", env.ID)
	fmt.Fprintf(out, "Network:     %s\n", env.Network)
	if !env.CreatedAt.IsZero() {
		fmt.Fprintf(out, "Created:     %s\n", env.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tROLE\tCONTAINER\tNAME")
	for _, svc := range state.Services() {
		if svc.Base == nil {
			fmt.Fprintf(w, "%s\t%s\t-\t(missing)\n", svc.Spec.Name, types.RoleBase)
		}
		for _, inst := range svc.Instances() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", svc.Spec.Name, inst.Role, inst.ShortID(), inst.Name)
		}
	}
	_ = w.Flush()
}
