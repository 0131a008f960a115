package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/autotest/pkg/environment"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/spf13/cobra"
)

var errConfirmationDeclined = errors.New("confirmation declined")

var teardownCmd = &cobra.Command{
	Use:   "teardown ENV_ID",
	Short: "Remove every container and network of an environment",
	Long: `Remove every container (base and replicas) and network labeled with
the environment ID. Resources of other environments are never touched.

A running monitor for the environment should be stopped first.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeardown,
}

func init() {
	teardownCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}

func runTeardown(cmd *cobra.Command, args []string) error {
	envID := args[0]
	yes, _ := cmd.Flags().GetBool("yes")

	if !yes {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			fmt.Sprintf("Remove all resources of environment %s?", envID))
		if err != nil {
			return err
		}
		if !ok {
			return errConfirmationDeclined
		}
	}

	rt, err := connectRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	deployer := environment.NewDeployer(rt, environment.Options{})
	result, err := deployer.Teardown(cmd.Context(), envID)
	if errors.Is(err, environment.ErrEnvironmentNotFound) {
		// Nothing left to remove is not a failure
		log.Logger.Warn().Str("env", envID).Msg("Environment not found")
		fmt.Fprintf(cmd.OutOrStdout(), "Environment %s not found, nothing to remove\n", envID)
		return nil
	}

	printTeardownResult(cmd.OutOrStdout(), result)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Environment %s removed\n", envID)
	return nil
}

// confirm asks a yes/no question; anything but y or yes declines
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func printTeardownResult(out io.Writer, result *environment.TeardownResult) {
	if result == nil {
		return
	}
	for _, rm := range result.Containers {
		fmt.Fprintf(out, "  container %-40s %s\n", rm.Name, rm.Outcome)
	}
	for _, rm := range result.Networks {
		fmt.Fprintf(out, "  network   %-40s %s\n", rm.Name, rm.Outcome)
	}
}
