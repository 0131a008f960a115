package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/autotest/pkg/config"
	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/reconciler"
	"github.com/cuemby/autotest/pkg/registry"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor CONFIG ENV_ID",
	Short: "Keep an environment healthy and right-sized until interrupted",
	Long: `Attach to a deployed environment and run the reconciliation loop.

The environment's state is rebuilt from runtime labels, so monitor can be
stopped and started again at any time. Services with a health_check are
probed and restarted after consecutive failures; services with
optimization_rules get replicas when their CPU usage crosses the threshold.

Stopping the monitor (Ctrl+C) never removes the environment.`,
	Args: cobra.ExactArgs(2),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Duration("call-timeout", reconciler.DefaultCallTimeout, "Timeout of each runtime call or probe")
	monitorCmd.Flags().Duration("tick-timeout", reconciler.DefaultTickTimeout, "Deadline shared by all services in one tick")
	monitorCmd.Flags().Int("parallelism", reconciler.DefaultParallelism, "Services evaluated concurrently (1 = declared order)")
	monitorCmd.Flags().String("metrics-addr", "", "Serve /metrics, /health, /ready and /live on this address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	configPath, envID := args[0], args[1]
	callTimeout, _ := cmd.Flags().GetDuration("call-timeout")
	tickTimeout, _ := cmd.Flags().GetDuration("tick-timeout")
	parallelism, _ := cmd.Flags().GetInt("parallelism")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := connectRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	state, err := registry.New().Rebuild(ctx, rt, envID, cfg.Services)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for ev := range sub {
			printEvent(cmd.OutOrStdout(), ev)
		}
	}()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.NewServeMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("Metrics server listening")
	}

	loop := reconciler.New(state, reconciler.Deps{Runtime: rt, Broker: broker}, reconciler.Config{
		CallTimeout: callTimeout,
		TickTimeout: tickTimeout,
		Parallelism: parallelism,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Monitoring %s every %s. Press Ctrl+C to stop.\n", envID, loop.Cadence())
	err = loop.Run(ctx)

	broker.Unsubscribe(sub)
	<-reported

	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Monitor stopped; environment %s is still running\n", envID)
	return nil
}

// printEvent writes one action report line
func printEvent(out io.Writer, ev *events.Event) {
	fmt.Fprintf(out, "%s  %-26s service=%s container=%s outcome=%s  %s\n",
		ev.Timestamp.Format(time.TimeOnly),
		ev.Type,
		ev.Metadata[events.KeyService],
		orDash(ev.Metadata[events.KeyContainer]),
		ev.Metadata[events.KeyOutcome],
		ev.Message,
	)
}
