/*
Package reconciler runs the monitor loop that keeps one environment healthy
and right-sized.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Loop                       │
	│     (cadence = smallest interval of monitored services)    │
	└────────────────┬───────────────────────────────────────────┘
	                 │ per due service, fanned out (errgroup)
	    ┌────────────┴────────────┐
	    ▼                         ▼
	┌─────────────────┐   ┌──────────────────┐
	│ Probe instances │   │ Sample base CPU  │
	└─────┬───────────┘   └──────┬───────────┘
	      ▼                      ▼
	  healing.Healer        scaler.Controller
	  (count, restart)      (add replicas)

A service takes part when it declares a health check or an optimization
rule. It is evaluated once its own interval has elapsed since its last
evaluation, even though the loop may wake more often for faster services.

# Ticks

Each tick:

 1. Selects the due services.
 2. Evaluates them concurrently up to Config.Parallelism (1 keeps the
    declared order). Within a service, instances are probed one after
    another and each outcome is fed to the healer before the next probe.
 3. Samples CPU and scales, regardless of the health outcome.
 4. Refreshes the replica gauge.

All work within a tick shares one deadline (Config.TickTimeout) and every
runtime call or probe carries its own Config.CallTimeout, so a hung call
costs at most one service its evaluation. Errors are scoped: a failed
inspect skips that instance, a failed sample skips scaling for that
service, and nothing aborts the tick or the loop.

At most one restart is issued per service per tick. Another instance of
the same service reaching its threshold in that tick keeps its counter at
retries-1 and is restarted on its next failure.

# Cancellation

Run observes cancellation only between ticks: the tick context is detached
from the caller's, so a tick in progress always finishes. Stopping the loop
never tears down the environment. A new loop attaches by rebuilding the
registry from labels, with every failure counter back at 0.

# Testing

Config.Clock accepts any k8s.io/utils/clock.WithTicker. Tests drive the loop
with clocktesting.FakeClock and the in-memory runtime:

	clk := clocktesting.NewFakeClock(start)
	loop := reconciler.New(state, reconciler.Deps{Runtime: rt}, reconciler.Config{Clock: clk})
	loop.Tick(ctx)
	clk.Step(15 * time.Second)
	loop.Tick(ctx)
*/
package reconciler
