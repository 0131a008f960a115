/*
Package metrics provides Prometheus metrics and health endpoints for the
monitor process.

All metrics are registered with the default Prometheus registry at package
init and served by Handler. The monitor command exposes them, together with
the health endpoints, when started with --metrics-addr.

# Metrics Catalog

Reconciliation:

	autotest_reconcile_ticks_total                     counter
	autotest_reconcile_tick_duration_seconds           histogram
	autotest_service_evaluations_total{service}        counter

Self-healing:

	autotest_probes_total{service, result}             counter  (result: success|failure)
	autotest_restarts_total{service, outcome}          counter  (outcome: restarted|failed)

Scaling:

	autotest_cpu_percent{service}                      gauge
	autotest_scale_actions_total{service}              counter
	autotest_replica_creations_total{service, outcome} counter  (outcome: created|failed|capped)
	autotest_replicas{service}                         gauge

Runtime client:

	autotest_runtime_call_duration_seconds{op}         histogram
	autotest_runtime_call_errors_total{op}             counter

# Timer Helper

	timer := metrics.NewTimer()
	err := rt.RestartContainer(ctx, id, 10*time.Second)
	metrics.ObserveRuntimeCall("restart", timer, err)

# Health Endpoints

NewServeMux serves /metrics, /health (component status), /ready (runtime
and reconciler both reported healthy) and /live (always 200 while the
process runs). Components report through SetComponent:

	metrics.SetComponent(metrics.ComponentRuntime, true, "connected")

# Collector

The replica gauge is refreshed from registry state by Collector.Collect,
which the reconciliation loop calls after every tick.
*/
package metrics
