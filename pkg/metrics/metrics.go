package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation loop metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotest_reconcile_ticks_total",
			Help: "Total number of reconciliation ticks run",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autotest_reconcile_tick_duration_seconds",
			Help:    "Time taken by one reconciliation tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ServiceEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotest_service_evaluations_total",
			Help: "Total number of service evaluations by service",
		},
		[]string{"service"},
	)

	// Self-healing metrics
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotest_probes_total",
			Help: "Total number of health probes by service and result",
		},
		[]string{"service", "result"},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotest_restarts_total",
			Help: "Total number of container restarts by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	// Scaling metrics
	CPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotest_cpu_percent",
			Help: "Last sampled CPU percentage of a service's base container",
		},
		[]string{"service"},
	)

	ScaleActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotest_scale_actions_total",
			Help: "Total number of scale_up actions triggered by service",
		},
		[]string{"service"},
	)

	ReplicaCreationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotest_replica_creations_total",
			Help: "Total number of replica creations by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	ReplicasCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotest_replicas",
			Help: "Current number of replicas by service",
		},
		[]string{"service"},
	)

	// Runtime client metrics
	RuntimeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autotest_runtime_call_duration_seconds",
			Help:    "Container runtime call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	RuntimeCallErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotest_runtime_call_errors_total",
			Help: "Total number of failed container runtime calls by operation",
		},
		[]string{"op"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(ServiceEvaluationsTotal)
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(CPUPercent)
	prometheus.MustRegister(ScaleActionsTotal)
	prometheus.MustRegister(ReplicaCreationsTotal)
	prometheus.MustRegister(ReplicasCurrent)
	prometheus.MustRegister(RuntimeCallDuration)
	prometheus.MustRegister(RuntimeCallErrors)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRuntimeCall records the duration and outcome of one runtime call
func ObserveRuntimeCall(op string, timer *Timer, err error) {
	timer.ObserveDurationVec(RuntimeCallDuration, op)
	if err != nil {
		RuntimeCallErrors.WithLabelValues(op).Inc()
	}
}
