package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/healing"
	"github.com/cuemby/autotest/pkg/health"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/registry"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/scaler"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultTickTimeout = 30 * time.Second
	DefaultParallelism = 4
)

// Config tunes the loop
type Config struct {
	// Clock drives the ticker and due checks; defaults to the real clock
	Clock clock.WithTicker

	// CallTimeout bounds every single runtime call and probe
	CallTimeout time.Duration

	// TickTimeout is the deadline shared by all services within one tick
	TickTimeout time.Duration

	// Parallelism is how many services are evaluated concurrently.
	// 1 evaluates strictly in declared order.
	Parallelism int
}

// Deps are the collaborators of the loop. Only Runtime is required.
type Deps struct {
	Runtime runtime.Runtime
	Prober  health.Prober
	Broker  *events.Broker
	Healer  *healing.Healer
	Scaler  *scaler.Controller
}

// ServiceReport is what one service evaluation did
type ServiceReport struct {
	Service  string
	Probed   int
	Failed   int
	Skipped  int
	Restarts int
	Deferred int
	Scale    scaler.Decision
}

// TickReport summarizes one tick
type TickReport struct {
	At       time.Time
	Duration time.Duration
	Services []ServiceReport
}

// Reconciler is the monitor loop of one environment. It exclusively owns
// the environment's service states while it runs.
type Reconciler struct {
	state     *registry.EnvironmentState
	rt        runtime.Runtime
	prober    health.Prober
	healer    *healing.Healer
	scaler    *scaler.Controller
	collector *metrics.Collector
	cfg       Config
	logger    zerolog.Logger

	// afterTick is called with every tick's report
	afterTick func(TickReport)
}

// New creates a loop over a rebuilt environment state
func New(state *registry.EnvironmentState, deps Deps, cfg Config) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = DefaultParallelism
	}

	r := &Reconciler{
		state:     state,
		rt:        deps.Runtime,
		prober:    deps.Prober,
		healer:    deps.Healer,
		scaler:    deps.Scaler,
		collector: metrics.NewCollector(state),
		cfg:       cfg,
		logger:    log.WithEnvironment(state.Env.ID).With().Str("component", "reconciler").Logger(),
	}
	if r.prober == nil {
		r.prober = health.NewProber()
	}
	if r.healer == nil {
		r.healer = healing.NewHealer(deps.Runtime, healing.Options{
			EnvID:       state.Env.ID,
			Broker:      deps.Broker,
			CallTimeout: cfg.CallTimeout,
		})
	}
	if r.scaler == nil {
		r.scaler = scaler.NewController(deps.Runtime, scaler.Options{
			Broker:      deps.Broker,
			CallTimeout: cfg.CallTimeout,
		})
	}
	r.scaler.Track(state.Services()...)
	return r
}

// monitored returns the services that declare a health check or an
// optimization rule, in declared order
func (r *Reconciler) monitored() []*types.ServiceState {
	var out []*types.ServiceState
	for _, svc := range r.state.Services() {
		if svc.Spec.HasRules() {
			out = append(out, svc)
		}
	}
	return out
}

// Cadence is the loop period: the smallest interval of any monitored service
func (r *Reconciler) Cadence() time.Duration {
	var cadence time.Duration
	for _, svc := range r.monitored() {
		if iv := svc.Spec.Interval(); cadence == 0 || iv < cadence {
			cadence = iv
		}
	}
	return cadence
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
// Cancellation is only observed between ticks; a tick in progress always
// completes, and the environment is left running.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.rt == nil {
		return errors.New("reconciler has no runtime")
	}

	cadence := r.Cadence()
	if cadence == 0 {
		r.logger.Info().Msg("No service declares a health check or optimization rule, nothing to monitor")
		return nil
	}

	r.logger.Info().
		Dur("cadence", cadence).
		Int("services", len(r.monitored())).
		Int("parallelism", r.cfg.Parallelism).
		Msg("Reconciliation loop started")
	metrics.SetComponent(metrics.ComponentReconciler, true, "running")
	defer metrics.SetComponent(metrics.ComponentReconciler, false, "stopped")

	ticker := r.cfg.Clock.NewTicker(cadence)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}

		r.Tick(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C():
		}
	}

	r.logger.Info().Msg("Reconciliation loop stopped, environment left running")
	return nil
}

// Tick runs one pass over every due service. Services are fanned out up to
// the configured parallelism under a shared deadline that ignores ctx
// cancellation, so a started tick never leaves a transition half applied.
func (r *Reconciler) Tick(ctx context.Context) TickReport {
	timer := metrics.NewTimer()
	now := r.cfg.Clock.Now()

	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TickTimeout)
	defer cancel()

	due := r.due(now)
	reports := make([]ServiceReport, len(due))

	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for i, svc := range due {
		g.Go(func() error {
			reports[i] = r.evaluate(tickCtx, svc, now)
			return nil
		})
	}
	_ = g.Wait()

	r.collector.Collect()

	report := TickReport{At: now, Duration: timer.Duration(), Services: reports}
	timer.ObserveDuration(metrics.TickDuration)
	metrics.TicksTotal.Inc()

	r.logger.Debug().
		Int("evaluated", len(due)).
		Dur("duration", report.Duration).
		Msg("Tick complete")

	if r.afterTick != nil {
		r.afterTick(report)
	}
	return report
}

// due returns the monitored services whose interval has elapsed. A small
// tolerance absorbs ticker jitter on the real clock.
func (r *Reconciler) due(now time.Time) []*types.ServiceState {
	slack := r.Cadence() / 10
	if slack > time.Second {
		slack = time.Second
	}

	var out []*types.ServiceState
	for _, svc := range r.monitored() {
		if svc.LastEvaluated.IsZero() || now.Sub(svc.LastEvaluated) >= svc.Spec.Interval()-slack {
			out = append(out, svc)
		}
	}
	return out
}

// evaluate runs probe then heal then sample then scale for one service.
// Instances are probed one after another, so transitions of an instance
// are serialized and applied in probe order.
func (r *Reconciler) evaluate(ctx context.Context, svc *types.ServiceState, now time.Time) ServiceReport {
	svc.LastEvaluated = now
	report := ServiceReport{Service: svc.Spec.Name}
	metrics.ServiceEvaluationsTotal.WithLabelValues(svc.Spec.Name).Inc()

	if rule := svc.Spec.HealthCheck; rule != nil {
		restarted := false
		for _, inst := range svc.Instances() {
			result, ok := r.probe(ctx, svc, inst, rule)
			if !ok {
				report.Skipped++
				continue
			}
			report.Probed++
			if !result.Healthy {
				report.Failed++
			}

			t := r.healer.Handle(ctx, svc.Spec, inst, result, !restarted)
			if t.Restart {
				restarted = true
				report.Restarts++
			}
			if t.Deferred {
				report.Deferred++
			}
		}
	}

	// Scaling is independent of the health outcome
	report.Scale = r.scaler.Evaluate(ctx, r.state.Env, svc)
	return report
}

// probe resolves the instance endpoint and runs the rule against it. ok is
// false when the container could not be inspected; that is a runtime error,
// not a probe failure, and the instance is skipped this tick.
func (r *Reconciler) probe(ctx context.Context, svc *types.ServiceState, inst *types.Instance, rule *types.HealthCheckRule) (health.Result, bool) {
	logger := log.WithContainer(log.WithService(r.logger, svc.Spec.Name), inst.ContainerID)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	info, err := r.rt.InspectContainer(callCtx, inst.ContainerID)
	metrics.ObserveRuntimeCall("inspect", timer, err)
	if err != nil {
		logger.Warn().Err(err).Msg("Inspect failed, skipping probe this tick")
		return health.Result{}, false
	}

	target, err := health.ResolveTarget(info, rule.Port)
	if err != nil {
		// A stopped container has no endpoint: that is a failed probe
		return health.Result{Healthy: false, Message: err.Error(), CheckedAt: r.cfg.Clock.Now()}, true
	}

	result := r.prober.Probe(callCtx, rule, target)
	logger.Debug().
		Str("target", target.String()).
		Bool("healthy", result.Healthy).
		Str("message", result.Message).
		Msg("Probe complete")
	return result, true
}
