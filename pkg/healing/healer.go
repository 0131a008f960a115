package healing

import (
	"context"
	"time"

	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/health"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultCallTimeout bounds a single restart call
	DefaultCallTimeout = 10 * time.Second

	// DefaultStopTimeout is how long a restart waits for the container to
	// stop before killing it
	DefaultStopTimeout = 5 * time.Second
)

// Restart outcomes reported in logs, events and metrics
const (
	OutcomeRestarted = "restarted"
	OutcomeFailed    = "failed"
)

// Options configures a Healer
type Options struct {
	EnvID       string
	Broker      *events.Broker
	CallTimeout time.Duration
	StopTimeout time.Duration
}

// Healer applies probe results to instances and issues scoped restarts
type Healer struct {
	rt          runtime.Runtime
	broker      *events.Broker
	envID       string
	callTimeout time.Duration
	stopTimeout time.Duration
	logger      zerolog.Logger
}

// NewHealer creates a healer restarting containers through rt
func NewHealer(rt runtime.Runtime, opts Options) *Healer {
	h := &Healer{
		rt:          rt,
		broker:      opts.Broker,
		envID:       opts.EnvID,
		callTimeout: opts.CallTimeout,
		stopTimeout: opts.StopTimeout,
	}
	if h.callTimeout <= 0 {
		h.callTimeout = DefaultCallTimeout
	}
	if h.stopTimeout <= 0 {
		h.stopTimeout = DefaultStopTimeout
	}
	h.logger = log.WithEnvironment(opts.EnvID).With().Str("component", "healer").Logger()
	return h
}

// Handle feeds result into the instance's state machine. When the failure
// threshold is reached and allowRestart is set, exactly that container is
// restarted; whatever the restart outcome, the counter is back at 0. When
// allowRestart is false the restart waits for the next tick.
func (h *Healer) Handle(ctx context.Context, svc *types.ServiceSpec, inst *types.Instance, result health.Result, allowRestart bool) Transition {
	retries := types.DefaultProbeRetries
	if svc.HealthCheck != nil {
		retries = svc.HealthCheck.Retries
	}
	machine := NewMachine(retries)

	inst.LastMessage = result.Message
	inst.LastProbe = result.CheckedAt
	if result.Healthy {
		inst.LastOutcome = types.OutcomeSuccess
		metrics.ProbesTotal.WithLabelValues(svc.Name, "success").Inc()
	} else {
		inst.LastOutcome = types.OutcomeFailure
		metrics.ProbesTotal.WithLabelValues(svc.Name, "failure").Inc()
	}

	t := machine.Observe(inst.Failures, result.Healthy)
	if t.Restart && !allowRestart {
		t = machine.Hold(inst.Failures)
	}

	logger := log.WithContainer(log.WithService(h.logger, svc.Name), inst.ContainerID)

	switch {
	case t.Restart:
		logger.Warn().
			Int("failures", inst.Failures+1).
			Int("retries", machine.Retries()).
			Str("reason", result.Message).
			Msg("Failure threshold reached, restarting container")
		h.restart(ctx, svc.Name, inst, logger)
	case t.Deferred:
		logger.Warn().
			Str("reason", result.Message).
			Msg("Failure threshold reached, restart deferred to next tick")
	case t.To == StateDegraded:
		logger.Warn().
			Int("failures", t.Failures).
			Int("retries", machine.Retries()).
			Str("reason", result.Message).
			Msg("Health probe failed")
	case t.From == StateDegraded:
		logger.Info().Msg("Health probe succeeded, instance recovered")
	}

	inst.Failures = t.Failures
	return t
}

func (h *Healer) restart(ctx context.Context, service string, inst *types.Instance, logger zerolog.Logger) {
	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	err := h.rt.RestartContainer(callCtx, inst.ContainerID, h.stopTimeout)
	metrics.ObserveRuntimeCall("restart", timer, err)

	if err != nil {
		// Not retried within the tick; the next probe decides again
		logger.Error().Err(err).Str("outcome", OutcomeFailed).Msg("Container restart failed")
		metrics.RestartsTotal.WithLabelValues(service, OutcomeFailed).Inc()
		h.broker.Publish(events.Action(events.EventRestartFailed, h.envID, service, inst.ContainerID, OutcomeFailed, err.Error()))
		return
	}

	logger.Info().Str("outcome", OutcomeRestarted).Msg("Container restarted")
	metrics.RestartsTotal.WithLabelValues(service, OutcomeRestarted).Inc()
	h.broker.Publish(events.Action(events.EventContainerRestarted, h.envID, service, inst.ContainerID, OutcomeRestarted, "container restarted"))
}
