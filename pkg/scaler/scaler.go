package scaler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultCallTimeout bounds a single stats or create call
	DefaultCallTimeout = 10 * time.Second

	// maxSuffixAttempts bounds suffix regeneration on collision
	maxSuffixAttempts = 16
)

// Replica creation outcomes reported in logs, events and metrics
const (
	OutcomeCreated = "created"
	OutcomeFailed  = "failed"
	OutcomeCapped  = "capped"
)

// Options configures a Controller
type Options struct {
	Broker      *events.Broker
	CallTimeout time.Duration

	// NewSuffix generates replica suffixes; defaults to 8 hex characters
	// of a random UUID
	NewSuffix func() string
}

// Decision reports what one evaluation observed and did
type Decision struct {
	CPU       float64
	Sampled   bool
	Rule      *types.OptimizationRule
	Requested int
	Created   []*types.Instance
	Failed    int
	Capped    bool
	Err       error
}

// Triggered reports whether a rule fired
func (d Decision) Triggered() bool {
	return d.Rule != nil
}

// Controller samples base container CPU and adds replicas when a cpu_usage
// rule's threshold is exceeded. One Controller serves one environment and
// may evaluate its services concurrently.
type Controller struct {
	rt          runtime.Runtime
	broker      *events.Broker
	callTimeout time.Duration
	newSuffix   func() string
	logger      zerolog.Logger

	mu       sync.Mutex
	suffixes map[string]struct{} // replica suffixes in use in the environment
}

// NewController creates a scaling controller
func NewController(rt runtime.Runtime, opts Options) *Controller {
	c := &Controller{
		rt:          rt,
		broker:      opts.Broker,
		callTimeout: opts.CallTimeout,
		newSuffix:   opts.NewSuffix,
		logger:      log.WithComponent("scaler"),
		suffixes:    make(map[string]struct{}),
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	if c.newSuffix == nil {
		c.newSuffix = randomSuffix
	}
	return c
}

// Track records the replica suffixes of existing services so new replicas
// never reuse one anywhere in the environment
func (c *Controller) Track(services ...*types.ServiceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, svc := range services {
		for _, s := range svc.Suffixes() {
			c.suffixes[s] = struct{}{}
		}
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Evaluate samples the service's base container and, when the first
// cpu_usage rule whose threshold is strictly exceeded is found, creates
// that rule's batch of replicas. Replicas are only ever added. Creation
// failures are logged and leave the replica count unchanged.
func (c *Controller) Evaluate(ctx context.Context, env *types.Environment, svc *types.ServiceState) Decision {
	var d Decision

	rules := svc.Spec.CPURules()
	if len(rules) == 0 {
		return d
	}

	logger := log.WithService(c.logger.With().Str("env", env.ID).Logger(), svc.Spec.Name)

	if svc.Base == nil {
		d.Err = fmt.Errorf("service %s has no base container", svc.Spec.Name)
		logger.Warn().Msg("No base container to sample, skipping scaling")
		return d
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	timer := metrics.NewTimer()
	cpu, err := c.rt.CPUPercent(callCtx, svc.Base.ContainerID)
	metrics.ObserveRuntimeCall("stats", timer, err)
	cancel()
	if err != nil {
		d.Err = err
		logger.Warn().Err(err).Str("container", svc.Base.ShortID()).Msg("CPU sample failed, skipping scaling this tick")
		return d
	}

	d.CPU = cpu
	d.Sampled = true
	metrics.CPUPercent.WithLabelValues(svc.Spec.Name).Set(cpu)

	for i := range rules {
		if cpu > rules[i].Threshold && rules[i].Action == types.ActionScaleUp {
			d.Rule = &rules[i]
			break
		}
	}

	if d.Rule == nil {
		logger.Debug().Float64("cpu", cpu).Msg("CPU below thresholds")
		return d
	}

	d.Requested = d.Rule.Replicas
	count := d.Requested
	if limit := svc.Spec.MaxReplicas; limit > 0 {
		room := limit - len(svc.Replicas)
		if room < count {
			d.Capped = true
			count = max(room, 0)
		}
	}

	if count > 0 {
		logger.Info().
			Float64("cpu", cpu).
			Float64("threshold", d.Rule.Threshold).
			Int("replicas", count).
			Msg("CPU threshold exceeded, scaling up")
		metrics.ScaleActionsTotal.WithLabelValues(svc.Spec.Name).Inc()
	}

	if d.Capped {
		logger.Warn().
			Int("max_replicas", svc.Spec.MaxReplicas).
			Int("requested", d.Requested).
			Int("allowed", count).
			Str("outcome", OutcomeCapped).
			Msg("Replica cap reached, truncating scale batch")
		metrics.ReplicaCreationsTotal.WithLabelValues(svc.Spec.Name, OutcomeCapped).Add(float64(d.Requested - count))
		c.broker.Publish(events.Action(events.EventScaleCapped, env.ID, svc.Spec.Name, svc.Base.ContainerID, OutcomeCapped,
			fmt.Sprintf("max_replicas %d reached", svc.Spec.MaxReplicas)))
	}

	for i := 0; i < count; i++ {
		inst, err := c.createReplica(ctx, env, svc)
		if err != nil {
			d.Failed++
			continue
		}
		svc.Replicas = append(svc.Replicas, inst)
		d.Created = append(d.Created, inst)
	}

	if len(d.Created) > 0 {
		c.broker.Publish(events.Action(events.EventServiceScaled, env.ID, svc.Spec.Name, svc.Base.ContainerID, OutcomeCreated,
			fmt.Sprintf("added %d replicas (cpu %.1f%% > %.1f%%)", len(d.Created), cpu, d.Rule.Threshold)))
	}

	return d
}

func (c *Controller) createReplica(ctx context.Context, env *types.Environment, svc *types.ServiceState) (*types.Instance, error) {
	logger := log.WithService(c.logger.With().Str("env", env.ID).Logger(), svc.Spec.Name)

	suffix, err := c.uniqueSuffix(svc)
	if err != nil {
		logger.Error().Err(err).Str("outcome", OutcomeFailed).Msg("Replica creation failed")
		metrics.ReplicaCreationsTotal.WithLabelValues(svc.Spec.Name, OutcomeFailed).Inc()
		c.broker.Publish(events.Action(events.EventReplicaFailed, env.ID, svc.Spec.Name, "", OutcomeFailed, err.Error()))
		return nil, err
	}

	name := types.ReplicaName(env.ID, svc.Spec.Name, suffix)
	spec := runtime.ContainerSpec{
		Name:    name,
		Image:   svc.Spec.ImageRef(env.ID),
		Env:     svc.Spec.Env,
		Network: env.Network,
		Labels:  types.ServiceLabels(env.ID, env.CreatedAt, svc.Spec.Name, types.RoleReplica, suffix),
		// Replicas never publish host ports
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	timer := metrics.NewTimer()
	id, err := c.rt.CreateContainer(callCtx, spec)
	metrics.ObserveRuntimeCall("create", timer, err)
	if err != nil {
		c.releaseSuffix(suffix)
		logger.Error().Err(err).Str("replica", name).Str("outcome", OutcomeFailed).Msg("Replica creation failed")
		metrics.ReplicaCreationsTotal.WithLabelValues(svc.Spec.Name, OutcomeFailed).Inc()
		c.broker.Publish(events.Action(events.EventReplicaFailed, env.ID, svc.Spec.Name, "", OutcomeFailed, err.Error()))
		return nil, err
	}

	ctrLog := log.WithContainer(logger, id)
	ctrLog.Info().Str("replica", name).Str("outcome", OutcomeCreated).Msg("Replica created")
	metrics.ReplicaCreationsTotal.WithLabelValues(svc.Spec.Name, OutcomeCreated).Inc()
	c.broker.Publish(events.Action(events.EventReplicaCreated, env.ID, svc.Spec.Name, id, OutcomeCreated, name))

	return &types.Instance{
		ContainerID: id,
		Name:        name,
		Role:        types.RoleReplica,
		Suffix:      suffix,
		LastOutcome: types.OutcomeUnknown,
	}, nil
}

// uniqueSuffix reserves a suffix no replica of the environment carries
func (c *Controller) uniqueSuffix(svc *types.ServiceState) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range svc.Suffixes() {
		c.suffixes[s] = struct{}{}
	}

	for i := 0; i < maxSuffixAttempts; i++ {
		suffix := c.newSuffix()
		if _, taken := c.suffixes[suffix]; suffix == "" || taken {
			continue
		}
		c.suffixes[suffix] = struct{}{}
		return suffix, nil
	}
	return "", fmt.Errorf("no unique replica suffix after %d attempts", maxSuffixAttempts)
}

func (c *Controller) releaseSuffix(suffix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.suffixes, suffix)
}
