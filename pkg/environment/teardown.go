package environment

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/autotest/pkg/events"
	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/metrics"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
)

// Removal outcomes reported in logs and events
const (
	OutcomeRemoved = "removed"
	OutcomeGone    = "already_gone"
	OutcomeFailed  = "failed"
)

// Removal is the outcome of removing one resource
type Removal struct {
	ID      string
	Name    string
	Service string
	Outcome string
	Err     error
}

// TeardownResult lists every resource Teardown tried to remove
type TeardownResult struct {
	EnvID      string
	Containers []Removal
	Networks   []Removal
}

// Complete reports whether the whole closure is gone
func (r *TeardownResult) Complete() bool {
	for _, rm := range append(append([]Removal(nil), r.Containers...), r.Networks...) {
		if rm.Outcome == OutcomeFailed {
			return false
		}
	}
	return true
}

// Teardown removes every container, then every network, carrying envID's
// environment label. Nothing else is touched. Resources that vanish in
// between are counted as removed. It returns ErrEnvironmentNotFound when
// nothing carries the label, and a joined error of every failed removal.
func (d *Deployer) Teardown(ctx context.Context, envID string) (*TeardownResult, error) {
	result := &TeardownResult{EnvID: envID}
	logger := d.logger.With().Str("env", envID).Logger()
	selector := map[string]string{types.LabelEnvironment: envID}

	containers, err := d.rt.ListContainers(ctx, selector)
	if err != nil {
		return result, fmt.Errorf("failed to list containers: %w", err)
	}
	networks, err := d.rt.ListNetworks(ctx, selector)
	if err != nil {
		return result, fmt.Errorf("failed to list networks: %w", err)
	}

	if len(containers) == 0 && len(networks) == 0 {
		logger.Warn().Msg("No resources carry this environment label")
		return result, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, envID)
	}

	logger.Info().
		Int("containers", len(containers)).
		Int("networks", len(networks)).
		Msg("Tearing down environment")

	var errs []error

	// Containers first: a network with attached endpoints cannot be removed
	for _, c := range containers {
		rm := Removal{ID: c.ID, Name: c.Name, Service: c.Labels[types.LabelService]}
		timer := metrics.NewTimer()
		err := d.rt.RemoveContainer(ctx, c.ID)
		metrics.ObserveRuntimeCall("remove", timer, err)
		d.record(envID, &rm, err, events.EventContainerRemoved)
		if rm.Err != nil {
			errs = append(errs, rm.Err)
		}
		result.Containers = append(result.Containers, rm)
	}

	for _, n := range networks {
		rm := Removal{ID: n.ID, Name: n.Name}
		timer := metrics.NewTimer()
		err := d.rt.RemoveNetwork(ctx, n.ID)
		metrics.ObserveRuntimeCall("remove_network", timer, err)
		d.record(envID, &rm, err, events.EventNetworkRemoved)
		if rm.Err != nil {
			errs = append(errs, rm.Err)
		}
		result.Networks = append(result.Networks, rm)
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("teardown of %s incomplete: %w", envID, errors.Join(errs...))
	}

	logger.Info().Msg("Environment removed")
	return result, nil
}

// record logs and publishes one removal
func (d *Deployer) record(envID string, rm *Removal, err error, removed events.EventType) {
	logger := log.WithContainer(d.logger.With().Str("env", envID).Str("service", rm.Service).Logger(), rm.ID)

	switch {
	case err == nil:
		rm.Outcome = OutcomeRemoved
		logger.Info().Str("name", rm.Name).Str("outcome", rm.Outcome).Msg("Resource removed")
		d.broker.Publish(events.Action(removed, envID, rm.Service, rm.ID, rm.Outcome, rm.Name))
	case runtime.IsNotFound(err):
		rm.Outcome = OutcomeGone
		logger.Debug().Str("name", rm.Name).Str("outcome", rm.Outcome).Msg("Resource already gone")
	default:
		rm.Outcome = OutcomeFailed
		rm.Err = err
		logger.Error().Err(err).Str("name", rm.Name).Str("outcome", rm.Outcome).Msg("Resource removal failed")
		d.broker.Publish(events.Action(events.EventRemoveFailed, envID, rm.Service, rm.ID, rm.Outcome, err.Error()))
	}
}
