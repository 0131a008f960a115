package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/autotest/pkg/log"
	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
)

// EnvironmentState is the cached runtime state of one environment: its
// services in declared order, each with base container and replicas.
type EnvironmentState struct {
	Env      *types.Environment
	services []*types.ServiceState
	byName   map[string]*types.ServiceState
}

// Services returns the service states in declared order
func (e *EnvironmentState) Services() []*types.ServiceState {
	return e.services
}

// Service returns the state of one service, or nil
func (e *EnvironmentState) Service(name string) *types.ServiceState {
	return e.byName[name]
}

// Registry maps environment identifiers to their cached state. It is never
// the authority: every entry is rebuilt from runtime labels.
type Registry struct {
	mu   sync.RWMutex
	envs map[string]*EnvironmentState
}

// New creates an empty registry
func New() *Registry {
	return &Registry{envs: make(map[string]*EnvironmentState)}
}

// Rebuild queries the runtime for every container and network labeled with
// envID and replaces the cached entry. All failure counters start at 0.
//
// specs are the declared services; when nil, services are derived from
// the container labels in creation order. Containers of services that are
// not declared are ignored.
func (r *Registry) Rebuild(ctx context.Context, rt runtime.Runtime, envID string, specs []*types.ServiceSpec) (*EnvironmentState, error) {
	logger := log.WithEnvironment(envID).With().Str("component", "registry").Logger()
	selector := map[string]string{types.LabelEnvironment: envID}

	containers, err := rt.ListContainers(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers of %s: %w", envID, err)
	}
	networks, err := rt.ListNetworks(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to list networks of %s: %w", envID, err)
	}

	if len(containers) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrEnvironmentNotFound, envID)
	}

	// Oldest first so base containers and replicas keep creation order
	sort.SliceStable(containers, func(i, j int) bool {
		return containers[i].CreatedAt.Before(containers[j].CreatedAt)
	})

	if specs == nil {
		specs = specsFromLabels(containers)
	}

	env := &types.Environment{
		ID:        envID,
		Network:   types.NetworkName(envID),
		Services:  specs,
		CreatedAt: createdAt(containers),
	}
	if len(networks) > 0 {
		env.Network = networks[0].Name
	}

	state := &EnvironmentState{
		Env:    env,
		byName: make(map[string]*types.ServiceState, len(specs)),
	}
	for _, spec := range specs {
		svc := &types.ServiceState{Spec: spec}
		state.services = append(state.services, svc)
		state.byName[spec.Name] = svc
	}

	for _, c := range containers {
		name := c.Labels[types.LabelService]
		svc, ok := state.byName[name]
		if !ok {
			logger.Debug().Str("container", c.Name).Str("service", name).Msg("Ignoring container of undeclared service")
			continue
		}

		inst := &types.Instance{
			ContainerID: c.ID,
			Name:        c.Name,
			Role:        types.Role(c.Labels[types.LabelRole]),
			Suffix:      c.Labels[types.LabelReplica],
			LastOutcome: types.OutcomeUnknown,
		}

		switch {
		case inst.Role == types.RoleReplica:
			svc.Replicas = append(svc.Replicas, inst)
		case svc.Base == nil:
			inst.Role = types.RoleBase
			svc.Base = inst
		default:
			logger.Warn().
				Str("service", name).
				Str("container", c.Name).
				Msg("Duplicate base container, ignoring")
		}
	}

	for _, svc := range state.services {
		if svc.Base == nil {
			logger.Warn().Str("service", svc.Spec.Name).Msg("Declared service has no base container")
		}
	}

	r.mu.Lock()
	r.envs[envID] = state
	r.mu.Unlock()

	logger.Info().
		Int("services", len(state.services)).
		Int("containers", len(containers)).
		Msg("Registry rebuilt from runtime labels")

	return state, nil
}

// Get returns the cached state of an environment
func (r *Registry) Get(envID string) (*EnvironmentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.envs[envID]
	return state, ok
}

// Forget drops an environment from the cache. Runtime resources are not
// touched.
func (r *Registry) Forget(envID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.envs, envID)
}

// IDs returns the cached environment identifiers, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.envs))
	for id := range r.envs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func specsFromLabels(containers []runtime.ContainerInfo) []*types.ServiceSpec {
	var specs []*types.ServiceSpec
	seen := make(map[string]bool)
	for _, c := range containers {
		name := c.Labels[types.LabelService]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		specs = append(specs, &types.ServiceSpec{Name: name, Image: c.Image})
	}
	return specs
}

func createdAt(containers []runtime.ContainerInfo) time.Time {
	for _, c := range containers {
		if ts, err := time.Parse(time.RFC3339, c.Labels[types.LabelCreated]); err == nil {
			return ts
		}
	}
	if len(containers) > 0 {
		return containers[0].CreatedAt
	}
	return time.Time{}
}
