// Package fake provides an in-memory runtime.Runtime for tests.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/docker/go-connections/nat"
)

// Runtime is a thread-safe in-memory container engine
type Runtime struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*runtime.ContainerInfo
	networks   map[string]*runtime.Network
	cpu        map[string]float64
	failures   map[string]error
	calls      map[string]int

	// Restarted records every restart attempt, failed or not, in call order
	Restarted []string

	// Removed records removed container IDs in call order
	Removed []string

	// Created records every successful container spec in call order
	Created []runtime.ContainerSpec

	// Images records every EnsureImage request
	Images []runtime.ImageSource

	// OnCreate, when set, may veto a container creation
	OnCreate func(spec runtime.ContainerSpec) error
}

// New creates an empty runtime
func New() *Runtime {
	return &Runtime{
		containers: make(map[string]*runtime.ContainerInfo),
		networks:   make(map[string]*runtime.Network),
		cpu:        make(map[string]float64),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// FailOn makes every call of op return err until cleared with a nil err.
// Ops: ensure, create, create network, inspect, list containers,
// list networks, restart, remove, remove network, stats.
func (r *Runtime) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// SetCPU sets the CPU percentage returned for a container
func (r *Runtime) SetCPU(id string, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cpu[id] = percent
}

// Calls returns how many times op was invoked
func (r *Runtime) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// AddContainer seeds a container as if it had been created externally
func (r *Runtime) AddContainer(info runtime.ContainerInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ID == "" {
		info.ID = r.nextID()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	c := info
	c.Labels = copyLabels(info.Labels)
	r.containers[c.ID] = &c
	return c.ID
}

// AddNetwork seeds a network
func (r *Runtime) AddNetwork(name string, labels map[string]string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID()
	r.networks[id] = &runtime.Network{ID: id, Name: name, Labels: copyLabels(labels)}
	return id
}

// Container returns a copy of a container's state
func (r *Runtime) Container(id string) (runtime.ContainerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return runtime.ContainerInfo{}, false
	}
	return *c, true
}

// ContainerCount returns the number of live containers
func (r *Runtime) ContainerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// NetworkCount returns the number of live networks
func (r *Runtime) NetworkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.networks)
}

func (r *Runtime) nextID() string {
	r.seq++
	return fmt.Sprintf("%016x%048d", r.seq, 0)
}

// enter records a call and returns the injected failure for op, if any
func (r *Runtime) enter(op, id string) error {
	r.calls[op]++
	if err, ok := r.failures[op]; ok {
		return &runtime.ClientError{Op: op, ID: id, Err: err}
	}
	return nil
}

func (r *Runtime) EnsureImage(ctx context.Context, src runtime.ImageSource) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("ensure", src.Image); err != nil {
		return "", err
	}
	r.Images = append(r.Images, src)
	if src.Build != "" {
		return src.Tag, nil
	}
	return src.Image, nil
}

func (r *Runtime) CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("create network", name); err != nil {
		return "", err
	}
	for _, n := range r.networks {
		if n.Name == name {
			return "", &runtime.ClientError{Op: "create network", ID: name, Err: fmt.Errorf("network %s already exists", name)}
		}
	}
	id := r.nextID()
	r.networks[id] = &runtime.Network{ID: id, Name: name, Labels: copyLabels(labels)}
	return id, nil
}

func (r *Runtime) ListNetworks(ctx context.Context, labels map[string]string) ([]runtime.Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("list networks", ""); err != nil {
		return nil, err
	}
	var out []runtime.Network
	for _, n := range r.networks {
		if matches(n.Labels, labels) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Runtime) RemoveNetwork(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("remove network", id); err != nil {
		return err
	}
	if _, ok := r.networks[id]; !ok {
		return &runtime.ClientError{Op: "remove network", ID: id, Err: runtime.ErrNotFound}
	}
	delete(r.networks, id)
	return nil
}

func (r *Runtime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("create", spec.Name); err != nil {
		return "", err
	}
	if r.OnCreate != nil {
		if err := r.OnCreate(spec); err != nil {
			return "", &runtime.ClientError{Op: "create", ID: spec.Name, Err: err}
		}
	}
	for _, c := range r.containers {
		if c.Name == spec.Name {
			return "", &runtime.ClientError{Op: "create", ID: spec.Name, Err: fmt.Errorf("name %s already in use", spec.Name)}
		}
	}

	_, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return "", &runtime.ClientError{Op: "create", ID: spec.Name, Err: err}
	}

	id := r.nextID()
	info := &runtime.ContainerInfo{
		ID:        id,
		Name:      spec.Name,
		Image:     spec.Image,
		Env:       append([]string(nil), spec.Env...),
		Labels:    copyLabels(spec.Labels),
		State:     "running",
		Running:   true,
		IPAddress: fmt.Sprintf("172.18.0.%d", r.seq+1),
		CreatedAt: time.Now(),
	}
	for port, binds := range bindings {
		for _, b := range binds {
			hostPort, _ := strconv.Atoi(b.HostPort)
			info.Ports = append(info.Ports, runtime.PortBinding{
				ContainerPort: port.Int(),
				Protocol:      port.Proto(),
				HostIP:        b.HostIP,
				HostPort:      hostPort,
			})
		}
	}

	r.containers[id] = info
	r.Created = append(r.Created, spec)
	return id, nil
}

func (r *Runtime) InspectContainer(ctx context.Context, id string) (*runtime.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("inspect", id); err != nil {
		return nil, err
	}
	c, ok := r.containers[id]
	if !ok {
		return nil, &runtime.ClientError{Op: "inspect", ID: id, Err: runtime.ErrNotFound}
	}
	info := *c
	return &info, nil
}

func (r *Runtime) ListContainers(ctx context.Context, labels map[string]string) ([]runtime.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("list containers", ""); err != nil {
		return nil, err
	}
	var out []runtime.ContainerInfo
	for _, c := range r.containers {
		if matches(c.Labels, labels) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Runtime) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("restart", id); err != nil {
		r.Restarted = append(r.Restarted, id)
		return err
	}
	if _, ok := r.containers[id]; !ok {
		return &runtime.ClientError{Op: "restart", ID: id, Err: runtime.ErrNotFound}
	}
	r.Restarted = append(r.Restarted, id)
	return nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("remove", id); err != nil {
		return err
	}
	if _, ok := r.containers[id]; !ok {
		return &runtime.ClientError{Op: "remove", ID: id, Err: runtime.ErrNotFound}
	}
	delete(r.containers, id)
	r.Removed = append(r.Removed, id)
	return nil
}

func (r *Runtime) CPUPercent(ctx context.Context, id string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("stats", id); err != nil {
		return 0, err
	}
	if _, ok := r.containers[id]; !ok {
		return 0, &runtime.ClientError{Op: "stats", ID: id, Err: runtime.ErrNotFound}
	}
	return r.cpu[id], nil
}

func (r *Runtime) Close() error {
	return nil
}

func matches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ runtime.Runtime = (*Runtime)(nil)
