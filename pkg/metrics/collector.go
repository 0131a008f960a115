package metrics

import (
	"github.com/cuemby/autotest/pkg/types"
)

// StateSource exposes the service states of one monitored environment
type StateSource interface {
	Services() []*types.ServiceState
}

// Collector copies registry state into gauges. It is called by the loop
// after each tick, so it never reads state while a tick mutates it.
type Collector struct {
	source StateSource
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource) *Collector {
	return &Collector{source: source}
}

// Collect updates the replica gauges from the current state
func (c *Collector) Collect() {
	if c == nil || c.source == nil {
		return
	}

	for _, svc := range c.source.Services() {
		ReplicasCurrent.WithLabelValues(svc.Spec.Name).Set(float64(len(svc.Replicas)))
	}
}
