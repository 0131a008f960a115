package types

import (
	"errors"
	"time"
)

// Label keys applied to every runtime resource owned by an environment.
const (
	// LabelEnvironment is the one label shared by every container and
	// network of an environment. Teardown computes its closure from it alone.
	LabelEnvironment = "autotest.env.name"

	// LabelCreated carries the environment creation timestamp (RFC3339)
	LabelCreated = "autotest.env.created"

	// LabelService names the declared service a container belongs to
	LabelService = "autotest.service"

	// LabelRole distinguishes base containers from scaled-out replicas
	LabelRole = "autotest.role"

	// LabelReplica carries a replica's unique suffix
	LabelReplica = "autotest.replica"
)

// Role of a container inside a service
type Role string

const (
	RoleBase    Role = "base"
	RoleReplica Role = "replica"
)

// Environment is one isolated deployment: the containers and network sharing
// a generated identifier.
type Environment struct {
	ID        string
	Network   string
	Services  []*ServiceSpec
	CreatedAt time.Time
}

// ServiceSpec is a declared service and the rules that keep it healthy
// and right-sized.
type ServiceSpec struct {
	Name              string
	Image             string // Image reference to pull
	Build             string // Build context directory (resolved, absolute)
	Ports             []string
	Env               []string
	HealthCheck       *HealthCheckRule
	OptimizationRules []OptimizationRule

	// MaxReplicas caps the number of replicas scaling may create.
	// Zero means unbounded.
	MaxReplicas int
}

// HasRules reports whether the service takes part in reconciliation
func (s *ServiceSpec) HasRules() bool {
	return s.HealthCheck != nil || len(s.OptimizationRules) > 0
}

// Interval returns how often the service should be evaluated. Services
// without a health check fall back to the default probe interval.
func (s *ServiceSpec) Interval() time.Duration {
	if s.HealthCheck != nil && s.HealthCheck.Interval > 0 {
		return s.HealthCheck.Interval
	}
	return DefaultProbeInterval
}

// CPURules returns the service's cpu_usage rules in declared order
func (s *ServiceSpec) CPURules() []OptimizationRule {
	var rules []OptimizationRule
	for _, r := range s.OptimizationRules {
		if r.Metric == MetricCPUUsage {
			rules = append(rules, r)
		}
	}
	return rules
}

// ProbeType is the kind of health probe
type ProbeType string

const (
	ProbeHTTPGet    ProbeType = "http_get"
	ProbeTCPConnect ProbeType = "tcp_connect"
)

// Defaults applied when a health check omits a field
const (
	DefaultProbeRetries  = 3
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// HealthCheckRule declares how a service instance is probed
type HealthCheckRule struct {
	Type     ProbeType
	Endpoint string // HTTP path for http_get (e.g. "/health")
	Port     int    // Container port the probe targets
	Retries  int
	Interval time.Duration
	Timeout  time.Duration
}

// Metric is an observed quantity an optimization rule reacts to
type Metric string

const (
	MetricCPUUsage Metric = "cpu_usage"
)

// Action is what an optimization rule does when its threshold is crossed
type Action string

const (
	ActionScaleUp Action = "scale_up"
)

// OptimizationRule declares a threshold-triggered action
type OptimizationRule struct {
	Metric    Metric
	Threshold float64 // Percentage
	Action    Action
	Replicas  int // Containers to add per triggering
}

// ProbeOutcome is the last observed probe result of an instance
type ProbeOutcome string

const (
	OutcomeUnknown ProbeOutcome = "unknown"
	OutcomeSuccess ProbeOutcome = "success"
	OutcomeFailure ProbeOutcome = "failure"
)

// Instance is one running container of a service: the base container or
// a replica. Failure counting is per instance.
type Instance struct {
	ContainerID string
	Name        string
	Role        Role
	Suffix      string // Empty for the base container

	// Failures is the consecutive probe failure count, always in [0, retries)
	Failures    int
	LastOutcome ProbeOutcome
	LastMessage string
	LastProbe   time.Time
}

// ShortID returns the 12-character container identifier
func (i *Instance) ShortID() string {
	if len(i.ContainerID) > 12 {
		return i.ContainerID[:12]
	}
	return i.ContainerID
}

// ServiceState is the runtime state of one declared service within an
// environment.
type ServiceState struct {
	Spec          *ServiceSpec
	Base          *Instance
	Replicas      []*Instance
	LastEvaluated time.Time
}

// Instances returns the base container (if present) followed by replicas
func (s *ServiceState) Instances() []*Instance {
	instances := make([]*Instance, 0, len(s.Replicas)+1)
	if s.Base != nil {
		instances = append(instances, s.Base)
	}
	return append(instances, s.Replicas...)
}

// Suffixes returns the suffixes of the service's replicas. Suffixes are
// unique across the whole environment, not just within one service.
func (s *ServiceState) Suffixes() []string {
	out := make([]string, 0, len(s.Replicas))
	for _, r := range s.Replicas {
		if r.Suffix != "" {
			out = append(out, r.Suffix)
		}
	}
	return out
}

// EnvironmentLabels returns the labels shared by every resource of env
func EnvironmentLabels(envID string, createdAt time.Time) map[string]string {
	return map[string]string{
		LabelEnvironment: envID,
		LabelCreated:     createdAt.UTC().Format(time.RFC3339),
	}
}

// NetworkName returns the isolated network name for an environment
func NetworkName(envID string) string {
	return envID + "-net"
}

// ContainerName returns the base container name of a service
func ContainerName(envID, service string) string {
	return envID + "-" + service
}

// ReplicaName returns the container name of a service replica
func ReplicaName(envID, service, suffix string) string {
	return envID + "-" + service + "-r" + suffix
}

// ImageTag returns the tag a service's build context is built under
func ImageTag(envID, service string) string {
	return service + ":" + envID
}

// ImageRef returns the image a service's containers run in env: the built
// tag when the service declares a build context, otherwise its image.
func (s *ServiceSpec) ImageRef(envID string) string {
	if s.Build != "" {
		return ImageTag(envID, s.Name)
	}
	return s.Image
}

// ServiceLabels returns the labels of one container of a service
func ServiceLabels(envID string, createdAt time.Time, service string, role Role, suffix string) map[string]string {
	labels := EnvironmentLabels(envID, createdAt)
	labels[LabelService] = service
	labels[LabelRole] = string(role)
	if suffix != "" {
		labels[LabelReplica] = suffix
	}
	return labels
}

// ErrEnvironmentNotFound is returned when no runtime resource carries an
// environment's label
var ErrEnvironmentNotFound = errors.New("environment not found")
