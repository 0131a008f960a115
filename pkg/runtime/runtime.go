package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a container or network does not exist
var ErrNotFound = errors.New("resource not found")

// ClientError wraps a failed runtime call. These are transient
// infrastructure failures: the caller logs them and skips the action.
type ClientError struct {
	Op  string // Runtime operation, e.g. "restart"
	ID  string // Container, network or image the call targeted
	Err error
}

func (e *ClientError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("runtime %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("runtime %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the targeted resource is gone
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Runtime is the boundary through which containers, networks and stats
// are manipulated. Every method blocks; callers bound them with ctx.
type Runtime interface {
	// EnsureImage pulls an image reference or builds a context directory
	// and returns the reference to create containers from
	EnsureImage(ctx context.Context, src ImageSource) (string, error)

	// CreateNetwork creates an isolated network and returns its ID
	CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error)

	// ListNetworks returns networks carrying all of the given labels
	ListNetworks(ctx context.Context, labels map[string]string) ([]Network, error)

	// RemoveNetwork deletes a network
	RemoveNetwork(ctx context.Context, id string) error

	// CreateContainer creates and starts a container and returns its ID
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// InspectContainer returns the current state of a container
	InspectContainer(ctx context.Context, id string) (*ContainerInfo, error)

	// ListContainers returns containers (running or not) carrying all of
	// the given labels
	ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)

	// RestartContainer restarts exactly one container
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error

	// RemoveContainer force-removes a container and its anonymous volumes
	RemoveContainer(ctx context.Context, id string) error

	// CPUPercent samples a container's CPU usage over a short window
	CPUPercent(ctx context.Context, id string) (float64, error)

	// Close releases the client connection
	Close() error
}

// ImageSource identifies where a service's image comes from
type ImageSource struct {
	Image string // Reference to pull
	Build string // Context directory to build; takes precedence
	Tag   string // Tag applied to built images
}

// ContainerSpec describes a container to create
type ContainerSpec struct {
	Name    string
	Image   string
	Env     []string
	Ports   []string // "host:container[/proto]"; empty publishes nothing
	Network string
	Labels  map[string]string
}

// ContainerInfo is the observed state of a container
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Env       []string
	Labels    map[string]string
	State     string // created, running, exited, ...
	Running   bool
	IPAddress string // Address on the environment network
	Ports     []PortBinding
	CreatedAt time.Time
}

// PortBinding maps a container port to a host endpoint
type PortBinding struct {
	ContainerPort int
	Protocol      string
	HostIP        string
	HostPort      int
}

// HostPort returns the host binding for a container port and protocol.
// An empty protocol on a binding means tcp.
func (c *ContainerInfo) HostPort(containerPort int, proto string) (PortBinding, bool) {
	for _, p := range c.Ports {
		bound := p.Protocol
		if bound == "" {
			bound = "tcp"
		}
		if p.ContainerPort == containerPort && bound == proto && p.HostPort != 0 {
			return p, true
		}
	}
	return PortBinding{}, false
}

// Network is an observed network
type Network struct {
	ID     string
	Name   string
	Labels map[string]string
}
