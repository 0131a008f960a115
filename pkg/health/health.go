package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/autotest/pkg/runtime"
	"github.com/cuemby/autotest/pkg/types"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http_get"
	CheckTypeTCP  CheckType = "tcp_connect"
)

// Result represents the outcome of a health check. A failed probe is a
// Result with Healthy false and a human-readable Message, never an error.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// defaultTimeout applies when a rule carries no timeout
const defaultTimeout = types.DefaultProbeTimeout

// Target is the network endpoint a probe connects to
type Target struct {
	Host string
	Port int
}

// Address returns host:port
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Address()
}

// ResolveTarget picks the endpoint for probing containerPort on a container.
// A published host binding is preferred (the service's mapped host
// endpoint); replicas publish nothing and are reached on their network
// address instead.
func ResolveTarget(info *runtime.ContainerInfo, containerPort int) (Target, error) {
	if binding, ok := info.HostPort(containerPort, "tcp"); ok {
		host := binding.HostIP
		switch host {
		case "", "0.0.0.0", "::":
			host = "127.0.0.1"
		}
		return Target{Host: host, Port: binding.HostPort}, nil
	}

	if info.IPAddress != "" {
		return Target{Host: info.IPAddress, Port: containerPort}, nil
	}

	return Target{}, fmt.Errorf("container %s has no host binding or network address for port %d", info.Name, containerPort)
}

// NewChecker creates the checker a rule declares against target
func NewChecker(rule *types.HealthCheckRule, target Target) (Checker, error) {
	switch rule.Type {
	case types.ProbeHTTPGet:
		return NewHTTPChecker(target, rule.Endpoint, rule.Timeout), nil
	case types.ProbeTCPConnect:
		return NewTCPChecker(target, rule.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported health check type: %s", rule.Type)
	}
}

// finish stamps a Result with the time the check started and how long it took
func finish(start time.Time, healthy bool, msg string) Result {
	return Result{
		Healthy:   healthy,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Prober executes one declared probe against one target
type Prober interface {
	Probe(ctx context.Context, rule *types.HealthCheckRule, target Target) Result
}

// DefaultProber builds a checker per probe from the rule
type DefaultProber struct{}

// NewProber creates a prober for HTTP and TCP rules
func NewProber() *DefaultProber {
	return &DefaultProber{}
}

// Probe runs the rule's check. Every failure mode, including an unusable
// rule, collapses into an unhealthy Result.
func (p *DefaultProber) Probe(ctx context.Context, rule *types.HealthCheckRule, target Target) Result {
	checker, err := NewChecker(rule, target)
	if err != nil {
		return finish(time.Now(), false, err.Error())
	}
	return checker.Check(ctx)
}
