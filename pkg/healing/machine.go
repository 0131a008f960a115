package healing

import (
	"github.com/cuemby/autotest/pkg/types"
)

// State of one service instance in the self-healing state machine
type State string

const (
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateRestarting State = "restarting"
)

// Transition is the result of feeding one probe outcome to the machine
type Transition struct {
	From State
	To   State

	// Failures is the counter value to store after the transition.
	// It is always in [0, retries).
	Failures int

	// Restart is set when the instance must be restarted now
	Restart bool

	// Deferred is set when a restart was due but not allowed this tick
	Deferred bool
}

// Machine is the failure-counting state machine shared by every instance
// of a service. It holds no per-instance state: the counter lives on the
// instance and is passed in.
type Machine struct {
	retries int
}

// NewMachine creates a machine that restarts after retries consecutive
// failures. Values below 1 use the default.
func NewMachine(retries int) *Machine {
	if retries < 1 {
		retries = types.DefaultProbeRetries
	}
	return &Machine{retries: retries}
}

// Retries returns the failure threshold
func (m *Machine) Retries() int {
	return m.retries
}

// StateOf maps a failure counter to its resting state
func StateOf(failures int) State {
	if failures == 0 {
		return StateHealthy
	}
	return StateDegraded
}

// Observe feeds one probe outcome. A restart transition already carries
// the post-restart counter of 0, so the counter never reaches retries.
func (m *Machine) Observe(failures int, healthy bool) Transition {
	from := StateOf(failures)

	if healthy {
		return Transition{From: from, To: StateHealthy, Failures: 0}
	}

	if failures+1 >= m.retries {
		return Transition{From: from, To: StateRestarting, Failures: 0, Restart: true}
	}

	return Transition{From: from, To: StateDegraded, Failures: failures + 1}
}

// Hold is Observe for a failure whose restart may not be issued this tick.
// The counter stays at its ceiling so the next failure restarts.
func (m *Machine) Hold(failures int) Transition {
	t := m.Observe(failures, false)
	if !t.Restart {
		return t
	}
	return Transition{From: t.From, To: StateDegraded, Failures: m.retries - 1, Deferred: true}
}
