package relay

import (
	"sync"
)

// State is the lifecycle state of a pipeline.
type State string

const (
	StateLoading State = "loading"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Value maps the state onto the pipeline state gauge.
func (s State) Value() float64 {
	switch s {
	case StateRunning:
		return 1
	case StateStopped:
		return 2
	default:
		return 0
	}
}

// allowedTransitions is the full edge set; Stopped has no way out.
var allowedTransitions = map[State]map[State]bool{
	StateLoading: {StateRunning: true, StateStopped: true},
	StateRunning: {StateStopped: true},
}

// stateMachine serializes state changes. onChange runs after the lock is
// released, once per applied transition.
type stateMachine struct {
	mu       sync.RWMutex
	state    State
	onChange func(from, to State)
}

func newStateMachine(onChange func(from, to State)) *stateMachine {
	return &stateMachine{state: StateLoading, onChange: onChange}
}

// Current returns the current state.
func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves from -> to if from is still current and the edge exists.
func (m *stateMachine) Transition(from, to State) bool {
	m.mu.Lock()
	if m.state != from || !allowedTransitions[from][to] {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return true
}

// To moves to the given state from whatever state is current.
func (m *stateMachine) To(to State) (State, bool) {
	m.mu.Lock()
	from := m.state
	if !allowedTransitions[from][to] {
		m.mu.Unlock()
		return from, false
	}
	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return from, true
}
