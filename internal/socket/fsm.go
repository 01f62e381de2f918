package socket

import (
	"fmt"
	"sync"
)

// State is the connection state.
type State int

const (
	// StateDisconnected is the initial state and the state after Disconnect.
	StateDisconnected State = iota
	// StateConnecting means a dial and handshake are in progress.
	StateConnecting
	// StateConnected means the handshake completed and a socket id is held.
	StateConnected
	// StateReconnecting means the engine is waiting out a backoff delay.
	StateReconnecting
	// StateFailed means the service rejected the client or retries ran out.
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateFailed, StateDisconnected},
	StateConnected:    {StateReconnecting, StateFailed, StateDisconnected},
	StateReconnecting: {StateConnecting, StateFailed, StateDisconnected},
	StateFailed:       {StateConnecting, StateDisconnected},
}

// Transition is one accepted state change. Err is the cause, if any.
type Transition struct {
	From State
	To   State
	Err  error
}

// Hook observes transitions. Hooks run in transition order, one at a time,
// on the goroutine that calls Flush.
type Hook func(Transition)

// FSM holds the connection state and the transition table. Transition
// records a change; Flush runs hooks for recorded changes. Callers flush
// after releasing their own locks so hooks may call back into the engine.
type FSM struct {
	mu      sync.Mutex
	state   State
	hooks   []Hook
	queue   []Transition
	firing  bool
	changed chan struct{}
}

// NewFSM returns an FSM in StateDisconnected.
func NewFSM() *FSM {
	return &FSM{state: StateDisconnected, changed: make(chan struct{})}
}

// State returns the current state.
func (m *FSM) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Changed returns a channel closed at the next transition.
func (m *FSM) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// OnTransition registers a hook.
func (m *FSM) OnTransition(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given state. guard, if non-nil, runs under the FSM
// lock and can veto the change by returning false; it is where callers apply
// side effects that must be visible before hooks fire. A vetoed change
// returns ok=false and no error; an illegal change returns an error.
func (m *FSM) Transition(to State, cause error, guard func() bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	if guard != nil && !guard() {
		return false, nil
	}

	m.state = to
	m.queue = append(m.queue, Transition{From: from, To: to, Err: cause})
	close(m.changed)
	m.changed = make(chan struct{})
	return true, nil
}

// Flush runs hooks for every recorded transition. A Flush issued while
// another is running returns at once; the running one drains the queue.
func (m *FSM) Flush() {
	m.mu.Lock()
	if m.firing {
		m.mu.Unlock()
		return
	}
	m.firing = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		hooks := m.hooks
		m.mu.Unlock()

		for _, h := range hooks {
			h(next)
		}

		m.mu.Lock()
	}
	m.firing = false
	m.mu.Unlock()
}
