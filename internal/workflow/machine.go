package workflow

import (
	"fmt"
	"sync"

	"github.com/stakeflow/stakeflow/internal/chain"
)

// State is the lifecycle position of one action kind.
type State string

const (
	StateIdle                 State = "idle"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
)

var transitions = map[State][]State{
	StateIdle:                 {StateSubmitting},
	StateSubmitting:           {StateAwaitingConfirmation, StateFailed},
	StateAwaitingConfirmation: {StateConfirmed, StateFailed},
	StateConfirmed:            {StateIdle},
	StateFailed:               {StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine is the state machine of a single action kind. It owns at most one
// PendingTransaction; any state other than Idle means the kind is busy.
// Confirmed and Failed last only until the terminal step has been handled.
type Machine struct {
	kind chain.Kind

	mu      sync.Mutex
	state   State
	pending *PendingTransaction
	last    *PendingTransaction

	onTransition func(kind chain.Kind, from, to State)
}

func newMachine(kind chain.Kind, onTransition func(chain.Kind, State, State)) *Machine {
	return &Machine{kind: kind, state: StateIdle, onTransition: onTransition}
}

// Kind returns the action kind this machine drives.
func (m *Machine) Kind() chain.Kind { return m.kind }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Busy reports whether a PendingTransaction is in flight.
func (m *Machine) Busy() bool {
	return m.State() != StateIdle
}

// Pending returns the in-flight transaction, if any.
func (m *Machine) Pending() *PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Last returns the most recently discarded transaction, if any.
func (m *Machine) Last() *PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// begin claims the machine for tx. It fails with ErrBusy unless Idle.
func (m *Machine) begin(tx *PendingTransaction) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.pending = tx
	m.mu.Unlock()
	return m.transition(StateSubmitting)
}

func (m *Machine) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("workflow %s: illegal transition %s -> %s", m.kind, from, to)
	}
	m.state = to
	if m.pending != nil {
		m.pending.setState(to)
	}
	m.mu.Unlock()

	if m.onTransition != nil {
		m.onTransition(m.kind, from, to)
	}
	return nil
}

// discard drops the handled PendingTransaction and returns to Idle. It is a
// no-op unless the machine is in a terminal state.
func (m *Machine) discard() {
	m.mu.Lock()
	from := m.state
	if from != StateConfirmed && from != StateFailed {
		m.mu.Unlock()
		return
	}
	m.last = m.pending
	m.pending = nil
	m.state = StateIdle
	m.mu.Unlock()

	if m.onTransition != nil {
		m.onTransition(m.kind, from, StateIdle)
	}
}

// abort drives any non-idle machine to Failed and then Idle. Used when a
// step panics so the kind can be retried.
func (m *Machine) abort() {
	m.mu.Lock()
	from := m.state
	if from == StateIdle {
		m.mu.Unlock()
		return
	}
	if from != StateFailed && from != StateConfirmed {
		m.state = StateFailed
		if m.pending != nil {
			m.pending.setState(StateFailed)
		}
	}
	m.mu.Unlock()

	if from != StateFailed && from != StateConfirmed && m.onTransition != nil {
		m.onTransition(m.kind, from, StateFailed)
	}
	m.discard()
}
