package workflow

import "fmt"

// StateMachine tracks the state of one document and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}

type stateMachine struct {
	def          *Definition
	currentState State
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, ok := m.target(trigger)
	return ok
}

func (m *stateMachine) Fire(trigger Trigger) error {
	to, ok := m.target(trigger)
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from %s on %s", ErrInvalidTransition, trigger, m.currentState, m.def.Type)
	}
	m.currentState = to
	return nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	triggers := make([]Trigger, 0, 3)
	for _, t := range []Trigger{TriggerApprove, TriggerReject, TriggerReopen} {
		if m.CanFire(t) {
			triggers = append(triggers, t)
		}
	}
	return triggers
}

func (m *stateMachine) target(trigger Trigger) (State, bool) {
	d := m.def
	if !d.Contains(m.currentState) {
		return "", false
	}
	switch trigger {
	case TriggerApprove, TriggerBatch:
		return d.NextState(m.currentState)
	case TriggerReject:
		if d.IsTerminal(m.currentState) {
			return "", false
		}
		return StateRejected, true
	case TriggerReopen:
		if d.EditPolicy != EditDemotes || m.currentState == StateRejected || m.currentState == d.Initial() {
			return "", false
		}
		return d.Initial(), true
	}
	return "", false
}
