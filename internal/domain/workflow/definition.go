package workflow

// Definition is the static approval chain of one document type
type Definition struct {
	Type       DocumentType
	Steps      []Step
	Final      State
	EditPolicy EditPolicy

	index    map[State]int
	dayFlags map[BatchLevel]DayFlag
}

// Initial returns the state new documents start in
func (d *Definition) Initial() State {
	return d.Steps[0].State
}

// Step returns the non-terminal step for state
func (d *Definition) Step(state State) (Step, bool) {
	i, ok := d.index[state]
	if !ok {
		return Step{}, false
	}
	return d.Steps[i], true
}

// Contains reports whether state belongs to this chain, terminals included
func (d *Definition) Contains(state State) bool {
	if state == d.Final || state == StateRejected {
		return true
	}
	_, ok := d.index[state]
	return ok
}

// IsTerminal reports whether state accepts no further approve or reject
func (d *Definition) IsTerminal(state State) bool {
	return state == d.Final || state == StateRejected
}

// NextState returns the state reached by approving out of state
func (d *Definition) NextState(state State) (State, bool) {
	i, ok := d.index[state]
	if !ok {
		return "", false
	}
	if i+1 < len(d.Steps) {
		return d.Steps[i+1].State, true
	}
	return d.Final, true
}

// Position is the chain index of state: steps count from 0, the final
// state is len(Steps) and rejected or unknown states are -1.
func (d *Definition) Position(state State) int {
	if state == d.Final {
		return len(d.Steps)
	}
	if i, ok := d.index[state]; ok {
		return i
	}
	return -1
}

// BatchStep returns the step advanced by the batch submit of level
func (d *Definition) BatchStep(level BatchLevel) (Step, bool) {
	for _, s := range d.Steps {
		if s.BatchLevel == level {
			return s, true
		}
	}
	return Step{}, false
}

// DayFlag returns the day flag set by the batch submit of level
func (d *Definition) DayFlag(level BatchLevel) (DayFlag, bool) {
	f, ok := d.dayFlags[level]
	return f, ok
}

// DayFlags returns every flag this type records against a batch day, in chain order
func (d *Definition) DayFlags() []DayFlag {
	flags := make([]DayFlag, 0, len(d.dayFlags))
	for _, s := range d.Steps {
		if s.BatchLevel == "" {
			continue
		}
		if f, ok := d.dayFlags[s.BatchLevel]; ok {
			flags = append(flags, f)
		}
	}
	return flags
}

// Batched reports whether documents of this type are grouped by calendar day
func (d *Definition) Batched() bool {
	return len(d.dayFlags) > 0
}

// Machine returns a state machine positioned at state
func (d *Definition) Machine(state State) StateMachine {
	return &stateMachine{def: d, currentState: state}
}
