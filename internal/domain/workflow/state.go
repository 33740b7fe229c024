package workflow

// State represents a document status within an approval chain
type State string

const (
	StatePending           State = "pending"
	StateFinanceApproved   State = "finance_approved"
	StateManagerApproved   State = "manager_approved"
	StateCeoApproved       State = "ceo_approved"
	StatePendingCeo        State = "pending_ceo"
	StatePendingFactory    State = "pending_factory"
	StatePendingSecurity   State = "pending_security"
	StateExited            State = "exited"
	StatePendingSupervisor State = "pending_supervisor"
	StateSupervisorChecked State = "supervisor_checked"
	StateFactoryChecked    State = "factory_checked"
	StateArchived          State = "archived"
	StateApproved          State = "approved"
	StateRejected          State = "rejected"
)

var validStates = map[State]bool{
	StatePending:           true,
	StateFinanceApproved:   true,
	StateManagerApproved:   true,
	StateCeoApproved:       true,
	StatePendingCeo:        true,
	StatePendingFactory:    true,
	StatePendingSecurity:   true,
	StateExited:            true,
	StatePendingSupervisor: true,
	StateSupervisorChecked: true,
	StateFactoryChecked:    true,
	StateArchived:          true,
	StateApproved:          true,
	StateRejected:          true,
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
