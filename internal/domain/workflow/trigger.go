package workflow

// Trigger represents an action that can change a document
type Trigger string

const (
	TriggerCreate  Trigger = "create"
	TriggerApprove Trigger = "approve"
	TriggerReject  Trigger = "reject"
	TriggerEdit    Trigger = "edit"
	TriggerBatch   Trigger = "batch"
	TriggerReopen  Trigger = "reopen"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
