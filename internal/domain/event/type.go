package event

// Type identifies the type of domain event
type Type string

const (
	TypeDocumentCreated  Type = "document.created"
	TypeDocumentApproved Type = "document.approved"
	TypeDocumentRejected Type = "document.rejected"
	TypeDocumentEdited   Type = "document.edited"
	TypeDayBatchApproved Type = "day.batch_approved"
	TypeDayReopened      Type = "day.reopened"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentCreated,
		TypeDocumentApproved,
		TypeDocumentRejected,
		TypeDocumentEdited,
		TypeDayBatchApproved,
		TypeDayReopened:
		return true
	default:
		return false
	}
}
