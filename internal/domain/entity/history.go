package entity

import (
	"time"

	"github.com/garyjia/docflow/internal/domain/workflow"
)

// TransitionHistory is one audit trail entry of a document
type TransitionHistory struct {
	ID             int64                 `json:"id"`
	DocumentType   workflow.DocumentType `json:"document_type"`
	DocumentID     string                `json:"document_id"`
	ActorName      string                `json:"actor_name"`
	ActorRole      workflow.Role         `json:"actor_role"`
	PreviousStatus workflow.State        `json:"previous_status"`
	NewStatus      workflow.State        `json:"new_status"`
	ActionType     workflow.Trigger      `json:"action_type"`
	ActionData     string                `json:"action_data"`
	Version        int64                 `json:"version"`
	Timestamp      time.Time             `json:"timestamp"`
}
