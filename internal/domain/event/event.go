package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// Payload keys shared between the engine and its subscribers
const (
	KeyReason   = "reason"
	KeyDay      = "day"
	KeyLevel    = "level"
	KeyReverted = "reverted"
)

// Event represents a persisted change to one or more documents
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	DocumentType  workflow.DocumentType  `json:"document_type"`
	FromState     workflow.State         `json:"from_state"`
	ToState       workflow.State         `json:"to_state"`
	ActorRole     workflow.Role          `json:"actor_role"`
	ActorName     string                 `json:"actor_name"`
	Document      *entity.Document       `json:"document,omitempty"`
	Documents     []*entity.Document     `json:"documents,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a generated ID and timestamp
func NewEvent(eventType Type, docType workflow.DocumentType, payload map[string]interface{}) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		DocumentType:  docType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// WithActor returns the event with the acting role and name set
func (e *Event) WithActor(role workflow.Role, name string) *Event {
	e.ActorRole = role
	e.ActorName = name
	return e
}

// WithTransition returns the event with the document and its state change set
func (e *Event) WithTransition(doc *entity.Document, from, to workflow.State) *Event {
	e.Document = doc
	e.FromState = from
	e.ToState = to
	return e
}

// WithDocuments returns the event carrying a batch of documents
func (e *Event) WithDocuments(docs []*entity.Document) *Event {
	e.Documents = docs
	return e
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	c := *e
	c.Payload = newPayload
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
