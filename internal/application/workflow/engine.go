package workflow

import (
	"context"

	"github.com/garyjia/docflow/internal/domain/entity"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

// Engine validates and applies document transitions. Every mutating call
// is safe for concurrent use on arbitrary documents.
type Engine interface {
	// Create files a new document in the initial state of its chain
	Create(ctx context.Context, req CreateRequest) (*entity.Document, error)

	// Get returns a document by type and id
	Get(ctx context.Context, docType domainwf.DocumentType, id string) (*entity.Document, error)

	// List returns every document of a type
	List(ctx context.Context, docType domainwf.DocumentType) ([]*entity.Document, error)

	// ListByStatus returns the documents of a type sitting in one state
	ListByStatus(ctx context.Context, docType domainwf.DocumentType, status domainwf.State) ([]*entity.Document, error)

	// History returns the audit trail of a document
	History(ctx context.Context, docType domainwf.DocumentType, id string) ([]*entity.TransitionHistory, error)

	// Resolve finds the type of a bare id among payment orders and exit permits
	Resolve(ctx context.Context, id string) (domainwf.DocumentType, error)

	// Approve advances a document one step. Terminal documents are returned unchanged.
	Approve(ctx context.Context, req ApproveRequest) (*entity.Document, error)

	// Reject moves a non-terminal document to rejected
	Reject(ctx context.Context, req RejectRequest) (*entity.Document, error)

	// Edit updates the payload, demoting security logs and delays
	Edit(ctx context.Context, req EditRequest) (*entity.Document, error)

	// SubmitBatch advances every document of a day waiting on a batch level
	SubmitBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)

	// Registry returns the workflow definitions the engine runs on
	Registry() *domainwf.Registry
}

// CreateRequest files a new document. ID is generated when empty; Day
// defaults to today for day-batched types.
type CreateRequest struct {
	Type      domainwf.DocumentType  `json:"type"`
	ID        string                 `json:"id"`
	ActorName string                 `json:"actor_name"`
	Day       string                 `json:"day"`
	Payload   map[string]interface{} `json:"payload"`
}

// ApproveRequest advances a document. FromState is required and names the
// status the actor acted on; a document found elsewhere is returned
// unchanged, so a repeated request never advances twice.
type ApproveRequest struct {
	Type      domainwf.DocumentType  `json:"type"`
	ID        string                 `json:"id"`
	ActorRole string                 `json:"actor_role"`
	ActorName string                 `json:"actor_name"`
	Payload   map[string]interface{} `json:"payload"`
	FromState domainwf.State         `json:"from_state"`
}

// RejectRequest rejects a document with a mandatory reason. FromState
// follows the ApproveRequest rule.
type RejectRequest struct {
	Type      domainwf.DocumentType `json:"type"`
	ID        string                `json:"id"`
	ActorRole string                `json:"actor_role"`
	ActorName string                `json:"actor_name"`
	Reason    string                `json:"reason"`
	FromState domainwf.State        `json:"from_state"`
}

// EditRequest overlays payload fields onto a document
type EditRequest struct {
	Type      domainwf.DocumentType  `json:"type"`
	ID        string                 `json:"id"`
	ActorName string                 `json:"actor_name"`
	Payload   map[string]interface{} `json:"payload"`
}

// BatchRequest signs off one day of a day-batched type at one level
type BatchRequest struct {
	Type      domainwf.DocumentType `json:"type"`
	Date      string                `json:"date"`
	Level     domainwf.BatchLevel   `json:"level"`
	ActorRole string                `json:"actor_role"`
	ActorName string                `json:"actor_name"`
}

// BatchResult reports the documents a batch moved and the updated day
type BatchResult struct {
	Type      domainwf.DocumentType `json:"type"`
	Date      string                `json:"date"`
	Level     domainwf.BatchLevel   `json:"level"`
	Flag      domainwf.DayFlag      `json:"flag"`
	Documents []*entity.Document    `json:"documents"`
	Day       *entity.DayRecord     `json:"day"`
}
