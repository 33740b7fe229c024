package port

import (
	"context"
	"errors"

	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

var (
	// ErrDocumentNotFound is returned by stores for an unknown (type, id)
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists is returned when inserting a duplicate (type, id)
	ErrDocumentExists = errors.New("document already exists")

	// ErrVersionConflict is returned when a conditional write finds a newer version
	ErrVersionConflict = errors.New("version conflict")
)

// DocumentStore is the versioned keyed storage of documents.
// CompareAndSwap writes doc only if the stored version equals expectedVersion;
// the caller sets doc.Version to the new version.
type DocumentStore interface {
	Get(ctx context.Context, docType workflow.DocumentType, id string) (*entity.Document, error)
	List(ctx context.Context, docType workflow.DocumentType) ([]*entity.Document, error)
	ListByDay(ctx context.Context, docType workflow.DocumentType, day string) ([]*entity.Document, error)
	ListByStatus(ctx context.Context, docType workflow.DocumentType, status workflow.State) ([]*entity.Document, error)
	Insert(ctx context.Context, doc *entity.Document) error
	CompareAndSwap(ctx context.Context, expectedVersion int64, doc *entity.Document) error
}

// DayStore holds batch day records. GetDay returns a zero record at version 0
// for a day never written.
type DayStore interface {
	GetDay(ctx context.Context, date string) (*entity.DayRecord, error)
	CompareAndSwapDay(ctx context.Context, expectedVersion int64, day *entity.DayRecord) error
}

// HistoryRepository defines persistence operations for TransitionHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.TransitionHistory) error
	ListByDocument(ctx context.Context, docType workflow.DocumentType, id string) ([]*entity.TransitionHistory, error)
}

// TransactionManager runs fn atomically; stores called with the ctx passed
// to fn join the transaction
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}
