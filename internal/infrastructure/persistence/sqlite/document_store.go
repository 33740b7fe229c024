package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// DocumentStore implements port.DocumentStore over the documents table.
// A compare-and-swap is a single conditional UPDATE.
type DocumentStore struct {
	db     *DB
	logger *zap.Logger
}

// NewDocumentStore creates a new document store
func NewDocumentStore(db *DB, logger *zap.Logger) *DocumentStore {
	return &DocumentStore{db: db, logger: logger}
}

const documentColumns = `doc_type, id, status, day, created_by, stamps, rejection, payload,
	version, created_at, updated_at`

// Get retrieves a document by type and id
func (s *DocumentStore) Get(ctx context.Context, docType workflow.DocumentType, id string) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE doc_type = ? AND id = ?`

	doc, err := scanDocument(s.db.getExecutor(ctx).QueryRowContext(ctx, query, docType, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", docType, id, err)
	}
	return doc, nil
}

// List returns every document of a type ordered by creation
func (s *DocumentStore) List(ctx context.Context, docType workflow.DocumentType) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE doc_type = ? ORDER BY created_at, id`
	return s.query(ctx, query, docType)
}

// ListByDay returns the documents of a type filed under a batch day
func (s *DocumentStore) ListByDay(ctx context.Context, docType workflow.DocumentType, day string) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE doc_type = ? AND day = ? ORDER BY id`
	return s.query(ctx, query, docType, day)
}

// ListByStatus returns the documents of a type in a given status
func (s *DocumentStore) ListByStatus(ctx context.Context, docType workflow.DocumentType, status workflow.State) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE doc_type = ? AND status = ? ORDER BY created_at, id`
	return s.query(ctx, query, docType, status)
}

// Insert stores a new document
func (s *DocumentStore) Insert(ctx context.Context, doc *entity.Document) error {
	stamps, rejection, payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	query := `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.getExecutor(ctx).ExecContext(ctx, query,
		doc.Type, doc.ID, doc.Status, doc.Day, doc.CreatedBy,
		stamps, rejection, payload,
		doc.Version, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return port.ErrDocumentExists
		}
		s.logger.Error("Failed to insert document",
			zap.String("type", string(doc.Type)),
			zap.String("id", doc.ID),
			zap.Error(err))
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// CompareAndSwap replaces the document if the stored version is expectedVersion
func (s *DocumentStore) CompareAndSwap(ctx context.Context, expectedVersion int64, doc *entity.Document) error {
	stamps, rejection, payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents
		SET status = ?, day = ?, stamps = ?, rejection = ?, payload = ?,
			version = ?, updated_at = ?
		WHERE doc_type = ? AND id = ? AND version = ?
	`
	exec := s.db.getExecutor(ctx)
	result, err := exec.ExecContext(ctx, query,
		doc.Status, doc.Day, stamps, rejection, payload,
		doc.Version, doc.UpdatedAt,
		doc.Type, doc.ID, expectedVersion,
	)
	if err != nil {
		s.logger.Error("Failed to update document",
			zap.String("type", string(doc.Type)),
			zap.String("id", doc.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = exec.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE doc_type = ? AND id = ?`, doc.Type, doc.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check document: %w", err)
	}
	return port.ErrVersionConflict
}

func (s *DocumentStore) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Document, error) {
	rows, err := s.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*entity.Document, error) {
	var doc entity.Document
	var stamps, payload string
	var rejection sql.NullString

	err := row.Scan(
		&doc.Type, &doc.ID, &doc.Status, &doc.Day, &doc.CreatedBy,
		&stamps, &rejection, &payload,
		&doc.Version, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stamps), &doc.ApprovalStamps); err != nil {
		return nil, fmt.Errorf("failed to decode stamps: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &doc.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if rejection.Valid && rejection.String != "" {
		doc.Rejection = &entity.Rejection{}
		if err := json.Unmarshal([]byte(rejection.String), doc.Rejection); err != nil {
			return nil, fmt.Errorf("failed to decode rejection: %w", err)
		}
	}
	return &doc, nil
}

func encodeDocument(doc *entity.Document) (stamps string, rejection sql.NullString, payload string, err error) {
	stampList := doc.ApprovalStamps
	if stampList == nil {
		stampList = []entity.ApprovalStamp{}
	}
	b, err := json.Marshal(stampList)
	if err != nil {
		return "", rejection, "", fmt.Errorf("failed to encode stamps: %w", err)
	}
	stamps = string(b)

	fields := doc.Payload
	if fields == nil {
		fields = map[string]interface{}{}
	}
	b, err = json.Marshal(fields)
	if err != nil {
		return "", rejection, "", fmt.Errorf("failed to encode payload: %w", err)
	}
	payload = string(b)

	if doc.Rejection != nil {
		b, err = json.Marshal(doc.Rejection)
		if err != nil {
			return "", rejection, "", fmt.Errorf("failed to encode rejection: %w", err)
		}
		rejection = sql.NullString{String: string(b), Valid: true}
	}
	return stamps, rejection, payload, nil
}

var _ port.DocumentStore = (*DocumentStore)(nil)
