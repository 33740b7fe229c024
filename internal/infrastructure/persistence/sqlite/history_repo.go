package sqlite

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Create appends a history entry
func (r *HistoryRepository) Create(ctx context.Context, h *entity.TransitionHistory) error {
	query := `
		INSERT INTO transition_history (
			doc_type, doc_id, actor_name, actor_role, previous_status, new_status,
			action_type, action_data, version, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		h.DocumentType, h.DocumentID, h.ActorName, h.ActorRole,
		h.PreviousStatus, h.NewStatus, h.ActionType, h.ActionData,
		h.Version, h.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// ListByDocument returns the history of a document, oldest first
func (r *HistoryRepository) ListByDocument(ctx context.Context, docType workflow.DocumentType, id string) ([]*entity.TransitionHistory, error) {
	query := `
		SELECT id, doc_type, doc_id, actor_name, actor_role, previous_status, new_status,
			action_type, action_data, version, timestamp
		FROM transition_history
		WHERE doc_type = ? AND doc_id = ?
		ORDER BY id
	`

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, docType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.TransitionHistory
	for rows.Next() {
		var h entity.TransitionHistory
		if err := rows.Scan(
			&h.ID, &h.DocumentType, &h.DocumentID, &h.ActorName, &h.ActorRole,
			&h.PreviousStatus, &h.NewStatus, &h.ActionType, &h.ActionData,
			&h.Version, &h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
