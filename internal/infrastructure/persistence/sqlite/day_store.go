package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/docflow/internal/application/port"
	"github.com/garyjia/docflow/internal/domain/entity"
)

// DayStore implements port.DayStore over the batch_days table
type DayStore struct {
	db     *DB
	logger *zap.Logger
}

// NewDayStore creates a new day store
func NewDayStore(db *DB, logger *zap.Logger) *DayStore {
	return &DayStore{db: db, logger: logger}
}

// GetDay returns the day record, or a zero record at version 0 if none was written
func (s *DayStore) GetDay(ctx context.Context, date string) (*entity.DayRecord, error) {
	query := `
		SELECT date, factory_daily_approved, ceo_daily_approved, delay_supervisor_approved,
			delay_factory_approved, delay_ceo_approved, version, updated_at
		FROM batch_days WHERE date = ?
	`

	var day entity.DayRecord
	err := s.db.getExecutor(ctx).QueryRowContext(ctx, query, date).Scan(
		&day.Date,
		&day.FactoryDailyApproved,
		&day.CeoDailyApproved,
		&day.DelaySupervisorApproved,
		&day.DelayFactoryApproved,
		&day.DelayCeoApproved,
		&day.Version,
		&day.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &entity.DayRecord{Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day %s: %w", date, err)
	}
	return &day, nil
}

// CompareAndSwapDay writes the day if its stored version is expectedVersion.
// Version 0 means the day has never been written.
func (s *DayStore) CompareAndSwapDay(ctx context.Context, expectedVersion int64, day *entity.DayRecord) error {
	exec := s.db.getExecutor(ctx)

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = exec.ExecContext(ctx, `
			INSERT INTO batch_days (date, factory_daily_approved, ceo_daily_approved,
				delay_supervisor_approved, delay_factory_approved, delay_ceo_approved, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO NOTHING`,
			day.Date, day.FactoryDailyApproved, day.CeoDailyApproved,
			day.DelaySupervisorApproved, day.DelayFactoryApproved, day.DelayCeoApproved,
			day.Version, day.UpdatedAt,
		)
	} else {
		result, err = exec.ExecContext(ctx, `
			UPDATE batch_days
			SET factory_daily_approved = ?, ceo_daily_approved = ?, delay_supervisor_approved = ?,
				delay_factory_approved = ?, delay_ceo_approved = ?, version = ?, updated_at = ?
			WHERE date = ? AND version = ?`,
			day.FactoryDailyApproved, day.CeoDailyApproved, day.DelaySupervisorApproved,
			day.DelayFactoryApproved, day.DelayCeoApproved, day.Version, day.UpdatedAt,
			day.Date, expectedVersion,
		)
	}
	if err != nil {
		s.logger.Error("Failed to write day", zap.String("date", day.Date), zap.Error(err))
		return fmt.Errorf("failed to write day: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows != 1 {
		return port.ErrVersionConflict
	}
	return nil
}

var _ port.DayStore = (*DayStore)(nil)
