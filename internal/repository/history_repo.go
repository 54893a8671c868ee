package repository

import (
	"fmt"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/pkg/database"
	"go.uber.org/zap"
)

// SQLiteHistoryRepository persists the transition audit trail
type SQLiteHistoryRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteHistoryRepository creates a new SQLite-backed history repository
func NewSQLiteHistoryRepository(db *database.DB, logger *zap.Logger) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores a transition record
func (r *SQLiteHistoryRepository) Append(record *models.TransitionRecord) error {
	result, err := r.db.Exec(`
		INSERT INTO workflow_history
			(instance_id, step_id, previous_status, new_status, action, actor, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.InstanceID, record.StepID, record.PreviousStatus, record.NewStatus,
		record.Action, record.Actor, record.Notes, record.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append history record",
			zap.String("instance_id", record.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to append history record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// GetByInstanceID retrieves all records for an instance, oldest first
func (r *SQLiteHistoryRepository) GetByInstanceID(instanceID string) ([]*models.TransitionRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, instance_id, step_id, previous_status, new_status, action, actor, notes, created_at
		FROM workflow_history WHERE instance_id = ? ORDER BY id
	`, instanceID)
	if err != nil {
		r.logger.Error("Failed to get history", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		err := rows.Scan(&rec.ID, &rec.InstanceID, &rec.StepID, &rec.PreviousStatus,
			&rec.NewStatus, &rec.Action, &rec.Actor, &rec.Notes, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
