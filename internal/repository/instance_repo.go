package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/pkg/database"
	"go.uber.org/zap"
)

// SQLiteInstanceRepository persists workflow instances and their step
// instances
type SQLiteInstanceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteInstanceRepository creates a new SQLite-backed instance repository
func NewSQLiteInstanceRepository(db *database.DB, logger *zap.Logger) *SQLiteInstanceRepository {
	return &SQLiteInstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, workflow_id, document_request_id, current_step_id, status,
	started_at, completed_at, assigned_to, priority, created_at, updated_at`

// Save persists an instance and rewrites its step instances in one
// transaction, so readers never observe a half-written instance.
func (r *SQLiteInstanceRepository) Save(instance *models.WorkflowInstance) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO workflow_instances
				(id, workflow_id, document_request_id, current_step_id, status,
				 started_at, completed_at, assigned_to, priority, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				current_step_id = excluded.current_step_id,
				status = excluded.status,
				completed_at = excluded.completed_at,
				assigned_to = excluded.assigned_to,
				priority = excluded.priority,
				updated_at = excluded.updated_at
		`,
			instance.ID, instance.WorkflowID, instance.DocumentRequestID,
			instance.CurrentStepID, string(instance.Status),
			instance.StartedAt, instance.CompletedAt, instance.AssignedTo,
			string(instance.Priority), instance.CreatedAt, instance.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to save instance", zap.String("id", instance.ID), zap.Error(err))
			return fmt.Errorf("failed to save instance: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM workflow_step_instances WHERE instance_id = ?`, instance.ID); err != nil {
			return fmt.Errorf("failed to clear step instances: %w", err)
		}

		for position, step := range instance.Steps {
			attachmentsJSON := []byte("[]")
			if step.Attachments != nil {
				attachmentsJSON, err = json.Marshal(step.Attachments)
				if err != nil {
					return fmt.Errorf("failed to marshal attachments: %w", err)
				}
			}
			_, err = tx.Exec(`
				INSERT INTO workflow_step_instances
					(id, instance_id, step_id, status, assigned_to, started_at,
					 completed_at, notes, attachments, duration, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				step.ID, instance.ID, step.StepID, string(step.Status), step.AssignedTo,
				step.StartedAt, step.CompletedAt, step.Notes, string(attachmentsJSON),
				step.Duration, position,
			)
			if err != nil {
				return fmt.Errorf("failed to save step instance %s: %w", step.ID, err)
			}
		}

		return nil
	})
}

// GetByID retrieves an instance by id
func (r *SQLiteInstanceRepository) GetByID(id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRow(`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)
	instance, err := r.scanInstanceRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if err := r.loadSteps(instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// GetByDocumentRequestID retrieves the live instance for a document
// request, falling back to the most recently started one
func (r *SQLiteInstanceRepository) GetByDocumentRequestID(documentRequestID string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRow(`
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE document_request_id = ?
		ORDER BY CASE WHEN status IN ('active', 'on_hold') THEN 0 ELSE 1 END, started_at DESC
		LIMIT 1
	`, documentRequestID)
	instance, err := r.scanInstanceRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by request",
			zap.String("document_request_id", documentRequestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if err := r.loadSteps(instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// List retrieves all instances
func (r *SQLiteInstanceRepository) List() ([]*models.WorkflowInstance, error) {
	return r.list(`SELECT ` + instanceColumns + ` FROM workflow_instances ORDER BY started_at`)
}

// ListActive retrieves all instances with status active
func (r *SQLiteInstanceRepository) ListActive() ([]*models.WorkflowInstance, error) {
	return r.list(`SELECT `+instanceColumns+` FROM workflow_instances WHERE status = ? ORDER BY started_at`,
		string(models.InstanceStatusActive))
}

// ListByAssignee retrieves all active instances assigned to the actor
func (r *SQLiteInstanceRepository) ListByAssignee(actorID string) ([]*models.WorkflowInstance, error) {
	return r.list(`SELECT `+instanceColumns+` FROM workflow_instances WHERE status = ? AND assigned_to = ? ORDER BY started_at`,
		string(models.InstanceStatusActive), actorID)
}

func (r *SQLiteInstanceRepository) list(query string, args ...interface{}) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.WorkflowInstance
	for rows.Next() {
		instance, err := r.scanInstanceRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, instance := range instances {
		if err := r.loadSteps(instance); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

func (r *SQLiteInstanceRepository) scanInstanceRow(scan func(...interface{}) error) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance
	var status, priority string
	var completedAt sql.NullTime

	err := scan(
		&instance.ID, &instance.WorkflowID, &instance.DocumentRequestID,
		&instance.CurrentStepID, &status,
		&instance.StartedAt, &completedAt, &instance.AssignedTo,
		&priority, &instance.CreatedAt, &instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)
	instance.Priority = models.Priority(priority)
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	return &instance, nil
}

func (r *SQLiteInstanceRepository) loadSteps(instance *models.WorkflowInstance) error {
	rows, err := r.db.Query(`
		SELECT id, step_id, status, assigned_to, started_at, completed_at, notes, attachments, duration
		FROM workflow_step_instances WHERE instance_id = ? ORDER BY position
	`, instance.ID)
	if err != nil {
		return fmt.Errorf("failed to load step instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step models.WorkflowStepInstance
		var status, attachmentsJSON string
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(&step.ID, &step.StepID, &status, &step.AssignedTo,
			&startedAt, &completedAt, &step.Notes, &attachmentsJSON, &step.Duration)
		if err != nil {
			return fmt.Errorf("failed to scan step instance: %w", err)
		}

		step.Status = models.StepStatus(status)
		if startedAt.Valid {
			t := startedAt.Time
			step.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			step.CompletedAt = &t
		}
		if attachmentsJSON != "" && attachmentsJSON != "[]" {
			if err := json.Unmarshal([]byte(attachmentsJSON), &step.Attachments); err != nil {
				return fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		instance.Steps = append(instance.Steps, step)
	}
	return rows.Err()
}
