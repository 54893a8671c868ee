package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/pkg/database"
	"go.uber.org/zap"
)

// SQLiteTemplateRepository persists workflow templates and their step
// definitions
type SQLiteTemplateRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteTemplateRepository creates a new SQLite-backed template repository
func NewSQLiteTemplateRepository(db *database.DB, logger *zap.Logger) *SQLiteTemplateRepository {
	return &SQLiteTemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Save persists a template and its step definitions. Saving an active
// template deactivates any previously active template for the same
// document type in the same transaction.
func (r *SQLiteTemplateRepository) Save(template *models.WorkflowTemplate) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		if template.IsActive {
			_, err := tx.Exec(
				`UPDATE workflow_templates SET is_active = 0 WHERE document_type = ? AND id != ?`,
				template.DocumentType, template.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to deactivate prior templates: %w", err)
			}
		}

		_, err := tx.Exec(`
			INSERT INTO workflow_templates (id, name, document_type, version, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				document_type = excluded.document_type,
				version = excluded.version,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at
		`,
			template.ID, template.Name, template.DocumentType, template.Version,
			template.IsActive, template.CreatedAt, template.UpdatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to save template", zap.String("id", template.ID), zap.Error(err))
			return fmt.Errorf("failed to save template: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM workflow_step_definitions WHERE template_id = ?`, template.ID); err != nil {
			return fmt.Errorf("failed to clear step definitions: %w", err)
		}

		for _, step := range template.Steps {
			conditionsJSON := []byte("{}")
			if step.Conditions != nil {
				conditionsJSON, err = json.Marshal(step.Conditions)
				if err != nil {
					return fmt.Errorf("failed to marshal step conditions: %w", err)
				}
			}
			_, err = tx.Exec(`
				INSERT INTO workflow_step_definitions
					(id, template_id, name, description, step_order, required_role, estimated_duration, is_required, conditions)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				step.ID, template.ID, step.Name, step.Description, step.Order,
				step.RequiredRole, step.EstimatedDuration, step.IsRequired, string(conditionsJSON),
			)
			if err != nil {
				return fmt.Errorf("failed to save step definition %s: %w", step.ID, err)
			}
		}

		return nil
	})
}

// GetByID retrieves a template by id
func (r *SQLiteTemplateRepository) GetByID(id string) (*models.WorkflowTemplate, error) {
	return r.getOne(`
		SELECT id, name, document_type, version, is_active, created_at, updated_at
		FROM workflow_templates WHERE id = ?
	`, id)
}

// GetActiveByDocumentType retrieves the active template for a document type
func (r *SQLiteTemplateRepository) GetActiveByDocumentType(documentType string) (*models.WorkflowTemplate, error) {
	return r.getOne(`
		SELECT id, name, document_type, version, is_active, created_at, updated_at
		FROM workflow_templates WHERE document_type = ? AND is_active = 1
	`, documentType)
}

// List retrieves all templates with their step definitions
func (r *SQLiteTemplateRepository) List() ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.Query(`
		SELECT id, name, document_type, version, is_active, created_at, updated_at
		FROM workflow_templates ORDER BY name, version
	`)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.WorkflowTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range templates {
		if err := r.loadSteps(t); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func (r *SQLiteTemplateRepository) getOne(query string, arg interface{}) (*models.WorkflowTemplate, error) {
	row := r.db.QueryRow(query, arg)

	var t models.WorkflowTemplate
	err := row.Scan(&t.ID, &t.Name, &t.DocumentType, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := r.loadSteps(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *SQLiteTemplateRepository) loadSteps(t *models.WorkflowTemplate) error {
	rows, err := r.db.Query(`
		SELECT id, name, description, step_order, required_role, estimated_duration, is_required, conditions
		FROM workflow_step_definitions WHERE template_id = ? ORDER BY step_order
	`, t.ID)
	if err != nil {
		return fmt.Errorf("failed to load step definitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step models.WorkflowStepDefinition
		var conditionsJSON string
		err := rows.Scan(&step.ID, &step.Name, &step.Description, &step.Order,
			&step.RequiredRole, &step.EstimatedDuration, &step.IsRequired, &conditionsJSON)
		if err != nil {
			return fmt.Errorf("failed to scan step definition: %w", err)
		}
		if conditionsJSON != "" && conditionsJSON != "{}" {
			if err := json.Unmarshal([]byte(conditionsJSON), &step.Conditions); err != nil {
				return fmt.Errorf("failed to unmarshal step conditions: %w", err)
			}
		}
		t.Steps = append(t.Steps, step)
	}
	return rows.Err()
}

func scanTemplate(rows *sql.Rows) (*models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := rows.Scan(&t.ID, &t.Name, &t.DocumentType, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	return &t, nil
}
