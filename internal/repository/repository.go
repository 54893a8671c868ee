package repository

import "github.com/civigo/docflow/internal/models"

// TemplateRepository provides access to workflow template definitions.
// Lookups return (nil, nil) when no row matches.
type TemplateRepository interface {
	// Save persists a template. Saving an active template deactivates any
	// previously active template for the same document type.
	Save(template *models.WorkflowTemplate) error

	// GetByID retrieves a template by id
	GetByID(id string) (*models.WorkflowTemplate, error)

	// GetActiveByDocumentType retrieves the single active template for a
	// document type
	GetActiveByDocumentType(documentType string) (*models.WorkflowTemplate, error)

	// List retrieves all templates
	List() ([]*models.WorkflowTemplate, error)
}

// InstanceRepository provides access to workflow instance records.
// Lookups return (nil, nil) when no row matches.
type InstanceRepository interface {
	// Save persists an instance and its step instances
	Save(instance *models.WorkflowInstance) error

	// GetByID retrieves an instance by id
	GetByID(id string) (*models.WorkflowInstance, error)

	// GetByDocumentRequestID retrieves the live instance for a document
	// request, or the most recently started one when none is live
	GetByDocumentRequestID(documentRequestID string) (*models.WorkflowInstance, error)

	// List retrieves all instances
	List() ([]*models.WorkflowInstance, error)

	// ListActive retrieves all instances with status active
	ListActive() ([]*models.WorkflowInstance, error)

	// ListByAssignee retrieves all active instances assigned to the actor
	ListByAssignee(actorID string) ([]*models.WorkflowInstance, error)
}

// HistoryRepository records the transition audit trail
type HistoryRepository interface {
	// Append stores a transition record
	Append(record *models.TransitionRecord) error

	// GetByInstanceID retrieves all records for an instance, oldest first
	GetByInstanceID(instanceID string) ([]*models.TransitionRecord, error)
}
