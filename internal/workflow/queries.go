package workflow

import (
	"fmt"

	"github.com/civigo/docflow/internal/models"
)

// Read-only lookups consumed by external controllers. None of these mutate
// state; they are safe to call concurrently with transitions.

// GetInstance retrieves an instance by id
func (e *Engine) GetInstance(instanceID string) (*models.WorkflowInstance, error) {
	return e.getInstance(instanceID)
}

// GetInstanceByDocumentRequest retrieves the instance tracking a document
// request: the live instance if one exists, otherwise the most recently
// started one.
func (e *Engine) GetInstanceByDocumentRequest(documentRequestID string) (*models.WorkflowInstance, error) {
	instance, err := e.instances.GetByDocumentRequestID(documentRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance for request %s: %w", documentRequestID, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: no instance for document request %s", ErrInstanceNotFound, documentRequestID)
	}
	return instance, nil
}

// GetActiveInstances retrieves all instances with status active
func (e *Engine) GetActiveInstances() ([]*models.WorkflowInstance, error) {
	instances, err := e.instances.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list active instances: %w", err)
	}
	return instances, nil
}

// ListTemplates retrieves all workflow templates, every version included
func (e *Engine) ListTemplates() ([]*models.WorkflowTemplate, error) {
	templates, err := e.templates.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// GetInstancesByAssignee retrieves all active instances assigned to an actor
func (e *Engine) GetInstancesByAssignee(actorID string) ([]*models.WorkflowInstance, error) {
	instances, err := e.instances.ListByAssignee(actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances for assignee %s: %w", actorID, err)
	}
	return instances, nil
}
