package repository

import (
	"sort"
	"sync"

	"github.com/civigo/docflow/internal/models"
)

// In-memory repository implementations. They back unit tests and the
// "memory" storage mode, and hand out deep copies so callers never share
// mutable state with the store.

// MemoryTemplateRepository stores templates in a mutex-guarded map
type MemoryTemplateRepository struct {
	mu        sync.RWMutex
	templates map[string]*models.WorkflowTemplate
}

// NewMemoryTemplateRepository creates an empty in-memory template store
func NewMemoryTemplateRepository() *MemoryTemplateRepository {
	return &MemoryTemplateRepository{
		templates: make(map[string]*models.WorkflowTemplate),
	}
}

// Save persists a template, deactivating any previously active template
// for the same document type
func (r *MemoryTemplateRepository) Save(template *models.WorkflowTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if template.IsActive {
		for _, t := range r.templates {
			if t.DocumentType == template.DocumentType && t.ID != template.ID {
				t.IsActive = false
			}
		}
	}
	r.templates[template.ID] = cloneTemplate(template)
	return nil
}

// GetByID retrieves a template by id
func (r *MemoryTemplateRepository) GetByID(id string) (*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, nil
	}
	return cloneTemplate(t), nil
}

// GetActiveByDocumentType retrieves the active template for a document type
func (r *MemoryTemplateRepository) GetActiveByDocumentType(documentType string) (*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.templates {
		if t.DocumentType == documentType && t.IsActive {
			return cloneTemplate(t), nil
		}
	}
	return nil, nil
}

// List retrieves all templates
func (r *MemoryTemplateRepository) List() ([]*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WorkflowTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneTemplate(t *models.WorkflowTemplate) *models.WorkflowTemplate {
	c := *t
	c.Steps = make([]models.WorkflowStepDefinition, len(t.Steps))
	copy(c.Steps, t.Steps)
	for i := range c.Steps {
		if t.Steps[i].Conditions != nil {
			conditions := make(map[string]string, len(t.Steps[i].Conditions))
			for k, v := range t.Steps[i].Conditions {
				conditions[k] = v
			}
			c.Steps[i].Conditions = conditions
		}
	}
	return &c
}

// MemoryInstanceRepository stores instances in a mutex-guarded map
type MemoryInstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*models.WorkflowInstance
}

// NewMemoryInstanceRepository creates an empty in-memory instance store
func NewMemoryInstanceRepository() *MemoryInstanceRepository {
	return &MemoryInstanceRepository{
		instances: make(map[string]*models.WorkflowInstance),
	}
}

// Save persists an instance
func (r *MemoryInstanceRepository) Save(instance *models.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID] = instance.Clone()
	return nil
}

// GetByID retrieves an instance by id
func (r *MemoryInstanceRepository) GetByID(id string) (*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, nil
	}
	return inst.Clone(), nil
}

// GetByDocumentRequestID retrieves the live instance for a request, falling
// back to the most recently started one
func (r *MemoryInstanceRepository) GetByDocumentRequestID(documentRequestID string) (*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.WorkflowInstance
	for _, inst := range r.instances {
		if inst.DocumentRequestID != documentRequestID {
			continue
		}
		if inst.IsLive() {
			return inst.Clone(), nil
		}
		if latest == nil || inst.StartedAt.After(latest.StartedAt) {
			latest = inst
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

// List retrieves all instances
func (r *MemoryInstanceRepository) List() ([]*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WorkflowInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListActive retrieves all instances with status active
func (r *MemoryInstanceRepository) ListActive() ([]*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.WorkflowInstance
	for _, inst := range r.instances {
		if inst.Status == models.InstanceStatusActive {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListByAssignee retrieves all active instances assigned to the actor
func (r *MemoryInstanceRepository) ListByAssignee(actorID string) ([]*models.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.WorkflowInstance
	for _, inst := range r.instances {
		if inst.Status == models.InstanceStatusActive && inst.AssignedTo == actorID {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// MemoryHistoryRepository stores transition records in a mutex-guarded slice
type MemoryHistoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	records []*models.TransitionRecord
}

// NewMemoryHistoryRepository creates an empty in-memory history store
func NewMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{nextID: 1}
}

// Append stores a transition record
func (r *MemoryHistoryRepository) Append(record *models.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := *record
	rec.ID = r.nextID
	r.nextID++
	r.records = append(r.records, &rec)
	record.ID = rec.ID
	return nil
}

// GetByInstanceID retrieves all records for an instance, oldest first
func (r *MemoryHistoryRepository) GetByInstanceID(instanceID string) ([]*models.TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TransitionRecord
	for _, rec := range r.records {
		if rec.InstanceID == instanceID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}
