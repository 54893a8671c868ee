package workflow

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/internal/repository"
	"go.uber.org/zap"
)

// Engine orchestrates document-processing workflows. Every mutating
// operation is atomic with respect to a single instance: a per-instance
// mutex is held for the full validate-then-write sequence, so two callers
// racing on the same step see exactly one success.
type Engine struct {
	templates repository.TemplateRepository
	instances repository.InstanceRepository
	history   repository.HistoryRepository
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a new workflow engine
func NewEngine(
	templates repository.TemplateRepository,
	instances repository.InstanceRepository,
	history repository.HistoryRepository,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		templates: templates,
		instances: instances,
		history:   history,
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding the given key, creating it on first use.
// Keys are instance ids, plus a request-scoped key during creation so two
// concurrent creates for the same document request serialize.
func (e *Engine) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// releaseLock drops the mutex for an instance that reached a terminal
// state. Terminal instances accept no further transitions, so a caller
// still blocked on the old mutex fails its status check either way.
// Request-scoped creation keys are kept: they serialize future re-creates.
func (e *Engine) releaseLock(key string) {
	e.mu.Lock()
	delete(e.locks, key)
	e.mu.Unlock()
}

// CreateInstance starts a new workflow for a document request using the
// active template for its document type. At most one live instance may
// exist per document request.
func (e *Engine) CreateInstance(ctx context.Context, documentRequestID, documentType string, priority models.Priority) (*models.WorkflowInstance, error) {
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("invalid priority: %s", priority)
	}

	template, err := e.templates.GetActiveByDocumentType(documentType)
	if err != nil {
		return nil, fmt.Errorf("failed to look up template for %s: %w", documentType, err)
	}
	if template == nil {
		return nil, fmt.Errorf("%w: no active template for document type %s", ErrTemplateNotFound, documentType)
	}
	if len(template.Steps) == 0 {
		return nil, fmt.Errorf("%w: template %s", ErrTemplateEmpty, template.ID)
	}

	lock := e.lockFor("request:" + documentRequestID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.instances.GetByDocumentRequestID(documentRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing instance: %w", err)
	}
	if existing != nil && existing.IsLive() {
		return nil, fmt.Errorf("%w: request %s already tracked by instance %s", ErrDuplicateActiveInstance, documentRequestID, existing.ID)
	}

	first, ok := template.StepByOrder(1)
	if !ok {
		return nil, fmt.Errorf("%w: template %s has no step with order 1", ErrTemplateIntegrity, template.ID)
	}

	now := e.now()
	instance := &models.WorkflowInstance{
		ID:                models.NewID(),
		WorkflowID:        template.ID,
		DocumentRequestID: documentRequestID,
		CurrentStepID:     first.ID,
		Status:            models.InstanceStatusActive,
		StartedAt:         now,
		Priority:          priority,
		Steps:             make([]models.WorkflowStepInstance, 0, len(template.Steps)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, def := range template.Steps {
		instance.Steps = append(instance.Steps, models.WorkflowStepInstance{
			ID:     models.NewID(),
			StepID: def.ID,
			Status: models.StepStatusPending,
		})
	}

	if err := e.instances.Save(instance); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}
	e.record(instance.ID, first.ID, "", string(models.InstanceStatusActive), models.ActionCreate, "", "")

	e.logger.Info("Created workflow instance",
		zap.String("instance_id", instance.ID),
		zap.String("document_request_id", documentRequestID),
		zap.String("document_type", documentType),
		zap.String("template_id", template.ID),
		zap.String("priority", priority.String()))

	return instance.Clone(), nil
}

// StartStep moves a pending step to in_progress and assigns it to an actor.
// Any pending step may be started, not only the current one; an
// out-of-order start is permitted but logged.
func (e *Engine) StartStep(ctx context.Context, instanceID, stepID, assignedTo string) error {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.getInstance(instanceID)
	if err != nil {
		return err
	}
	if instance.Status != models.InstanceStatusActive {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceNotActive, instanceID, instance.Status)
	}

	step, ok := instance.StepInstanceByStepID(stepID)
	if !ok {
		return fmt.Errorf("%w: step %s in instance %s", ErrStepNotFound, stepID, instanceID)
	}
	if step.Status != models.StepStatusPending {
		return fmt.Errorf("%w: cannot start step %s in status %s", ErrInvalidStepState, stepID, step.Status)
	}

	if stepID != instance.CurrentStepID {
		e.logger.Warn("Starting step out of order",
			zap.String("instance_id", instanceID),
			zap.String("step_id", stepID),
			zap.String("current_step_id", instance.CurrentStepID))
	}

	now := e.now()
	step.Status = models.StepStatusInProgress
	step.AssignedTo = assignedTo
	step.StartedAt = &now
	instance.CurrentStepID = stepID
	instance.AssignedTo = assignedTo
	instance.UpdatedAt = now

	if err := e.instances.Save(instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	e.record(instanceID, stepID, string(models.StepStatusPending), string(models.StepStatusInProgress), models.ActionStart, assignedTo, "")

	e.logger.Info("Started workflow step",
		zap.String("instance_id", instanceID),
		zap.String("step_id", stepID),
		zap.String("assigned_to", assignedTo))

	return nil
}

// CompleteStep finishes an in_progress step and advances the instance to
// the next step by definition order. Completing the last step completes
// the instance.
func (e *Engine) CompleteStep(ctx context.Context, instanceID, stepID, notes string, attachments []string) error {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.getInstance(instanceID)
	if err != nil {
		return err
	}
	if instance.Status != models.InstanceStatusActive {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceNotActive, instanceID, instance.Status)
	}

	step, ok := instance.StepInstanceByStepID(stepID)
	if !ok {
		return fmt.Errorf("%w: step %s in instance %s", ErrStepNotFound, stepID, instanceID)
	}
	if step.Status != models.StepStatusInProgress {
		return fmt.Errorf("%w: cannot complete step %s in status %s", ErrInvalidStepState, stepID, step.Status)
	}

	template, err := e.resolveTemplate(instance)
	if err != nil {
		return err
	}
	current, ok := template.StepByID(stepID)
	if !ok {
		return fmt.Errorf("%w: step %s missing from template %s", ErrTemplateIntegrity, stepID, template.ID)
	}

	now := e.now()
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now
	step.Notes = notes
	step.Attachments = attachments
	if step.StartedAt != nil {
		step.Duration = roundHours(now.Sub(*step.StartedAt))
	}

	next, ok := template.StepByOrder(current.Order + 1)
	if ok {
		if nextStep, found := instance.StepInstanceByStepID(next.ID); found && nextStep.Status != models.StepStatusInProgress {
			nextStep.Status = models.StepStatusPending
		}
		instance.CurrentStepID = next.ID
		instance.AssignedTo = ""
	} else {
		instance.Status = models.InstanceStatusCompleted
		instance.CompletedAt = &now
		instance.CurrentStepID = ""
		instance.AssignedTo = ""
	}
	instance.UpdatedAt = now

	if err := e.instances.Save(instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	e.record(instanceID, stepID, string(models.StepStatusInProgress), string(models.StepStatusCompleted), models.ActionComplete, step.AssignedTo, notes)

	if instance.Status == models.InstanceStatusCompleted {
		e.releaseLock(instanceID)
		e.logger.Info("Workflow instance completed",
			zap.String("instance_id", instanceID),
			zap.String("document_request_id", instance.DocumentRequestID))
	} else {
		e.logger.Info("Completed workflow step",
			zap.String("instance_id", instanceID),
			zap.String("step_id", stepID),
			zap.String("next_step_id", instance.CurrentStepID))
	}

	return nil
}

// RejectStep rejects a step and cancels the whole instance. Rejection is
// terminal for the instance, unlike skipping a single step: the document
// request stops processing entirely.
func (e *Engine) RejectStep(ctx context.Context, instanceID, stepID, reason string) error {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.getInstance(instanceID)
	if err != nil {
		return err
	}
	if instance.Status != models.InstanceStatusActive {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceNotActive, instanceID, instance.Status)
	}

	step, ok := instance.StepInstanceByStepID(stepID)
	if !ok {
		return fmt.Errorf("%w: step %s in instance %s", ErrStepNotFound, stepID, instanceID)
	}

	now := e.now()
	previous := step.Status
	step.Status = models.StepStatusRejected
	step.CompletedAt = &now
	step.Notes = reason
	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now
	instance.UpdatedAt = now

	if err := e.instances.Save(instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	e.record(instanceID, stepID, string(previous), string(models.StepStatusRejected), models.ActionReject, step.AssignedTo, reason)
	e.releaseLock(instanceID)

	e.logger.Info("Rejected workflow step, instance cancelled",
		zap.String("instance_id", instanceID),
		zap.String("step_id", stepID),
		zap.String("reason", reason))

	return nil
}

// PauseInstance places an active instance on hold. Step transitions are
// refused until the instance is resumed.
func (e *Engine) PauseInstance(ctx context.Context, instanceID string) error {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.getInstance(instanceID)
	if err != nil {
		return err
	}
	if instance.Status != models.InstanceStatusActive {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceNotActive, instanceID, instance.Status)
	}

	instance.Status = models.InstanceStatusOnHold
	instance.UpdatedAt = e.now()

	if err := e.instances.Save(instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	e.record(instanceID, "", string(models.InstanceStatusActive), string(models.InstanceStatusOnHold), models.ActionPause, "", "")

	e.logger.Info("Paused workflow instance", zap.String("instance_id", instanceID))
	return nil
}

// ResumeInstance returns an on-hold instance to active
func (e *Engine) ResumeInstance(ctx context.Context, instanceID string) error {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := e.getInstance(instanceID)
	if err != nil {
		return err
	}
	if instance.Status != models.InstanceStatusOnHold {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceNotOnHold, instanceID, instance.Status)
	}

	instance.Status = models.InstanceStatusActive
	instance.UpdatedAt = e.now()

	if err := e.instances.Save(instance); err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	e.record(instanceID, "", string(models.InstanceStatusOnHold), string(models.InstanceStatusActive), models.ActionResume, "", "")

	e.logger.Info("Resumed workflow instance", zap.String("instance_id", instanceID))
	return nil
}

// GetTransitionHistory returns the audit trail for an instance, oldest first
func (e *Engine) GetTransitionHistory(instanceID string) ([]*models.TransitionRecord, error) {
	return e.history.GetByInstanceID(instanceID)
}

// getInstance resolves an instance or reports ErrInstanceNotFound
func (e *Engine) getInstance(instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.instances.GetByID(instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	return instance, nil
}

// resolveTemplate resolves the template backing a live instance. Failure
// here is an invariant violation, not a caller mistake: templates
// referenced by live instances must remain resolvable.
func (e *Engine) resolveTemplate(instance *models.WorkflowInstance) (*models.WorkflowTemplate, error) {
	template, err := e.templates.GetByID(instance.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: instance %s template %s: %v", ErrTemplateIntegrity, instance.ID, instance.WorkflowID, err)
	}
	if template == nil {
		return nil, fmt.Errorf("%w: instance %s template %s", ErrTemplateIntegrity, instance.ID, instance.WorkflowID)
	}
	return template, nil
}

// record appends to the audit trail. The trail is advisory: a failed append
// is logged, not propagated, since the instance write already committed.
func (e *Engine) record(instanceID, stepID, previous, next, action, actor, notes string) {
	rec := &models.TransitionRecord{
		InstanceID:     instanceID,
		StepID:         stepID,
		PreviousStatus: previous,
		NewStatus:      next,
		Action:         action,
		Actor:          actor,
		Notes:          notes,
		CreatedAt:      e.now(),
	}
	if err := e.history.Append(rec); err != nil {
		e.logger.Error("Failed to append transition record",
			zap.String("instance_id", instanceID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// roundHours converts a duration to hours rounded to 2 decimals
func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
