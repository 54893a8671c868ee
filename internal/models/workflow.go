package models

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus represents the lifecycle state of a workflow instance
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusOnHold    InstanceStatus = "on_hold"
)

var validInstanceStatuses = map[InstanceStatus]bool{
	InstanceStatusActive:    true,
	InstanceStatusCompleted: true,
	InstanceStatusCancelled: true,
	InstanceStatusOnHold:    true,
}

var terminalInstanceStatuses = map[InstanceStatus]bool{
	InstanceStatusCompleted: true,
	InstanceStatusCancelled: true,
}

// IsValid returns true if the status is a known instance status
func (s InstanceStatus) IsValid() bool {
	return validInstanceStatuses[s]
}

// IsTerminal returns true if no further transitions are permitted
func (s InstanceStatus) IsTerminal() bool {
	return terminalInstanceStatuses[s]
}

// String returns the string representation of the status
func (s InstanceStatus) String() string {
	return string(s)
}

// StepStatus represents the state of a single step instance
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusRejected   StepStatus = "rejected"
)

var validStepStatuses = map[StepStatus]bool{
	StepStatusPending:    true,
	StepStatusInProgress: true,
	StepStatusCompleted:  true,
	StepStatusSkipped:    true,
	StepStatusRejected:   true,
}

// IsValid returns true if the status is a known step status
func (s StepStatus) IsValid() bool {
	return validStepStatuses[s]
}

// String returns the string representation of the status
func (s StepStatus) String() string {
	return string(s)
}

// Priority represents the processing priority of a document request
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// IsValid returns true if the priority is a known priority level
func (p Priority) IsValid() bool {
	return validPriorities[p]
}

// String returns the string representation of the priority
func (p Priority) String() string {
	return string(p)
}

// WorkflowStepDefinition describes one stage of a template. Definitions are
// immutable once the template is published.
type WorkflowStepDefinition struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Description       string            `json:"description" yaml:"description"`
	Order             int               `json:"order" yaml:"order"`
	RequiredRole      string            `json:"required_role" yaml:"required_role"`
	EstimatedDuration float64           `json:"estimated_duration" yaml:"estimated_duration"` // hours
	IsRequired        bool              `json:"is_required" yaml:"is_required"`
	Conditions        map[string]string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// WorkflowTemplate is the versioned definition of an ordered step sequence
// for one document type. Step orders form a contiguous ascending sequence
// starting at 1.
type WorkflowTemplate struct {
	ID           string                   `json:"id" yaml:"id"`
	Name         string                   `json:"name" yaml:"name"`
	DocumentType string                   `json:"document_type" yaml:"document_type"`
	Version      int                      `json:"version" yaml:"version"`
	IsActive     bool                     `json:"is_active" yaml:"is_active"`
	Steps        []WorkflowStepDefinition `json:"steps" yaml:"steps"`
	CreatedAt    time.Time                `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time                `json:"updated_at" yaml:"-"`

	stepsByID    map[string]int
	stepsByOrder map[int]int
}

// index builds the step lookup maps on first use. Templates are immutable
// once published, so the maps never go stale.
func (t *WorkflowTemplate) index() {
	if t.stepsByID != nil {
		return
	}
	byID := make(map[string]int, len(t.Steps))
	byOrder := make(map[int]int, len(t.Steps))
	for i := range t.Steps {
		byID[t.Steps[i].ID] = i
		byOrder[t.Steps[i].Order] = i
	}
	t.stepsByID = byID
	t.stepsByOrder = byOrder
}

// StepByID returns the step definition with the given id
func (t *WorkflowTemplate) StepByID(stepID string) (*WorkflowStepDefinition, bool) {
	t.index()
	i, ok := t.stepsByID[stepID]
	if !ok {
		return nil, false
	}
	return &t.Steps[i], true
}

// StepByOrder returns the step definition at the given 1-based order
func (t *WorkflowTemplate) StepByOrder(order int) (*WorkflowStepDefinition, bool) {
	t.index()
	i, ok := t.stepsByOrder[order]
	if !ok {
		return nil, false
	}
	return &t.Steps[i], true
}

// WorkflowStepInstance tracks the progress of one step definition within a
// single workflow instance.
type WorkflowStepInstance struct {
	ID          string     `json:"id"`
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	Duration    float64    `json:"duration,omitempty"` // hours, set on completion
}

// WorkflowInstance is one live execution of a template against a specific
// document request. Step instances mirror the template's step order.
type WorkflowInstance struct {
	ID                string                 `json:"id"`
	WorkflowID        string                 `json:"workflow_id"`
	DocumentRequestID string                 `json:"document_request_id"`
	CurrentStepID     string                 `json:"current_step_id"`
	Status            InstanceStatus         `json:"status"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	AssignedTo        string                 `json:"assigned_to,omitempty"`
	Priority          Priority               `json:"priority"`
	Steps             []WorkflowStepInstance `json:"steps"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// StepInstanceByStepID returns the step instance referencing the given step
// definition id
func (w *WorkflowInstance) StepInstanceByStepID(stepID string) (*WorkflowStepInstance, bool) {
	for i := range w.Steps {
		if w.Steps[i].StepID == stepID {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// IsLive returns true if the instance still occupies its document request
// (a second active instance for the same request is not allowed)
func (w *WorkflowInstance) IsLive() bool {
	return w.Status == InstanceStatusActive || w.Status == InstanceStatusOnHold
}

// Clone returns a deep copy of the instance. Read paths hand copies to
// callers so concurrent transitions cannot be observed mid-mutation.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	c := *w
	c.Steps = make([]WorkflowStepInstance, len(w.Steps))
	copy(c.Steps, w.Steps)
	for i := range c.Steps {
		if w.Steps[i].StartedAt != nil {
			t := *w.Steps[i].StartedAt
			c.Steps[i].StartedAt = &t
		}
		if w.Steps[i].CompletedAt != nil {
			t := *w.Steps[i].CompletedAt
			c.Steps[i].CompletedAt = &t
		}
		c.Steps[i].Attachments = append([]string(nil), w.Steps[i].Attachments...)
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// TransitionRecord is one entry of the per-instance audit trail
type TransitionRecord struct {
	ID             int64     `json:"id"`
	InstanceID     string    `json:"instance_id"`
	StepID         string    `json:"step_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Action         string    `json:"action"`
	Actor          string    `json:"actor,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transition action constants
const (
	ActionCreate   = "create"
	ActionStart    = "start_step"
	ActionComplete = "complete_step"
	ActionReject   = "reject_step"
	ActionPause    = "pause"
	ActionResume   = "resume"
)

// NewID mints a new identifier for templates, steps and instances
func NewID() string {
	return uuid.NewString()
}
