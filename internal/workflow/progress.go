package workflow

import (
	"fmt"
	"math"
	"time"

	"github.com/civigo/docflow/internal/models"
)

// Progress describes how far along a workflow instance is
type Progress struct {
	InstanceID          string     `json:"instance_id"`
	TotalSteps          int        `json:"total_steps"`
	CompletedSteps      int        `json:"completed_steps"`
	CurrentStepName     string     `json:"current_step_name"`
	ProgressPercentage  int        `json:"progress_percentage"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// GetProgress derives completion percentage, current-step label and an
// estimated completion time for an instance. The estimate is only produced
// for active instances: the sum of estimated durations of the current step
// and every step after it, added to now.
func (e *Engine) GetProgress(instanceID string) (*Progress, error) {
	instance, err := e.getInstance(instanceID)
	if err != nil {
		return nil, err
	}
	template, err := e.resolveTemplate(instance)
	if err != nil {
		return nil, err
	}

	completed := 0
	for i := range instance.Steps {
		if instance.Steps[i].Status == models.StepStatusCompleted {
			completed++
		}
	}

	total := len(instance.Steps)
	progress := &Progress{
		InstanceID:     instance.ID,
		TotalSteps:     total,
		CompletedSteps: completed,
	}
	if total > 0 {
		progress.ProgressPercentage = int(math.Round(float64(completed) / float64(total) * 100))
	}

	if instance.CurrentStepID == "" {
		progress.CurrentStepName = "Completed"
	} else {
		current, ok := template.StepByID(instance.CurrentStepID)
		if !ok {
			return nil, fmt.Errorf("%w: current step %s missing from template %s", ErrTemplateIntegrity, instance.CurrentStepID, template.ID)
		}
		progress.CurrentStepName = current.Name

		if instance.Status == models.InstanceStatusActive {
			remaining := 0.0
			for i := range template.Steps {
				if template.Steps[i].Order >= current.Order {
					remaining += template.Steps[i].EstimatedDuration
				}
			}
			eta := e.now().Add(time.Duration(remaining * float64(time.Hour)))
			progress.EstimatedCompletion = &eta
		}
	}

	return progress, nil
}
