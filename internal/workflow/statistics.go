package workflow

import (
	"fmt"
	"math"

	"github.com/civigo/docflow/internal/models"
)

// Statistics aggregates counts and timing across all workflow instances
type Statistics struct {
	Total                      int                     `json:"total"`
	Active                     int                     `json:"active"`
	Completed                  int                     `json:"completed"`
	Cancelled                  int                     `json:"cancelled"`
	OnHold                     int                     `json:"on_hold"`
	AverageCompletionTimeHours int                     `json:"average_completion_time_hours"`
	ByPriority                 map[models.Priority]int `json:"by_priority"`
}

// GetStatistics scans all instances and produces counts by status and
// priority plus the mean completion time of completed instances, rounded
// to the nearest hour. Zero when nothing has completed yet.
func (e *Engine) GetStatistics() (*Statistics, error) {
	instances, err := e.instances.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	stats := &Statistics{
		ByPriority: make(map[models.Priority]int),
	}

	totalHours := 0.0
	completedWithTime := 0
	for _, instance := range instances {
		stats.Total++
		stats.ByPriority[instance.Priority]++

		switch instance.Status {
		case models.InstanceStatusActive:
			stats.Active++
		case models.InstanceStatusCompleted:
			stats.Completed++
			if instance.CompletedAt != nil {
				totalHours += instance.CompletedAt.Sub(instance.StartedAt).Hours()
				completedWithTime++
			}
		case models.InstanceStatusCancelled:
			stats.Cancelled++
		case models.InstanceStatusOnHold:
			stats.OnHold++
		}
	}

	if completedWithTime > 0 {
		stats.AverageCompletionTimeHours = int(math.Round(totalHours / float64(completedWithTime)))
	}

	return stats, nil
}
