package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/internal/repository"
)

func testTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:           "tpl-license",
		Name:         "Business License Application",
		DocumentType: "business_license",
		Version:      1,
		IsActive:     true,
		Steps: []models.WorkflowStepDefinition{
			{ID: "step-intake", Name: "Intake Review", Order: 1, RequiredRole: "clerk", EstimatedDuration: 0.25, IsRequired: true},
			{ID: "step-compliance", Name: "Compliance Check", Order: 2, RequiredRole: "officer", EstimatedDuration: 2, IsRequired: true},
			{ID: "step-approval", Name: "Supervisor Approval", Order: 3, RequiredRole: "supervisor", EstimatedDuration: 0.5, IsRequired: true},
			{ID: "step-issuance", Name: "Issuance", Order: 4, RequiredRole: "clerk", EstimatedDuration: 0.25, IsRequired: true},
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	templates := repository.NewMemoryTemplateRepository()
	require.NoError(t, templates.Save(testTemplate()))
	return NewEngine(
		templates,
		repository.NewMemoryInstanceRepository(),
		repository.NewMemoryHistoryRepository(),
		zap.NewNop(),
	)
}

func TestCreateInstance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, "tpl-license", instance.WorkflowID)
	assert.Equal(t, "REQ-1", instance.DocumentRequestID)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, models.PriorityHigh, instance.Priority)
	assert.Equal(t, "step-intake", instance.CurrentStepID, "current step must be the order-1 step")
	require.Len(t, instance.Steps, 4)
	for _, step := range instance.Steps {
		assert.Equal(t, models.StepStatusPending, step.Status)
	}
}

func TestCreateInstance_DefaultPriority(t *testing.T) {
	engine := newTestEngine(t)

	instance, err := engine.CreateInstance(context.Background(), "REQ-1", "business_license", "")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, instance.Priority)
}

func TestCreateInstance_InvalidPriority(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateInstance(context.Background(), "REQ-1", "business_license", models.Priority("asap"))
	assert.Error(t, err)
}

func TestCreateInstance_TemplateNotFound(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateInstance(context.Background(), "REQ-1", "passport", models.PriorityLow)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCreateInstance_TemplateEmpty(t *testing.T) {
	templates := repository.NewMemoryTemplateRepository()
	require.NoError(t, templates.Save(&models.WorkflowTemplate{
		ID:           "tpl-empty",
		Name:         "Empty",
		DocumentType: "empty_type",
		Version:      1,
		IsActive:     true,
	}))
	engine := NewEngine(templates, repository.NewMemoryInstanceRepository(), repository.NewMemoryHistoryRepository(), zap.NewNop())

	_, err := engine.CreateInstance(context.Background(), "REQ-1", "empty_type", models.PriorityLow)
	assert.ErrorIs(t, err, ErrTemplateEmpty)
}

func TestCreateInstance_DuplicateActive(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityLow)
	require.NoError(t, err)

	_, err = engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityLow)
	assert.ErrorIs(t, err, ErrDuplicateActiveInstance)

	// A different request is unaffected
	_, err = engine.CreateInstance(ctx, "REQ-2", "business_license", models.PriorityLow)
	assert.NoError(t, err)
}

func TestCreateInstance_AllowedAfterCancellation(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, engine.RejectStep(ctx, instance.ID, "step-intake", "incomplete application"))

	_, err = engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityLow)
	assert.NoError(t, err, "a terminal instance does not block a new one")
}

func TestStartStep(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	step, ok := got.StepInstanceByStepID("step-intake")
	require.True(t, ok)
	assert.Equal(t, models.StepStatusInProgress, step.Status)
	assert.Equal(t, "alice", step.AssignedTo)
	assert.NotNil(t, step.StartedAt)
	assert.Equal(t, "alice", got.AssignedTo)
	assert.Equal(t, "step-intake", got.CurrentStepID)
}

func TestStartStep_SecondCallFails(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))
	err = engine.StartStep(ctx, instance.ID, "step-intake", "bob")
	assert.ErrorIs(t, err, ErrInvalidStepState)

	// First assignee wins
	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	step, _ := got.StepInstanceByStepID("step-intake")
	assert.Equal(t, "alice", step.AssignedTo)
}

func TestStartStep_OutOfOrderPendingStepAllowed(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	// step-compliance is pending but not the current step; starting it is
	// permitted and moves the current-step pointer
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-compliance", "bob"))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "step-compliance", got.CurrentStepID)
}

func TestStartStep_Errors(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	assert.ErrorIs(t, engine.StartStep(ctx, "missing", "step-intake", "alice"), ErrInstanceNotFound)
	assert.ErrorIs(t, engine.StartStep(ctx, instance.ID, "missing", "alice"), ErrStepNotFound)
}

func TestCompleteStep_AdvancesToNextStep(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))

	require.NoError(t, engine.CompleteStep(ctx, instance.ID, "step-intake", "documents verified", []string{"scan-1.pdf"}))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, got.Status)
	assert.Equal(t, "step-compliance", got.CurrentStepID)
	assert.Empty(t, got.AssignedTo, "assignee is cleared when advancing")

	step, _ := got.StepInstanceByStepID("step-intake")
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, "documents verified", step.Notes)
	assert.Equal(t, []string{"scan-1.pdf"}, step.Attachments)
	assert.NotNil(t, step.CompletedAt)

	next, _ := got.StepInstanceByStepID("step-compliance")
	assert.Equal(t, models.StepStatusPending, next.Status)
}

func TestCompleteStep_NotInProgress(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	err = engine.CompleteStep(ctx, instance.ID, "step-intake", "", nil)
	assert.ErrorIs(t, err, ErrInvalidStepState)
}

func TestCompleteStep_LastStepCompletesInstance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	for _, stepID := range []string{"step-intake", "step-compliance", "step-approval", "step-issuance"} {
		require.NoError(t, engine.StartStep(ctx, instance.ID, stepID, "alice"))
		require.NoError(t, engine.CompleteStep(ctx, instance.ID, stepID, "", nil))
	}

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, got.Status)
	assert.Empty(t, got.CurrentStepID)
	assert.Empty(t, got.AssignedTo)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompleteStep_Duration(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return base }

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))

	// 1h30m of work rounds to 1.5 hours
	engine.now = func() time.Time { return base.Add(90 * time.Minute) }
	require.NoError(t, engine.CompleteStep(ctx, instance.ID, "step-intake", "", nil))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	step, _ := got.StepInstanceByStepID("step-intake")
	assert.Equal(t, 1.5, step.Duration)
}

func TestRejectStep_CancelsInstance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))
	require.NoError(t, engine.CompleteStep(ctx, instance.ID, "step-intake", "", nil))

	require.NoError(t, engine.RejectStep(ctx, instance.ID, "step-compliance", "missing zoning documents"))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	step, _ := got.StepInstanceByStepID("step-compliance")
	assert.Equal(t, models.StepStatusRejected, step.Status)
	assert.Equal(t, "missing zoning documents", step.Notes)

	// Terminal: nothing moves anymore
	assert.ErrorIs(t, engine.StartStep(ctx, instance.ID, "step-approval", "carol"), ErrInstanceNotActive)
}

func TestRejectStep_AnyStepStatus(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	// Rejecting a pending step that was never started still cancels the
	// whole instance
	require.NoError(t, engine.RejectStep(ctx, instance.ID, "step-approval", "withdrawn by applicant"))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, got.Status)
}

func TestPauseResume(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	require.NoError(t, engine.PauseInstance(ctx, instance.ID))

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusOnHold, got.Status)

	// Step transitions are refused while on hold
	assert.ErrorIs(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"), ErrInstanceNotActive)
	assert.ErrorIs(t, engine.PauseInstance(ctx, instance.ID), ErrInstanceNotActive)

	require.NoError(t, engine.ResumeInstance(ctx, instance.ID))
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))

	assert.ErrorIs(t, engine.ResumeInstance(ctx, instance.ID), ErrInstanceNotOnHold)
}

func TestTransitionHistory(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))
	require.NoError(t, engine.CompleteStep(ctx, instance.ID, "step-intake", "ok", nil))

	records, err := engine.GetTransitionHistory(instance.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, models.ActionCreate, records[0].Action)
	assert.Equal(t, models.ActionStart, records[1].Action)
	assert.Equal(t, "alice", records[1].Actor)
	assert.Equal(t, models.ActionComplete, records[2].Action)
	assert.Equal(t, "ok", records[2].Notes)
}

func TestCompleteStep_ConcurrentCallersExactlyOneSucceeds(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, instance.ID, "step-intake", "alice"))

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.CompleteStep(ctx, instance.ID, "step-intake", "", nil)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInvalidStepState)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func lockHeld(e *Engine, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.locks[key]
	return ok
}

func TestTerminalInstanceReleasesLock(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	completed, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	for _, stepID := range []string{"step-intake", "step-compliance", "step-approval", "step-issuance"} {
		require.NoError(t, engine.StartStep(ctx, completed.ID, stepID, "alice"))
		require.NoError(t, engine.CompleteStep(ctx, completed.ID, stepID, "", nil))
	}
	assert.False(t, lockHeld(engine, completed.ID), "completed instance keeps no lock entry")

	rejected, err := engine.CreateInstance(ctx, "REQ-2", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.RejectStep(ctx, rejected.ID, "step-intake", "invalid"))
	assert.False(t, lockHeld(engine, rejected.ID), "cancelled instance keeps no lock entry")

	// Live instances keep theirs
	live, err := engine.CreateInstance(ctx, "REQ-3", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, live.ID, "step-intake", "alice"))
	assert.True(t, lockHeld(engine, live.ID))

	// Operations on a terminal instance still fail cleanly after eviction
	assert.ErrorIs(t, engine.StartStep(ctx, rejected.ID, "step-intake", "bob"), ErrInstanceNotActive)
}

func TestFullRunThroughAllSteps(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	instance, err := engine.CreateInstance(ctx, "REQ-42", "business_license", models.PriorityUrgent)
	require.NoError(t, err)

	for _, stepID := range []string{"step-intake", "step-compliance", "step-approval", "step-issuance"} {
		require.NoError(t, engine.StartStep(ctx, instance.ID, stepID, "alice"))
		require.NoError(t, engine.CompleteStep(ctx, instance.ID, stepID, "", nil))
	}

	got, err := engine.GetInstance(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, got.Status)

	progress, err := engine.GetProgress(instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.ProgressPercentage)
	assert.Equal(t, "Completed", progress.CurrentStepName)

	stats, err := engine.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	records, err := engine.GetTransitionHistory(instance.ID)
	require.NoError(t, err)
	assert.Len(t, records, 9, "create plus start/complete per step")
}
