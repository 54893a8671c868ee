package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civigo/docflow/internal/models"
)

func TestGetInstanceByDocumentRequest(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	got, err := engine.GetInstanceByDocumentRequest("REQ-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = engine.GetInstanceByDocumentRequest("REQ-unknown")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestGetInstanceByDocumentRequest_PrefersLiveInstance(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.RejectStep(ctx, first.ID, "step-intake", "resubmit"))

	second, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	got, err := engine.GetInstanceByDocumentRequest("REQ-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestGetActiveInstances(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	a, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	b, err := engine.CreateInstance(ctx, "REQ-2", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	paused, err := engine.CreateInstance(ctx, "REQ-3", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.PauseInstance(ctx, paused.ID))

	cancelled, err := engine.CreateInstance(ctx, "REQ-4", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.RejectStep(ctx, cancelled.ID, "step-intake", "invalid"))

	active, err := engine.GetActiveInstances()
	require.NoError(t, err)
	require.Len(t, active, 2)

	ids := []string{active[0].ID, active[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestGetInstancesByAssignee(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	mine, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, mine.ID, "step-intake", "alice"))

	other, err := engine.CreateInstance(ctx, "REQ-2", "business_license", models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, engine.StartStep(ctx, other.ID, "step-intake", "bob"))

	got, err := engine.GetInstancesByAssignee("alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	none, err := engine.GetInstancesByAssignee("carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListTemplates(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.templates.Save(&models.WorkflowTemplate{
		ID:           "tpl-permit",
		Name:         "Building Permit",
		DocumentType: "building_permit",
		Version:      1,
		IsActive:     true,
		Steps: []models.WorkflowStepDefinition{
			{ID: "p1", Name: "Site Inspection", Order: 1},
		},
	}))

	templates, err := engine.ListTemplates()
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "Building Permit", templates[0].Name)
	assert.Equal(t, "Business License Application", templates[1].Name)
}

func TestGetInstance_ReturnsCopy(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateInstance(ctx, "REQ-1", "business_license", models.PriorityMedium)
	require.NoError(t, err)

	got, err := engine.GetInstance(created.ID)
	require.NoError(t, err)
	got.Status = models.InstanceStatusCancelled
	got.Steps[0].Status = models.StepStatusCompleted

	again, err := engine.GetInstance(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, again.Status, "mutating a returned instance must not leak into storage")
	assert.Equal(t, models.StepStatusPending, again.Steps[0].Status)
}
