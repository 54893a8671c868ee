package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/civigo/docflow/internal/models"
	"github.com/civigo/docflow/internal/workflow"
)

// Handlers translates HTTP requests into workflow engine calls. It carries
// no business logic: validation failures from the engine are mapped to
// status codes and returned as-is.
type Handlers struct {
	engine *workflow.Engine
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine *workflow.Engine, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateInstanceRequest is the payload for creating a workflow instance
type CreateInstanceRequest struct {
	DocumentRequestID string `json:"document_request_id" binding:"required"`
	DocumentType      string `json:"document_type" binding:"required"`
	Priority          string `json:"priority"`
}

// StartStepRequest is the payload for starting a step
type StartStepRequest struct {
	AssignedTo string `json:"assigned_to" binding:"required"`
}

// CompleteStepRequest is the payload for completing a step
type CompleteStepRequest struct {
	Notes       string   `json:"notes"`
	Attachments []string `json:"attachments"`
}

// RejectStepRequest is the payload for rejecting a step
type RejectStepRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CreateInstance handles POST /api/v1/instances
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	priority := models.Priority(req.Priority)
	if req.Priority != "" && !priority.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid priority"})
		return
	}

	instance, err := h.engine.CreateInstance(c.Request.Context(), req.DocumentRequestID, req.DocumentType, priority)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// StartStep handles POST /api/v1/instances/:id/steps/:stepID/start
func (h *Handlers) StartStep(c *gin.Context) {
	var req StartStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	err := h.engine.StartStep(c.Request.Context(), c.Param("id"), c.Param("stepID"), req.AssignedTo)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// CompleteStep handles POST /api/v1/instances/:id/steps/:stepID/complete
func (h *Handlers) CompleteStep(c *gin.Context) {
	var req CompleteStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	err := h.engine.CompleteStep(c.Request.Context(), c.Param("id"), c.Param("stepID"), req.Notes, req.Attachments)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RejectStep handles POST /api/v1/instances/:id/steps/:stepID/reject
func (h *Handlers) RejectStep(c *gin.Context) {
	var req RejectStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	err := h.engine.RejectStep(c.Request.Context(), c.Param("id"), c.Param("stepID"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// PauseInstance handles POST /api/v1/instances/:id/pause
func (h *Handlers) PauseInstance(c *gin.Context) {
	if err := h.engine.PauseInstance(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ResumeInstance handles POST /api/v1/instances/:id/resume
func (h *Handlers) ResumeInstance(c *gin.Context) {
	if err := h.engine.ResumeInstance(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	instance, err := h.engine.GetInstance(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instance})
}

// GetInstanceByRequest handles GET /api/v1/requests/:requestID/instance
func (h *Handlers) GetInstanceByRequest(c *gin.Context) {
	instance, err := h.engine.GetInstanceByDocumentRequest(c.Param("requestID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instance})
}

// GetProgress handles GET /api/v1/instances/:id/progress
func (h *Handlers) GetProgress(c *gin.Context) {
	progress, err := h.engine.GetProgress(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: progress})
}

// GetHistory handles GET /api/v1/instances/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	records, err := h.engine.GetTransitionHistory(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ListInstances handles GET /api/v1/instances. Without a query parameter
// it returns all active instances; with ?assignee= it returns the active
// instances assigned to that actor.
func (h *Handlers) ListInstances(c *gin.Context) {
	var (
		instances []*models.WorkflowInstance
		err       error
	)
	if assignee := c.Query("assignee"); assignee != "" {
		instances, err = h.engine.GetInstancesByAssignee(assignee)
	} else {
		instances, err = h.engine.GetActiveInstances()
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	templates, err := h.engine.ListTemplates()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// GetStatistics handles GET /api/v1/statistics
func (h *Handlers) GetStatistics(c *gin.Context) {
	stats, err := h.engine.GetStatistics()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// respondError maps engine errors to HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrInstanceNotFound),
		errors.Is(err, workflow.ErrTemplateNotFound),
		errors.Is(err, workflow.ErrStepNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrDuplicateActiveInstance):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidStepState),
		errors.Is(err, workflow.ErrInstanceNotActive),
		errors.Is(err, workflow.ErrInstanceNotOnHold),
		errors.Is(err, workflow.ErrTemplateEmpty):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
