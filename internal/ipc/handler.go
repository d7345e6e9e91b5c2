// Package ipc provides the HTTP API for the application workflow.
package ipc

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rogers-f/estate-workflow/internal/domain"
	"github.com/rogers-f/estate-workflow/internal/store"
	"github.com/rogers-f/estate-workflow/internal/workflow"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Engine *workflow.Engine
	Logger *zap.Logger

	// PollInterval is how often the event stream checks for new events.
	PollInterval time.Duration
}

// ActorFields identify who performs a transition.
type ActorFields struct {
	Actor string `json:"actor" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

func (a ActorFields) toActor() domain.Actor {
	return domain.Actor{User: a.Actor, Role: domain.Role(a.Role)}
}

// CreateApplicationRequest is the body for POST /api/v1/applications.
type CreateApplicationRequest struct {
	ActorFields
	ApplicationID string `json:"application_id" binding:"required"`
}

// CompleteRequest is the body for POST /api/v1/applications/:id/complete.
type CompleteRequest struct {
	ActorFields
	StepIndex *int   `json:"step_index" binding:"required"`
	Comment   string `json:"comment"`
}

// CommentRequest is the body for transitions that only carry a comment.
type CommentRequest struct {
	ActorFields
	Comment string `json:"comment"`
}

// ReviewRequest is the body for POST /api/v1/applications/:id/review.
type ReviewRequest struct {
	ActorFields
	Action  string `json:"action" binding:"required"`
	Comment string `json:"comment"`
}

// DeclineRequest is the body for POST /api/v1/applications/:id/decline/request.
type DeclineRequest struct {
	ActorFields
	Reason string `json:"reason" binding:"required"`
}

// CanEditResponse is the response for GET /api/v1/permissions/can-edit.
type CanEditResponse struct {
	Role    domain.Role   `json:"role"`
	Status  domain.Status `json:"status"`
	CanEdit bool          `json:"can_edit"`
}

// StagesResponse is the response for GET /api/v1/stages.
type StagesResponse struct {
	Stages                []workflow.Stage `json:"stages"`
	TotalSteps            int              `json:"total_steps"`
	IntegrationStartIndex int              `json:"integration_start_index"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RegisterRoutes mounts the API under router.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
	router.GET("/stages", h.Stages)
	router.GET("/permissions/can-edit", h.CanEdit)

	apps := router.Group("/applications")
	{
		apps.POST("", h.CreateApplication)
		apps.GET("/:id", h.GetApplication)
		apps.POST("/:id/complete", h.CompleteStep)
		apps.POST("/:id/rollback", h.RollbackTask)
		apps.POST("/:id/review", h.ReviewStage)
		apps.POST("/:id/decline/request", h.RequestDecline)
		apps.POST("/:id/decline/confirm", h.ConfirmDecline)
		apps.POST("/:id/decline/return", h.ReturnFromDecline)
		apps.POST("/:id/decline/restore", h.RestoreFromDecline)
		apps.GET("/:id/history", h.ListHistory)
		apps.GET("/:id/events", h.ListEvents)
		apps.GET("/:id/events/stream", h.StreamEvents)
		apps.GET("/:id/audit", h.ListAudit)
		apps.GET("/:id/snapshots/:stage", h.GetSnapshot)
	}
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stages handles GET /api/v1/stages.
func (h *Handler) Stages(c *gin.Context) {
	rules := h.Engine.Rules
	c.JSON(http.StatusOK, StagesResponse{
		Stages:                rules.Stages.Stages(),
		TotalSteps:            rules.TotalSteps(),
		IntegrationStartIndex: rules.IntegrationStart,
	})
}

// CanEdit handles GET /api/v1/permissions/can-edit?role=R&status=S.
func (h *Handler) CanEdit(c *gin.Context) {
	role := domain.Role(c.Query("role"))
	status := domain.Status(c.Query("status"))
	c.JSON(http.StatusOK, CanEditResponse{
		Role:    role,
		Status:  status,
		CanEdit: workflow.CanEditByRoleAndStatus(role, status),
	})
}

// CreateApplication handles POST /api/v1/applications.
func (h *Handler) CreateApplication(c *gin.Context) {
	var req CreateApplicationRequest
	if !bindJSON(c, &req) {
		return
	}
	app, err := h.Engine.CreateApplication(c.Request.Context(), req.ApplicationID, req.toActor())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

// GetApplication handles GET /api/v1/applications/:id.
func (h *Handler) GetApplication(c *gin.Context) {
	app, err := h.Engine.GetApplication(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// CompleteStep handles POST /api/v1/applications/:id/complete.
func (h *Handler) CompleteStep(c *gin.Context) {
	var req CompleteRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.Engine.CompleteStep(c.Request.Context(), c.Param("id"), req.toActor(), *req.StepIndex, req.Comment))
}

// RollbackTask handles POST /api/v1/applications/:id/rollback.
func (h *Handler) RollbackTask(c *gin.Context) {
	var req CommentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.Engine.RollbackTask(c.Request.Context(), c.Param("id"), req.toActor(), req.Comment))
}

// ReviewStage handles POST /api/v1/applications/:id/review.
func (h *Handler) ReviewStage(c *gin.Context) {
	var req ReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	action := domain.Action(req.Action)
	h.respond(c)(h.Engine.ReviewStage(c.Request.Context(), c.Param("id"), req.toActor(), action, req.Comment))
}

// RequestDecline handles POST /api/v1/applications/:id/decline/request.
func (h *Handler) RequestDecline(c *gin.Context) {
	var req DeclineRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.Engine.RequestDecline(c.Request.Context(), c.Param("id"), req.toActor(), req.Reason))
}

// ConfirmDecline handles POST /api/v1/applications/:id/decline/confirm.
func (h *Handler) ConfirmDecline(c *gin.Context) {
	var req CommentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.Engine.ConfirmDecline(c.Request.Context(), c.Param("id"), req.toActor(), req.Comment))
}

// ReturnFromDecline handles POST /api/v1/applications/:id/decline/return.
func (h *Handler) ReturnFromDecline(c *gin.Context) {
	var req CommentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.Engine.ReturnFromDecline(c.Request.Context(), c.Param("id"), req.toActor(), req.Comment))
}

// RestoreFromDecline handles POST /api/v1/applications/:id/decline/restore.
func (h *Handler) RestoreFromDecline(c *gin.Context) {
	var req CommentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.Engine.RestoreFromDecline(c.Request.Context(), c.Param("id"), req.toActor(), req.Comment))
}

// ListHistory handles GET /api/v1/applications/:id/history.
func (h *Handler) ListHistory(c *gin.Context) {
	entries, err := h.Engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ListEvents handles GET /api/v1/applications/:id/events?since_seq=N.
func (h *Handler) ListEvents(c *gin.Context) {
	sinceSeq, ok := queryInt(c, "since_seq")
	if !ok {
		return
	}

	events, err := h.Engine.Events(c.Request.Context(), c.Param("id"), int64(sinceSeq))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if events == nil {
		events = []domain.WorkflowEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// StreamEvents handles GET /api/v1/applications/:id/events/stream?since_seq=N (SSE).
func (h *Handler) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	sinceSeq, ok := queryInt(c, "since_seq")
	if !ok {
		return
	}
	// Resolve the first batch before switching to SSE so a missing
	// application still gets a plain JSON error.
	events, err := h.Engine.Events(ctx, id, int64(sinceSeq))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	lastSeq := int64(sinceSeq)
	for _, ev := range events {
		c.SSEvent("workflow_event", ev)
		lastSeq = ev.SeqNo
	}
	c.Writer.Flush()

	interval := h.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newEvents, err := h.Engine.Events(ctx, id, lastSeq)
			if err != nil {
				return
			}
			for _, ev := range newEvents {
				c.SSEvent("workflow_event", ev)
				lastSeq = ev.SeqNo
			}
			if len(newEvents) > 0 {
				c.Writer.Flush()
			}
		}
	}
}

// ListAudit handles GET /api/v1/applications/:id/audit?category=C&limit=N.
func (h *Handler) ListAudit(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	records, err := h.Engine.Audit(c.Request.Context(), c.Param("id"), store.AuditFilter{
		Category: c.Query("category"),
		Limit:    limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetSnapshot handles GET /api/v1/applications/:id/snapshots/:stage.
func (h *Handler) GetSnapshot(c *gin.Context) {
	stage, err := strconv.Atoi(c.Param("stage"))
	if err != nil || stage < 1 {
		c.JSON(http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: "stage must be a positive integer"})
		return
	}
	h.respond(c)(h.Engine.Snapshot(c.Request.Context(), c.Param("id"), stage))
}

func (h *Handler) respond(c *gin.Context) func(domain.ApplicationInfo, error) {
	return func(app domain.ApplicationInfo, err error) {
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, app)
	}
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// queryInt reads an optional non-negative integer query parameter. It writes a
// 400 and reports false when the value is malformed.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: "invalid " + name + ": " + raw})
		return 0, false
	}
	return n, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrApplicationMissing.Code, domain.ErrSnapshotMissing.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateApp.Code, domain.ErrOptimisticLock.Code:
			status = http.StatusConflict
		case domain.ErrPermissionDenied.Code, domain.ErrEditLocked.Code, domain.ErrUnknownRole.Code:
			status = http.StatusForbidden
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		case domain.ErrInvalidTransition.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrInvalidAction.Code:
			status = http.StatusBadRequest
		}
		c.JSON(status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	if h.Logger != nil {
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}
