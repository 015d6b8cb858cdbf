package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/edulab/proctor-bridge/internal/model"
	"github.com/edulab/proctor-bridge/internal/response"
	"github.com/edulab/proctor-bridge/internal/service"
	"github.com/edulab/proctor-bridge/internal/validator"
)

// EventHandler ingests the host platform's event bus deliveries. Delivery
// is at-least-once, so every handler is idempotent: replaying an event
// yields the same state and a 200.
type EventHandler struct {
	lifecycle *service.EntryLifecycle
	modules   service.ModuleProvider
	policy    *service.EligibilityPolicy
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(lifecycle *service.EntryLifecycle, modules service.ModuleProvider, policy *service.EligibilityPolicy) *EventHandler {
	return &EventHandler{
		lifecycle: lifecycle,
		modules:   modules,
		policy:    policy,
	}
}

type attemptEventRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	ModuleID   int64  `json:"module_id" binding:"required"`
	AttemptID  int64  `json:"attempt_id" binding:"required"`
	AccessCode string `json:"access_code"`
}

// loadProctoredModule resolves the module and checks the user is in scope.
// Events for unproctored modules or out-of-scope users are acknowledged
// without action: the platform fires them for every module.
func (h *EventHandler) loadProctoredModule(c *gin.Context, moduleID, userID int64) (*model.ModuleInfo, bool) {
	mod, err := h.modules.ModuleInfo(c.Request.Context(), moduleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Success(c, http.StatusOK, gin.H{"handled": false})
			return nil, false
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return nil, false
	}

	inScope, err := h.policy.InScope(c.Request.Context(), mod.Condition, mod.CourseID, userID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return nil, false
	}
	if !inScope {
		response.Success(c, http.StatusOK, gin.H{"handled": false})
		return nil, false
	}
	return mod, true
}

// AttemptStarted godoc
// POST /api/v1/events/attempt-started
// Binds the platform attempt to the scope's entry and marks it started.
func (h *EventHandler) AttemptStarted(c *gin.Context) {
	var req attemptEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	mod, ok := h.loadProctoredModule(c, req.ModuleID, req.UserID)
	if !ok {
		return
	}

	res, err := h.lifecycle.OnAttemptStarted(c.Request.Context(), req.UserID, mod, req.AttemptID, req.AccessCode)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if res.Entry != nil && !res.Entry.Status.Live() {
		// Attempt slots exhausted: the lifecycle handed back a terminal
		// entry instead of starting one.
		response.Fail(c, http.StatusConflict, response.ErrExamUnavailable)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"handled": true, "result": res})
}

// AttemptSubmitted godoc
// POST /api/v1/events/attempt-submitted
// Concludes the scope's started entries and yields the finish redirect.
func (h *EventHandler) AttemptSubmitted(c *gin.Context) {
	var req attemptEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	mod, ok := h.loadProctoredModule(c, req.ModuleID, req.UserID)
	if !ok {
		return
	}

	res, err := h.lifecycle.OnAttemptSubmitted(c.Request.Context(), req.UserID, mod, req.AttemptID, req.AccessCode)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if res == nil {
		// Nothing was started; replay or a module without a live session.
		response.Success(c, http.StatusOK, gin.H{"handled": false})
		return
	}

	response.Success(c, http.StatusOK, gin.H{"handled": true, "result": res})
}

type attemptDeletedRequest struct {
	ModuleID  int64 `json:"module_id" binding:"required"`
	AttemptID int64 `json:"attempt_id" binding:"required"`
}

// AttemptDeleted godoc
// POST /api/v1/events/attempt-deleted
// Resets the entry bound to a deleted platform attempt.
func (h *EventHandler) AttemptDeleted(c *gin.Context) {
	var req attemptDeletedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	entry, err := h.lifecycle.OnAttemptDeleted(c.Request.Context(), req.ModuleID, req.AttemptID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"handled": entry != nil, "entry": entry})
}

type enrollmentRemovedRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	CourseID int64  `json:"course_id" binding:"required"`
	ModuleID *int64 `json:"module_id"`
}

// EnrollmentRemoved godoc
// POST /api/v1/events/enrollment-removed
// Drops never-started entries for the user in the course.
func (h *EventHandler) EnrollmentRemoved(c *gin.Context) {
	var req enrollmentRemovedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.lifecycle.OnEnrollmentRemoved(c.Request.Context(), req.UserID, req.CourseID, req.ModuleID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"handled": true})
}

type moduleDeletedRequest struct {
	ModuleID int64 `json:"module_id" binding:"required"`
}

// ModuleDeleted godoc
// POST /api/v1/events/module-deleted
// Removes every entry and sync record for the module.
func (h *EventHandler) ModuleDeleted(c *gin.Context) {
	var req moduleDeletedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.lifecycle.OnModuleDeleted(c.Request.Context(), req.ModuleID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"handled": true})
}
