package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edulab/proctor-bridge/internal/repository"
	"github.com/edulab/proctor-bridge/internal/response"
	"github.com/edulab/proctor-bridge/internal/service"
	"github.com/edulab/proctor-bridge/internal/validator"
	"github.com/edulab/proctor-bridge/internal/worker"
)

// EntryHandler serves the admin entry operations and the learner arrival
// redirect.
type EntryHandler struct {
	entries    *repository.EntryRepository
	lifecycle  *service.EntryLifecycle
	modules    service.ModuleProvider
	syncWorker *worker.SyncWorker
}

// NewEntryHandler creates a new EntryHandler.
func NewEntryHandler(entries *repository.EntryRepository, lifecycle *service.EntryLifecycle, modules service.ModuleProvider, syncWorker *worker.SyncWorker) *EntryHandler {
	return &EntryHandler{
		entries:    entries,
		lifecycle:  lifecycle,
		modules:    modules,
		syncWorker: syncWorker,
	}
}

// ListEntries godoc
// GET /api/v1/admin/entries?user_id=&module_id=&limit=
// Lists entries newest-first, optionally filtered.
func (h *EntryHandler) ListEntries(c *gin.Context) {
	var userID, moduleID *int64
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		userID = &id
	}
	if raw := c.Query("module_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		moduleID = &id
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := h.entries.ListRecent(c.Request.Context(), userID, moduleID, limit)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}

type resetEntryRequest struct {
	EntryID    *string `json:"entry_id"`
	AccessCode *string `json:"access_code"`
	ModuleID   *int64  `json:"module_id"`
	AttemptID  *int64  `json:"attempt_id"`
	Force      bool    `json:"force"`
}

// ResetEntry godoc
// POST /api/v1/admin/entries/reset
// Force-resets the selected entry and creates a fresh one.
func (h *EntryHandler) ResetEntry(c *gin.Context) {
	var req resetEntryRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sel := service.EntrySelector{
		AccessCode: req.AccessCode,
		ModuleID:   req.ModuleID,
		AttemptID:  req.AttemptID,
	}
	if req.EntryID != nil {
		id, err := uuid.Parse(*req.EntryID)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		sel.ID = &id
	}
	if sel.ID == nil && sel.AccessCode == nil && (sel.ModuleID == nil || sel.AttemptID == nil) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	entry, err := h.lifecycle.ResetEntry(c.Request.Context(), sel, req.Force)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": entry != nil, "entry": entry})
}

// ReconcileModule godoc
// POST /api/v1/admin/modules/:module_id/reconcile
// Queues an out-of-band reconciliation unit for the module.
func (h *EntryHandler) ReconcileModule(c *gin.Context) {
	moduleID, err := strconv.ParseInt(c.Param("module_id"), 10, 64)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.modules.ModuleInfo(c.Request.Context(), moduleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrModuleNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if err := h.syncWorker.Enqueue(c.Request.Context(), moduleID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"queued": true, "module_id": moduleID})
}

// Arrival godoc
// GET /api/v1/arrival?access_code=...
// Learner landing from the provider: resolves the access code and
// redirects to the platform module page.
func (h *EntryHandler) Arrival(c *gin.Context) {
	accessCode := c.Query("access_code")
	if accessCode == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	res, err := h.lifecycle.HandleArrival(c.Request.Context(), accessCode)
	if err != nil {
		if errors.Is(err, service.ErrEntryNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrEntryNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if res.Entry != nil && !res.Entry.Status.Live() {
		// No live entry could be produced for this scope; the attempt
		// slots are used up.
		response.Fail(c, http.StatusConflict, response.ErrExamUnavailable)
		return
	}

	target := res.RedirectURL
	if res.Reset {
		target += "&session_reset=1"
	}
	c.Redirect(http.StatusFound, target)
}
