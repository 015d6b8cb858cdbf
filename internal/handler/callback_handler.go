package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edulab/proctor-bridge/internal/response"
	"github.com/edulab/proctor-bridge/internal/service"
	"github.com/edulab/proctor-bridge/internal/validator"
)

// CallbackHandler receives the proctoring provider's webhooks. The method
// is selected by query parameter, matching the provider's single-endpoint
// callback contract.
type CallbackHandler struct {
	lifecycle *service.EntryLifecycle
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(lifecycle *service.EntryLifecycle) *CallbackHandler {
	return &CallbackHandler{lifecycle: lifecycle}
}

type reviewCallbackRequest struct {
	SessionID     string          `json:"sessionId" binding:"required"`
	Conclusion    string          `json:"conclusion"`
	Score         *float64        `json:"score"`
	Threshold     json.RawMessage `json:"threshold"`
	Comment       *string         `json:"comment"`
	Warnings      json.RawMessage `json:"warnings"`
	WarningTitles json.RawMessage `json:"warningTitles"`
	Start         *string         `json:"start"`
	End           *string         `json:"end"`
	ReportURL     *string         `json:"url"`
}

type scheduleCallbackRequest struct {
	SessionID string  `json:"sessionId" binding:"required"`
	Event     string  `json:"event" binding:"required"`
	Start     *string `json:"start"`
}

// Handle godoc
// POST /api/v1/callback?method=review|schedule
func (h *CallbackHandler) Handle(c *gin.Context) {
	switch c.Query("method") {
	case "review":
		h.review(c)
	case "schedule":
		h.schedule(c)
	default:
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownMethod)
	}
}

func (h *CallbackHandler) review(c *gin.Context) {
	var req reviewCallbackRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	entry, err := h.lifecycle.ApplyReview(c.Request.Context(), service.ReviewUpdate{
		AccessCode:    req.SessionID,
		Conclusion:    req.Conclusion,
		Score:         req.Score,
		Threshold:     req.Threshold,
		Comment:       req.Comment,
		Warnings:      req.Warnings,
		WarningTitles: req.WarningTitles,
		SessionStart:  req.Start,
		SessionEnd:    req.End,
		ReportURL:     req.ReportURL,
	})
	if err != nil {
		if errors.Is(err, service.ErrEntryNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrEntryNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entry": entry})
}

func (h *CallbackHandler) schedule(c *gin.Context) {
	var req scheduleCallbackRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	entry, err := h.lifecycle.ApplySchedule(c.Request.Context(), service.ScheduleUpdate{
		AccessCode: req.SessionID,
		Event:      req.Event,
		StartAt:    req.Start,
	})
	if err != nil {
		if errors.Is(err, service.ErrEntryNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrEntryNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entry": entry})
}
