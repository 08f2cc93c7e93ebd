package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

type createActionRequest struct {
	UserID      string            `json:"user_id" binding:"required"`
	AccountID   *string           `json:"account_id"`
	MessageID   *string           `json:"message_id"`
	ActionType  models.ActionType `json:"action_type" binding:"required"`
	ScheduledAt time.Time         `json:"scheduled_at" binding:"required"`
	Payload     models.RawJSON    `json:"payload" binding:"required"`
}

func (h *Handler) CreateAction(c *gin.Context) {
	var req createActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	action := &models.ScheduledAction{
		UserID:      req.UserID,
		AccountID:   req.AccountID,
		MessageID:   req.MessageID,
		ActionType:  req.ActionType,
		ScheduledAt: req.ScheduledAt.UTC(),
		Payload:     req.Payload,
	}
	if err := action.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deps.Actions.Create(c.Request.Context(), action); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create scheduled action")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, action)
}

func (h *Handler) CancelAction(c *gin.Context) {
	actionID := c.Param("actionId")
	if _, err := uuid.Parse(actionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action id"})
		return
	}

	err := h.deps.Actions.Cancel(c.Request.Context(), actionID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": actionID, "status": models.ActionCancelled})
	case errors.Is(err, repository.ErrActionNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "action is no longer pending"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
	default:
		log.Error().Err(err).Str("action_id", actionID).Msg("failed to cancel scheduled action")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CronActions runs one scheduled-action tick in the request.
func (h *Handler) CronActions(c *gin.Context) {
	result, err := h.deps.Runner.Tick(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("scheduled action tick failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"completed": result.Completed,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	})
}
