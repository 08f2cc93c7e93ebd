package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

const (
	defaultSyncLogLimit = 20
	maxSyncLogLimit     = 100
)

type triggerSyncRequest struct {
	SyncType string `json:"sync_type"`
}

// TriggerSync queues a sync for one account and returns the job ID to poll.
func (h *Handler) TriggerSync(c *gin.Context) {
	accountID := c.Param("accountId")
	if _, err := uuid.Parse(accountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	var req triggerSyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	syncType, err := models.ParseSyncType(req.SyncType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	account, err := h.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to load account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !account.Syncable() {
		c.JSON(http.StatusConflict, gin.H{"error": "sync is disabled for this account"})
		return
	}

	job, err := h.deps.Jobs.Enqueue(ctx, accountID, syncType, models.TriggerManual)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to enqueue sync job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (h *Handler) GetSyncJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.deps.Jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sync job not found"})
			return
		}
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to load sync job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) ListSyncLogs(c *gin.Context) {
	accountID := c.Param("accountId")
	if _, err := uuid.Parse(accountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	limit := defaultSyncLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSyncLogLimit)
	}

	logs, err := h.deps.SyncLogs.ListByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to list sync logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if logs == nil {
		logs = []models.SyncLog{}
	}

	c.JSON(http.StatusOK, gin.H{"sync_logs": logs})
}

// CronSync queues a delta sync for every syncable account.
func (h *Handler) CronSync(c *gin.Context) {
	ctx := c.Request.Context()
	accounts, err := h.deps.Accounts.ListSyncable(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list syncable accounts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	queued := 0
	for _, account := range accounts {
		if _, err := h.deps.Jobs.Enqueue(ctx, account.ID, models.SyncTypeDelta, models.TriggerCron); err != nil {
			log.Error().Err(err).Str("account_id", account.ID).Msg("failed to enqueue cron sync")
			continue
		}
		queued++
	}

	log.Info().Int("queued", queued).Int("accounts", len(accounts)).Msg("cron sync queued")
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}
