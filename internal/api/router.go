// Package api exposes the worker's HTTP surface: manual and cron sync triggers, sync job status,
// scheduled action management and the Google OAuth linking flow.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
)

type AccountReader interface {
	GetByID(ctx context.Context, accountID string) (*models.MailboxAccount, error)
	ListSyncable(ctx context.Context) ([]models.MailboxAccount, error)
}

type SyncJobService interface {
	Enqueue(ctx context.Context, accountID string, syncType models.SyncType, trigger models.SyncTrigger) (*models.SyncJob, error)
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
}

type SyncLogReader interface {
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.SyncLog, error)
}

type ActionService interface {
	Create(ctx context.Context, action *models.ScheduledAction) error
	Cancel(ctx context.Context, actionID string) error
}

type ActionRunner interface {
	Tick(ctx context.Context) (service.TickResult, error)
}

type OAuthStateStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, state string) (string, error)
}

// OAuthProvider is the Google side of the linking flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*service.LinkedCredentials, error)
	GetProfileEmail(ctx context.Context, accessToken string) (string, error)
}

type AccountLinker interface {
	LinkAccount(ctx context.Context, userID, email string, creds service.LinkedCredentials) (*models.MailboxAccount, *models.SyncJob, error)
}

// Deps are the stores and services the handlers call into.
type Deps struct {
	Accounts AccountReader
	Jobs     SyncJobService
	SyncLogs SyncLogReader
	Actions  ActionService
	Runner   ActionRunner
	States   OAuthStateStore
	OAuth    OAuthProvider
	Linker   AccountLinker
}

type Handler struct {
	cfg  *config.Config
	deps Deps
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	h := &Handler{cfg: cfg, deps: deps}

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		internal := api.Group("")
		internal.Use(CronAuth(cfg.CronSecret))
		{
			internal.POST("/sync/:accountId", h.TriggerSync)
			internal.GET("/sync/jobs/:jobId", h.GetSyncJob)
			internal.GET("/accounts/:accountId/sync-logs", h.ListSyncLogs)
			internal.POST("/cron/sync", h.CronSync)
			internal.POST("/cron/actions", h.CronActions)
			internal.POST("/actions", h.CreateAction)
			internal.DELETE("/actions/:actionId", h.CancelAction)
		}

		oauth := api.Group("/oauth/google")
		{
			oauth.GET("/start", UserAuth(cfg.JWTSecret), h.OAuthStart)
			oauth.GET("/callback", h.OAuthCallback)
		}
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}
