package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/internal/queue"
	"github.com/judgefinder/judge-sync/internal/syncer"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, courts *syncer.CourtSyncManager, decisions *syncer.DecisionSyncManager, qm *queue.Manager, logger *logger.Logger, cfg *config.Config) {
	h := NewHandlers(db, courts, decisions, qm, logger, cfg)

	api := router.Group("/api")
	{
		// Health check
		api.GET("/health", h.HealthCheck)

		// Direct sync triggers
		api.POST("/sync/courts", h.SyncCourts)
		api.POST("/sync/decisions", h.SyncDecisions)
		api.GET("/sync/logs", h.ListSyncLogs)

		// Queue administration
		api.POST("/queue/jobs", h.EnqueueJob)
		api.GET("/queue/jobs", h.ListJobs)
		api.POST("/queue/jobs/cancel", h.CancelJobs)
		api.POST("/queue/cleanup", h.Cleanup)

		// Synced data
		api.GET("/cases", h.ListCases)
	}
}
