package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/internal/database"
	"github.com/judgefinder/judge-sync/internal/queue"
	"github.com/judgefinder/judge-sync/internal/syncer"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	courts    *syncer.CourtSyncManager
	decisions *syncer.DecisionSyncManager
	queue     *queue.Manager
	logger    *logger.Logger
	cfg       *config.Config
}

// NewHandlers creates a new handlers instance
func NewHandlers(db *gorm.DB, courts *syncer.CourtSyncManager, decisions *syncer.DecisionSyncManager, qm *queue.Manager, log *logger.Logger, cfg *config.Config) *Handlers {
	return &Handlers{
		db:        db,
		courts:    courts,
		decisions: decisions,
		queue:     qm,
		logger:    log,
		cfg:       cfg,
	}
}

// SyncCourts triggers a court sync run and returns its result.
func (h *Handlers) SyncCourts(c *gin.Context) {
	var opts syncer.CourtSyncOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid options: " + err.Error(),
			})
			return
		}
	}

	result := h.courts.SyncCourts(c.Request.Context(), opts)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{
		"success": result.Success,
		"data":    result,
	})
}

// SyncDecisions triggers a decision sync run and returns its result.
func (h *Handlers) SyncDecisions(c *gin.Context) {
	var opts syncer.DecisionSyncOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid options: " + err.Error(),
			})
			return
		}
	}

	result := h.decisions.SyncDecisions(c.Request.Context(), opts)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{
		"success": result.Success,
		"data":    result,
	})
}

// EnqueueJob schedules a new sync job.
func (h *Handlers) EnqueueJob(c *gin.Context) {
	var req struct {
		Type         string                 `json:"type" binding:"required"`
		Options      map[string]interface{} `json:"options"`
		Priority     int                    `json:"priority"`
		ScheduledFor *time.Time             `json:"scheduled_for"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	scheduledFor := time.Time{}
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}

	job, err := h.queue.Enqueue(req.Type, req.Options, req.Priority, scheduledFor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    job,
	})
}

// ListJobs returns recent queue jobs.
func (h *Handlers) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.queue.ListJobs(c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    jobs,
	})
}

// CancelJobs cancels pending jobs, optionally filtered by type.
func (h *Handlers) CancelJobs(c *gin.Context) {
	cancelled, err := h.queue.CancelJobs(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"cancelled": cancelled,
	})
}

// Cleanup deletes finished jobs and sync logs past the retention window.
func (h *Handlers) Cleanup(c *gin.Context) {
	retention := h.cfg.JobRetentionDays
	if raw := c.Query("retention_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid retention_days",
			})
			return
		}
		retention = parsed
	}

	jobs, logs, err := h.queue.CleanupOldJobs(retention)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"jobs_deleted": jobs,
		"logs_deleted": logs,
	})
}

// ListSyncLogs returns the most recent sync run audit rows.
func (h *Handlers) ListSyncLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var logs []database.SyncLog
	if err := h.db.Order("started_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    logs,
	})
}

// ListCases returns synced cases with pagination.
func (h *Handlers) ListCases(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := h.db.Model(&database.Case{})
	if judgeID := c.Query("judge_id"); judgeID != "" {
		query = query.Where("judge_id = ?", judgeID)
	}

	var total int64
	query.Count(&total)

	var cases []database.Case
	query.Offset(offset).Limit(limit).
		Order("decision_date DESC").
		Find(&cases)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cases,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	var count int64
	dbHealthy := h.db.Model(&database.SyncLog{}).Count(&count).Error == nil

	var pending int64
	h.db.Model(&database.SyncJob{}).
		Where("status = ?", database.JobStatusPending).
		Count(&pending)

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"database":     dbHealthy,
		"pending_jobs": pending,
		"time":         time.Now().Unix(),
	})
}
