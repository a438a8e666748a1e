package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/internal/database"
	"github.com/judgefinder/judge-sync/internal/syncer"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// ErrUnknownJobType marks a job whose type has no dispatcher. Such jobs fail
// permanently: retrying cannot fix them.
var ErrUnknownJobType = errors.New("unknown job type")

// ErrBadOptions marks a job whose options payload cannot be decoded. Also a
// permanent failure.
var ErrBadOptions = errors.New("invalid job options")

// Manager schedules, claims and finishes sync jobs. It assumes a single
// active consumer: the claim is a conditional status flip, not a distributed
// lease.
type Manager struct {
	cfg       *config.Config
	db        *gorm.DB
	courts    *syncer.CourtSyncManager
	decisions *syncer.DecisionSyncManager
	repo      *syncer.Repository
	logger    *logger.Logger

	// now is injectable so retry scheduling is deterministic in tests.
	now func() time.Time
}

func NewManager(cfg *config.Config, db *gorm.DB, courts *syncer.CourtSyncManager, decisions *syncer.DecisionSyncManager, repo *syncer.Repository, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		db:        db,
		courts:    courts,
		decisions: decisions,
		repo:      repo,
		logger:    log,
		now:       time.Now,
	}
}

// Enqueue schedules a new job.
func (m *Manager) Enqueue(jobType string, options interface{}, priority int, scheduledFor time.Time) (*database.SyncJob, error) {
	switch jobType {
	case database.JobTypeCourt, database.JobTypeJudge, database.JobTypeDecision,
		database.JobTypeFull, database.JobTypeCleanup:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	optJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job options: %w", err)
	}
	if scheduledFor.IsZero() {
		scheduledFor = m.now()
	}

	job := database.SyncJob{
		Type:         jobType,
		Status:       database.JobStatusPending,
		Options:      string(optJSON),
		Priority:     priority,
		ScheduledFor: scheduledFor,
		MaxRetries:   m.cfg.JobMaxRetries,
	}
	if err := m.db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Info("Job enqueued",
		"job_id", job.ID,
		"type", jobType,
		"priority", priority,
		"scheduled_for", scheduledFor.Format(time.RFC3339),
	)
	return &job, nil
}

// GetNextJob claims the highest-priority due pending job, earliest scheduled
// within a priority. Returns nil when nothing is due. The conditional update
// closes the double-claim window within this process; it is not a lease.
func (m *Manager) GetNextJob() (*database.SyncJob, error) {
	var job database.SyncJob
	err := m.db.Where("status = ? AND scheduled_for <= ?", database.JobStatusPending, m.now()).
		Order("priority DESC, scheduled_for ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query next job: %w", err)
	}

	now := m.now()
	claim := m.db.Model(&database.SyncJob{}).
		Where("id = ? AND status = ?", job.ID, database.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     database.JobStatusRunning,
			"started_at": now,
		})
	if claim.Error != nil {
		return nil, fmt.Errorf("failed to claim job %d: %w", job.ID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		// Someone else flipped it first; treat as nothing due this tick.
		return nil, nil
	}

	job.Status = database.JobStatusRunning
	job.StartedAt = &now
	return &job, nil
}

// CompleteJob marks a job finished with its serialized result.
func (m *Manager) CompleteJob(job *database.SyncJob, result interface{}) error {
	resultJSON, _ := json.Marshal(result)
	now := m.now()
	return m.db.Model(job).Updates(map[string]interface{}{
		"status":        database.JobStatusCompleted,
		"result":        string(resultJSON),
		"completed_at":  now,
		"error_message": "",
	}).Error
}

// FailJob records a failure. When retries remain and the failure is
// retryable, the job is rescheduled as pending after an exponential backoff
// of 2^retry_count minutes; otherwise it fails permanently.
func (m *Manager) FailJob(job *database.SyncJob, jobErr error, shouldRetry bool) error {
	if shouldRetry && job.RetryCount < job.MaxRetries {
		backoff := time.Duration(math.Pow(2, float64(job.RetryCount))) * time.Minute
		retryAt := m.now().Add(backoff)

		m.logger.Warn("Job failed, rescheduling",
			"job_id", job.ID,
			"type", job.Type,
			"retry_count", job.RetryCount+1,
			"retry_at", retryAt.Format(time.RFC3339),
			"error", jobErr,
		)
		return m.db.Model(job).Updates(map[string]interface{}{
			"status":        database.JobStatusPending,
			"scheduled_for": retryAt,
			"retry_count":   job.RetryCount + 1,
			"error_message": jobErr.Error(),
		}).Error
	}

	m.logger.Error("Job failed permanently",
		"job_id", job.ID,
		"type", job.Type,
		"retry_count", job.RetryCount,
		"error", jobErr,
	)
	now := m.now()
	return m.db.Model(job).Updates(map[string]interface{}{
		"status":        database.JobStatusFailed,
		"completed_at":  now,
		"error_message": jobErr.Error(),
	}).Error
}

// FullSyncResult aggregates the three stages of a full sync job.
type FullSyncResult struct {
	Success         bool                       `json:"success"`
	Courts          *syncer.CourtSyncResult    `json:"courts"`
	JudgesRefreshed int                        `json:"judges_refreshed"`
	Decisions       *syncer.DecisionSyncResult `json:"decisions"`
}

// ProcessJob dispatches a claimed job to the matching sync manager and
// returns its serializable result.
func (m *Manager) ProcessJob(ctx context.Context, job *database.SyncJob) (interface{}, error) {
	switch job.Type {
	case database.JobTypeCourt:
		var opts syncer.CourtSyncOptions
		if err := m.jobOptions(job, &opts); err != nil {
			return nil, err
		}
		result := m.courts.SyncCourts(ctx, opts)
		if !result.Success {
			return result, fmt.Errorf("court sync finished with %d errors", len(result.Errors))
		}
		return result, nil

	case database.JobTypeJudge:
		refreshed, err := m.repo.RefreshAllJudgeCaseCounts()
		if err != nil {
			return nil, err
		}
		return map[string]int{"judges_refreshed": refreshed}, nil

	case database.JobTypeDecision:
		var opts syncer.DecisionSyncOptions
		if err := m.jobOptions(job, &opts); err != nil {
			return nil, err
		}
		result := m.decisions.SyncDecisions(ctx, opts)
		if !result.Success {
			return result, fmt.Errorf("decision sync finished with %d errors", len(result.Errors))
		}
		return result, nil

	case database.JobTypeFull:
		return m.processFullSync(ctx, job)

	case database.JobTypeCleanup:
		jobs, logs, err := m.CleanupOldJobs(m.cfg.JobRetentionDays)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"jobs_deleted": jobs, "logs_deleted": logs}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}
}

// processFullSync runs court, judge and decision sync sequentially. The job
// succeeds only when all three stages do.
func (m *Manager) processFullSync(ctx context.Context, job *database.SyncJob) (interface{}, error) {
	var opts syncer.DecisionSyncOptions
	if err := m.jobOptions(job, &opts); err != nil {
		return nil, err
	}

	result := &FullSyncResult{}
	result.Courts = m.courts.SyncCourts(ctx, syncer.CourtSyncOptions{Jurisdiction: opts.Jurisdiction})

	refreshed, err := m.repo.RefreshAllJudgeCaseCounts()
	if err != nil {
		return result, fmt.Errorf("judge refresh failed: %w", err)
	}
	result.JudgesRefreshed = refreshed

	result.Decisions = m.decisions.SyncDecisions(ctx, opts)

	result.Success = result.Courts.Success && result.Decisions.Success
	if !result.Success {
		return result, fmt.Errorf("full sync finished with errors: courts=%d decisions=%d",
			len(result.Courts.Errors), len(result.Decisions.Errors))
	}
	return result, nil
}

// CleanupOldJobs deletes completed and failed jobs, and sync logs, past the
// retention window. Returns the deleted job and log counts.
func (m *Manager) CleanupOldJobs(retentionDays int) (int64, int64, error) {
	cutoff := m.now().AddDate(0, 0, -retentionDays)

	jobs := m.db.Unscoped().
		Where("status IN ? AND completed_at < ?",
			[]string{database.JobStatusCompleted, database.JobStatusFailed, database.JobStatusCancelled},
			cutoff,
		).
		Delete(&database.SyncJob{})
	if jobs.Error != nil {
		return 0, 0, fmt.Errorf("failed to delete old jobs: %w", jobs.Error)
	}

	logs := m.db.Unscoped().
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Delete(&database.SyncLog{})
	if logs.Error != nil {
		return jobs.RowsAffected, 0, fmt.Errorf("failed to delete old sync logs: %w", logs.Error)
	}

	m.logger.Info("Cleanup finished",
		"jobs_deleted", jobs.RowsAffected,
		"logs_deleted", logs.RowsAffected,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return jobs.RowsAffected, logs.RowsAffected, nil
}

// CancelJobs marks pending jobs cancelled, optionally filtered by type.
// In-flight jobs are untouched: a running sync cannot be preempted.
func (m *Manager) CancelJobs(jobType string) (int64, error) {
	query := m.db.Model(&database.SyncJob{}).
		Where("status = ?", database.JobStatusPending)
	if jobType != "" {
		query = query.Where("type = ?", jobType)
	}

	result := query.Updates(map[string]interface{}{
		"status":       database.JobStatusCancelled,
		"completed_at": m.now(),
	})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListJobs returns recent jobs, newest first, optionally filtered by status.
func (m *Manager) ListJobs(status string, limit int) ([]database.SyncJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := m.db.Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var jobs []database.SyncJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// jobOptions decodes a job's options payload. Malformed options are a
// permanent failure, not a retry candidate.
func (m *Manager) jobOptions(job *database.SyncJob, out interface{}) error {
	if job.Options == "" || job.Options == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(job.Options), out); err != nil {
		return fmt.Errorf("%w: job %d: %v", ErrBadOptions, job.ID, err)
	}
	return nil
}
