package syncer

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/database"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// startSyncLog opens the audit row for a run. Logging failures are swallowed:
// a broken audit trail must never abort a sync.
func startSyncLog(db *gorm.DB, log *logger.Logger, runID, syncType string, options interface{}) {
	optJSON, _ := json.Marshal(options)
	entry := database.SyncLog{
		RunID:     runID,
		Type:      syncType,
		Status:    database.JobStatusRunning,
		Options:   string(optJSON),
		StartedAt: time.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		log.Warn("Failed to create sync log", "run_id", runID, "error", err)
	}
}

// finishSyncLog closes the audit row, best-effort, on success and crash paths
// alike.
func finishSyncLog(db *gorm.DB, log *logger.Logger, runID, status string, result interface{}, errMsg string) {
	resultJSON, _ := json.Marshal(result)
	now := time.Now()

	var entry database.SyncLog
	if err := db.Where("run_id = ?", runID).First(&entry).Error; err != nil {
		log.Warn("Failed to load sync log for completion", "run_id", runID, "error", err)
		return
	}

	entry.Status = status
	entry.Result = string(resultJSON)
	entry.CompletedAt = &now
	entry.DurationMS = now.Sub(entry.StartedAt).Milliseconds()
	entry.ErrorMessage = errMsg

	if err := db.Save(&entry).Error; err != nil {
		log.Warn("Failed to complete sync log", "run_id", runID, "error", err)
	}
}
