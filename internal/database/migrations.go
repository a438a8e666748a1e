package database

import (
	"gorm.io/gorm"
)

// createIndexes creates indexes AutoMigrate does not cover
func createIndexes(db *gorm.DB) error {
	// Cursor queries: most recent decision per judge
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cases_judge_decision
		ON cases(judge_id, decision_date)
	`).Error; err != nil {
		return err
	}

	// Filing cursor queries
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cases_judge_filing
		ON cases(judge_id, filing_date)
	`).Error; err != nil {
		return err
	}

	// Job claiming: due pending jobs by priority and schedule
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_queue_claim
		ON sync_queue(status, scheduled_for, priority)
	`).Error; err != nil {
		return err
	}

	return nil
}
