package database

import (
	"time"

	"gorm.io/gorm"
)

// Case status values
const (
	CaseStatusPending   = "pending"
	CaseStatusDecided   = "decided"
	CaseStatusSettled   = "settled"
	CaseStatusDismissed = "dismissed"
)

// Sync job types
const (
	JobTypeCourt    = "court"
	JobTypeJudge    = "judge"
	JobTypeDecision = "decision"
	JobTypeFull     = "full"
	JobTypeCleanup  = "cleanup"
)

// Sync job and sync log statuses
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Judge is owned by the directory layer. The pipeline only writes
// ExternalID linkage and the derived TotalCases count.
type Judge struct {
	gorm.Model
	Name         string  `json:"name" gorm:"index"`
	Jurisdiction string  `json:"jurisdiction"`
	CourtID      *uint   `json:"court_id"`
	ExternalID   *string `json:"external_id" gorm:"index"`
	TotalCases   int     `json:"total_cases"`
}

type Case struct {
	gorm.Model
	JudgeID         uint       `json:"judge_id" gorm:"index"`
	CourtID         *uint      `json:"court_id"`
	CaseName        string     `json:"case_name"`
	CaseNumber      string     `json:"case_number" gorm:"uniqueIndex:idx_cases_number_jurisdiction"`
	DocketHash      *string    `json:"docket_hash" gorm:"uniqueIndex"`
	FilingDate      *time.Time `json:"filing_date"`
	DecisionDate    *time.Time `json:"decision_date" gorm:"index"`
	CaseType        string     `json:"case_type"`
	Status          string     `json:"status"`
	Outcome         string     `json:"outcome"`
	OutcomeCategory string     `json:"outcome_category"`
	Summary         string     `json:"summary" gorm:"type:text"`
	ExternalID      string     `json:"external_id" gorm:"index"`
	Jurisdiction    string     `json:"jurisdiction" gorm:"uniqueIndex:idx_cases_number_jurisdiction"`
	SourceURL       string     `json:"source_url"`
}

type Opinion struct {
	gorm.Model
	CaseID      uint   `json:"case_id" gorm:"index"`
	ClusterID   string `json:"cluster_id"`
	OpinionType string `json:"opinion_type"`
	AuthorName  string `json:"author_name"`
	PerCuriam   bool   `json:"per_curiam"`
	PlainText   string `json:"plain_text" gorm:"type:text"`
	HTMLText    string `json:"html_text" gorm:"type:text"`
	ExternalID  string `json:"external_id" gorm:"uniqueIndex"`
}

type Court struct {
	gorm.Model
	Name         string `json:"name" gorm:"index"`
	Type         string `json:"type"`
	Jurisdiction string `json:"jurisdiction"`
	ExternalID   string `json:"external_id" gorm:"index"`
	Website      string `json:"website"`
	Address      string `json:"address"`
	// Metadata carries provenance as JSON: source tag, run id, fetch
	// timestamp and the raw upstream payload.
	Metadata string `json:"metadata" gorm:"type:text"`
}

// SyncLog is the append/update audit trail, one row per run. It exists
// independently of the queue: direct manager invocations write it too.
type SyncLog struct {
	gorm.Model
	RunID        string     `json:"run_id" gorm:"uniqueIndex"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Options      string     `json:"options" gorm:"type:text"`
	Result       string     `json:"result" gorm:"type:text"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	DurationMS   int64      `json:"duration_ms"`
	ErrorMessage string     `json:"error_message" gorm:"type:text"`
}

type SyncJob struct {
	gorm.Model
	Type         string     `json:"type" gorm:"index"`
	Status       string     `json:"status" gorm:"index"`
	Options      string     `json:"options" gorm:"type:text"`
	Priority     int        `json:"priority"`
	ScheduledFor time.Time  `json:"scheduled_for" gorm:"index"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Result       string     `json:"result" gorm:"type:text"`
	ErrorMessage string     `json:"error_message" gorm:"type:text"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
}

func (Judge) TableName() string {
	return "judges"
}

func (Case) TableName() string {
	return "cases"
}

func (Opinion) TableName() string {
	return "opinions"
}

func (Court) TableName() string {
	return "courts"
}

func (SyncLog) TableName() string {
	return "sync_logs"
}

func (SyncJob) TableName() string {
	return "sync_queue"
}
