package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/internal/courtlistener"
	"github.com/judgefinder/judge-sync/internal/database"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// courtStaleAfter is how long a stored court stays fresh before an unchanged
// upstream record still triggers an update.
const courtStaleAfter = 7 * 24 * time.Hour

// CourtSyncOptions controls a court sync run.
type CourtSyncOptions struct {
	// Jurisdiction filters courts by code match or name substring.
	Jurisdiction string `json:"jurisdiction,omitempty"`
	// ForceRefresh updates every matched court regardless of staleness.
	ForceRefresh bool `json:"force_refresh,omitempty"`
	// MaxPages bounds the total upstream fetch. Zero uses the configured cap.
	MaxPages int `json:"max_pages,omitempty"`
}

// CourtSyncResult aggregates one court sync run.
type CourtSyncResult struct {
	Success         bool          `json:"success"`
	RunID           string        `json:"run_id"`
	CourtsProcessed int           `json:"courts_processed"`
	Created         int           `json:"created"`
	Updated         int           `json:"updated"`
	Unchanged       int           `json:"unchanged"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// CourtSyncManager fetches and reconciles court metadata.
type CourtSyncManager struct {
	cfg    *config.Config
	db     *gorm.DB
	client courtlistener.Client
	logger *logger.Logger
}

func NewCourtSyncManager(cfg *config.Config, db *gorm.DB, client courtlistener.Client, log *logger.Logger) *CourtSyncManager {
	return &CourtSyncManager{cfg: cfg, db: db, client: client, logger: log}
}

// SyncCourts pages through the upstream court list and reconciles each court
// against the local store. Per-court failures are recorded and do not stop
// the batch.
func (m *CourtSyncManager) SyncCourts(ctx context.Context, opts CourtSyncOptions) *CourtSyncResult {
	start := time.Now()
	runID := uuid.NewString()
	result := &CourtSyncResult{RunID: runID}

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = m.cfg.CourtMaxPages
	}

	startSyncLog(m.db, m.logger, runID, database.JobTypeCourt, opts)
	m.logger.Info("Starting court sync",
		"run_id", runID,
		"jurisdiction", opts.Jurisdiction,
		"force_refresh", opts.ForceRefresh,
	)

	cursor := ""
	for page := 0; page < maxPages; page++ {
		courtPage, err := m.client.ListCourts(ctx, cursor, "id")
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch court page %d: %v", page+1, err))
			break
		}

		for _, record := range courtPage.Results {
			if !m.matchesJurisdiction(record, opts.Jurisdiction) {
				continue
			}
			result.CourtsProcessed++

			outcome, err := m.reconcileCourt(record, runID, opts.ForceRefresh)
			if err != nil {
				m.logger.Error("Failed to sync court",
					"court_external_id", record.ID,
					"error", err,
				)
				result.Errors = append(result.Errors, fmt.Sprintf("court %s: %v", record.ID, err))
				continue
			}
			switch outcome {
			case courtCreated:
				result.Created++
			case courtUpdated:
				result.Updated++
			default:
				result.Unchanged++
			}
		}

		cursor = courtPage.Next
		if cursor == "" {
			break
		}
		time.Sleep(m.cfg.CourtPagePause)
	}

	result.Duration = time.Since(start)
	result.Success = len(result.Errors) == 0

	status := database.JobStatusCompleted
	errMsg := ""
	if !result.Success {
		status = database.JobStatusFailed
		errMsg = strings.Join(result.Errors, "; ")
	}
	finishSyncLog(m.db, m.logger, runID, status, result, errMsg)

	m.logger.Info("Court sync finished",
		"run_id", runID,
		"processed", result.CourtsProcessed,
		"created", result.Created,
		"updated", result.Updated,
		"errors", len(result.Errors),
		"duration", result.Duration.String(),
	)
	return result
}

type courtOutcome int

const (
	courtUnchanged courtOutcome = iota
	courtCreated
	courtUpdated
)

// reconcileCourt applies one upstream court: lookup by external id first,
// then case-insensitive name; update only when changed or stale.
func (m *CourtSyncManager) reconcileCourt(record courtlistener.CourtRecord, runID string, forceRefresh bool) (courtOutcome, error) {
	name := record.FullName
	if name == "" {
		name = record.ShortName
	}
	if name == "" {
		return courtUnchanged, fmt.Errorf("upstream court %q has no name", record.ID)
	}

	var existing database.Court
	err := m.db.Where("external_id = ?", record.ID).First(&existing).Error
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		err = m.db.Where("LOWER(name) = LOWER(?)", name).First(&existing).Error
	}

	switch {
	case err == nil:
		changed := existing.Name != name || existing.ExternalID != record.ID
		stale := time.Since(existing.UpdatedAt) > courtStaleAfter
		if !forceRefresh && !changed && !stale {
			return courtUnchanged, nil
		}

		existing.Name = name
		existing.ExternalID = record.ID
		if record.URL != "" {
			existing.Website = record.URL
		}
		existing.Metadata = m.provenance(record, runID)
		if err := m.db.Save(&existing).Error; err != nil {
			return courtUnchanged, fmt.Errorf("failed to update court: %w", err)
		}
		return courtUpdated, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		court := database.Court{
			Name:         name,
			Type:         inferCourtType(name),
			Jurisdiction: inferJurisdiction(name),
			ExternalID:   record.ID,
			Website:      record.URL,
			Metadata:     m.provenance(record, runID),
		}
		if err := m.db.Create(&court).Error; err != nil {
			return courtUnchanged, fmt.Errorf("failed to create court: %w", err)
		}
		return courtCreated, nil

	default:
		return courtUnchanged, fmt.Errorf("failed to look up court: %w", err)
	}
}

// matchesJurisdiction applies the optional jurisdiction filter: exact code
// match or case-insensitive name substring.
func (m *CourtSyncManager) matchesJurisdiction(record courtlistener.CourtRecord, filter string) bool {
	if filter == "" {
		return true
	}
	if strings.EqualFold(record.Jurisdiction, filter) {
		return true
	}
	name := record.FullName + " " + record.ShortName
	return strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}

// provenance serializes the audit metadata stored alongside each court.
func (m *CourtSyncManager) provenance(record courtlistener.CourtRecord, runID string) string {
	meta := map[string]interface{}{
		"source":     "courtlistener",
		"run_id":     runID,
		"fetched_at": time.Now().Format(time.RFC3339),
		"raw":        record,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		m.logger.Warn("Failed to serialize court metadata", "error", err)
		return ""
	}
	return string(data)
}

// stateJurisdictions maps state-name substrings to their short code. Courts
// whose name matches none of these default to the federal code.
var stateJurisdictions = []struct {
	Substring string
	Code      string
}{
	{"california", "CA"},
	{"new york", "NY"},
	{"texas", "TX"},
	{"florida", "FL"},
	{"illinois", "IL"},
	{"pennsylvania", "PA"},
	{"ohio", "OH"},
	{"georgia", "GA"},
	{"michigan", "MI"},
	{"washington", "WA"},
	{"massachusetts", "MA"},
	{"new jersey", "NJ"},
	{"virginia", "VA"},
	{"colorado", "CO"},
	{"arizona", "AZ"},
}

func inferJurisdiction(courtName string) string {
	lower := strings.ToLower(courtName)
	for _, state := range stateJurisdictions {
		if strings.Contains(lower, state.Substring) {
			return state.Code
		}
	}
	return "US"
}

var federalCourtKeywords = []string{
	"united states",
	"u.s.",
	"federal",
	"circuit",
	"bankruptcy",
}

func inferCourtType(courtName string) string {
	lower := strings.ToLower(courtName)
	for _, kw := range federalCourtKeywords {
		if strings.Contains(lower, kw) {
			return "federal"
		}
	}
	return "state"
}
