package syncer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/judgefinder/judge-sync/internal/database"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// ErrConflict marks a unique-constraint collision during an insert. It is
// recoverable: the caller re-resolves by key lookup instead of failing.
var ErrConflict = errors.New("persistence conflict")

// DecisionRecord is a normalized decision ready for persistence.
type DecisionRecord struct {
	CaseName        string
	CaseNumber      string
	DocketHash      string
	FilingDate      *time.Time
	DecisionDate    *time.Time
	CaseType        string
	Status          string
	Outcome         string
	OutcomeCategory string
	Summary         string
	ExternalID      string
	SourceURL       string
	CourtID         *uint
}

// Repository is the persistence facade for decisions and opinions. Every
// write is idempotent: the store's unique constraints (docket_hash;
// case_number+jurisdiction; opinion external_id) are the only locking.
type Repository struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewRepository(db *gorm.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, logger: log}
}

// GetExistingDecisions maps the given decision keys to local case ids for one
// judge, so a batch can be deduplicated with a single query.
func (r *Repository) GetExistingDecisions(judgeID uint, keys []string) (map[string]uint, error) {
	existing := make(map[string]uint, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	var rows []database.Case
	err := r.db.Select("id", "external_id").
		Where("judge_id = ? AND external_id IN ?", judgeID, keys).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing decisions: %w", err)
	}

	for _, row := range rows {
		existing[row.ExternalID] = row.ID
	}
	return existing, nil
}

// UpsertDecision inserts or updates a case, keyed by docket hash when
// present, else by (case_number, jurisdiction). Returns the local case id and
// whether a new row was created.
func (r *Repository) UpsertDecision(judgeID uint, jurisdiction string, rec DecisionRecord) (uint, bool, error) {
	incoming := r.buildCase(judgeID, jurisdiction, rec)

	if rec.DocketHash != "" {
		var existing database.Case
		err := r.db.Where("docket_hash = ?", rec.DocketHash).First(&existing).Error
		switch {
		case err == nil:
			r.flagKeyDivergence(&existing, rec.CaseNumber, jurisdiction)
			return existing.ID, false, r.update(&existing, incoming)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return 0, false, fmt.Errorf("failed to look up case by hash: %w", err)
		}
	}

	var existing database.Case
	err := r.db.Where("case_number = ? AND jurisdiction = ?", rec.CaseNumber, jurisdiction).
		First(&existing).Error
	switch {
	case err == nil:
		return existing.ID, false, r.update(&existing, incoming)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, false, fmt.Errorf("failed to look up case by number: %w", err)
	}

	if err := r.db.Create(&incoming).Error; err != nil {
		if !isUniqueViolation(err) {
			return 0, false, fmt.Errorf("failed to create case: %w", err)
		}
		// Lost a race against our own earlier write within the run (or a
		// prior crashed run). Resolve by lookup instead of failing.
		r.logger.Debug("Upsert hit unique constraint, resolving by lookup",
			"case_number", rec.CaseNumber,
			"jurisdiction", jurisdiction,
		)
		return r.resolveConflict(judgeID, jurisdiction, rec)
	}
	return incoming.ID, true, nil
}

// resolveConflict re-reads after an ErrConflict-class failure and applies the
// write as an update to whichever row owns the colliding key.
func (r *Repository) resolveConflict(judgeID uint, jurisdiction string, rec DecisionRecord) (uint, bool, error) {
	incoming := r.buildCase(judgeID, jurisdiction, rec)

	var existing database.Case
	query := r.db.Where("case_number = ? AND jurisdiction = ?", rec.CaseNumber, jurisdiction)
	if rec.DocketHash != "" {
		query = r.db.Where("docket_hash = ?", rec.DocketHash).
			Or("case_number = ? AND jurisdiction = ?", rec.CaseNumber, jurisdiction)
	}
	if err := query.First(&existing).Error; err != nil {
		return 0, false, fmt.Errorf("%w: conflicting row not found: %v", ErrConflict, err)
	}
	return existing.ID, false, r.update(&existing, incoming)
}

// update applies the mergeCase policy and persists the result.
func (r *Repository) update(existing *database.Case, incoming database.Case) error {
	merged := mergeCase(*existing, incoming)
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	if err := r.db.Save(&merged).Error; err != nil {
		return fmt.Errorf("failed to update case %d: %w", existing.ID, err)
	}
	return nil
}

// flagKeyDivergence logs when the docket hash resolved one row while the
// case-number key independently points at another. The hash row wins and
// neither row is merged; the warning leaves a trail for manual reconciliation.
func (r *Repository) flagKeyDivergence(hashRow *database.Case, caseNumber, jurisdiction string) {
	var byNumber database.Case
	err := r.db.Select("id").
		Where("case_number = ? AND jurisdiction = ?", caseNumber, jurisdiction).
		First(&byNumber).Error
	if err == nil && byNumber.ID != hashRow.ID {
		r.logger.Warn("Docket hash and case-number key resolve to different rows",
			"hash_case_id", hashRow.ID,
			"number_case_id", byNumber.ID,
			"case_number", caseNumber,
			"jurisdiction", jurisdiction,
		)
	}
}

func (r *Repository) buildCase(judgeID uint, jurisdiction string, rec DecisionRecord) database.Case {
	c := database.Case{
		JudgeID:         judgeID,
		CourtID:         rec.CourtID,
		CaseName:        rec.CaseName,
		CaseNumber:      rec.CaseNumber,
		FilingDate:      rec.FilingDate,
		DecisionDate:    rec.DecisionDate,
		CaseType:        rec.CaseType,
		Status:          rec.Status,
		Outcome:         rec.Outcome,
		OutcomeCategory: rec.OutcomeCategory,
		Summary:         rec.Summary,
		ExternalID:      rec.ExternalID,
		Jurisdiction:    jurisdiction,
		SourceURL:       rec.SourceURL,
	}
	if rec.DocketHash != "" {
		hash := rec.DocketHash
		c.DocketHash = &hash
	}
	return c
}

// EnsureOpinion creates the opinion row if its external id is not stored yet.
// Returns whether a row was created.
func (r *Repository) EnsureOpinion(op *database.Opinion) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(op)
	if result.Error != nil {
		return false, fmt.Errorf("failed to save opinion: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// HasOpinion reports whether an opinion with the given external id exists.
func (r *Repository) HasOpinion(externalID string) (bool, error) {
	var count int64
	err := r.db.Model(&database.Opinion{}).
		Where("external_id = ?", externalID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateJudgeCaseCount recounts a judge's decided cases and persists the
// total onto the judge record.
func (r *Repository) UpdateJudgeCaseCount(judgeID uint) error {
	var count int64
	err := r.db.Model(&database.Case{}).
		Where("judge_id = ? AND status = ?", judgeID, database.CaseStatusDecided).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to count cases for judge %d: %w", judgeID, err)
	}

	err = r.db.Model(&database.Judge{}).
		Where("id = ?", judgeID).
		Update("total_cases", count).Error
	if err != nil {
		return fmt.Errorf("failed to update case count for judge %d: %w", judgeID, err)
	}
	return nil
}

// RefreshAllJudgeCaseCounts recomputes decided-case counts for every judge
// linked to an upstream record. This is the whole of the judge sync step.
func (r *Repository) RefreshAllJudgeCaseCounts() (int, error) {
	var judges []database.Judge
	if err := r.db.Where("external_id IS NOT NULL").Find(&judges).Error; err != nil {
		return 0, fmt.Errorf("failed to list judges: %w", err)
	}

	refreshed := 0
	for _, judge := range judges {
		if err := r.UpdateJudgeCaseCount(judge.ID); err != nil {
			r.logger.Error("Failed to refresh judge case count",
				"judge_id", judge.ID,
				"error", err,
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// mergeCase is the conflict-resolution policy, named so it can be swapped and
// tested without a database: incoming non-empty fields win, existing values
// survive when the incoming field is empty (prefer newest non-null).
func mergeCase(existing, incoming database.Case) database.Case {
	merged := existing

	if incoming.CaseName != "" {
		merged.CaseName = incoming.CaseName
	}
	if incoming.CaseNumber != "" {
		merged.CaseNumber = incoming.CaseNumber
	}
	if incoming.DocketHash != nil {
		merged.DocketHash = incoming.DocketHash
	}
	if incoming.FilingDate != nil {
		merged.FilingDate = incoming.FilingDate
	}
	if incoming.DecisionDate != nil {
		merged.DecisionDate = incoming.DecisionDate
	}
	if incoming.CaseType != "" {
		merged.CaseType = incoming.CaseType
	}
	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if incoming.Outcome != "" {
		merged.Outcome = incoming.Outcome
	}
	if incoming.OutcomeCategory != "" {
		merged.OutcomeCategory = incoming.OutcomeCategory
	}
	if incoming.Summary != "" {
		merged.Summary = incoming.Summary
	}
	if incoming.ExternalID != "" {
		merged.ExternalID = incoming.ExternalID
	}
	if incoming.SourceURL != "" {
		merged.SourceURL = incoming.SourceURL
	}
	if incoming.CourtID != nil {
		merged.CourtID = incoming.CourtID
	}
	return merged
}

// isUniqueViolation detects sqlite unique-constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
