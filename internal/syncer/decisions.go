package syncer

import (
	"context"
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

const (
	defaultBatchSize            = 5
	defaultLookbackDaysFallback = 90
	defaultMaxDecisions         = 50
	defaultMaxFilings           = 100
)

// DecisionSyncOptions controls a decision sync run. All fields are optional.
type DecisionSyncOptions struct {
	// BatchSize is how many judges are processed per batch (default 5).
	BatchSize int `json:"batch_size,omitempty"`
	// Jurisdiction restricts candidate judges to one jurisdiction.
	Jurisdiction string `json:"jurisdiction,omitempty"`
	// LookbackDays overrides the per-judge cursor with now minus N days.
	LookbackDays int `json:"lookback_days,omitempty"`
	// JudgeIDs restricts the run to an explicit candidate list.
	JudgeIDs []uint `json:"judge_ids,omitempty"`
	// MaxDecisionsPerJudge caps decisions applied per judge (default 50).
	MaxDecisionsPerJudge int `json:"max_decisions_per_judge,omitempty"`
	// YearsBack is the cursor fallback for judges with no stored decisions.
	// Zero means a 90-day fallback.
	YearsBack int `json:"years_back,omitempty"`
	// IncludeFilings also syncs docket filings for each judge.
	IncludeFilings bool `json:"include_filings,omitempty"`
	// MaxFilingsPerJudge caps filings applied per judge (default 100).
	MaxFilingsPerJudge int `json:"max_filings_per_judge,omitempty"`
	// FilingLookbackDays overrides the filing cursor with now minus N days.
	FilingLookbackDays int `json:"filing_lookback_days,omitempty"`
	// FilingYearsBack is the filing-cursor fallback, like YearsBack.
	FilingYearsBack int `json:"filing_years_back,omitempty"`
}

// DecisionSyncResult aggregates one decision sync run.
type DecisionSyncResult struct {
	Success          bool          `json:"success"`
	RunID            string        `json:"run_id"`
	JudgesProcessed  int           `json:"judges_processed"`
	DecisionsCreated int           `json:"decisions_created"`
	DecisionsUpdated int           `json:"decisions_updated"`
	DecisionsSkipped int           `json:"decisions_skipped"`
	FilingsCreated   int           `json:"filings_created"`
	FilingsUpdated   int           `json:"filings_updated"`
	FilingsSkipped   int           `json:"filings_skipped"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// judgeStats rolls one judge's counts up into the run result.
type judgeStats struct {
	created, updated, skipped                      int
	filingsCreated, filingsUpdated, filingsSkipped int
}

// DecisionSyncManager orchestrates per-judge decision and filing ingestion.
type DecisionSyncManager struct {
	cfg    *config.Config
	db     *gorm.DB
	client courtlistener.Client
	repo   *Repository
	logger *logger.Logger

	// now is injectable so cursor arithmetic is deterministic in tests.
	now func() time.Time
	// pause is injectable so batch pacing does not slow tests down.
	pause func(time.Duration)
}

func NewDecisionSyncManager(cfg *config.Config, db *gorm.DB, client courtlistener.Client, repo *Repository, log *logger.Logger) *DecisionSyncManager {
	return &DecisionSyncManager{
		cfg:    cfg,
		db:     db,
		client: client,
		repo:   repo,
		logger: log,
		now:    time.Now,
		pause:  time.Sleep,
	}
}

// SyncDecisions runs the full pipeline: candidate selection, batching,
// per-judge cursors, fetch, dedup, upsert, optional filings and judge
// post-processing. Only a failure to enumerate the candidate set aborts the
// run; everything below that degrades per judge or per batch.
func (m *DecisionSyncManager) SyncDecisions(ctx context.Context, opts DecisionSyncOptions) *DecisionSyncResult {
	start := m.now()
	runID := uuid.NewString()
	result := &DecisionSyncResult{RunID: runID}

	startSyncLog(m.db, m.logger, runID, database.JobTypeDecision, opts)
	m.logger.Info("Starting decision sync",
		"run_id", runID,
		"jurisdiction", opts.Jurisdiction,
		"include_filings", opts.IncludeFilings,
	)

	judges, err := m.selectJudges(opts)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to select judges: %v", err))
		result.Duration = m.now().Sub(start)
		finishSyncLog(m.db, m.logger, runID, database.JobStatusFailed, result, err.Error())
		return result
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for batchStart := 0; batchStart < len(judges); batchStart += batchSize {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("run cancelled: %v", err))
			break
		}

		end := batchStart + batchSize
		if end > len(judges) {
			end = len(judges)
		}
		m.syncBatch(ctx, judges[batchStart:end], opts, result)

		if end < len(judges) {
			m.pause(m.cfg.SyncBatchPause)
		}
	}

	result.Duration = m.now().Sub(start)
	result.Success = len(result.Errors) == 0

	status := database.JobStatusCompleted
	errMsg := ""
	if !result.Success {
		status = database.JobStatusFailed
		errMsg = strings.Join(result.Errors, "; ")
	}
	finishSyncLog(m.db, m.logger, runID, status, result, errMsg)

	m.logger.Info("Decision sync finished",
		"run_id", runID,
		"judges", result.JudgesProcessed,
		"created", result.DecisionsCreated,
		"updated", result.DecisionsUpdated,
		"skipped", result.DecisionsSkipped,
		"errors", len(result.Errors),
		"duration", result.Duration.String(),
	)
	return result
}

// selectJudges enumerates candidate judges: linked to an upstream record,
// optionally filtered, capped per run.
func (m *DecisionSyncManager) selectJudges(opts DecisionSyncOptions) ([]database.Judge, error) {
	query := m.db.Where("external_id IS NOT NULL AND external_id != ''")
	if len(opts.JudgeIDs) > 0 {
		query = query.Where("id IN ?", opts.JudgeIDs)
	}
	if opts.Jurisdiction != "" {
		query = query.Where("jurisdiction = ?", opts.Jurisdiction)
	}

	var judges []database.Judge
	if err := query.Limit(m.cfg.MaxJudgesPerRun).Find(&judges).Error; err != nil {
		return nil, err
	}
	return judges, nil
}

// syncBatch processes one batch of judges in list order. A judge failure is
// recorded and skipped; the batch continues.
func (m *DecisionSyncManager) syncBatch(ctx context.Context, judges []database.Judge, opts DecisionSyncOptions, result *DecisionSyncResult) {
	for _, judge := range judges {
		result.JudgesProcessed++

		stats, err := m.syncJudge(ctx, judge, opts)
		if err != nil {
			m.logger.Error("Judge sync failed",
				"judge_id", judge.ID,
				"judge", judge.Name,
				"error", err,
			)
			result.Errors = append(result.Errors, fmt.Sprintf("judge %d: %v", judge.ID, err))
			continue
		}

		result.DecisionsCreated += stats.created
		result.DecisionsUpdated += stats.updated
		result.DecisionsSkipped += stats.skipped
		result.FilingsCreated += stats.filingsCreated
		result.FilingsUpdated += stats.filingsUpdated
		result.FilingsSkipped += stats.filingsSkipped
	}
}

// syncJudge ingests decisions (and optionally filings) for one judge, then
// recomputes the judge's decided-case count.
func (m *DecisionSyncManager) syncJudge(ctx context.Context, judge database.Judge, opts DecisionSyncOptions) (judgeStats, error) {
	var stats judgeStats
	externalID := ""
	if judge.ExternalID != nil {
		externalID = *judge.ExternalID
	}

	since := m.decisionSinceDate(judge.ID, opts)
	yearsBack := yearsSpanning(m.now(), since)

	opinions, err := m.client.GetRecentOpinionsByJudge(ctx, externalID, yearsBack)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch opinions: %w", err)
	}

	maxDecisions := opts.MaxDecisionsPerJudge
	if maxDecisions <= 0 {
		maxDecisions = defaultMaxDecisions
	}

	// Upstream date filtering is treated as advisory; re-filter on the
	// cursor before applying anything.
	applicable := make([]courtlistener.OpinionSummary, 0, len(opinions))
	for _, op := range opinions {
		if op.DateFiled != nil && op.DateFiled.Before(since) {
			continue
		}
		applicable = append(applicable, op)
		if len(applicable) >= maxDecisions {
			break
		}
	}

	keys := make([]string, 0, len(applicable))
	for _, op := range applicable {
		keys = append(keys, decisionKey(op))
	}
	existing, err := m.repo.GetExistingDecisions(judge.ID, keys)
	if err != nil {
		return stats, fmt.Errorf("failed to deduplicate decisions: %w", err)
	}

	jurisdiction := NormalizeJurisdiction(judge.Jurisdiction)
	for i, op := range applicable {
		key := keys[i]

		if caseID, known := existing[key]; known {
			m.ensureOpinionText(ctx, caseID, op)
			stats.updated++
			continue
		}

		caseID, created, err := m.applyDecision(judge, jurisdiction, key, op)
		if err != nil {
			m.logger.Warn("Skipping decision",
				"judge_id", judge.ID,
				"decision_key", key,
				"error", err,
			)
			stats.skipped++
			continue
		}
		m.ensureOpinionText(ctx, caseID, op)

		if created {
			stats.created++
		} else {
			stats.skipped++
		}
	}

	if opts.IncludeFilings {
		if err := m.syncFilings(ctx, judge, jurisdiction, opts, &stats); err != nil {
			// Filing failure degrades the judge, not the run: the
			// decisions above are already applied.
			m.logger.Error("Filing sync failed",
				"judge_id", judge.ID,
				"error", err,
			)
			return stats, fmt.Errorf("filings: %w", err)
		}
	}

	if err := m.repo.UpdateJudgeCaseCount(judge.ID); err != nil {
		m.logger.Warn("Failed to update judge case count",
			"judge_id", judge.ID,
			"error", err,
		)
	}
	return stats, nil
}

// applyDecision normalizes and upserts one decision.
func (m *DecisionSyncManager) applyDecision(judge database.Judge, jurisdiction, key string, op courtlistener.OpinionSummary) (uint, bool, error) {
	if op.CaseName == "" && op.DateFiled == nil {
		return 0, false, fmt.Errorf("record has neither case name nor filing date")
	}

	caseNumber, caseNumberKey := NormalizeCaseNumber("", key)
	hash := CreateDocketHash(DocketHashInput{
		CaseNumberKey: caseNumberKey,
		Jurisdiction:  jurisdiction,
		JudgeID:       judge.ID,
		ExternalID:    key,
		FilingDate:    op.DateFiled,
	})

	outcome, category := NormalizeOutcome(op.PrecedentialStatus)
	rec := DecisionRecord{
		CaseName:        op.CaseName,
		CaseNumber:      caseNumber,
		DocketHash:      hash,
		FilingDate:      op.DateFiled,
		DecisionDate:    op.DateFiled,
		CaseType:        ClassifyCaseType("", "", op.CaseName),
		Status:          database.CaseStatusDecided,
		Outcome:         outcome,
		OutcomeCategory: category,
		ExternalID:      key,
		CourtID:         judge.CourtID,
	}
	return m.repo.UpsertDecision(judge.ID, jurisdiction, rec)
}

// ensureOpinionText lazily creates the opinion row once text is fetched.
// Failures are logged and swallowed: the case row stands on its own.
func (m *DecisionSyncManager) ensureOpinionText(ctx context.Context, caseID uint, op courtlistener.OpinionSummary) {
	opinionID := op.OpinionID
	if opinionID == "" {
		opinionID = op.ID
	}
	if opinionID == "" {
		return
	}

	stored, err := m.repo.HasOpinion(opinionID)
	if err != nil {
		m.logger.Warn("Failed to check opinion", "opinion_id", opinionID, "error", err)
		return
	}
	if stored {
		return
	}

	detail, err := m.client.GetOpinionDetail(ctx, opinionID)
	if err != nil {
		m.logger.Warn("Failed to fetch opinion text", "opinion_id", opinionID, "error", err)
		return
	}

	author := detail.AuthorStr
	if author == "" {
		author = op.AuthorStr
	}
	cluster := op.ClusterID
	if cluster == "" {
		cluster = detail.Cluster
	}
	htmlText := detail.HTMLWithCitations
	if htmlText == "" {
		htmlText = detail.HTML
	}

	opinion := database.Opinion{
		CaseID:      caseID,
		ClusterID:   cluster,
		OpinionType: detail.Type,
		AuthorName:  author,
		PerCuriam:   detail.PerCuriam,
		PlainText:   detail.PlainText,
		HTMLText:    htmlText,
		ExternalID:  opinionID,
	}
	if _, err := m.repo.EnsureOpinion(&opinion); err != nil {
		m.logger.Warn("Failed to save opinion", "opinion_id", opinionID, "error", err)
	}
}

// syncFilings ingests docket filings for one judge, cursored independently on
// filing_date.
func (m *DecisionSyncManager) syncFilings(ctx context.Context, judge database.Judge, jurisdiction string, opts DecisionSyncOptions, stats *judgeStats) error {
	externalID := ""
	if judge.ExternalID != nil {
		externalID = *judge.ExternalID
	}

	since := m.filingSinceDate(judge.ID, opts)
	maxFilings := opts.MaxFilingsPerJudge
	if maxFilings <= 0 {
		maxFilings = defaultMaxFilings
	}

	dockets, err := m.client.GetRecentDocketsByJudge(ctx, externalID, courtlistener.DocketOptions{
		StartDate:  &since,
		MaxRecords: maxFilings,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch dockets: %w", err)
	}

	for _, docket := range dockets {
		if docket.DateFiled != nil && docket.DateFiled.Before(since) {
			continue
		}
		if docket.DocketNumber == "" && docket.ID == "" {
			stats.filingsSkipped++
			continue
		}

		created, err := m.applyFiling(judge, jurisdiction, docket)
		if err != nil {
			m.logger.Warn("Skipping filing",
				"judge_id", judge.ID,
				"docket_id", docket.ID,
				"error", err,
			)
			stats.filingsSkipped++
			continue
		}
		if created {
			stats.filingsCreated++
		} else {
			stats.filingsUpdated++
		}
	}
	return nil
}

// applyFiling normalizes and upserts one docket filing. Case status, outcome
// and summary are derived from docket fields.
func (m *DecisionSyncManager) applyFiling(judge database.Judge, jurisdiction string, docket courtlistener.Docket) (bool, error) {
	caseNumber, caseNumberKey := NormalizeCaseNumber(docket.DocketNumber, docket.ID)
	if caseNumber == "" {
		return false, fmt.Errorf("filing has no derivable case number")
	}

	hash := CreateDocketHash(DocketHashInput{
		CaseNumberKey: caseNumberKey,
		Jurisdiction:  jurisdiction,
		JudgeID:       judge.ID,
		ExternalID:    docket.ID,
		FilingDate:    docket.DateFiled,
	})

	status := database.CaseStatusPending
	var decisionDate *time.Time
	if docket.DateTerminated != nil {
		status = database.CaseStatusDecided
		decisionDate = docket.DateTerminated
	}

	outcome, category := NormalizeOutcome(docket.Status)
	if docket.DateTerminated == nil && docket.Status == "" {
		outcome, category = "Pending", "pending"
	}
	switch category {
	case "settled":
		status = database.CaseStatusSettled
	case "dismissed":
		status = database.CaseStatusDismissed
	}

	rec := DecisionRecord{
		CaseName:        docket.CaseName,
		CaseNumber:      caseNumber,
		DocketHash:      hash,
		FilingDate:      docket.DateFiled,
		DecisionDate:    decisionDate,
		CaseType:        ClassifyCaseType(docket.NatureOfSuit, docket.JurisdictionType, docket.CaseName),
		Status:          status,
		Outcome:         outcome,
		OutcomeCategory: category,
		Summary:         filingSummary(docket),
		ExternalID:      "docket-" + docket.ID,
		SourceURL:       docket.AbsoluteURL,
		CourtID:         judge.CourtID,
	}

	_, created, err := m.repo.UpsertDecision(judge.ID, jurisdiction, rec)
	return created, err
}

// decisionSinceDate computes the per-judge since-date cursor for decisions:
// an explicit lookback override wins; otherwise resume the day after the most
// recent stored decision; otherwise fall back to the years-back window or 90
// days.
func (m *DecisionSyncManager) decisionSinceDate(judgeID uint, opts DecisionSyncOptions) time.Time {
	if opts.LookbackDays > 0 {
		return dateOnly(m.now().AddDate(0, 0, -opts.LookbackDays))
	}

	// Read the newest stored decision as a row, not MAX(): the sqlite driver
	// hands aggregate results back as strings that do not scan into a time.
	var latest database.Case
	err := m.db.Select("decision_date").
		Where("judge_id = ? AND decision_date IS NOT NULL", judgeID).
		Order("decision_date DESC").
		First(&latest).Error
	switch {
	case err == nil && latest.DecisionDate != nil:
		return dateOnly(latest.DecisionDate.AddDate(0, 0, 1))
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		m.logger.Warn("Failed to read decision cursor, using fallback window",
			"judge_id", judgeID,
			"error", err,
		)
	}

	if opts.YearsBack > 0 {
		return dateOnly(m.now().AddDate(-opts.YearsBack, 0, 0))
	}
	return dateOnly(m.now().AddDate(0, 0, -defaultLookbackDaysFallback))
}

// filingSinceDate mirrors decisionSinceDate on filing_date, independent of
// the decision cursor.
func (m *DecisionSyncManager) filingSinceDate(judgeID uint, opts DecisionSyncOptions) time.Time {
	if opts.FilingLookbackDays > 0 {
		return dateOnly(m.now().AddDate(0, 0, -opts.FilingLookbackDays))
	}

	var latest database.Case
	err := m.db.Select("filing_date").
		Where("judge_id = ? AND filing_date IS NOT NULL", judgeID).
		Order("filing_date DESC").
		First(&latest).Error
	switch {
	case err == nil && latest.FilingDate != nil:
		return dateOnly(latest.FilingDate.AddDate(0, 0, 1))
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		m.logger.Warn("Failed to read filing cursor, using fallback window",
			"judge_id", judgeID,
			"error", err,
		)
	}

	if opts.FilingYearsBack > 0 {
		return dateOnly(m.now().AddDate(-opts.FilingYearsBack, 0, 0))
	}
	return dateOnly(m.now().AddDate(0, 0, -defaultLookbackDaysFallback))
}

// decisionKey derives the stable dedup key for one upstream decision:
// external opinion id, else decision id, else cluster reference, else a
// content fallback.
func decisionKey(op courtlistener.OpinionSummary) string {
	if op.OpinionID != "" {
		return "op-" + op.OpinionID
	}
	if op.ID != "" {
		return "op-" + op.ID
	}
	if op.ClusterID != "" {
		return "cluster-" + op.ClusterID
	}
	date := ""
	if op.DateFiled != nil {
		date = op.DateFiled.Format("2006-01-02")
	}
	_, nameKey := NormalizeCaseNumber(op.CaseName, "")
	return "case-" + nameKey + "-" + date
}

// filingSummary renders the human-readable docket summary.
func filingSummary(docket courtlistener.Docket) string {
	parts := make([]string, 0, 4)
	if docket.NatureOfSuit != "" {
		parts = append(parts, "Nature of suit: "+docket.NatureOfSuit)
	}
	if docket.AssignedToStr != "" {
		parts = append(parts, "Assigned to "+docket.AssignedToStr)
	}
	if docket.DocketEntriesCount > 0 {
		parts = append(parts, fmt.Sprintf("%d docket entries", docket.DocketEntriesCount))
	}
	if docket.DateLastFiling != nil {
		parts = append(parts, "Last filing "+docket.DateLastFiling.Format("2006-01-02"))
	}
	return strings.Join(parts, ". ")
}

// yearsSpanning converts a cursor into the whole-year window the upstream
// opinion search accepts, rounding up so the cursor date is always covered.
func yearsSpanning(now, since time.Time) int {
	years := 1
	for now.AddDate(-years, 0, 0).After(since) {
		years++
	}
	return years
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
