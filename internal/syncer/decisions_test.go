package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/internal/courtlistener"
	"github.com/judgefinder/judge-sync/internal/database"
)

// fakeClient is an in-memory upstream fixture.
type fakeClient struct {
	opinions map[string][]courtlistener.OpinionSummary
	dockets  map[string][]courtlistener.Docket
	details  map[string]*courtlistener.OpinionDetail
	failFor  map[string]error
	pages    []courtlistener.CourtPage
	pageIdx  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		opinions: make(map[string][]courtlistener.OpinionSummary),
		dockets:  make(map[string][]courtlistener.Docket),
		details:  make(map[string]*courtlistener.OpinionDetail),
		failFor:  make(map[string]error),
	}
}

func (f *fakeClient) ListCourts(ctx context.Context, cursor, ordering string) (*courtlistener.CourtPage, error) {
	if f.pageIdx >= len(f.pages) {
		return &courtlistener.CourtPage{}, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return &page, nil
}

func (f *fakeClient) GetRecentOpinionsByJudge(ctx context.Context, externalJudgeID string, yearsBack int) ([]courtlistener.OpinionSummary, error) {
	if err, ok := f.failFor[externalJudgeID]; ok {
		return nil, err
	}
	return f.opinions[externalJudgeID], nil
}

func (f *fakeClient) GetRecentDocketsByJudge(ctx context.Context, externalJudgeID string, opts courtlistener.DocketOptions) ([]courtlistener.Docket, error) {
	if err, ok := f.failFor[externalJudgeID]; ok {
		return nil, err
	}
	return f.dockets[externalJudgeID], nil
}

func (f *fakeClient) GetOpinionDetail(ctx context.Context, opinionID string) (*courtlistener.OpinionDetail, error) {
	if detail, ok := f.details[opinionID]; ok {
		return detail, nil
	}
	return &courtlistener.OpinionDetail{
		ID:        opinionID,
		PlainText: "opinion text for " + opinionID,
		Type:      "majority",
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SyncBatchSize:   5,
		SyncBatchPause:  0,
		MaxJudgesPerRun: 100,
		CourtMaxPages:   5,
		CourtPagePause:  0,
		JobMaxRetries:   3,
	}
}

func newTestDecisionManager(t *testing.T, db *gorm.DB, client courtlistener.Client) *DecisionSyncManager {
	t.Helper()
	log := testLogger(t)
	repo := NewRepository(db, log)
	m := NewDecisionSyncManager(testConfig(), db, client, repo, log)
	m.pause = func(time.Duration) {}
	return m
}

func daysAgo(n int) *time.Time {
	t := time.Now().AddDate(0, 0, -n)
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func TestSyncDecisionsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	judge := createTestJudge(t, db, "j-100")

	client := newFakeClient()
	client.opinions["j-100"] = []courtlistener.OpinionSummary{
		{ID: "1", OpinionID: "1", ClusterID: "c1", CaseName: "Smith v. Jones", DateFiled: daysAgo(20)},
		{ID: "2", OpinionID: "2", ClusterID: "c2", CaseName: "Doe v. Roe", DateFiled: daysAgo(10)},
	}

	m := newTestDecisionManager(t, db, client)
	opts := DecisionSyncOptions{LookbackDays: 60}

	first := m.SyncDecisions(context.Background(), opts)
	if !first.Success {
		t.Fatalf("first run failed: %v", first.Errors)
	}
	if first.DecisionsCreated != 2 {
		t.Errorf("first run created = %d, want 2", first.DecisionsCreated)
	}

	second := m.SyncDecisions(context.Background(), opts)
	if !second.Success {
		t.Fatalf("second run failed: %v", second.Errors)
	}
	if second.DecisionsCreated != 0 {
		t.Errorf("second run created = %d, want 0", second.DecisionsCreated)
	}
	if second.DecisionsUpdated != 2 {
		t.Errorf("second run updated = %d, want 2", second.DecisionsUpdated)
	}

	var cases, opinions int64
	db.Model(&database.Case{}).Count(&cases)
	db.Model(&database.Opinion{}).Count(&opinions)
	if cases != 2 {
		t.Errorf("case count = %d, want 2 after re-run", cases)
	}
	if opinions != 2 {
		t.Errorf("opinion count = %d, want 2 after re-run", opinions)
	}

	var stored database.Judge
	db.First(&stored, judge.ID)
	if stored.TotalCases != 2 {
		t.Errorf("judge TotalCases = %d, want 2", stored.TotalCases)
	}
}

func TestSyncDecisionsIsolatesJudgeFailure(t *testing.T) {
	db := setupTestDB(t)
	client := newFakeClient()

	for i := 1; i <= 5; i++ {
		extID := fmt.Sprintf("j-%d", i)
		createTestJudge(t, db, extID)
		client.opinions[extID] = []courtlistener.OpinionSummary{
			{OpinionID: fmt.Sprintf("op-%d", i), CaseName: fmt.Sprintf("Case %d", i), DateFiled: daysAgo(5)},
		}
	}
	client.failFor["j-3"] = fmt.Errorf("%w: connection reset", courtlistener.ErrTransient)

	m := newTestDecisionManager(t, db, client)
	result := m.SyncDecisions(context.Background(), DecisionSyncOptions{LookbackDays: 30})

	if result.JudgesProcessed != 5 {
		t.Errorf("JudgesProcessed = %d, want 5", result.JudgesProcessed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", result.Errors)
	}
	if result.DecisionsCreated != 4 {
		t.Errorf("DecisionsCreated = %d, want 4 (failing judge excluded)", result.DecisionsCreated)
	}
	if result.Success {
		t.Error("run with errors must not report success")
	}
}

func TestDecisionSinceDateCursor(t *testing.T) {
	now := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)

	t.Run("explicit lookback override", func(t *testing.T) {
		db := setupTestDB(t)
		m := newTestDecisionManager(t, db, newFakeClient())
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		got := m.decisionSinceDate(judge.ID, DecisionSyncOptions{LookbackDays: 30})
		want := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want %v", got, want)
		}
	})

	t.Run("no history uses years-back window", func(t *testing.T) {
		db := setupTestDB(t)
		m := newTestDecisionManager(t, db, newFakeClient())
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		got := m.decisionSinceDate(judge.ID, DecisionSyncOptions{YearsBack: 5})
		want := time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want %v", got, want)
		}
	})

	t.Run("no history and no years-back falls back to 90 days", func(t *testing.T) {
		db := setupTestDB(t)
		m := newTestDecisionManager(t, db, newFakeClient())
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		got := m.decisionSinceDate(judge.ID, DecisionSyncOptions{})
		want := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want %v", got, want)
		}
	})

	t.Run("resumes the day after the latest stored decision", func(t *testing.T) {
		db := setupTestDB(t)
		m := newTestDecisionManager(t, db, newFakeClient())
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		latest := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
		earlier := latest.AddDate(0, -2, 0)
		for i, d := range []time.Time{earlier, latest} {
			c := database.Case{
				JudgeID:      judge.ID,
				CaseNumber:   fmt.Sprintf("R-%d", i),
				Jurisdiction: "CA",
				DecisionDate: &d,
			}
			if err := db.Create(&c).Error; err != nil {
				t.Fatalf("failed to seed case: %v", err)
			}
		}

		got := m.decisionSinceDate(judge.ID, DecisionSyncOptions{})
		want := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want %v", got, want)
		}
	})

	t.Run("resumes after a pipeline run", func(t *testing.T) {
		db := setupTestDB(t)
		client := newFakeClient()
		filed := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
		client.opinions["j-1"] = []courtlistener.OpinionSummary{
			{OpinionID: "op-77", CaseName: "Recent v. Matter", DateFiled: &filed},
		}
		m := newTestDecisionManager(t, db, client)
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		result := m.SyncDecisions(context.Background(), DecisionSyncOptions{LookbackDays: 60})
		if result.DecisionsCreated != 1 {
			t.Fatalf("created = %d, want the fixture applied", result.DecisionsCreated)
		}

		got := m.decisionSinceDate(judge.ID, DecisionSyncOptions{})
		want := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want the day after the synced decision", got)
		}
	})
}

func TestFilingSinceDateCursor(t *testing.T) {
	now := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)

	t.Run("resumes the day after the latest stored filing", func(t *testing.T) {
		db := setupTestDB(t)
		m := newTestDecisionManager(t, db, newFakeClient())
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		filed := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
		c := database.Case{
			JudgeID:      judge.ID,
			CaseNumber:   "F-1",
			Jurisdiction: "CA",
			FilingDate:   &filed,
		}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("failed to seed case: %v", err)
		}

		got := m.filingSinceDate(judge.ID, DecisionSyncOptions{})
		want := time.Date(2026, 7, 11, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want %v", got, want)
		}
	})

	t.Run("no history falls back to 90 days", func(t *testing.T) {
		db := setupTestDB(t)
		m := newTestDecisionManager(t, db, newFakeClient())
		m.now = func() time.Time { return now }
		judge := createTestJudge(t, db, "j-1")

		got := m.filingSinceDate(judge.ID, DecisionSyncOptions{})
		want := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("cursor = %v, want %v", got, want)
		}
	})
}

func TestSyncDecisionsFiltersBeforeCursor(t *testing.T) {
	db := setupTestDB(t)
	createTestJudge(t, db, "j-1")

	client := newFakeClient()
	// Upstream filtering is advisory: return one stale record too.
	client.opinions["j-1"] = []courtlistener.OpinionSummary{
		{OpinionID: "old", CaseName: "Stale v. Case", DateFiled: daysAgo(400)},
		{OpinionID: "new", CaseName: "Fresh v. Case", DateFiled: daysAgo(3)},
	}

	m := newTestDecisionManager(t, db, client)
	result := m.SyncDecisions(context.Background(), DecisionSyncOptions{LookbackDays: 30})

	if result.DecisionsCreated != 1 {
		t.Errorf("DecisionsCreated = %d, want 1 (stale record filtered)", result.DecisionsCreated)
	}
}

func TestSyncFilings(t *testing.T) {
	db := setupTestDB(t)
	createTestJudge(t, db, "j-1")

	terminated := daysAgo(4)
	client := newFakeClient()
	client.dockets["j-1"] = []courtlistener.Docket{
		{
			ID:                 "d-900",
			CaseName:           "Acme Corp v. Widget Co",
			DocketNumber:       "3:26-cv-00777",
			DateFiled:          daysAgo(25),
			DateTerminated:     terminated,
			NatureOfSuit:       "Contract Dispute",
			AssignedToStr:      "Hon. Test Judge",
			DocketEntriesCount: 12,
			AbsoluteURL:        "/docket/d-900/",
		},
		{
			ID:           "d-901",
			CaseName:     "Open Matter v. Pending Co",
			DocketNumber: "3:26-cv-00778",
			DateFiled:    daysAgo(8),
			Status:       "Pending scheduling",
		},
	}

	m := newTestDecisionManager(t, db, client)
	opts := DecisionSyncOptions{
		LookbackDays:       30,
		IncludeFilings:     true,
		FilingLookbackDays: 30,
	}

	result := m.SyncDecisions(context.Background(), opts)
	if !result.Success {
		t.Fatalf("run failed: %v", result.Errors)
	}
	if result.FilingsCreated != 2 {
		t.Errorf("FilingsCreated = %d, want 2", result.FilingsCreated)
	}

	var closed database.Case
	if err := db.Where("case_number = ?", "3:26-CV-00777").First(&closed).Error; err != nil {
		t.Fatalf("terminated case not stored: %v", err)
	}
	if closed.Status != database.CaseStatusDecided {
		t.Errorf("terminated docket status = %q, want decided", closed.Status)
	}
	if closed.DecisionDate == nil || !closed.DecisionDate.Equal(*terminated) {
		t.Errorf("decision date = %v, want termination date", closed.DecisionDate)
	}
	if closed.CaseType != "civil" {
		t.Errorf("case type = %q, want civil", closed.CaseType)
	}
	if closed.DocketHash == nil || *closed.DocketHash == "" {
		t.Error("filing should carry a docket hash")
	}

	var open database.Case
	if err := db.Where("case_number = ?", "3:26-CV-00778").First(&open).Error; err != nil {
		t.Fatalf("open case not stored: %v", err)
	}
	if open.Status != database.CaseStatusPending {
		t.Errorf("open docket status = %q, want pending", open.Status)
	}

	// Re-run: both filings resolve to existing rows.
	again := m.SyncDecisions(context.Background(), opts)
	if again.FilingsCreated != 0 {
		t.Errorf("re-run FilingsCreated = %d, want 0", again.FilingsCreated)
	}
	if again.FilingsUpdated != 2 {
		t.Errorf("re-run FilingsUpdated = %d, want 2", again.FilingsUpdated)
	}
}

func TestSyncDecisionsWritesSyncLog(t *testing.T) {
	db := setupTestDB(t)
	createTestJudge(t, db, "j-1")

	m := newTestDecisionManager(t, db, newFakeClient())
	result := m.SyncDecisions(context.Background(), DecisionSyncOptions{})

	var entry database.SyncLog
	if err := db.Where("run_id = ?", result.RunID).First(&entry).Error; err != nil {
		t.Fatalf("sync log row missing: %v", err)
	}
	if entry.Status != database.JobStatusCompleted {
		t.Errorf("sync log status = %q, want completed", entry.Status)
	}
	if entry.CompletedAt == nil {
		t.Error("sync log should record completion time")
	}
	if entry.Type != database.JobTypeDecision {
		t.Errorf("sync log type = %q, want decision", entry.Type)
	}
}

func TestSelectJudgesFilters(t *testing.T) {
	db := setupTestDB(t)
	m := newTestDecisionManager(t, db, newFakeClient())

	linked := createTestJudge(t, db, "j-1")
	unlinked := database.Judge{Name: "No Upstream Link", Jurisdiction: "CA"}
	if err := db.Create(&unlinked).Error; err != nil {
		t.Fatalf("failed to seed judge: %v", err)
	}
	nyID := "j-2"
	ny := database.Judge{Name: "NY Judge", Jurisdiction: "NY", ExternalID: &nyID}
	if err := db.Create(&ny).Error; err != nil {
		t.Fatalf("failed to seed judge: %v", err)
	}

	all, err := m.selectJudges(DecisionSyncOptions{})
	if err != nil {
		t.Fatalf("selectJudges failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("candidates = %d, want 2 (unlinked judge excluded)", len(all))
	}

	caOnly, err := m.selectJudges(DecisionSyncOptions{Jurisdiction: "CA"})
	if err != nil {
		t.Fatalf("selectJudges failed: %v", err)
	}
	if len(caOnly) != 1 || caOnly[0].ID != linked.ID {
		t.Errorf("jurisdiction filter returned %v, want only the CA judge", caOnly)
	}

	explicit, err := m.selectJudges(DecisionSyncOptions{JudgeIDs: []uint{ny.ID}})
	if err != nil {
		t.Fatalf("selectJudges failed: %v", err)
	}
	if len(explicit) != 1 || explicit[0].ID != ny.ID {
		t.Errorf("explicit id filter returned %v, want only the NY judge", explicit)
	}
}

func TestSyncDecisionsTransientErrorTyped(t *testing.T) {
	db := setupTestDB(t)
	createTestJudge(t, db, "j-1")

	client := newFakeClient()
	client.failFor["j-1"] = fmt.Errorf("%w: 429", courtlistener.ErrTransient)

	m := newTestDecisionManager(t, db, client)
	_, err := m.syncJudge(context.Background(), mustLoadJudge(t, db), DecisionSyncOptions{})
	if !errors.Is(err, courtlistener.ErrTransient) {
		t.Errorf("err = %v, want a transient upstream error", err)
	}
}

func mustLoadJudge(t *testing.T, db *gorm.DB) database.Judge {
	t.Helper()
	var judge database.Judge
	if err := db.First(&judge).Error; err != nil {
		t.Fatalf("failed to load judge: %v", err)
	}
	return judge
}
