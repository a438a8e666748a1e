package courtlistener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

// ErrTransient marks upstream failures worth retrying: network errors,
// rate limiting and server-side errors. Queue-level retry keys off it.
var ErrTransient = errors.New("transient upstream error")

// Client is the upstream judicial-records API consumed by the sync managers.
type Client interface {
	ListCourts(ctx context.Context, cursor, ordering string) (*CourtPage, error)
	GetRecentOpinionsByJudge(ctx context.Context, externalJudgeID string, yearsBack int) ([]OpinionSummary, error)
	GetRecentDocketsByJudge(ctx context.Context, externalJudgeID string, opts DocketOptions) ([]Docket, error)
	GetOpinionDetail(ctx context.Context, opinionID string) (*OpinionDetail, error)
}

// HTTPClient talks to the CourtListener REST API.
type HTTPClient struct {
	cfg          *config.Config
	httpClient   *http.Client
	logger       *logger.Logger
	opinionCache *gocache.Cache
}

// NewClient creates an upstream client with a TTL cache for opinion detail
// responses. Opinion text is immutable upstream, so re-fetching it within a
// run (or across retries) is pure waste.
func NewClient(cfg *config.Config, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:       log,
		opinionCache: gocache.New(cfg.CacheTTL, cfg.CacheTTL*2),
	}
}

func (c *HTTPClient) ListCourts(ctx context.Context, cursor, ordering string) (*CourtPage, error) {
	endpoint := cursor
	if endpoint == "" {
		q := url.Values{}
		if ordering != "" {
			q.Set("order_by", ordering)
		}
		endpoint = c.cfg.APIBaseURL + "/courts/?" + q.Encode()
	}

	var page CourtPage
	if err := c.getJSON(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

type opinionSearchResponse struct {
	Results []struct {
		ID                 json.Number `json:"id"`
		Cluster            string      `json:"cluster"`
		ClusterID          json.Number `json:"cluster_id"`
		CaseName           string      `json:"case_name"`
		DateFiled          string      `json:"date_filed"`
		PrecedentialStatus string      `json:"precedential_status"`
		AuthorStr          string      `json:"author_str"`
		OpinionID          json.Number `json:"opinion_id"`
	} `json:"results"`
}

func (c *HTTPClient) GetRecentOpinionsByJudge(ctx context.Context, externalJudgeID string, yearsBack int) ([]OpinionSummary, error) {
	since := time.Now().AddDate(-yearsBack, 0, 0).Format("2006-01-02")
	q := url.Values{}
	q.Set("author", externalJudgeID)
	q.Set("date_filed__gte", since)
	q.Set("order_by", "date_filed")
	endpoint := c.cfg.APIBaseURL + "/opinions/?" + q.Encode()

	var resp opinionSearchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	opinions := make([]OpinionSummary, 0, len(resp.Results))
	for _, r := range resp.Results {
		opinions = append(opinions, OpinionSummary{
			ID:                 r.ID.String(),
			ClusterID:          r.ClusterID.String(),
			CaseName:           r.CaseName,
			DateFiled:          parseDate(r.DateFiled),
			PrecedentialStatus: r.PrecedentialStatus,
			AuthorStr:          r.AuthorStr,
			OpinionID:          r.OpinionID.String(),
		})
	}
	return opinions, nil
}

type docketSearchResponse struct {
	Results []struct {
		ID                 json.Number `json:"id"`
		CaseName           string      `json:"case_name"`
		DocketNumber       string      `json:"docket_number"`
		PacerCaseID        string      `json:"pacer_case_id"`
		DateFiled          string      `json:"date_filed"`
		DateTerminated     string      `json:"date_terminated"`
		DateLastFiling     string      `json:"date_last_filing"`
		NatureOfSuit       string      `json:"nature_of_suit"`
		JurisdictionType   string      `json:"jurisdiction_type"`
		Status             string      `json:"status"`
		AbsoluteURL        string      `json:"absolute_url"`
		AssignedToStr      string      `json:"assigned_to_str"`
		DocketEntriesCount int         `json:"docket_entries_count"`
	} `json:"results"`
	Next string `json:"next"`
}

func (c *HTTPClient) GetRecentDocketsByJudge(ctx context.Context, externalJudgeID string, opts DocketOptions) ([]Docket, error) {
	var since string
	switch {
	case opts.StartDate != nil:
		since = opts.StartDate.Format("2006-01-02")
	case opts.YearsBack > 0:
		since = time.Now().AddDate(-opts.YearsBack, 0, 0).Format("2006-01-02")
	default:
		since = time.Now().AddDate(-1, 0, 0).Format("2006-01-02")
	}

	q := url.Values{}
	q.Set("assigned_to", externalJudgeID)
	q.Set("date_filed__gte", since)
	q.Set("order_by", "date_filed")
	endpoint := c.cfg.APIBaseURL + "/dockets/?" + q.Encode()

	var dockets []Docket
	for endpoint != "" {
		var resp docketSearchResponse
		if err := c.getJSON(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			dockets = append(dockets, Docket{
				ID:                 r.ID.String(),
				CaseName:           r.CaseName,
				DocketNumber:       r.DocketNumber,
				PacerCaseID:        r.PacerCaseID,
				DateFiled:          parseDate(r.DateFiled),
				DateTerminated:     parseDate(r.DateTerminated),
				DateLastFiling:     parseDate(r.DateLastFiling),
				NatureOfSuit:       r.NatureOfSuit,
				JurisdictionType:   r.JurisdictionType,
				Status:             r.Status,
				AbsoluteURL:        r.AbsoluteURL,
				AssignedToStr:      r.AssignedToStr,
				DocketEntriesCount: r.DocketEntriesCount,
			})
			if opts.MaxRecords > 0 && len(dockets) >= opts.MaxRecords {
				return dockets, nil
			}
		}
		endpoint = resp.Next
		if endpoint != "" {
			// Pace multi-page fetches the same way court listing does
			time.Sleep(c.cfg.CourtPagePause)
		}
	}
	return dockets, nil
}

type opinionDetailResponse struct {
	ID                json.Number `json:"id"`
	PlainText         string      `json:"plain_text"`
	HTML              string      `json:"html"`
	HTMLWithCitations string      `json:"html_with_citations"`
	AuthorStr         string      `json:"author_str"`
	DateCreated       string      `json:"date_created"`
	Cluster           string      `json:"cluster"`
	Type              string      `json:"type"`
	PerCuriam         bool        `json:"per_curiam"`
}

func (c *HTTPClient) GetOpinionDetail(ctx context.Context, opinionID string) (*OpinionDetail, error) {
	if cached, found := c.opinionCache.Get(opinionID); found {
		if detail, ok := cached.(*OpinionDetail); ok {
			return detail, nil
		}
	}

	endpoint := c.cfg.APIBaseURL + "/opinions/" + url.PathEscape(opinionID) + "/"
	var resp opinionDetailResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	detail := &OpinionDetail{
		ID:                resp.ID.String(),
		PlainText:         resp.PlainText,
		HTML:              resp.HTML,
		HTMLWithCitations: resp.HTMLWithCitations,
		AuthorStr:         resp.AuthorStr,
		DateCreated:       parseDate(resp.DateCreated),
		Cluster:           resp.Cluster,
		Type:              resp.Type,
		PerCuriam:         resp.PerCuriam,
	}
	// go-cache only evicts on TTL, so the count bound is enforced here.
	if c.cfg.CacheSize <= 0 || c.opinionCache.ItemCount() < c.cfg.CacheSize {
		c.opinionCache.Set(opinionID, detail, gocache.DefaultExpiration)
	}
	return detail, nil
}

// getJSON performs an authenticated GET and decodes the JSON body.
func (c *HTTPClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.logger.Warn("Upstream returned retryable status",
			"status", resp.StatusCode,
			"url", endpoint,
		)
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream request failed: status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseDate handles the date and datetime formats the upstream mixes freely.
func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05.999999Z07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// CacheStats reports opinion cache occupancy for the health endpoint.
func (c *HTTPClient) CacheStats() map[string]int {
	return map[string]int{"opinion_items": c.opinionCache.ItemCount()}
}

var _ Client = (*HTTPClient)(nil)
