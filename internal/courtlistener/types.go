package courtlistener

import "time"

// CourtRecord is one court from the upstream court list.
type CourtRecord struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	ShortName      string `json:"short_name"`
	Jurisdiction   string `json:"jurisdiction"`
	URL            string `json:"url"`
	CitationString string `json:"citation_string"`
}

// CourtPage is one page of the paginated court list.
type CourtPage struct {
	Results []CourtRecord `json:"results"`
	Next    string        `json:"next"`
}

// OpinionSummary is a search result row for a judge's authored opinions.
type OpinionSummary struct {
	ID                 string
	ClusterID          string
	CaseName           string
	DateFiled          *time.Time
	PrecedentialStatus string
	AuthorStr          string
	OpinionID          string
}

// Docket is the upstream procedural record of a case.
type Docket struct {
	ID                 string
	CaseName           string
	DocketNumber       string
	PacerCaseID        string
	DateFiled          *time.Time
	DateTerminated     *time.Time
	DateLastFiling     *time.Time
	NatureOfSuit       string
	JurisdictionType   string
	Status             string
	AbsoluteURL        string
	AssignedToStr      string
	DocketEntriesCount int
}

// OpinionDetail is the full opinion record including text.
type OpinionDetail struct {
	ID                string
	PlainText         string
	HTML              string
	HTMLWithCitations string
	AuthorStr         string
	DateCreated       *time.Time
	Cluster           string
	Type              string
	PerCuriam         bool
}

// DocketOptions controls a per-judge docket fetch.
type DocketOptions struct {
	StartDate  *time.Time
	YearsBack  int
	MaxRecords int
}
