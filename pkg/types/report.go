// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReportHeader holds the fields every stage report carries.
type ReportHeader struct {
	// ReportID is "<prefix>_<YYYYMMDD_HHMMSS>", unique within the stage.
	ReportID string `json:"report_id" yaml:"report_id"`

	// State is the resumption marker persisted alongside the report.
	State ReportState `json:"state" yaml:"state"`

	// Status is the human-readable outcome of the stage run.
	Status string `json:"status" yaml:"status"`

	// CreatedAt is the RFC 3339 creation time.
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

// Gap is a knowledge deficiency identified by the analyst and filled in by
// the researcher.
type Gap struct {
	GapID         string   `json:"gap_id" yaml:"gap_id"`
	Description   string   `json:"description" yaml:"description"`
	ResearchTopic string   `json:"research_topic" yaml:"research_topic"`
	Searches      []Search `json:"searches" yaml:"searches"`
	Complete      bool     `json:"complete" yaml:"complete"`
}

// UnmarshalJSON accepts a numeric gap_id.
func (g *Gap) UnmarshalJSON(data []byte) error {
	type plain Gap
	var raw struct {
		plain
		GapID flexString `json:"gap_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = Gap(raw.plain)
	g.GapID = string(raw.GapID)
	return nil
}

// Search is one research query attempt and its raw results.
type Search struct {
	SearchID   string         `json:"search_id" yaml:"search_id"`
	Rationale  string         `json:"rationale" yaml:"rationale"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
	Results    []SearchHit    `json:"results" yaml:"results"`
}

// UnmarshalJSON accepts a numeric search_id and a bare query string as
// parameters.
func (s *Search) UnmarshalJSON(data []byte) error {
	type plain Search
	var raw struct {
		plain
		SearchID   flexString `json:"search_id"`
		Parameters flexParams `json:"parameters"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Search(raw.plain)
	s.SearchID = string(raw.SearchID)
	s.Parameters = raw.Parameters
	return nil
}

// SearchHit is one raw search result. Models emit either a bare URL string
// or an object; both decode into SearchHit.
type SearchHit struct {
	URL     string `json:"url" yaml:"url"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`
}

// UnmarshalJSON accepts "http://..." or {"url"|"link": ..., "title": ..., "snippet": ...}.
func (h *SearchHit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*h = SearchHit{URL: strings.TrimSpace(s)}
		return nil
	}
	var obj struct {
		URL     string `json:"url"`
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("search result must be a URL string or object: %w", err)
	}
	url := obj.URL
	if url == "" {
		url = obj.Link
	}
	*h = SearchHit{URL: url, Title: obj.Title, Snippet: obj.Snippet}
	return nil
}

// MarshalJSON writes a bare string when only the URL is known.
func (h SearchHit) MarshalJSON() ([]byte, error) {
	if h.Title == "" && h.Snippet == "" {
		return json.Marshal(h.URL)
	}
	type plain SearchHit
	return json.Marshal(plain(h))
}

// AnalystReport lists the gaps found in the knowledge base.
type AnalystReport struct {
	ReportHeader         `yaml:",inline"`
	KnowledgeBaseSummary string `json:"knowledge_base_summary" yaml:"knowledge_base_summary"`
	Gaps                 []Gap  `json:"gaps" yaml:"gaps"`
}

// ResearcherReport carries one entry per analyst gap, each with its searches.
type ResearcherReport struct {
	ReportHeader    `yaml:",inline"`
	AnalystReportID string `json:"analyst_report_id" yaml:"analyst_report_id"`
	Gaps            []Gap  `json:"gaps" yaml:"gaps"`
}

// Ingestion outcomes recorded per URL.
const (
	IngestSuccess = "success"
	IngestFailure = "failure"
)

// IngestionStatus records the ingestion outcome for one URL.
type IngestionStatus struct {
	URL    string `json:"url" yaml:"url"`
	Status string `json:"status" yaml:"status"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Succeeded reports whether the URL was ingested.
func (s IngestionStatus) Succeeded() bool {
	return s.Status == IngestSuccess
}

// CuratorReport holds the ranked URLs and their ingestion outcomes.
type CuratorReport struct {
	ReportHeader       `yaml:",inline"`
	ResearcherReportID string            `json:"researcher_report_id" yaml:"researcher_report_id"`
	RankedSearchIDs    []string          `json:"ranked_search_ids" yaml:"ranked_search_ids"`
	URLsForIngestion   []string          `json:"urls_for_ingestion" yaml:"urls_for_ingestion"`
	URLIngestionStatus []IngestionStatus `json:"url_ingestion_status" yaml:"url_ingestion_status"`
}

// Issue is one data quality problem found by the auditor.
type Issue struct {
	IssueID     string   `json:"issue_id" yaml:"issue_id"`
	Kind        string   `json:"kind" yaml:"kind"`
	Description string   `json:"description" yaml:"description"`
	Entities    []string `json:"entities,omitempty" yaml:"entities,omitempty"`
	Severity    string   `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// UnmarshalJSON accepts a numeric issue_id or severity, and entities given
// as objects or a single name.
func (i *Issue) UnmarshalJSON(data []byte) error {
	type plain Issue
	var raw struct {
		plain
		IssueID  flexString `json:"issue_id"`
		Severity flexString `json:"severity"`
		Entities entityList `json:"entities"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Issue(raw.plain)
	i.IssueID = string(raw.IssueID)
	i.Severity = string(raw.Severity)
	i.Entities = raw.Entities
	return nil
}

// AuditorReport lists the quality issues found in the knowledge store.
type AuditorReport struct {
	ReportHeader `yaml:",inline"`
	Summary      string  `json:"summary" yaml:"summary"`
	Issues       []Issue `json:"issues" yaml:"issues"`
}

// Approval records the human-approval gate for a fixer plan.
type Approval struct {
	Requested bool   `json:"requested" yaml:"requested"`
	Approved  bool   `json:"approved" yaml:"approved"`
	Response  string `json:"response,omitempty" yaml:"response,omitempty"`
}

// FixAction is one mutating operation invoked by the fixer.
type FixAction struct {
	Operation string         `json:"operation" yaml:"operation"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Outcome   string         `json:"outcome" yaml:"outcome"`
}

// FixerReport holds the correction plan, its approval, and the actions taken.
type FixerReport struct {
	ReportHeader    `yaml:",inline"`
	AuditorReportID string      `json:"auditor_report_id" yaml:"auditor_report_id"`
	Plan            string      `json:"plan" yaml:"plan"`
	Approval        Approval    `json:"approval" yaml:"approval"`
	Actions         []FixAction `json:"actions" yaml:"actions"`
}

// Recommendation is one systemic improvement suggested by the advisor.
type Recommendation struct {
	Title     string `json:"title" yaml:"title"`
	Rationale string `json:"rationale" yaml:"rationale"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
}

// MaxRecommendations caps the advisor's output.
const MaxRecommendations = 5

// AdvisorReport holds the advisor's recommendations.
type AdvisorReport struct {
	ReportHeader    `yaml:",inline"`
	AuditorReportID string           `json:"auditor_report_id" yaml:"auditor_report_id"`
	FixerReportID   string           `json:"fixer_report_id" yaml:"fixer_report_id"`
	Recommendations []Recommendation `json:"recommendations" yaml:"recommendations"`
}
