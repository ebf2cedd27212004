package risk

import (
	"strings"
	"time"
)

// Severity of a finding or of a whole document
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Rank orders severities, higher is worse. Unknown values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity accepts any casing. Upstream vocabularies that use
// critical/info are folded into HIGH/LOW.
func ParseSeverity(v string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "high", "critical":
		return SeverityHigh, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "low", "info", "informational":
		return SeverityLow, true
	default:
		return "", false
	}
}

// Source tells which detector produced a finding
type Source string

const (
	SourcePattern  Source = "pattern"
	SourceSemantic Source = "semantic"
)

// MaxCategoryLen bounds a category in characters; stores size their
// category column to it.
const MaxCategoryLen = 64

// Finding is one flagged excerpt of contract text
type Finding struct {
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	MatchedText string   `json:"matched_text"`
	Explanation string   `json:"explanation"`
	Source      Source   `json:"source,omitempty"`
}

// State of a document's analysis
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

func (s State) Valid() bool {
	switch s {
	case StatePending, StateInProgress, StateCompleted, StateFailed:
		return true
	}
	return false
}

// CanStart reports whether a new attempt may begin from this state.
func (s State) CanStart(rerun bool) error {
	switch s {
	case StateInProgress:
		return &StateConflictError{State: s, Err: ErrAlreadyInProgress}
	case StateCompleted:
		if !rerun {
			return &StateConflictError{State: s, Err: ErrAlreadyCompleted}
		}
	}
	return nil
}

// Document tracks the analysis lifecycle of one submitted contract
type Document struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	AttemptID       string     `json:"attempt_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	OverallSeverity Severity   `json:"overall_severity,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// AnalysisResult is the authoritative assessment stored for a document.
// Completed is false while a newer attempt is running or after it failed;
// the findings are then those of the last successful attempt.
type AnalysisResult struct {
	DocumentID      string    `json:"document_id"`
	OverallSeverity Severity  `json:"overall_severity"`
	Findings        []Finding `json:"findings"`
	Completed       bool      `json:"completed"`
	Degraded        bool      `json:"degraded,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Attempt is one run of the pipeline for one document
type Attempt struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	State      State      `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Page is a paginated list of documents
type Page struct {
	Documents  []*Document `json:"data"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	Total      int64       `json:"totalItems"`
	TotalPages int         `json:"totalPages"`
}
