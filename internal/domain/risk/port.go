package risk

import (
	"context"
	"time"
)

// SemanticAnalyzer is the second, independent detection source.
// It must fail explicitly rather than return an empty list on error.
type SemanticAnalyzer interface {
	Analyze(ctx context.Context, text string) ([]Finding, error)
}

// TextStore keeps the extracted plain text of submitted documents
type TextStore interface {
	PutText(ctx context.Context, documentID, text string) error
	GetText(ctx context.Context, documentID string) (string, error)
}

// Repository port for documents, attempts and results.
type Repository interface {
	// CreateDocument registers a PENDING document. An existing document is left untouched.
	CreateDocument(ctx context.Context, id string, now time.Time) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, page, pageSize int) (Page, error)

	GetState(ctx context.Context, id string) (State, error)
	SetState(ctx context.Context, id string, state State, now time.Time) error

	// TryStart atomically moves the document to IN_PROGRESS under attemptID.
	// It fails with a StateConflictError when the guard rejects the move.
	TryStart(ctx context.Context, id, attemptID string, rerun bool, now time.Time) error

	// ReplaceAnalysisResult stores findings and severity and marks the
	// attempt COMPLETED as one unit. Previous findings are superseded.
	ReplaceAnalysisResult(ctx context.Context, id, attemptID string, overall Severity, findings []Finding, degraded bool, now time.Time) error

	// MarkFailed moves the current attempt to FAILED keeping the reason.
	MarkFailed(ctx context.Context, id, attemptID, reason string, now time.Time) error

	// FailStale fails IN_PROGRESS attempts started before cutoff, except
	// the attempt IDs in keep.
	FailStale(ctx context.Context, cutoff time.Time, reason string, now time.Time, keep map[string]struct{}) (int, error)

	GetResult(ctx context.Context, id string) (*AnalysisResult, error)
	ListAttempts(ctx context.Context, id string, limit int) ([]*Attempt, error)
}
