package risk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates empty or malformed input handed to a component.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates an unknown document.
	ErrNotFound = errors.New("document not found")

	// ErrNoResult indicates the document has never completed an analysis.
	ErrNoResult = errors.New("no analysis result")

	ErrAlreadyInProgress = errors.New("analysis already in progress")
	ErrAlreadyCompleted  = errors.New("analysis already completed")

	// ErrStaleAttempt is returned when an attempt tries to write after it
	// stopped being the document's current attempt.
	ErrStaleAttempt = errors.New("attempt is no longer current")

	// Semantic analyzer failure kinds.
	ErrTimeout           = errors.New("analyzer timed out")
	ErrRateLimited       = errors.New("analyzer rate limited")
	ErrQuotaExceeded     = errors.New("analyzer quota exceeded")
	ErrMalformedResponse = errors.New("analyzer returned a malformed response")
	ErrAuthentication    = errors.New("analyzer authentication failed")
	ErrNotConfigured     = errors.New("analyzer is not configured")
	ErrUnavailable       = errors.New("analyzer unavailable")
)

// InvalidInputError is a caller error: empty text, bad identifiers.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// DetectionError is an internal failure of the pattern matcher.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string { return fmt.Sprintf("pattern detection failed: %v", e.Err) }
func (e *DetectionError) Unwrap() error { return e.Err }

// AnalyzerErrorKind classifies semantic analyzer failures.
type AnalyzerErrorKind string

const (
	KindTimeout           AnalyzerErrorKind = "timeout"
	KindRateLimited       AnalyzerErrorKind = "rate_limited"
	KindQuotaExceeded     AnalyzerErrorKind = "quota_exceeded"
	KindMalformedResponse AnalyzerErrorKind = "malformed_response"
	KindAuthentication    AnalyzerErrorKind = "authentication"
	KindUnavailable       AnalyzerErrorKind = "unavailable"
	// KindNotConfigured means no analyzer exists, so both sources cannot run.
	KindNotConfigured AnalyzerErrorKind = "not_configured"
)

// Transient reports whether retrying later could succeed.
func (k AnalyzerErrorKind) Transient() bool {
	return k == KindTimeout || k == KindRateLimited || k == KindUnavailable
}

func (k AnalyzerErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindRateLimited:
		return ErrRateLimited
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindAuthentication:
		return ErrAuthentication
	case KindNotConfigured:
		return ErrNotConfigured
	default:
		return ErrUnavailable
	}
}

func (k AnalyzerErrorKind) describe() string {
	switch k {
	case KindTimeout:
		return "semantic analysis timed out"
	case KindRateLimited:
		return "semantic analysis was rate limited"
	case KindQuotaExceeded:
		return "semantic analysis quota exhausted"
	case KindMalformedResponse:
		return "semantic analysis returned an unreadable response"
	case KindAuthentication:
		return "semantic analysis credentials were rejected"
	case KindNotConfigured:
		return "semantic analyzer is not configured"
	default:
		return "semantic analysis service unavailable"
	}
}

// ExternalAnalyzerError wraps a failure of the semantic analyzer.
type ExternalAnalyzerError struct {
	Kind AnalyzerErrorKind
	Err  error
}

func NewAnalyzerError(kind AnalyzerErrorKind, err error) *ExternalAnalyzerError {
	return &ExternalAnalyzerError{Kind: kind, Err: err}
}

func (e *ExternalAnalyzerError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

// Is lets errors.Is match the kind sentinel as well as the cause.
func (e *ExternalAnalyzerError) Is(target error) bool { return target == e.Kind.sentinel() }
func (e *ExternalAnalyzerError) Unwrap() error        { return e.Err }

// PersistenceError is a failure to write or read the analysis store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// StateConflictError rejects a start request that the state machine forbids.
type StateConflictError struct {
	DocumentID string
	State      State
	Err        error
}

func (e *StateConflictError) Error() string {
	if e.DocumentID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("document %s: %v", e.DocumentID, e.Err)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// PublicMessage renders an error for status queries and HTTP bodies. It
// never includes wrapped causes, which may carry upstream identifiers.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		inv  *InvalidInputError
		det  *DetectionError
		ext  *ExternalAnalyzerError
		per  *PersistenceError
		conf *StateConflictError
	)
	switch {
	case errors.As(err, &inv):
		return inv.Error()
	case errors.As(err, &conf):
		return conf.Err.Error()
	case errors.As(err, &ext):
		msg := ext.Kind.describe()
		if ext.Kind.Transient() {
			msg += " (transient, safe to retry)"
		}
		return msg
	case errors.As(err, &det):
		return "pattern detection failed"
	case errors.As(err, &per):
		return "failed to store analysis result"
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrNoResult):
		return ErrNoResult.Error()
	default:
		return "analysis failed"
	}
}
