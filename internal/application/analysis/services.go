package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/contract-risk/internal/application"
	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

// ErrClosed is returned by Submit and Start after Close was called.
var ErrClosed = errors.New("analysis service is shutting down")

const reasonAbandoned = "analysis abandoned before completion"

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FailurePolicy decides what a semantic analyzer failure does to an attempt.
type FailurePolicy int

const (
	// AllOrNothing fails the whole attempt; pattern findings are not stored alone.
	AllOrNothing FailurePolicy = iota
	// PatternFallback stores pattern-only findings flagged as degraded.
	PatternFallback
)

func (p FailurePolicy) String() string {
	if p == PatternFallback {
		return "pattern_fallback"
	}
	return "all_or_nothing"
}

// ParsePolicy accepts the config spelling of a policy.
func ParsePolicy(v string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "all_or_nothing":
		return AllOrNothing, nil
	case "pattern_fallback":
		return PatternFallback, nil
	default:
		return AllOrNothing, fmt.Errorf("unknown failure policy %q", v)
	}
}

// Options tune a Service. Zero values pick defaults.
type Options struct {
	Matcher       *risk.Matcher
	Clock         application.Clock
	Logger        hclog.Logger
	MaxConcurrent int
	Policy        FailurePolicy
	// NewID generates document and attempt identifiers
	NewID func() string
}

// Service orchestrates analysis attempts: Matcher and SemanticAnalyzer run
// concurrently, results are merged, scored and stored as one unit.
// Service is safe for concurrent use.
type Service struct {
	Repo     risk.Repository
	Texts    risk.TextStore
	Analyzer risk.SemanticAnalyzer
	Matcher  *risk.Matcher
	Clock    application.Clock
	Policy   FailurePolicy

	log   hclog.Logger
	newID func() string
	sem   chan struct{}
	locks keyedMutex
	wg    sync.WaitGroup

	// mu guards closed and owned; wg.Add happens under it so Close never
	// races a late dispatch.
	mu     sync.Mutex
	closed bool
	// owned holds attempt IDs dispatched by this process, queued or running
	owned map[string]struct{}
}

// NewService wires the orchestrator. analyzer may be nil: under
// PatternFallback results are then pattern-only and flagged degraded,
// under AllOrNothing every attempt fails as not configured.
func NewService(repo risk.Repository, texts risk.TextStore, analyzer risk.SemanticAnalyzer, opts Options) *Service {
	if opts.Matcher == nil {
		opts.Matcher = risk.NewMatcher(nil)
	}
	if opts.Clock == nil {
		opts.Clock = application.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Service{
		Repo:     repo,
		Texts:    texts,
		Analyzer: analyzer,
		Matcher:  opts.Matcher,
		Clock:    opts.Clock,
		Policy:   opts.Policy,
		log:      opts.Logger,
		newID:    opts.NewID,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		locks:    keyedMutex{locks: make(map[string]*refLock)},
		owned:    make(map[string]struct{}),
	}
}

//
// ==== USE CASES ====
//

// SubmitCommand registers document text and starts its analysis.
type SubmitCommand struct {
	DocumentID string
	Text       string
	Rerun      bool
}

type SubmitResult struct {
	DocumentID string     `json:"document_id"`
	AttemptID  string     `json:"attempt_id"`
	State      risk.State `json:"state"`
}

// StartOptions control a start request. Rerun allows re-analysis of a COMPLETED document.
type StartOptions struct {
	Rerun bool
}

// Submit stores the text, registers the document and starts an attempt.
// The text of a document is never replaced while an attempt is running.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	if strings.TrimSpace(cmd.Text) == "" {
		return SubmitResult{}, &risk.InvalidInputError{Field: "text", Reason: "must not be empty"}
	}
	id := strings.TrimSpace(cmd.DocumentID)
	if id == "" {
		id = s.newID()
	} else if err := ValidateDocumentID(id); err != nil {
		return SubmitResult{}, err
	}
	if s.isClosed() {
		return SubmitResult{}, ErrClosed
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	state, err := s.Repo.GetState(ctx, id)
	switch {
	case errors.Is(err, risk.ErrNotFound):
	case err != nil:
		return SubmitResult{}, err
	default:
		if err := state.CanStart(cmd.Rerun); err != nil {
			return SubmitResult{}, withDocument(err, id)
		}
	}

	if err := s.Texts.PutText(ctx, id, cmd.Text); err != nil {
		return SubmitResult{}, &risk.PersistenceError{Op: "store text", Err: err}
	}
	if err := s.Repo.CreateDocument(ctx, id, s.Clock.Now()); err != nil {
		return SubmitResult{}, err
	}
	attemptID, err := s.startLocked(ctx, id, cmd.Rerun)
	if err != nil {
		return SubmitResult{DocumentID: id}, err
	}
	return SubmitResult{DocumentID: id, AttemptID: attemptID, State: risk.StateInProgress}, nil
}

// Start moves a registered document to IN_PROGRESS and dispatches the
// attempt in the background. It returns as soon as the transition is stored.
func (s *Service) Start(ctx context.Context, documentID string, opts StartOptions) (string, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return "", err
	}
	if s.isClosed() {
		return "", ErrClosed
	}
	unlock := s.locks.Lock(documentID)
	defer unlock()
	return s.startLocked(ctx, documentID, opts.Rerun)
}

func (s *Service) startLocked(ctx context.Context, documentID string, rerun bool) (string, error) {
	attemptID := s.newID()
	// claimed before TryStart so Reconcile never sees it unowned
	if !s.claim(attemptID) {
		return "", ErrClosed
	}
	if err := s.Repo.TryStart(ctx, documentID, attemptID, rerun, s.Clock.Now()); err != nil {
		s.release(attemptID)
		var conflict *risk.StateConflictError
		if errors.As(err, &conflict) {
			startRejected.WithLabelValues(string(conflict.State)).Inc()
		}
		return "", withDocument(err, documentID)
	}

	s.log.Debug("analysis attempt started", "document_id", documentID, "attempt_id", attemptID, "rerun", rerun)
	go s.run(documentID, attemptID)
	return attemptID, nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// claim registers an attempt as owned and counts it in wg. It fails once
// Close has begun.
func (s *Service) claim(attemptID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.owned[attemptID] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Service) release(attemptID string) {
	s.mu.Lock()
	delete(s.owned, attemptID)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Service) ownedAttempts() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.owned))
	for id := range s.owned {
		out[id] = struct{}{}
	}
	return out
}

// run is the background body of one attempt. Every error ends here: it is
// logged, counted and recorded as FAILED, never propagated.
func (s *Service) run(documentID, attemptID string) {
	defer s.release(attemptID)
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	attemptsInFlight.Inc()
	defer attemptsInFlight.Dec()

	// detached from the request that triggered the attempt
	ctx := context.Background()
	log := s.log.With("document_id", documentID, "attempt_id", attemptID)
	started := time.Now()

	err := s.execute(ctx, documentID, attemptID, log)
	attemptDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		s.fail(ctx, documentID, attemptID, err, log)
	}
}

func (s *Service) execute(ctx context.Context, documentID, attemptID string, log hclog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt panicked: %v", r)
		}
	}()

	text, err := s.Texts.GetText(ctx, documentID)
	if errors.Is(err, risk.ErrNotFound) {
		// in-memory text does not survive a restart
		return &risk.InvalidInputError{Field: "text", Reason: "document text is no longer available, submit it again"}
	}
	if err != nil {
		return &risk.PersistenceError{Op: "load text", Err: err}
	}

	eval, err := s.Evaluate(ctx, text)
	if err != nil {
		return err
	}
	if eval.SemanticErr != nil {
		log.Warn("semantic analyzer failed, storing pattern findings only", "error", eval.SemanticErr)
	}

	err = s.Repo.ReplaceAnalysisResult(ctx, documentID, attemptID, eval.Overall, eval.Findings, eval.Degraded, s.Clock.Now())
	if errors.Is(err, risk.ErrStaleAttempt) {
		attemptsTotal.WithLabelValues("stale").Inc()
		log.Warn("attempt superseded, result discarded")
		return nil
	}
	if err != nil {
		return err
	}

	result := "completed"
	if eval.Degraded {
		result = "degraded"
	}
	attemptsTotal.WithLabelValues(result).Inc()
	for _, f := range eval.Findings {
		findingsTotal.WithLabelValues(string(f.Source), string(f.Severity)).Inc()
	}
	log.Info("analysis completed", "overall", eval.Overall, "findings", len(eval.Findings), "degraded", eval.Degraded)
	return nil
}

func (s *Service) fail(ctx context.Context, documentID, attemptID string, cause error, log hclog.Logger) {
	reason := risk.PublicMessage(cause)
	attemptsTotal.WithLabelValues("failed").Inc()
	failuresTotal.WithLabelValues(errorKind(cause)).Inc()
	log.Error("analysis attempt failed", "reason", reason, "error", cause)

	err := s.Repo.MarkFailed(ctx, documentID, attemptID, reason, s.Clock.Now())
	switch {
	case errors.Is(err, risk.ErrStaleAttempt):
		log.Warn("attempt superseded before failure was recorded")
	case err != nil:
		log.Error("could not record attempt failure", "error", err)
	}
}

// Evaluation is the outcome of running both detectors over one text.
type Evaluation struct {
	Overall  risk.Severity  `json:"overall_severity"`
	Findings []risk.Finding `json:"findings"`
	Degraded bool           `json:"degraded"`
	// SemanticErr is set when PatternFallback absorbed an analyzer failure.
	SemanticErr error `json:"-"`
}

// Evaluate runs the pattern matcher and the semantic analyzer concurrently,
// merges their findings (pattern first), sorts and scores them. It touches
// no storage.
func (s *Service) Evaluate(ctx context.Context, text string) (Evaluation, error) {
	// all-or-nothing needs both sources
	if s.Analyzer == nil && s.Policy != PatternFallback {
		return Evaluation{}, risk.NewAnalyzerError(risk.KindNotConfigured, nil)
	}
	var (
		patternFindings  []risk.Finding
		semanticFindings []risk.Finding
		semanticErr      error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := s.detect(text)
		patternFindings = f
		return err
	})
	if s.Analyzer != nil {
		g.Go(func() error {
			f, err := s.Analyzer.Analyze(gctx, text)
			if err != nil {
				var inv *risk.InvalidInputError
				if s.Policy == PatternFallback && !errors.As(err, &inv) {
					semanticErr = err
					return nil
				}
				return err
			}
			semanticFindings = tagSource(f, risk.SourceSemantic)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Evaluation{}, err
	}

	merged := risk.Aggregate(patternFindings, semanticFindings)
	risk.SortBySeverity(merged)
	return Evaluation{
		Overall:     risk.Score(merged),
		Findings:    merged,
		Degraded:    s.Analyzer == nil || semanticErr != nil,
		SemanticErr: semanticErr,
	}, nil
}

// detect runs the matcher, turning a panic into a DetectionError.
func (s *Service) detect(text string) (findings []risk.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings, err = nil, &risk.DetectionError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.Matcher.Match(text)
}

func tagSource(findings []risk.Finding, src risk.Source) []risk.Finding {
	for i := range findings {
		if findings[i].Source == "" {
			findings[i].Source = src
		}
	}
	return findings
}

// Status returns the document with its current state and failure reason.
func (s *Service) Status(ctx context.Context, documentID string) (*risk.Document, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	return s.Repo.GetDocument(ctx, documentID)
}

// Results returns the authoritative result. Completed is false while a
// newer attempt runs or after it failed.
func (s *Service) Results(ctx context.Context, documentID string) (*risk.AnalysisResult, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	return s.Repo.GetResult(ctx, documentID)
}

// Attempts lists the newest attempts of a document first.
func (s *Service) Attempts(ctx context.Context, documentID string, limit int) ([]*risk.Attempt, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	return s.Repo.ListAttempts(ctx, documentID, clampLimit(limit))
}

// List pages through documents, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int) (risk.Page, error) {
	if page < 1 {
		page = 1
	}
	return s.Repo.ListDocuments(ctx, page, clampLimit(pageSize))
}

// Reconcile fails IN_PROGRESS attempts started more than staleAfter ago
// that this Service does not own. Attempts have no durable queue, so after
// a restart nothing would ever finish them; attempts still queued or
// running here are left alone however old they are.
func (s *Service) Reconcile(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := s.Clock.Now()
	n, err := s.Repo.FailStale(ctx, now.Add(-staleAfter), reasonAbandoned, now, s.ownedAttempts())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		reconciledTotal.Add(float64(n))
		s.log.Warn("failed stale analysis attempts", "count", n, "stale_after", staleAfter)
	}
	return n, nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, staleAfter); err != nil {
				s.log.Error("reconcile failed", "error", err)
			}
		}
	}
}

// Close stops accepting work and waits for running attempts or ctx.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every dispatched attempt has finished.
func (s *Service) Wait() { s.wg.Wait() }

// ValidateDocumentID accepts 1-64 characters of [A-Za-z0-9_-].
func ValidateDocumentID(id string) error {
	if !documentIDPattern.MatchString(id) {
		return &risk.InvalidInputError{Field: "document_id", Reason: "must be 1-64 characters of letters, digits, '-' or '_'"}
	}
	return nil
}

func withDocument(err error, id string) error {
	var conflict *risk.StateConflictError
	if errors.As(err, &conflict) && conflict.DocumentID == "" {
		return &risk.StateConflictError{DocumentID: id, State: conflict.State, Err: conflict.Err}
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func errorKind(err error) string {
	var (
		inv *risk.InvalidInputError
		det *risk.DetectionError
		ext *risk.ExternalAnalyzerError
		per *risk.PersistenceError
	)
	switch {
	case errors.As(err, &inv):
		return "invalid_input"
	case errors.As(err, &det):
		return "detection"
	case errors.As(err, &ext):
		return "analyzer_" + string(ext.Kind)
	case errors.As(err, &per):
		return "persistence"
	default:
		return "internal"
	}
}

// keyedMutex serializes start requests per document.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
