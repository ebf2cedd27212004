package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/application"
	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
	"github.com/bryanwahyu/contract-risk/internal/infra/memstore"
)

const (
	payWhenPaidText = "Subcontractor agrees that payment shall be made pay-when-paid, and Contractor shall pay Subcontractor within seven days of receiving payment from Owner."
	convenienceText = "The Contractor may terminate for convenience at any time. Subcontractor must provide written notice of any claim within 24 hours."
)

// analyzerFunc adapts a function to risk.SemanticAnalyzer.
type analyzerFunc func(ctx context.Context, text string) ([]risk.Finding, error)

func (f analyzerFunc) Analyze(ctx context.Context, text string) ([]risk.Finding, error) {
	return f(ctx, text)
}

func noFindings(context.Context, string) ([]risk.Finding, error) { return nil, nil }

func newTestService(t *testing.T, analyzer risk.SemanticAnalyzer, opts Options) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := NewService(store, store, analyzer, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc, store
}

func TestSubmit_MergesBothSources(t *testing.T) {
	semantic := analyzerFunc(func(context.Context, string) ([]risk.Finding, error) {
		return []risk.Finding{
			// same clause as the pattern finding, must collapse into it
			{Category: "payment_terms", Severity: risk.SeverityMedium, MatchedText: payWhenPaidText, Explanation: "semantic duplicate"},
			{Category: "LIABILITY", Severity: risk.SeverityLow, MatchedText: "Contractor shall pay Subcontractor", Explanation: "timing"},
		}, nil
	})
	svc, _ := newTestService(t, semantic, Options{})
	ctx := context.Background()

	res, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-a", Text: payWhenPaidText})
	require.NoError(t, err)
	assert.Equal(t, "doc-a", res.DocumentID)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, risk.StateInProgress, res.State)
	svc.Wait()

	doc, err := svc.Status(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, risk.StateCompleted, doc.State)

	result, err := svc.Results(ctx, "doc-a")
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.False(t, result.Degraded)
	assert.Equal(t, risk.SeverityHigh, result.OverallSeverity)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, risk.SourcePattern, result.Findings[0].Source)
	assert.Equal(t, risk.SeverityHigh, result.Findings[0].Severity)
	assert.Equal(t, risk.SourceSemantic, result.Findings[1].Source)
}

func TestSubmit_GeneratesID(t *testing.T) {
	svc, _ := newTestService(t, analyzerFunc(noFindings), Options{NewID: func() string { return "generated" }})
	res, err := svc.Submit(context.Background(), SubmitCommand{Text: convenienceText})
	require.NoError(t, err)
	assert.Equal(t, "generated", res.DocumentID)
	svc.Wait()

	result, err := svc.Results(context.Background(), "generated")
	require.NoError(t, err)
	assert.Equal(t, risk.SeverityMedium, result.OverallSeverity)
	assert.Len(t, result.Findings, 2)
}

func TestSubmit_InvalidInput(t *testing.T) {
	svc, store := newTestService(t, analyzerFunc(noFindings), Options{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: "  \n "})
	assert.ErrorIs(t, err, risk.ErrInvalidInput)

	_, err = svc.Submit(ctx, SubmitCommand{DocumentID: "../etc/passwd", Text: payWhenPaidText})
	assert.ErrorIs(t, err, risk.ErrInvalidInput)
	assert.Zero(t, store.Len())
}

func TestStart_RejectsWhileInProgress(t *testing.T) {
	release := make(chan struct{})
	var calls sync.WaitGroup
	calls.Add(1)
	blocking := analyzerFunc(func(ctx context.Context, text string) ([]risk.Finding, error) {
		calls.Done()
		<-release
		return nil, nil
	})
	svc, store := newTestService(t, blocking, Options{})
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	calls.Wait()

	_, err = svc.Start(ctx, "doc-1", StartOptions{Rerun: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, risk.ErrAlreadyInProgress)
	var conflict *risk.StateConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "doc-1", conflict.DocumentID)

	// resubmitting must not swap the text under the running attempt
	_, err = svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: convenienceText, Rerun: true})
	assert.ErrorIs(t, err, risk.ErrAlreadyInProgress)
	text, err := store.GetText(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, payWhenPaidText, text)

	close(release)
	svc.Wait()

	doc, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateCompleted, doc.State)
	assert.Equal(t, first.AttemptID, doc.AttemptID)

	attempts, err := svc.Attempts(ctx, "doc-1", 10)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestStart_ConcurrentRequestsStartOnce(t *testing.T) {
	release := make(chan struct{})
	blocking := analyzerFunc(func(context.Context, string) ([]risk.Finding, error) {
		<-release
		return nil, nil
	})
	svc, store := newTestService(t, blocking, Options{})
	ctx := context.Background()
	require.NoError(t, store.PutText(ctx, "doc-1", payWhenPaidText))
	require.NoError(t, store.CreateDocument(ctx, "doc-1", time.Now()))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Start(ctx, "doc-1", StartOptions{}); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(release)
	svc.Wait()
	assert.Equal(t, 1, started)
}

func TestStart_CompletedNeedsRerun(t *testing.T) {
	svc, _ := newTestService(t, analyzerFunc(noFindings), Options{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	_, err = svc.Start(ctx, "doc-1", StartOptions{})
	assert.ErrorIs(t, err, risk.ErrAlreadyCompleted)

	_, err = svc.Start(ctx, "doc-1", StartOptions{Rerun: true})
	require.NoError(t, err)
	svc.Wait()

	attempts, err := svc.Attempts(ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	_, err = svc.Start(ctx, "unknown", StartOptions{})
	assert.ErrorIs(t, err, risk.ErrNotFound)
}

func TestAttempt_AnalyzerFailureFailsWholeAttempt(t *testing.T) {
	failing := analyzerFunc(func(context.Context, string) ([]risk.Finding, error) {
		return nil, risk.NewAnalyzerError(risk.KindTimeout, context.DeadlineExceeded)
	})
	svc, _ := newTestService(t, failing, Options{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	doc, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, "semantic analysis timed out (transient, safe to retry)", doc.FailureReason)

	_, err = svc.Results(ctx, "doc-1")
	assert.ErrorIs(t, err, risk.ErrNoResult)

	// FAILED may always be restarted
	_, err = svc.Start(ctx, "doc-1", StartOptions{})
	assert.NoError(t, err)
	svc.Wait()
}

func TestAttempt_FailedRerunKeepsPreviousResult(t *testing.T) {
	var mu sync.Mutex
	fail := false
	analyzer := analyzerFunc(func(context.Context, string) ([]risk.Finding, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, risk.NewAnalyzerError(risk.KindMalformedResponse, errors.New("not json"))
		}
		return nil, nil
	})
	svc, _ := newTestService(t, analyzer, Options{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	mu.Lock()
	fail = true
	mu.Unlock()
	_, err = svc.Start(ctx, "doc-1", StartOptions{Rerun: true})
	require.NoError(t, err)
	svc.Wait()

	doc, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, "semantic analysis returned an unreadable response", doc.FailureReason)

	res, err := svc.Results(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, risk.SeverityHigh, res.OverallSeverity)
}

func TestAttempt_PatternFallbackPolicy(t *testing.T) {
	failing := analyzerFunc(func(context.Context, string) ([]risk.Finding, error) {
		return nil, risk.NewAnalyzerError(risk.KindQuotaExceeded, errors.New("insufficient_quota"))
	})
	svc, _ := newTestService(t, failing, Options{Policy: PatternFallback})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: convenienceText})
	require.NoError(t, err)
	svc.Wait()

	res, err := svc.Results(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Degraded)
	assert.Equal(t, risk.SeverityMedium, res.OverallSeverity)
	for _, f := range res.Findings {
		assert.Equal(t, risk.SourcePattern, f.Source)
	}
}

func TestAttempt_WithoutAnalyzerFailsUnderAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	doc, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, "semantic analyzer is not configured", doc.FailureReason)
	_, err = svc.Results(ctx, "doc-1")
	assert.ErrorIs(t, err, risk.ErrNoResult)

	_, err = svc.Evaluate(ctx, payWhenPaidText)
	assert.ErrorIs(t, err, risk.ErrNotConfigured)
}

func TestAttempt_WithoutAnalyzerIsDegradedUnderFallback(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{Policy: PatternFallback})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	res, err := svc.Results(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Degraded)
}

func TestAttempt_MatcherPanicBecomesDetectionError(t *testing.T) {
	// a zero Matcher has no catalog and panics on use
	svc, _ := newTestService(t, analyzerFunc(noFindings), Options{Matcher: &risk.Matcher{}})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	doc, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, "pattern detection failed", doc.FailureReason)
}

// failingRepo refuses to store results.
type failingRepo struct {
	*memstore.Store
}

func (r failingRepo) ReplaceAnalysisResult(context.Context, string, string, risk.Severity, []risk.Finding, bool, time.Time) error {
	return &risk.PersistenceError{Op: "replace result", Err: errors.New("disk full")}
}

func TestAttempt_PersistenceFailure(t *testing.T) {
	store := memstore.New()
	svc := NewService(failingRepo{store}, store, analyzerFunc(noFindings), Options{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	svc.Wait()

	doc, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, "failed to store analysis result", doc.FailureReason)
	_, err = store.GetResult(ctx, "doc-1")
	assert.ErrorIs(t, err, risk.ErrNoResult)
}

func TestAttempt_MissingTextAsksForResubmit(t *testing.T) {
	repo, texts := memstore.New(), memstore.New()
	svc := NewService(repo, texts, analyzerFunc(noFindings), Options{})
	ctx := context.Background()

	require.NoError(t, repo.CreateDocument(ctx, "doc-1", time.Now()))
	_, err := svc.Start(ctx, "doc-1", StartOptions{})
	require.NoError(t, err)
	svc.Wait()

	doc, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Contains(t, doc.FailureReason, "submit it again")
}

func TestReconcile_FailsStaleAttempts(t *testing.T) {
	clock := application.NewFixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	svc, store := newTestService(t, analyzerFunc(noFindings), Options{Clock: clock})
	ctx := context.Background()

	// left behind by a crashed process
	require.NoError(t, store.CreateDocument(ctx, "doc-1", clock.Now()))
	require.NoError(t, store.TryStart(ctx, "doc-1", "lost", false, clock.Now()))

	n, err := svc.Reconcile(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Hour)
	n, err = svc.Reconcile(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, reasonAbandoned, doc.FailureReason)
}

func TestReconcile_SkipsAttemptsOwnedByService(t *testing.T) {
	clock := application.NewFixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	release := make(chan struct{})
	blocking := analyzerFunc(func(context.Context, string) ([]risk.Finding, error) {
		<-release
		return nil, nil
	})
	svc, store := newTestService(t, blocking, Options{Clock: clock, MaxConcurrent: 1})
	ctx := context.Background()

	// doc-1 runs, doc-2 waits for the single slot
	_, err := svc.Submit(ctx, SubmitCommand{DocumentID: "doc-1", Text: payWhenPaidText})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, SubmitCommand{DocumentID: "doc-2", Text: convenienceText})
	require.NoError(t, err)
	// and doc-3 belongs to a process that is gone
	require.NoError(t, store.CreateDocument(ctx, "doc-3", clock.Now()))
	require.NoError(t, store.TryStart(ctx, "doc-3", "lost", false, clock.Now()))

	clock.Advance(31 * time.Minute)
	n, err := svc.Reconcile(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(release)
	svc.Wait()

	for _, id := range []string{"doc-1", "doc-2"} {
		doc, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, risk.StateCompleted, doc.State, id)
	}
	doc, err := svc.Status(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)

	// finished attempts are no longer protected
	assert.Empty(t, svc.ownedAttempts())
}

func TestClose_WaitsForEveryAcceptedAttempt(t *testing.T) {
	svc, store := newTestService(t, analyzerFunc(noFindings), Options{})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Submit(ctx, SubmitCommand{Text: payWhenPaidText})
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
				return
			}
			mu.Lock()
			accepted = append(accepted, res.DocumentID)
			mu.Unlock()
		}()
	}
	require.NoError(t, svc.Close(ctx))
	wg.Wait()

	for _, id := range accepted {
		doc, err := store.GetDocument(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, risk.StateCompleted, doc.State, id)
	}
}

func TestClose_RejectsNewWork(t *testing.T) {
	svc, _ := newTestService(t, analyzerFunc(noFindings), Options{})
	require.NoError(t, svc.Close(context.Background()))

	_, err := svc.Submit(context.Background(), SubmitCommand{Text: payWhenPaidText})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.Start(context.Background(), "doc-1", StartOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEvaluate_NoStorage(t *testing.T) {
	svc, store := newTestService(t, analyzerFunc(noFindings), Options{})
	eval, err := svc.Evaluate(context.Background(), convenienceText)
	require.NoError(t, err)
	assert.Equal(t, risk.SeverityMedium, eval.Overall)
	assert.False(t, eval.Degraded)
	assert.Zero(t, store.Len())

	_, err = svc.Evaluate(context.Background(), "")
	assert.ErrorIs(t, err, risk.ErrInvalidInput)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t, analyzerFunc(noFindings), Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Submit(ctx, SubmitCommand{DocumentID: id, Text: payWhenPaidText})
		require.NoError(t, err)
	}
	svc.Wait()

	page, err := svc.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("PATTERN_FALLBACK")
	require.NoError(t, err)
	assert.Equal(t, PatternFallback, p)
	assert.Equal(t, "pattern_fallback", p.String())

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, AllOrNothing, p)

	_, err = ParsePolicy("best_effort")
	assert.Error(t, err)
}
