// Package repotest holds the behaviour every risk.Repository must share.
// Store implementations run it from their own tests.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var sampleFindings = []risk.Finding{
	{Category: "PAYMENT_TERMS", Severity: risk.SeverityHigh, MatchedText: "pay-when-paid", Explanation: "owner risk", Source: risk.SourcePattern},
	{Category: "TERMINATION", Severity: risk.SeverityMedium, MatchedText: "terminate for convenience", Explanation: "no fault", Source: risk.SourceSemantic},
}

// Run executes the shared repository behaviour against stores made by newRepo.
func Run(t *testing.T, newRepo func(t *testing.T) risk.Repository) {
	t.Run("CreateIsIdempotent", func(t *testing.T) { testCreate(t, newRepo(t)) })
	t.Run("StartGuard", func(t *testing.T) { testStartGuard(t, newRepo(t)) })
	t.Run("ReplaceResult", func(t *testing.T) { testReplace(t, newRepo(t)) })
	t.Run("StaleAttemptCannotWrite", func(t *testing.T) { testStaleAttempt(t, newRepo(t)) })
	t.Run("FailedRerunKeepsPreviousResult", func(t *testing.T) { testFailedRerun(t, newRepo(t)) })
	t.Run("FailStale", func(t *testing.T) { testFailStale(t, newRepo(t)) })
	t.Run("ListDocuments", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("ConcurrentStart", func(t *testing.T) { testConcurrentStart(t, newRepo(t)) })
	t.Run("SetState", func(t *testing.T) { testSetState(t, newRepo(t)) })
}

func testCreate(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base.Add(time.Hour)))

	doc, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StatePending, doc.State)
	assert.True(t, base.Equal(doc.CreatedAt))

	_, err = repo.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, risk.ErrNotFound)
	_, err = repo.GetState(ctx, "missing")
	assert.ErrorIs(t, err, risk.ErrNotFound)
	_, err = repo.GetResult(ctx, "doc-1")
	assert.ErrorIs(t, err, risk.ErrNoResult)
}

func testStartGuard(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))

	assert.ErrorIs(t, repo.TryStart(ctx, "missing", "a0", false, base), risk.ErrNotFound)

	require.NoError(t, repo.TryStart(ctx, "doc-1", "a1", false, base))
	err := repo.TryStart(ctx, "doc-1", "a2", true, base)
	assert.ErrorIs(t, err, risk.ErrAlreadyInProgress)
	var conflict *risk.StateConflictError
	assert.True(t, errors.As(err, &conflict))

	doc, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateInProgress, doc.State)
	assert.Equal(t, "a1", doc.AttemptID)

	require.NoError(t, repo.ReplaceAnalysisResult(ctx, "doc-1", "a1", risk.SeverityHigh, sampleFindings, false, base.Add(time.Minute)))
	assert.ErrorIs(t, repo.TryStart(ctx, "doc-1", "a3", false, base), risk.ErrAlreadyCompleted)
	assert.NoError(t, repo.TryStart(ctx, "doc-1", "a4", true, base.Add(2*time.Minute)))
}

func testReplace(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))
	require.NoError(t, repo.TryStart(ctx, "doc-1", "a1", false, base))
	require.NoError(t, repo.ReplaceAnalysisResult(ctx, "doc-1", "a1", risk.SeverityHigh, sampleFindings, false, base.Add(time.Minute)))

	res, err := repo.GetResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, risk.SeverityHigh, res.OverallSeverity)
	assert.Equal(t, sampleFindings, res.Findings)
	assert.False(t, res.Degraded)

	// a rerun supersedes, never appends
	require.NoError(t, repo.TryStart(ctx, "doc-1", "a2", true, base.Add(2*time.Minute)))
	running, err := repo.GetResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, running.Completed)
	assert.Len(t, running.Findings, 2)

	low := []risk.Finding{{Category: "INSURANCE", Severity: risk.SeverityLow, MatchedText: "additional insured", Explanation: "premiums", Source: risk.SourcePattern}}
	require.NoError(t, repo.ReplaceAnalysisResult(ctx, "doc-1", "a2", risk.SeverityLow, low, true, base.Add(3*time.Minute)))

	res, err = repo.GetResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Degraded)
	assert.Equal(t, risk.SeverityLow, res.OverallSeverity)
	assert.Equal(t, low, res.Findings)

	doc, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateCompleted, doc.State)
	assert.Equal(t, risk.SeverityLow, doc.OverallSeverity)
	require.NotNil(t, doc.CompletedAt)

	attempts, err := repo.ListAttempts(ctx, "doc-1", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "a2", attempts[0].ID)
	assert.Equal(t, risk.StateCompleted, attempts[0].State)
	assert.NotNil(t, attempts[0].FinishedAt)

	attempts, err = repo.ListAttempts(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func testStaleAttempt(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))
	require.NoError(t, repo.TryStart(ctx, "doc-1", "a1", false, base))

	assert.ErrorIs(t, repo.ReplaceAnalysisResult(ctx, "doc-1", "other", risk.SeverityLow, nil, false, base), risk.ErrStaleAttempt)
	assert.ErrorIs(t, repo.MarkFailed(ctx, "doc-1", "other", "x", base), risk.ErrStaleAttempt)

	require.NoError(t, repo.MarkFailed(ctx, "doc-1", "a1", "semantic analysis timed out", base.Add(time.Minute)))
	// a failed attempt cannot complete afterwards
	assert.ErrorIs(t, repo.ReplaceAnalysisResult(ctx, "doc-1", "a1", risk.SeverityLow, nil, false, base), risk.ErrStaleAttempt)

	doc, err := repo.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, doc.State)
	assert.Equal(t, "semantic analysis timed out", doc.FailureReason)

	_, err = repo.GetResult(ctx, "doc-1")
	assert.ErrorIs(t, err, risk.ErrNoResult)
}

func testFailedRerun(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))
	require.NoError(t, repo.TryStart(ctx, "doc-1", "a1", false, base))
	require.NoError(t, repo.ReplaceAnalysisResult(ctx, "doc-1", "a1", risk.SeverityHigh, sampleFindings, false, base))
	require.NoError(t, repo.TryStart(ctx, "doc-1", "a2", true, base.Add(time.Minute)))
	require.NoError(t, repo.MarkFailed(ctx, "doc-1", "a2", "analysis failed", base.Add(2*time.Minute)))

	res, err := repo.GetResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, sampleFindings, res.Findings)

	attempts, err := repo.ListAttempts(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, risk.StateFailed, attempts[0].State)
	assert.Equal(t, "analysis failed", attempts[0].Error)
	assert.Equal(t, risk.StateCompleted, attempts[1].State)

	// FAILED documents may start again without rerun
	assert.NoError(t, repo.TryStart(ctx, "doc-1", "a3", false, base.Add(3*time.Minute)))
}

func testFailStale(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	for i, id := range []string{"old", "fresh", "done"} {
		require.NoError(t, repo.CreateDocument(ctx, id, base))
		require.NoError(t, repo.TryStart(ctx, id, "a-"+id, false, base.Add(time.Duration(i)*time.Hour)))
	}
	require.NoError(t, repo.ReplaceAnalysisResult(ctx, "done", "a-done", risk.SeverityLow, nil, false, base))
	// as old as "old" but still queued in a live process
	require.NoError(t, repo.CreateDocument(ctx, "queued", base))
	require.NoError(t, repo.TryStart(ctx, "queued", "a-queued", false, base))

	keep := map[string]struct{}{"a-queued": {}}
	n, err := repo.FailStale(ctx, base.Add(30*time.Minute), "abandoned", base.Add(3*time.Hour), keep)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, err := repo.GetState(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, risk.StateInProgress, queued)
	require.NoError(t, repo.ReplaceAnalysisResult(ctx, "queued", "a-queued", risk.SeverityLow, nil, false, base.Add(3*time.Hour)))

	old, err := repo.GetDocument(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, old.State)
	assert.Equal(t, "abandoned", old.FailureReason)

	fresh, err := repo.GetState(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, risk.StateInProgress, fresh)

	// the abandoned attempt can no longer write
	assert.ErrorIs(t, repo.ReplaceAnalysisResult(ctx, "old", "a-old", risk.SeverityLow, nil, false, base), risk.ErrStaleAttempt)
}

func testList(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateDocument(ctx, fmt.Sprintf("doc-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	page, err := repo.ListDocuments(ctx, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, "doc-4", page.Documents[0].ID)
	assert.Equal(t, "doc-3", page.Documents[1].ID)

	last, err := repo.ListDocuments(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, last.Documents, 1)
	assert.Equal(t, "doc-0", last.Documents[0].ID)

	beyond, err := repo.ListDocuments(ctx, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond.Documents)
}

func testConcurrentStart(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.TryStart(ctx, "doc-1", fmt.Sprintf("a%d", i), false, base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, risk.ErrAlreadyInProgress):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
}

func testSetState(t *testing.T, repo risk.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateDocument(ctx, "doc-1", base))
	require.NoError(t, repo.SetState(ctx, "doc-1", risk.StateFailed, base))

	state, err := repo.GetState(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, risk.StateFailed, state)

	assert.ErrorIs(t, repo.SetState(ctx, "doc-1", "DONE", base), risk.ErrInvalidInput)
	assert.ErrorIs(t, repo.SetState(ctx, "missing", risk.StatePending, base), risk.ErrNotFound)
}
