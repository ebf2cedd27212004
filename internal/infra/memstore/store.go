package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

// Ensure Store implements the ports.
var (
	_ risk.Repository = (*Store)(nil)
	_ risk.TextStore  = (*Store)(nil)
)

type record struct {
	doc      risk.Document
	result   *risk.AnalysisResult
	attempts []risk.Attempt
}

// Store is an in-memory Repository and TextStore. One mutex guards all
// state, so every method is atomic with respect to the others.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]*record
	texts map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:  make(map[string]*record),
		texts: make(map[string]string),
	}
}

func (s *Store) PutText(_ context.Context, documentID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[documentID] = text
	return nil
}

func (s *Store) GetText(_ context.Context, documentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.texts[documentID]
	if !ok {
		return "", risk.ErrNotFound
	}
	return text, nil
}

func (s *Store) CreateDocument(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; ok {
		return nil
	}
	s.docs[id] = &record{doc: risk.Document{
		ID:        id,
		State:     risk.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*risk.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[id]
	if !ok {
		return nil, risk.ErrNotFound
	}
	doc := rec.doc
	return &doc, nil
}

// ListDocuments orders by creation time, newest first.
func (s *Store) ListDocuments(_ context.Context, page, pageSize int) (risk.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*risk.Document, 0, len(s.docs))
	for _, rec := range s.docs {
		doc := rec.doc
		all = append(all, &doc)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	p := risk.Page{Page: page, PageSize: pageSize, Total: int64(len(all))}
	if pageSize > 0 {
		p.TotalPages = (len(all) + pageSize - 1) / pageSize
	}
	start := (page - 1) * pageSize
	if start < 0 || start >= len(all) {
		p.Documents = []*risk.Document{}
		return p, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	p.Documents = all[start:end]
	return p, nil
}

func (s *Store) GetState(_ context.Context, id string) (risk.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[id]
	if !ok {
		return "", risk.ErrNotFound
	}
	return rec.doc.State, nil
}

func (s *Store) SetState(_ context.Context, id string, state risk.State, now time.Time) error {
	if !state.Valid() {
		return &risk.InvalidInputError{Field: "state", Reason: fmt.Sprintf("unknown state %q", state)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[id]
	if !ok {
		return risk.ErrNotFound
	}
	rec.doc.State = state
	rec.doc.UpdatedAt = now
	return nil
}

func (s *Store) TryStart(_ context.Context, id, attemptID string, rerun bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[id]
	if !ok {
		return risk.ErrNotFound
	}
	if err := rec.doc.State.CanStart(rerun); err != nil {
		return err
	}
	started := now
	rec.doc.State = risk.StateInProgress
	rec.doc.AttemptID = attemptID
	rec.doc.FailureReason = ""
	rec.doc.StartedAt = &started
	rec.doc.UpdatedAt = now
	rec.attempts = append(rec.attempts, risk.Attempt{
		ID:         attemptID,
		DocumentID: id,
		State:      risk.StateInProgress,
		StartedAt:  now,
	})
	return nil
}

// current returns the record when attemptID is its running attempt.
func (s *Store) current(id, attemptID string) (*record, error) {
	rec, ok := s.docs[id]
	if !ok {
		return nil, risk.ErrNotFound
	}
	if rec.doc.State != risk.StateInProgress || rec.doc.AttemptID != attemptID {
		return nil, risk.ErrStaleAttempt
	}
	return rec, nil
}

func (s *Store) finishAttempt(rec *record, attemptID string, state risk.State, reason string, now time.Time) {
	for i := range rec.attempts {
		if rec.attempts[i].ID == attemptID {
			finished := now
			rec.attempts[i].State = state
			rec.attempts[i].Error = reason
			rec.attempts[i].FinishedAt = &finished
		}
	}
}

func (s *Store) ReplaceAnalysisResult(_ context.Context, id, attemptID string, overall risk.Severity, findings []risk.Finding, degraded bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.current(id, attemptID)
	if err != nil {
		return err
	}
	rec.result = &risk.AnalysisResult{
		DocumentID:      id,
		OverallSeverity: overall,
		Findings:        append([]risk.Finding(nil), findings...),
		Degraded:        degraded,
		CompletedAt:     now,
	}
	completed := now
	rec.doc.State = risk.StateCompleted
	rec.doc.OverallSeverity = overall
	rec.doc.CompletedAt = &completed
	rec.doc.UpdatedAt = now
	s.finishAttempt(rec, attemptID, risk.StateCompleted, "", now)
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id, attemptID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.current(id, attemptID)
	if err != nil {
		return err
	}
	rec.doc.State = risk.StateFailed
	rec.doc.FailureReason = reason
	rec.doc.UpdatedAt = now
	s.finishAttempt(rec, attemptID, risk.StateFailed, reason, now)
	return nil
}

func (s *Store) FailStale(_ context.Context, cutoff time.Time, reason string, now time.Time, keep map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.docs {
		if rec.doc.State != risk.StateInProgress || rec.doc.StartedAt == nil || !rec.doc.StartedAt.Before(cutoff) {
			continue
		}
		if _, ok := keep[rec.doc.AttemptID]; ok {
			continue
		}
		rec.doc.State = risk.StateFailed
		rec.doc.FailureReason = reason
		rec.doc.UpdatedAt = now
		s.finishAttempt(rec, rec.doc.AttemptID, risk.StateFailed, reason, now)
		n++
	}
	return n, nil
}

func (s *Store) GetResult(_ context.Context, id string) (*risk.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[id]
	if !ok {
		return nil, risk.ErrNotFound
	}
	if rec.result == nil {
		return nil, risk.ErrNoResult
	}
	res := *rec.result
	res.Findings = append([]risk.Finding(nil), rec.result.Findings...)
	res.Completed = rec.doc.State == risk.StateCompleted
	return &res, nil
}

// ListAttempts returns newest attempts first.
func (s *Store) ListAttempts(_ context.Context, id string, limit int) ([]*risk.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[id]
	if !ok {
		return nil, risk.ErrNotFound
	}
	out := make([]*risk.Attempt, 0, len(rec.attempts))
	for i := len(rec.attempts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		a := rec.attempts[i]
		out = append(out, &a)
	}
	return out, nil
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
