package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

var _ risk.Repository = (*Repository)(nil)

// Repository stores documents, attempts and findings in three tables.
// Timestamps are unix microseconds so that every dialect compares them the same way.
type Repository struct {
	db *sql.DB
	d  Dialect
}

func New(db *sql.DB, d Dialect) *Repository {
	return &Repository{db: db, d: d}
}

// Migrate applies the dialect schema.
func (r *Repository) Migrate(ctx context.Context) error {
	for i, stmt := range r.d.Schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema step %d: %w", r.d.Name, i+1, err)
		}
	}
	return nil
}

// Ping backs the /health database check.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) Close() error { return r.db.Close() }

const docColumns = `id, state, attempt_id, failure_reason, overall_severity,
 created_at, updated_at, started_at, completed_at`

func (r *Repository) CreateDocument(ctx context.Context, id string, now time.Time) error {
	q := r.d.InsertIgnore + ` documents (id, state, attempt_id, failure_reason, overall_severity, degraded, created_at, updated_at)
VALUES (?, ?, '', '', '', ?, ?, ?)` + r.d.OnConflict
	_, err := r.db.ExecContext(ctx, r.d.Rebind(q), id, string(risk.StatePending), false, micros(now), micros(now))
	if err != nil {
		return &risk.PersistenceError{Op: "create document", Err: err}
	}
	return nil
}

func (r *Repository) GetDocument(ctx context.Context, id string) (*risk.Document, error) {
	q := `SELECT ` + docColumns + ` FROM documents WHERE id = ?`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, r.d.Rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, risk.ErrNotFound
	}
	if err != nil {
		return nil, &risk.PersistenceError{Op: "get document", Err: err}
	}
	return doc, nil
}

// ListDocuments orders by creation time, newest first.
func (r *Repository) ListDocuments(ctx context.Context, page, pageSize int) (risk.Page, error) {
	p := risk.Page{Page: page, PageSize: pageSize, Documents: []*risk.Document{}}
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}

	err := r.readTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&p.Total); err != nil {
			return err
		}
		q := `SELECT ` + docColumns + ` FROM documents ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
		rows, err := tx.QueryContext(ctx, r.d.Rebind(q), pageSize, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return err
			}
			p.Documents = append(p.Documents, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return risk.Page{}, &risk.PersistenceError{Op: "list documents", Err: err}
	}
	if pageSize > 0 {
		p.TotalPages = int((p.Total + int64(pageSize) - 1) / int64(pageSize))
	}
	return p, nil
}

func (r *Repository) GetState(ctx context.Context, id string) (risk.State, error) {
	var state string
	err := r.db.QueryRowContext(ctx, r.d.Rebind(`SELECT state FROM documents WHERE id = ?`), id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", risk.ErrNotFound
	}
	if err != nil {
		return "", &risk.PersistenceError{Op: "get state", Err: err}
	}
	return risk.State(state), nil
}

func (r *Repository) SetState(ctx context.Context, id string, state risk.State, now time.Time) error {
	if !state.Valid() {
		return &risk.InvalidInputError{Field: "state", Reason: fmt.Sprintf("unknown state %q", state)}
	}
	return r.tx(ctx, "set state", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.d.Rebind(`UPDATE documents SET state = ?, updated_at = ? WHERE id = ?`),
			string(state), micros(now), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// MySQL reports changed rows, so an unchanged row also lands here
			if _, err := r.stateIn(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

const (
	startAny = `UPDATE documents
SET state = 'IN_PROGRESS', attempt_id = ?, failure_reason = '', started_at = ?, updated_at = ?
WHERE id = ? AND state <> 'IN_PROGRESS'`
	startFresh = startAny + ` AND state <> 'COMPLETED'`
)

func (r *Repository) TryStart(ctx context.Context, id, attemptID string, rerun bool, now time.Time) error {
	q := startFresh
	if rerun {
		q = startAny
	}
	return r.tx(ctx, "start attempt", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.d.Rebind(q), attemptID, micros(now), micros(now), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			state, err := r.stateIn(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := state.CanStart(rerun); err != nil {
				return err
			}
			return fmt.Errorf("document %s in state %s was not started", id, state)
		}
		_, err = tx.ExecContext(ctx, r.d.Rebind(`INSERT INTO attempts (id, document_id, state, error_message, started_at) VALUES (?, ?, ?, '', ?)`),
			attemptID, id, string(risk.StateInProgress), micros(now))
		return err
	})
}

const guardCurrent = ` WHERE id = ? AND state = 'IN_PROGRESS' AND attempt_id = ?`

func (r *Repository) ReplaceAnalysisResult(ctx context.Context, id, attemptID string, overall risk.Severity, findings []risk.Finding, degraded bool, now time.Time) error {
	return r.tx(ctx, "replace result", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.d.Rebind(`UPDATE documents
SET state = 'COMPLETED', overall_severity = ?, degraded = ?, completed_at = ?, updated_at = ?`+guardCurrent),
			string(overall), degraded, micros(now), micros(now), id, attemptID)
		if err != nil {
			return err
		}
		if err := r.guardAffected(ctx, tx, res, id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, r.d.Rebind(`DELETE FROM findings WHERE document_id = ?`), id); err != nil {
			return err
		}
		insert := r.d.Rebind(`INSERT INTO findings (document_id, ordinal, category, severity, matched_text, explanation, source)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		for i, f := range findings {
			if _, err := tx.ExecContext(ctx, insert, id, i, f.Category, string(f.Severity), f.MatchedText, f.Explanation, string(f.Source)); err != nil {
				return err
			}
		}
		return r.finishAttempt(ctx, tx, attemptID, risk.StateCompleted, "", now)
	})
}

func (r *Repository) MarkFailed(ctx context.Context, id, attemptID, reason string, now time.Time) error {
	return r.tx(ctx, "mark failed", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.d.Rebind(`UPDATE documents SET state = 'FAILED', failure_reason = ?, updated_at = ?`+guardCurrent),
			reason, micros(now), id, attemptID)
		if err != nil {
			return err
		}
		if err := r.guardAffected(ctx, tx, res, id); err != nil {
			return err
		}
		return r.finishAttempt(ctx, tx, attemptID, risk.StateFailed, reason, now)
	})
}

func (r *Repository) FailStale(ctx context.Context, cutoff time.Time, reason string, now time.Time, keep map[string]struct{}) (int, error) {
	var n int
	err := r.tx(ctx, "fail stale", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, r.d.Rebind(`SELECT id, attempt_id FROM documents WHERE state = 'IN_PROGRESS' AND started_at < ?`), micros(cutoff))
		if err != nil {
			return err
		}
		type stale struct{ id, attempt string }
		var found []stale
		for rows.Next() {
			var s stale
			if err := rows.Scan(&s.id, &s.attempt); err != nil {
				rows.Close()
				return err
			}
			if _, ok := keep[s.attempt]; ok {
				continue
			}
			found = append(found, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		update := r.d.Rebind(`UPDATE documents SET state = 'FAILED', failure_reason = ?, updated_at = ?` + guardCurrent)
		for _, s := range found {
			res, err := tx.ExecContext(ctx, update, reason, micros(now), s.id, s.attempt)
			if err != nil {
				return err
			}
			if c, _ := res.RowsAffected(); c == 0 {
				continue
			}
			if err := r.finishAttempt(ctx, tx, s.attempt, risk.StateFailed, reason, now); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (r *Repository) GetResult(ctx context.Context, id string) (*risk.AnalysisResult, error) {
	var out *risk.AnalysisResult
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		var (
			state, overall string
			degraded       bool
			completedAt    sql.NullInt64
		)
		err := tx.QueryRowContext(ctx, r.d.Rebind(`SELECT state, overall_severity, degraded, completed_at FROM documents WHERE id = ?`), id).
			Scan(&state, &overall, &degraded, &completedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return risk.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !completedAt.Valid {
			return risk.ErrNoResult
		}
		res := &risk.AnalysisResult{
			DocumentID:      id,
			OverallSeverity: risk.Severity(overall),
			Findings:        []risk.Finding{},
			Completed:       risk.State(state) == risk.StateCompleted,
			Degraded:        degraded,
			CompletedAt:     fromMicros(completedAt.Int64),
		}

		rows, err := tx.QueryContext(ctx, r.d.Rebind(`SELECT category, severity, matched_text, explanation, source
FROM findings WHERE document_id = ? ORDER BY ordinal`), id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f risk.Finding
			var sev, src string
			if err := rows.Scan(&f.Category, &sev, &f.MatchedText, &f.Explanation, &src); err != nil {
				return err
			}
			f.Severity = risk.Severity(sev)
			f.Source = risk.Source(src)
			res.Findings = append(res.Findings, f)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		if errors.Is(err, risk.ErrNotFound) || errors.Is(err, risk.ErrNoResult) {
			return nil, err
		}
		return nil, &risk.PersistenceError{Op: "get result", Err: err}
	}
	return out, nil
}

// ListAttempts returns newest attempts first. limit <= 0 means all.
func (r *Repository) ListAttempts(ctx context.Context, id string, limit int) ([]*risk.Attempt, error) {
	var out []*risk.Attempt
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.stateIn(ctx, tx, id); err != nil {
			return err
		}
		q := `SELECT id, document_id, state, error_message, started_at, finished_at FROM attempts
WHERE document_id = ? ORDER BY started_at DESC, seq DESC`
		args := []any{id}
		if limit > 0 {
			q += ` LIMIT ?`
			args = append(args, limit)
		}
		rows, err := tx.QueryContext(ctx, r.d.Rebind(q), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = []*risk.Attempt{}
		for rows.Next() {
			var (
				a        risk.Attempt
				state    string
				started  int64
				finished sql.NullInt64
			)
			if err := rows.Scan(&a.ID, &a.DocumentID, &state, &a.Error, &started, &finished); err != nil {
				return err
			}
			a.State = risk.State(state)
			a.StartedAt = fromMicros(started)
			a.FinishedAt = optMicros(finished)
			out = append(out, &a)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, risk.ErrNotFound) {
			return nil, err
		}
		return nil, &risk.PersistenceError{Op: "list attempts", Err: err}
	}
	return out, nil
}

// stateIn reads the state inside tx, mapping a missing row to ErrNotFound.
func (r *Repository) stateIn(ctx context.Context, tx *sql.Tx, id string) (risk.State, error) {
	var state string
	err := tx.QueryRowContext(ctx, r.d.Rebind(`SELECT state FROM documents WHERE id = ?`), id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", risk.ErrNotFound
	}
	return risk.State(state), err
}

// guardAffected turns a guarded update that touched nothing into
// ErrNotFound or ErrStaleAttempt.
func (r *Repository) guardAffected(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.stateIn(ctx, tx, id); err != nil {
		return err
	}
	return risk.ErrStaleAttempt
}

func (r *Repository) finishAttempt(ctx context.Context, tx *sql.Tx, attemptID string, state risk.State, reason string, now time.Time) error {
	_, err := tx.ExecContext(ctx, r.d.Rebind(`UPDATE attempts SET state = ?, error_message = ?, finished_at = ? WHERE id = ?`),
		string(state), reason, micros(now), attemptID)
	return err
}

// tx runs fn in a write transaction. Domain errors pass through untouched,
// anything else becomes a PersistenceError.
func (r *Repository) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &risk.PersistenceError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if isDomain(err) {
			return err
		}
		return &risk.PersistenceError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &risk.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (r *Repository) readTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: r.d.ReadIsolation, ReadOnly: r.d.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isDomain(err error) bool {
	var conflict *risk.StateConflictError
	var invalid *risk.InvalidInputError
	return errors.Is(err, risk.ErrNotFound) ||
		errors.Is(err, risk.ErrStaleAttempt) ||
		errors.As(err, &conflict) ||
		errors.As(err, &invalid)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*risk.Document, error) {
	var (
		d                    risk.Document
		state, overall       string
		created, updated     int64
		started, completedAt sql.NullInt64
	)
	if err := row.Scan(&d.ID, &state, &d.AttemptID, &d.FailureReason, &overall,
		&created, &updated, &started, &completedAt); err != nil {
		return nil, err
	}
	d.State = risk.State(state)
	d.OverallSeverity = risk.Severity(overall)
	d.CreatedAt = fromMicros(created)
	d.UpdatedAt = fromMicros(updated)
	d.StartedAt = optMicros(started)
	d.CompletedAt = optMicros(completedAt)
	return &d, nil
}

func micros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func optMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
