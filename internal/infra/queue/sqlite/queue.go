// Package sqlite is the default durable queue backend: a single embedded
// database file, no server, safe across process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_requests (
	id              TEXT PRIMARY KEY,
	experiment_id   TEXT NOT NULL,
	experiment_type TEXT NOT NULL,
	payload         TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_requests(created_at);
CREATE INDEX IF NOT EXISTS idx_pending_fingerprint ON pending_requests(fingerprint);

CREATE TABLE IF NOT EXISTS analysis_records (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint       TEXT NOT NULL,
	observations      TEXT NOT NULL,
	components        TEXT NOT NULL,
	predicted_outcome TEXT NOT NULL,
	safety_warnings   TEXT NOT NULL,
	guidance          TEXT NOT NULL,
	confidence        REAL NOT NULL,
	origin            TEXT NOT NULL,
	synced            INTEGER NOT NULL,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON analysis_records(fingerprint);
`

// Queue persists pending requests and analysis records in sqlite. Every
// mutation commits before returning, which is the durability signal the
// coordinator relies on.
type Queue struct {
	db        *sql.DB
	recordCap int
}

// Open opens (or creates) the database at path. Open failures are reported
// as ErrStorageUnavailable so callers can surface degraded mode.
func Open(ctx context.Context, path string, recordCap int) (*Queue, error) {
	if recordCap <= 0 {
		recordCap = 200
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	return &Queue{db: db, recordCap: recordCap}, nil
}

func (q *Queue) Close() error { return q.db.Close() }

func (q *Queue) Enqueue(ctx context.Context, req *analysis.Request) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return err
	}
	const ins = `
INSERT INTO pending_requests
(id, experiment_id, experiment_type, payload, fingerprint, created_at, attempts, next_attempt_at)
VALUES (?,?,?,?,?,?,?,?);`
	_, err = q.db.ExecContext(ctx, ins,
		string(req.ID), req.ExperimentID, string(req.ExperimentType), string(payload),
		string(req.Fingerprint), req.CreatedAt.UnixMilli(), req.Attempts, req.NextAttemptAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	return nil
}

func (q *Queue) ListPending(ctx context.Context) ([]*analysis.Request, error) {
	const sel = `
SELECT id, experiment_id, experiment_type, payload, fingerprint, created_at, attempts, next_attempt_at
FROM pending_requests ORDER BY created_at ASC, id ASC;`
	rows, err := q.db.QueryContext(ctx, sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analysis.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (q *Queue) MarkAttempt(ctx context.Context, fp analysis.Fingerprint, attempts int, nextAttemptAt time.Time) error {
	const upd = `
UPDATE pending_requests SET attempts=?, next_attempt_at=?
WHERE id = (SELECT id FROM pending_requests WHERE fingerprint=? ORDER BY created_at ASC, id ASC LIMIT 1);`
	_, err := q.db.ExecContext(ctx, upd, attempts, nextAttemptAt.UnixMilli(), string(fp))
	return err
}

// Resolve removes the oldest pending request with the fingerprint and
// appends the record in one transaction. No matching pending request means
// the item was already resolved or cancelled: nothing is written.
func (q *Queue) Resolve(ctx context.Context, fp analysis.Fingerprint, rec *analysis.Record) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM pending_requests WHERE fingerprint=? ORDER BY created_at ASC, id ASC LIMIT 1;`,
		string(fp)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_requests WHERE id=?;`, id); err != nil {
		return err
	}
	if err := insertRecord(ctx, tx, rec, q.recordCap); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	return nil
}

func (q *Queue) Cancel(ctx context.Context, fp analysis.Fingerprint) (bool, error) {
	const del = `
DELETE FROM pending_requests
WHERE id = (SELECT id FROM pending_requests WHERE fingerprint=? ORDER BY created_at ASC, id ASC LIMIT 1);`
	res, err := q.db.ExecContext(ctx, del, string(fp))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (q *Queue) AppendRecord(ctx context.Context, rec *analysis.Record) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()
	if err := insertRecord(ctx, tx, rec, q.recordCap); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *Queue) ListRecords(ctx context.Context, limit int) ([]*analysis.Record, error) {
	sel := `
SELECT fingerprint, observations, components, predicted_outcome, safety_warnings,
       guidance, confidence, origin, synced, created_at
FROM analysis_records ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		sel += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.db.QueryContext(ctx, sel+";", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*analysis.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (q *Queue) GetRecord(ctx context.Context, fp analysis.Fingerprint) (*analysis.Record, error) {
	const sel = `
SELECT fingerprint, observations, components, predicted_outcome, safety_warnings,
       guidance, confidence, origin, synced, created_at
FROM analysis_records WHERE fingerprint=? ORDER BY seq DESC LIMIT 1;`
	row := q.db.QueryRowContext(ctx, sel, string(fp))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	return rec, err
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_records;`).Scan(&n)
	return n, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, tx execer, rec *analysis.Record, recordCap int) error {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(rec.SafetyWarnings)
	if err != nil {
		return err
	}
	guidance, err := json.Marshal(rec.Guidance)
	if err != nil {
		return err
	}
	synced := 0
	if rec.Synced {
		synced = 1
	}
	const ins = `
INSERT INTO analysis_records
(fingerprint, observations, components, predicted_outcome, safety_warnings, guidance, confidence, origin, synced, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?);`
	if _, err := tx.ExecContext(ctx, ins,
		string(rec.RequestFingerprint), rec.Observations, string(components), rec.PredictedOutcome,
		string(warnings), string(guidance), rec.ConfidenceScore, string(rec.Origin), synced,
		rec.CreatedAt.UnixMilli(),
	); err != nil {
		return err
	}
	// Oldest-first eviction keeps history bounded.
	const evict = `
DELETE FROM analysis_records WHERE seq IN (
	SELECT seq FROM analysis_records ORDER BY seq DESC LIMIT -1 OFFSET ?
);`
	_, err = tx.ExecContext(ctx, evict, recordCap)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*analysis.Request, error) {
	var (
		req               analysis.Request
		id, etype, fp     string
		payload           string
		createdMS, nextMS int64
	)
	if err := row.Scan(&id, &req.ExperimentID, &etype, &payload, &fp, &createdMS, &req.Attempts, &nextMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
		return nil, err
	}
	req.ID = analysis.RequestID(id)
	req.ExperimentType = analysis.ExperimentType(etype)
	req.Fingerprint = analysis.Fingerprint(fp)
	req.CreatedAt = time.UnixMilli(createdMS).UTC()
	req.NextAttemptAt = time.UnixMilli(nextMS).UTC()
	return &req, nil
}

func scanRecord(row rowScanner) (*analysis.Record, error) {
	var (
		rec                            analysis.Record
		fp, origin                     string
		components, warnings, guidance string
		synced                         int
		createdMS                      int64
	)
	if err := row.Scan(&fp, &rec.Observations, &components, &rec.PredictedOutcome,
		&warnings, &guidance, &rec.ConfidenceScore, &origin, &synced, &createdMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(components), &rec.Components); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(warnings), &rec.SafetyWarnings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(guidance), &rec.Guidance); err != nil {
		return nil, err
	}
	rec.RequestFingerprint = analysis.Fingerprint(fp)
	rec.Origin = analysis.Origin(origin)
	rec.Synced = synced != 0
	rec.CreatedAt = time.UnixMilli(createdMS).UTC()
	return &rec, nil
}
