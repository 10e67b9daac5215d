// Package postgres backs the durable queue with PostgreSQL for deployments
// where several replicas share one pending store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_requests (
	id              TEXT PRIMARY KEY,
	experiment_id   TEXT NOT NULL,
	experiment_type TEXT NOT NULL,
	payload         JSONB NOT NULL,
	fingerprint     TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_requests(created_at);
CREATE INDEX IF NOT EXISTS idx_pending_fingerprint ON pending_requests(fingerprint);

CREATE TABLE IF NOT EXISTS analysis_records (
	seq               BIGSERIAL PRIMARY KEY,
	fingerprint       TEXT NOT NULL,
	observations      TEXT NOT NULL,
	components        JSONB NOT NULL,
	predicted_outcome TEXT NOT NULL,
	safety_warnings   JSONB NOT NULL,
	guidance          JSONB NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	origin            TEXT NOT NULL,
	synced            BOOLEAN NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON analysis_records(fingerprint);
`

type Queue struct {
	db        *sql.DB
	recordCap int
}

// Connect opens the database, verifies it with a ping and applies the
// schema. Failures map to ErrStorageUnavailable.
func Connect(ctx context.Context, dsn string, recordCap int) (*Queue, error) {
	if recordCap <= 0 {
		recordCap = 200
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

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
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err = q.db.ExecContext(ctx, ins,
		string(req.ID), req.ExperimentID, string(req.ExperimentType), string(payload),
		string(req.Fingerprint), req.CreatedAt, req.Attempts, req.NextAttemptAt,
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
		var (
			req           analysis.Request
			id, etype, fp string
			payload       []byte
		)
		if err := rows.Scan(&id, &req.ExperimentID, &etype, &payload, &fp,
			&req.CreatedAt, &req.Attempts, &req.NextAttemptAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &req.Payload); err != nil {
			return nil, err
		}
		req.ID = analysis.RequestID(id)
		req.ExperimentType = analysis.ExperimentType(etype)
		req.Fingerprint = analysis.Fingerprint(fp)
		out = append(out, &req)
	}
	return out, rows.Err()
}

func (q *Queue) MarkAttempt(ctx context.Context, fp analysis.Fingerprint, attempts int, nextAttemptAt time.Time) error {
	const upd = `
UPDATE pending_requests SET attempts=$1, next_attempt_at=$2
WHERE id = (SELECT id FROM pending_requests WHERE fingerprint=$3 ORDER BY created_at ASC, id ASC LIMIT 1);`
	_, err := q.db.ExecContext(ctx, upd, attempts, nextAttemptAt, string(fp))
	return err
}

func (q *Queue) Resolve(ctx context.Context, fp analysis.Fingerprint, rec *analysis.Record) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
SELECT id FROM pending_requests WHERE fingerprint=$1
ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE;`, string(fp)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_requests WHERE id=$1;`, id); err != nil {
		return err
	}
	if err := q.insertRecord(ctx, tx, rec); err != nil {
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
WHERE id = (SELECT id FROM pending_requests WHERE fingerprint=$1 ORDER BY created_at ASC, id ASC LIMIT 1);`
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
	if err := q.insertRecord(ctx, tx, rec); err != nil {
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
		sel += ` LIMIT $1`
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
FROM analysis_records WHERE fingerprint=$1 ORDER BY seq DESC LIMIT 1;`
	rec, err := scanRecord(q.db.QueryRowContext(ctx, sel, string(fp)))
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

func (q *Queue) insertRecord(ctx context.Context, tx *sql.Tx, rec *analysis.Record) error {
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
	const ins = `
INSERT INTO analysis_records
(fingerprint, observations, components, predicted_outcome, safety_warnings, guidance, confidence, origin, synced, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	if _, err := tx.ExecContext(ctx, ins,
		string(rec.RequestFingerprint), rec.Observations, string(components), rec.PredictedOutcome,
		string(warnings), string(guidance), rec.ConfidenceScore, string(rec.Origin), rec.Synced,
		rec.CreatedAt,
	); err != nil {
		return err
	}
	const evict = `
DELETE FROM analysis_records WHERE seq IN (
	SELECT seq FROM analysis_records ORDER BY seq ASC
	LIMIT GREATEST((SELECT COUNT(*) FROM analysis_records) - $1, 0)
);`
	_, err = tx.ExecContext(ctx, evict, q.recordCap)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*analysis.Record, error) {
	var (
		rec                            analysis.Record
		fp, origin                     string
		components, warnings, guidance []byte
	)
	if err := row.Scan(&fp, &rec.Observations, &components, &rec.PredictedOutcome,
		&warnings, &guidance, &rec.ConfidenceScore, &origin, &rec.Synced, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(components, &rec.Components); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(warnings, &rec.SafetyWarnings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(guidance, &rec.Guidance); err != nil {
		return nil, err
	}
	rec.RequestFingerprint = analysis.Fingerprint(fp)
	rec.Origin = analysis.Origin(origin)
	return &rec, nil
}
