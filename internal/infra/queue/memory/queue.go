// Package memory provides an in-process Queue used for tests and for
// ephemeral deployments where durability across restarts is not needed.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

// Queue keeps pending requests and records in memory behind a mutex. The
// semantics mirror the durable backends: ordered pending scans, atomic
// resolve, oldest-first record eviction.
type Queue struct {
	mu        sync.Mutex
	pending   []*analysis.Request
	records   []*analysis.Record
	recordCap int
}

// New returns an empty queue. recordCap bounds stored records; zero means
// the default of 200.
func New(recordCap int) *Queue {
	if recordCap <= 0 {
		recordCap = 200
	}
	return &Queue{recordCap: recordCap}
}

func (q *Queue) Enqueue(_ context.Context, req *analysis.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *req
	q.pending = append(q.pending, &cp)
	sort.SliceStable(q.pending, func(i, j int) bool {
		return q.pending[i].CreatedAt.Before(q.pending[j].CreatedAt)
	})
	return nil
}

func (q *Queue) ListPending(_ context.Context) ([]*analysis.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*analysis.Request, len(q.pending))
	for i, r := range q.pending {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (q *Queue) MarkAttempt(_ context.Context, fp analysis.Fingerprint, attempts int, nextAttemptAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.oldestLocked(fp); i >= 0 {
		q.pending[i].Attempts = attempts
		q.pending[i].NextAttemptAt = nextAttemptAt
	}
	return nil
}

func (q *Queue) Resolve(_ context.Context, fp analysis.Fingerprint, rec *analysis.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.oldestLocked(fp)
	if i < 0 {
		// Already resolved or cancelled; must not duplicate the record.
		return nil
	}
	q.pending = append(q.pending[:i], q.pending[i+1:]...)
	q.appendLocked(rec)
	return nil
}

func (q *Queue) Cancel(_ context.Context, fp analysis.Fingerprint) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.oldestLocked(fp)
	if i < 0 {
		return false, nil
	}
	q.pending = append(q.pending[:i], q.pending[i+1:]...)
	return true, nil
}

func (q *Queue) AppendRecord(_ context.Context, rec *analysis.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.appendLocked(rec)
	return nil
}

func (q *Queue) ListRecords(_ context.Context, limit int) ([]*analysis.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*analysis.Record, 0, len(q.records))
	for i := len(q.records) - 1; i >= 0; i-- {
		cp := *q.records[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (q *Queue) GetRecord(_ context.Context, fp analysis.Fingerprint) (*analysis.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.records) - 1; i >= 0; i-- {
		if q.records[i].RequestFingerprint == fp {
			cp := *q.records[i]
			return &cp, nil
		}
	}
	return nil, analysis.ErrNotFound
}

func (q *Queue) Count(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records), nil
}

func (q *Queue) appendLocked(rec *analysis.Record) {
	cp := *rec
	q.records = append(q.records, &cp)
	if over := len(q.records) - q.recordCap; over > 0 {
		q.records = append([]*analysis.Record(nil), q.records[over:]...)
	}
}

// oldestLocked finds the oldest pending request with the fingerprint.
func (q *Queue) oldestLocked(fp analysis.Fingerprint) int {
	for i, r := range q.pending {
		if r.Fingerprint == fp {
			return i
		}
	}
	return -1
}
