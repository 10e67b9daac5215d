package analysis

import (
	"context"
	"time"
)

// Queue port (interface for the durable pending/record store).
//
// All mutations are durable before the call returns. Only the sync
// coordinator may call Resolve and MarkAttempt; other consumers are limited
// to Enqueue, Cancel and the read operations.
type Queue interface {
	// Enqueue stores a new pending request. Fails with ErrStorageUnavailable
	// when the underlying storage cannot be opened or written.
	Enqueue(ctx context.Context, req *Request) error

	// ListPending returns pending requests ordered by CreatedAt ascending.
	ListPending(ctx context.Context) ([]*Request, error)

	// MarkAttempt updates retry bookkeeping for the oldest pending request
	// with the given fingerprint. No-op if it no longer exists.
	MarkAttempt(ctx context.Context, fp Fingerprint, attempts int, nextAttemptAt time.Time) error

	// Resolve atomically removes the oldest pending request with the given
	// fingerprint and appends the record. When no pending request matches the
	// whole operation is a no-op: a second Resolve for the same fingerprint
	// must not create a duplicate record.
	Resolve(ctx context.Context, fp Fingerprint, rec *Record) error

	// Cancel removes the oldest pending request with the given fingerprint,
	// reporting whether one was removed.
	Cancel(ctx context.Context, fp Fingerprint) (bool, error)

	// AppendRecord inserts a record directly, evicting oldest records beyond
	// the configured ceiling.
	AppendRecord(ctx context.Context, rec *Record) error

	// ListRecords returns stored records, newest first.
	ListRecords(ctx context.Context, limit int) ([]*Record, error)

	// GetRecord returns the most recent record for the fingerprint.
	GetRecord(ctx context.Context, fp Fingerprint) (*Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Gateway port (interface for the remote inference+persistence endpoint).
// Implementations return ErrTransient-classified errors for retryable
// failures and StructuralError for unusable 2xx bodies.
type Gateway interface {
	Analyze(ctx context.Context, req *Request) (*Record, error)
}

// ResponseCache port: last known good response per fingerprint, written only
// after a successful gateway outcome.
type ResponseCache interface {
	Get(fp Fingerprint) (*Record, bool)
	Put(fp Fingerprint, rec *Record)
}

// Fallback port: deterministic, offline-computable analysis used when
// neither a fresh gateway response nor a cache hit is available.
type Fallback interface {
	Generate(t ExperimentType, p Payload) *Record
}

// Connectivity is the narrow subscription interface over the online/offline
// signal. Subscribe returns an unsubscribe func; the callback fires on every
// transition.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}
