package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/newtonslens/labsync/internal/application"
	"github.com/newtonslens/labsync/internal/domain/analysis"
)

// Config for the coordinator. Zero values fall back to the defaults below.
type Config struct {
	MaxAttempts    int           // retry ceiling per request (default 3)
	BaseDelay      time.Duration // first backoff delay (default 1s)
	AttemptTimeout time.Duration // absolute bound per in-flight attempt (default 30s)
	DrainFanout    int           // concurrent dispatches per drain pass (default 3)

	// Jitter transforms the raw backoff delay. Defaults to FullJitter;
	// tests inject the identity function.
	Jitter func(time.Duration) time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.DrainFanout <= 0 {
		c.DrainFanout = 3
	}
	if c.Jitter == nil {
		c.Jitter = FullJitter
	}
	return c
}

type inflightAttempt struct {
	cancel  context.CancelFunc
	discard bool
}

// MetricsSnapshot is a point-in-time view of coordinator counters.
type MetricsSnapshot struct {
	Dispatched       uint64 `json:"dispatched"`
	ResolvedRemote   uint64 `json:"resolved_remote"`
	ResolvedCached   uint64 `json:"resolved_cached"`
	ResolvedFallback uint64 `json:"resolved_fallback"`
	TransientRetries uint64 `json:"transient_retries"`
	Discarded        uint64 `json:"discarded"`
}

// Coordinator drains the durable queue against the analysis gateway. It owns
// all Resolve/MarkAttempt calls; other consumers only enqueue, cancel and
// read. Dispatch of distinct fingerprints runs concurrently up to the drain
// fan-out; dispatch of the same fingerprint is strictly serialized.
type Coordinator struct {
	queue    analysis.Queue
	gateway  analysis.Gateway
	cache    analysis.ResponseCache
	fallback analysis.Fallback
	conn     analysis.Connectivity
	clock    application.Clock
	cfg      Config

	mu       sync.Mutex
	inflight map[analysis.Fingerprint]*inflightAttempt

	wake  chan struct{}
	stop  context.CancelFunc
	done  chan struct{}
	unsub func()

	dispatched       atomic.Uint64
	resolvedRemote   atomic.Uint64
	resolvedCached   atomic.Uint64
	resolvedFallback atomic.Uint64
	transientRetries atomic.Uint64
	discardedCount   atomic.Uint64
}

func NewCoordinator(
	queue analysis.Queue,
	gateway analysis.Gateway,
	cache analysis.ResponseCache,
	fallback analysis.Fallback,
	conn analysis.Connectivity,
	clock application.Clock,
	cfg Config,
) *Coordinator {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Coordinator{
		queue:    queue,
		gateway:  gateway,
		cache:    cache,
		fallback: fallback,
		conn:     conn,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		inflight: map[analysis.Fingerprint]*inflightAttempt{},
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the drain loop and subscribes to connectivity transitions.
// A transition to online triggers an immediate drain pass; a transition to
// offline suppresses new dispatches but does not cancel in-flight attempts.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.unsub = c.conn.Subscribe(func(online bool) {
		if online {
			c.kick()
		}
	})
	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Close stops the drain loop and waits for it to exit. In-flight attempts
// are cancelled via their contexts.
func (c *Coordinator) Close() {
	if c.unsub != nil {
		c.unsub()
	}
	if c.stop != nil {
		c.stop()
		<-c.done
	}
}

// Metrics returns a snapshot of the coordinator counters.
func (c *Coordinator) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Dispatched:       c.dispatched.Load(),
		ResolvedRemote:   c.resolvedRemote.Load(),
		ResolvedCached:   c.resolvedCached.Load(),
		ResolvedFallback: c.resolvedFallback.Load(),
		TransientRetries: c.transientRetries.Load(),
		Discarded:        c.discardedCount.Load(),
	}
}

// Submit persists the request and, when online, attempts immediate delivery.
// Returns the terminal record when the attempt resolved synchronously, nil
// when the request stays pending for the drain loop. The only error surfaced
// is a storage failure: without durable storage the offline guarantees are
// gone and the caller must warn the user.
func (c *Coordinator) Submit(ctx context.Context, req *analysis.Request) (*analysis.Record, error) {
	if req == nil || req.Payload.Empty() {
		return nil, fmt.Errorf("submit: empty payload")
	}
	if !analysis.KnownType(req.ExperimentType) {
		req.ExperimentType = analysis.TypeGeneral
	}
	now := c.clock.Now()
	if req.ID == "" {
		req.ID = analysis.RequestID(uuid.New().String())
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.Fingerprint == "" {
		req.Fingerprint = analysis.ComputeFingerprint(req.ExperimentType, req.Payload)
	}
	req.Attempts = 0
	req.NextAttemptAt = now

	if err := c.queue.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	if !c.conn.Online() {
		return nil, nil
	}
	if !c.acquire(req.Fingerprint) {
		// Same setup already in flight; the drain loop picks this one up
		// once the first attempt settles.
		c.kick()
		return nil, nil
	}
	// Wake the drain loop once the slot frees: a duplicate of this
	// fingerprint may have queued behind the attempt, and nextWait skips
	// busy fingerprints.
	defer func() {
		c.release(req.Fingerprint)
		c.kick()
	}()

	return c.dispatch(ctx, req), nil
}

// Cancel drops a pending request by fingerprint. An in-flight attempt is
// marked for disposal: when the gateway call eventually returns its result
// is discarded instead of written.
func (c *Coordinator) Cancel(ctx context.Context, fp analysis.Fingerprint) (bool, error) {
	c.mu.Lock()
	if att, ok := c.inflight[fp]; ok {
		att.discard = true
		if att.cancel != nil {
			att.cancel()
		}
	}
	c.mu.Unlock()
	return c.queue.Cancel(ctx, fp)
}

// Kick nudges the drain loop; used after out-of-band queue mutations.
func (c *Coordinator) Kick() { c.kick() }

func (c *Coordinator) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	for {
		c.drain(ctx)

		var timerC <-chan time.Time
		if wait, ok := c.nextWait(ctx); ok {
			timerC = time.After(wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-timerC:
		}
	}
}

// drain dispatches every eligible pending request, oldest first, bounded by
// the fan-out limit.
func (c *Coordinator) drain(ctx context.Context) {
	if !c.conn.Online() {
		return
	}
	pending, err := c.queue.ListPending(ctx)
	if err != nil {
		log.Printf("sync: list pending failed: %v", err)
		return
	}
	now := c.clock.Now()

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.DrainFanout)
	for _, req := range pending {
		if req.NextAttemptAt.After(now) {
			continue
		}
		if !c.acquire(req.Fingerprint) {
			continue
		}
		req := req
		g.Go(func() error {
			defer c.release(req.Fingerprint)
			c.dispatch(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
}

// nextWait returns the delay until the earliest not-yet-eligible pending
// request, when there is one to wait for.
func (c *Coordinator) nextWait(ctx context.Context) (time.Duration, bool) {
	if !c.conn.Online() {
		return 0, false
	}
	pending, err := c.queue.ListPending(ctx)
	if err != nil || len(pending) == 0 {
		return 0, false
	}
	var earliest time.Time
	c.mu.Lock()
	for _, r := range pending {
		if _, busy := c.inflight[r.Fingerprint]; busy {
			continue
		}
		if earliest.IsZero() || r.NextAttemptAt.Before(earliest) {
			earliest = r.NextAttemptAt
		}
	}
	c.mu.Unlock()
	if earliest.IsZero() {
		return 0, false
	}
	wait := earliest.Sub(c.clock.Now())
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait, true
}

// dispatch runs one attempt for a pending request. Returns the terminal
// record when the request resolved, nil when it stays pending or was
// discarded. The caller must hold the in-flight slot for the fingerprint.
func (c *Coordinator) dispatch(ctx context.Context, req *analysis.Request) *analysis.Record {
	fp := req.Fingerprint
	c.dispatched.Add(1)

	// A prior success for an identical setup is shared instead of
	// re-invoking the gateway.
	if cached, ok := c.cache.Get(fp); ok {
		rec := cached.CachedCopy(fp, c.clock.Now())
		if c.commit(ctx, fp, rec) {
			c.resolvedCached.Add(1)
			return rec
		}
		return nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	c.arm(fp, cancel)
	rec, err := c.gateway.Analyze(attemptCtx, req)
	cancel()

	if c.discarded(fp) {
		c.discardedCount.Add(1)
		log.Printf("sync: attempt discarded fingerprint=%s", shortFP(fp))
		return nil
	}

	if err == nil {
		if verr := analysis.ValidateRecord(rec); verr != nil {
			err = verr
		} else {
			rec.RequestFingerprint = fp
			rec.Origin = analysis.OriginRemote
			rec.Synced = true
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = c.clock.Now()
			}
			if !c.commit(ctx, fp, rec) {
				return nil
			}
			c.cache.Put(fp, rec)
			c.resolvedRemote.Add(1)
			return rec
		}
	}

	if errors.Is(err, context.Canceled) {
		// Shutdown or cooperative cancellation; the request either stays
		// pending for a later pass or was already removed by Cancel.
		return nil
	}

	attempts := req.Attempts + 1
	if analysis.IsTransient(err) && attempts < c.cfg.MaxAttempts {
		delay := c.cfg.Jitter(backoffDelay(c.cfg.BaseDelay, attempts))
		next := c.clock.Now().Add(delay)
		if merr := c.queue.MarkAttempt(ctx, fp, attempts, next); merr != nil {
			log.Printf("sync: mark attempt failed fingerprint=%s err=%v", shortFP(fp), merr)
		}
		c.transientRetries.Add(1)
		log.Printf("sync: transient failure fingerprint=%s attempts=%d retry_in=%s err=%v",
			shortFP(fp), attempts, delay, err)
		c.kick()
		return nil
	}

	// Structural failure or retry budget exhausted: degrade to a terminal,
	// clearly labeled result instead of surfacing an error.
	log.Printf("sync: degrading fingerprint=%s attempts=%d err=%v", shortFP(fp), attempts, err)
	rec = c.degradedRecord(req)
	if c.commit(ctx, fp, rec) {
		if rec.Origin == analysis.OriginCached {
			c.resolvedCached.Add(1)
		} else {
			c.resolvedFallback.Add(1)
		}
		return rec
	}
	return nil
}

// degradedRecord prefers a last-known-good cache hit over the synthesized
// fallback.
func (c *Coordinator) degradedRecord(req *analysis.Request) *analysis.Record {
	fp := req.Fingerprint
	if cached, ok := c.cache.Get(fp); ok {
		return cached.CachedCopy(fp, c.clock.Now())
	}
	rec := c.fallback.Generate(req.ExperimentType, req.Payload)
	rec.RequestFingerprint = fp
	rec.Origin = analysis.OriginFallback
	rec.Synced = false
	if rec.ConfidenceScore >= analysis.FallbackConfidenceCap {
		rec.ConfidenceScore = analysis.FallbackConfidenceCap - 0.05
	}
	rec.CreatedAt = c.clock.Now()
	return rec
}

// commit is the single point where a pending request becomes a record.
func (c *Coordinator) commit(ctx context.Context, fp analysis.Fingerprint, rec *analysis.Record) bool {
	if c.discarded(fp) {
		c.discardedCount.Add(1)
		return false
	}
	if err := c.queue.Resolve(ctx, fp, rec); err != nil {
		log.Printf("sync: resolve failed fingerprint=%s err=%v", shortFP(fp), err)
		return false
	}
	return true
}

func (c *Coordinator) acquire(fp analysis.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[fp]; ok {
		return false
	}
	c.inflight[fp] = &inflightAttempt{}
	return true
}

func (c *Coordinator) release(fp analysis.Fingerprint) {
	c.mu.Lock()
	delete(c.inflight, fp)
	c.mu.Unlock()
}

func (c *Coordinator) arm(fp analysis.Fingerprint, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	att, ok := c.inflight[fp]
	if !ok {
		return
	}
	att.cancel = cancel
	if att.discard {
		cancel()
	}
}

func (c *Coordinator) discarded(fp analysis.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	att, ok := c.inflight[fp]
	return ok && att.discard
}

func shortFP(fp analysis.Fingerprint) string {
	if len(fp) > 8 {
		return string(fp[:8])
	}
	return string(fp)
}
