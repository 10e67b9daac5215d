package response

import (
	"fmt"
	"testing"
	"time"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

func remoteRecord(fp analysis.Fingerprint) *analysis.Record {
	return &analysis.Record{
		RequestFingerprint: fp,
		Observations:       "obs",
		Components:         []analysis.Component{{Type: "LED"}},
		PredictedOutcome:   "ok",
		Guidance:           []analysis.GuidanceStep{{Step: 1, Instruction: "do"}},
		ConfidenceScore:    0.9,
		Origin:             analysis.OriginRemote,
		Synced:             true,
		CreatedAt:          time.Now(),
	}
}

func TestPutGet(t *testing.T) {
	c := New(Config{MaxEntries: 4})

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache reported a hit")
	}

	rec := remoteRecord("fp1")
	c.Put("fp1", rec)

	got, ok := c.Get("fp1")
	if !ok {
		t.Fatal("stored record not found")
	}
	if got.Observations != rec.Observations {
		t.Fatalf("wrong record returned: %+v", got)
	}

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 || m.Writes != 1 {
		t.Fatalf("metrics hits=%d misses=%d writes=%d, want 1/1/1", m.Hits, m.Misses, m.Writes)
	}
}

func TestRefusesFallbackRecords(t *testing.T) {
	c := New(Config{MaxEntries: 4})

	rec := remoteRecord("fp1")
	rec.Origin = analysis.OriginFallback
	c.Put("fp1", rec)

	if _, ok := c.Get("fp1"); ok {
		t.Fatal("fallback record must never be cached")
	}
	c.Put("fp2", nil)
	if c.Len() != 0 {
		t.Fatalf("cache accepted a rejected write, len=%d", c.Len())
	}
}

func TestCachedOriginIsAccepted(t *testing.T) {
	// Cached-origin copies are legitimate writes: the content came from a
	// real remote success.
	c := New(Config{MaxEntries: 4})
	rec := remoteRecord("fp1")
	rec.Origin = analysis.OriginCached
	c.Put("fp1", rec)
	if _, ok := c.Get("fp1"); !ok {
		t.Fatal("cached-origin record rejected")
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(Config{MaxEntries: 2})
	for i := 0; i < 3; i++ {
		fp := analysis.Fingerprint(fmt.Sprintf("fp%d", i))
		c.Put(fp, remoteRecord(fp))
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want capacity 2", c.Len())
	}
	if _, ok := c.Get("fp0"); ok {
		t.Fatal("least recently used entry should have been evicted")
	}
	if _, ok := c.Get("fp2"); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{MaxEntries: 4, TTL: 10 * time.Millisecond})
	c.Put("fp1", remoteRecord("fp1"))
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("fp1"); ok {
		t.Fatal("entry should have expired")
	}
}
