package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if tb.Allow() {
		t.Fatal("request beyond burst allowed")
	}
}

func TestTokenBucketFractionalRefill(t *testing.T) {
	tb := NewTokenBucket(1, 60)
	if !tb.Allow() {
		t.Fatal("initial token denied")
	}
	if tb.Allow() {
		t.Fatal("empty bucket allowed")
	}
	// 60/minute refills one token per second; simulate the elapsed time.
	tb.mu.Lock()
	tb.lastRefill = tb.lastRefill.Add(-1100 * time.Millisecond)
	tb.mu.Unlock()
	if !tb.Allow() {
		t.Fatal("bucket did not refill after a second")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("first client denied")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("first client not throttled")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("second client throttled by the first client's bucket")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/analyze", nil)
	req.RemoteAddr = "192.168.1.5:40000"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("429 without Retry-After header")
	}

	// Health and shell assets are exempt.
	for _, path := range []string{"/health", "/assets/app.js"} {
		r := httptest.NewRequest("GET", path, nil)
		r.RemoteAddr = "192.168.1.5:40000"
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("%s throttled: status %d", path, w.Code)
		}
	}
}
