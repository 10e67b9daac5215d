package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newtonslens/labsync/internal/domain/analysis"
	"github.com/newtonslens/labsync/internal/infra/queue/memory"
)

type stubPipeline struct {
	submit func(ctx context.Context, req *analysis.Request) (*analysis.Record, error)
	cancel func(ctx context.Context, fp analysis.Fingerprint) (bool, error)
}

func (p *stubPipeline) Submit(ctx context.Context, req *analysis.Request) (*analysis.Record, error) {
	req.Fingerprint = analysis.ComputeFingerprint(req.ExperimentType, req.Payload)
	return p.submit(ctx, req)
}

func (p *stubPipeline) Cancel(ctx context.Context, fp analysis.Fingerprint) (bool, error) {
	return p.cancel(ctx, fp)
}

func testRouter(p *stubPipeline, q analysis.Queue) http.Handler {
	return NewRouter(p, q, nil, nil, func() bool { return true }, nil)
}

func resolvedRecord(fp analysis.Fingerprint) *analysis.Record {
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

func TestAnalyzeCompleted(t *testing.T) {
	p := &stubPipeline{
		submit: func(_ context.Context, req *analysis.Request) (*analysis.Record, error) {
			return resolvedRecord(req.Fingerprint), nil
		},
	}
	h := testRouter(p, memory.New(0))

	body := `{"experiment_type": "circuits", "payload": {"components": ["LED", "battery"]}}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/analyze", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		Status      string           `json:"status"`
		Fingerprint string           `json:"fingerprint"`
		Analysis    *analysis.Record `json:"analysis"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.Fingerprint == "" || resp.Analysis == nil {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if resp.Analysis.Origin != analysis.OriginRemote {
		t.Fatalf("origin %s", resp.Analysis.Origin)
	}
}

func TestAnalyzePendingWhenOffline(t *testing.T) {
	p := &stubPipeline{
		submit: func(context.Context, *analysis.Request) (*analysis.Record, error) {
			return nil, nil
		},
	}
	h := testRouter(p, memory.New(0))

	body := `{"payload": {"image_data": "data:image/jpeg;base64,AAA"}}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/analyze", strings.NewReader(body)))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		Status      string `json:"status"`
		Fingerprint string `json:"fingerprint"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "pending" || resp.Fingerprint == "" {
		t.Fatalf("unexpected body: %s", w.Body)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	p := &stubPipeline{
		submit: func(context.Context, *analysis.Request) (*analysis.Record, error) {
			t.Error("invalid input must not reach the pipeline")
			return nil, nil
		},
	}
	h := testRouter(p, memory.New(0))

	cases := map[string]string{
		"not json":       `{"payload": `,
		"unknown type":   `{"experiment_type": "alchemy", "payload": {"components": ["x"]}}`,
		"empty payload":  `{"experiment_type": "circuits", "payload": {}}`,
		"both payloads":  `{"payload": {"image_data": "data:image/png;base64,A", "components": ["x"]}}`,
		"data url abuse": `{"payload": {"image_data": "data:text/html,<script>"}}`,
		"bad exp id":     `{"experiment_id": "../../x", "payload": {"components": ["x"]}}`,
	}
	for name, body := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/api/analyze", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, w.Code)
		}
	}
}

func TestAnalyzeStorageFailureIs503(t *testing.T) {
	p := &stubPipeline{
		submit: func(context.Context, *analysis.Request) (*analysis.Record, error) {
			return nil, analysis.ErrStorageUnavailable
		},
	}
	h := testRouter(p, memory.New(0))

	body := `{"payload": {"components": ["LED"]}}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/analyze", strings.NewReader(body)))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "storage unavailable") {
		t.Fatalf("degraded-mode warning missing: %s", w.Body)
	}
}

func TestGetRecord(t *testing.T) {
	q := memory.New(0)
	fp := analysis.Fingerprint("fp1")
	q.AppendRecord(context.Background(), resolvedRecord(fp))
	h := testRouter(&stubPipeline{}, q)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/records/fp1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var rec analysis.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.RequestFingerprint != fp {
		t.Fatalf("wrong record: %+v", rec)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/records/absent", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("absent record: status %d, want 404", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	q := memory.New(0)
	for _, fp := range []analysis.Fingerprint{"a", "b", "c"} {
		q.AppendRecord(context.Background(), resolvedRecord(fp))
	}
	h := testRouter(&stubPipeline{}, q)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/records?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Total   int               `json:"total"`
		Records []analysis.Record `json:"records"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Records) != 2 {
		t.Fatalf("total=%d records=%d, want 3/2", resp.Total, len(resp.Records))
	}
}

func TestListQueueStripsPayload(t *testing.T) {
	q := memory.New(0)
	q.Enqueue(context.Background(), &analysis.Request{
		ID:             "r1",
		ExperimentType: analysis.TypeCircuits,
		Payload:        analysis.Payload{ImageData: "hugeblob"},
		Fingerprint:    "fp1",
		CreatedAt:      time.Now(),
	})
	h := testRouter(&stubPipeline{}, q)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/queue", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "hugeblob") {
		t.Fatal("payload leaked into the queue listing")
	}
	var resp struct {
		Pending []struct {
			Fingerprint string `json:"fingerprint"`
		} `json:"pending"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Pending) != 1 || resp.Pending[0].Fingerprint != "fp1" {
		t.Fatalf("unexpected listing: %s", w.Body)
	}
}

func TestCancel(t *testing.T) {
	removed := true
	p := &stubPipeline{
		cancel: func(_ context.Context, fp analysis.Fingerprint) (bool, error) {
			if fp != "fp1" {
				t.Errorf("cancel got fingerprint %s", fp)
			}
			return removed, nil
		},
	}
	h := testRouter(p, memory.New(0))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/queue/fp1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cancelled":true`) {
		t.Fatalf("status %d body %s", w.Code, w.Body)
	}

	removed = false
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/queue/fp1", nil))
	if !strings.Contains(w.Body.String(), `"cancelled":false`) {
		t.Fatalf("body %s", w.Body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := testRouter(&stubPipeline{}, memory.New(0))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Online bool   `json:"online"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "healthy" || !resp.Online {
		t.Fatalf("unexpected health: %s", w.Body)
	}
}

func TestAssetsRouteAbsentWithoutCache(t *testing.T) {
	h := testRouter(&stubPipeline{}, memory.New(0))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/assets/app.js", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404 when no shell cache is configured", w.Code)
	}
}
