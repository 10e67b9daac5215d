package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/newtonslens/labsync/internal/domain/analysis"
	"github.com/newtonslens/labsync/internal/infra/cache/asset"
	"github.com/newtonslens/labsync/internal/middleware"
)

// Pipeline is the slice of the sync coordinator the HTTP surface needs.
type Pipeline interface {
	Submit(ctx context.Context, req *analysis.Request) (*analysis.Record, error)
	Cancel(ctx context.Context, fp analysis.Fingerprint) (bool, error)
}

type Router struct {
	pipeline Pipeline
	queue    analysis.Queue
	assets   *asset.Cache
}

// NewRouter wires the REST surface: analysis submission, offline history,
// queue inspection and the cached application shell.
func NewRouter(pipeline Pipeline, queue analysis.Queue, assets *asset.Cache,
	checkers map[string]middleware.HealthChecker, online func() bool,
	metricsExtra func() map[string]interface{}) http.Handler {

	r := &Router{pipeline: pipeline, queue: queue, assets: assets}
	mux := chi.NewRouter()

	mux.Get("/health", middleware.HealthHandler(checkers, online))
	mux.Get("/metrics", middleware.MetricsHandler(metricsExtra))

	mux.Route("/api", func(rt chi.Router) {
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
		rt.Get("/records", r.wrap(r.handleListRecords))
		rt.Get("/records/{fingerprint}", r.wrap(r.handleGetRecord))
		rt.Get("/queue", r.wrap(r.handleListQueue))
		rt.Delete("/queue/{fingerprint}", r.wrap(r.handleCancel))
	})

	if assets != nil {
		mux.Get("/assets/*", r.wrap(r.handleAsset))
	}

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

var errBadRequest = errors.New("bad request")

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, analysis.ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, analysis.ErrStorageUnavailable):
				// Without durable storage the offline guarantees are gone;
				// the client must warn the user about degraded mode.
				http.Error(w, "storage unavailable: analysis cannot be queued for offline delivery", http.StatusServiceUnavailable)
			case errors.Is(err, errBadRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// POST /api/analyze
// Body: {"experiment_id": "...", "experiment_type": "circuits", "payload": {...}}
// Responds 200 with the record when the attempt resolved synchronously,
// 202 with the fingerprint when the request stays queued.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ExperimentID   string           `json:"experiment_id"`
		ExperimentType string           `json:"experiment_type"`
		Payload        analysis.Payload `json:"payload"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if body.ExperimentType == "" {
		body.ExperimentType = string(analysis.TypeGeneral)
	}
	if err := middleware.ValidateExperimentType(body.ExperimentType); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := middleware.ValidatePayload(body.Payload); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := middleware.ValidateExperimentID(body.ExperimentID); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if body.ExperimentID == "" {
		body.ExperimentID = uuid.New().String()
	}

	areq := &analysis.Request{
		ExperimentID:   body.ExperimentID,
		ExperimentType: analysis.ExperimentType(body.ExperimentType),
		Payload:        body.Payload,
	}

	middleware.IncrementAnalyses()
	rec, err := r.pipeline.Submit(req.Context(), areq)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	if rec != nil {
		return json.NewEncoder(w).Encode(map[string]any{
			"status":      "completed",
			"fingerprint": areq.Fingerprint,
			"analysis":    rec,
		})
	}
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]any{
		"status":      "pending",
		"fingerprint": areq.Fingerprint,
		"queued_at":   time.Now().UTC(),
	})
}

// GET /api/records?limit=20
func (r *Router) handleListRecords(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.queue.ListRecords(req.Context(), limit)
	if err != nil {
		return err
	}
	count, err := r.queue.Count(req.Context())
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"total":   count,
		"records": list,
	})
}

// GET /api/records/{fingerprint}
func (r *Router) handleGetRecord(w http.ResponseWriter, req *http.Request) error {
	fp := analysis.Fingerprint(chi.URLParam(req, "fingerprint"))

	rec, err := r.queue.GetRecord(req.Context(), fp)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(rec)
}

// GET /api/queue
func (r *Router) handleListQueue(w http.ResponseWriter, req *http.Request) error {
	pending, err := r.queue.ListPending(req.Context())
	if err != nil {
		return err
	}

	// Image payloads are dropped from the listing; they can be megabytes.
	type pendingView struct {
		ID             analysis.RequestID      `json:"id"`
		ExperimentID   string                  `json:"experiment_id"`
		ExperimentType analysis.ExperimentType `json:"experiment_type"`
		Fingerprint    analysis.Fingerprint    `json:"fingerprint"`
		CreatedAt      time.Time               `json:"created_at"`
		Attempts       int                     `json:"attempts"`
		NextAttemptAt  time.Time               `json:"next_attempt_at"`
	}
	out := make([]pendingView, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingView{
			ID:             p.ID,
			ExperimentID:   p.ExperimentID,
			ExperimentType: p.ExperimentType,
			Fingerprint:    p.Fingerprint,
			CreatedAt:      p.CreatedAt,
			Attempts:       p.Attempts,
			NextAttemptAt:  p.NextAttemptAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"pending": out,
	})
}

// DELETE /api/queue/{fingerprint}
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) error {
	fp := analysis.Fingerprint(chi.URLParam(req, "fingerprint"))

	removed, err := r.pipeline.Cancel(req.Context(), fp)
	if err != nil {
		return err
	}
	if removed {
		middleware.IncrementCancelled()
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"cancelled": removed,
	})
}

// GET /assets/* — the shell, network-first with cache fallback
func (r *Router) handleAsset(w http.ResponseWriter, req *http.Request) error {
	key := chi.URLParam(req, "*")
	data, contentType, err := r.assets.Serve(req.Context(), key)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", contentType)
	_, err = w.Write(data)
	return err
}
