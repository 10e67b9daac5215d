package analysis

import (
	"time"
)

// RequestID tipe untuk Request
type RequestID string

// Fingerprint is the stable hash of an analysis request's type and payload,
// used as the cache and dedup key.
type Fingerprint string

// ExperimentType enum
type ExperimentType string

const (
	TypeCircuits  ExperimentType = "circuits"
	TypeChemistry ExperimentType = "chemistry"
	TypePhysics   ExperimentType = "physics"
	TypeGeneral   ExperimentType = "general"
)

// KnownType reports whether t is one of the closed experiment-type enum values.
func KnownType(t ExperimentType) bool {
	switch t {
	case TypeCircuits, TypeChemistry, TypePhysics, TypeGeneral:
		return true
	}
	return false
}

// Severity enum
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Origin tags the provenance of a record: a fresh remote result, a cache hit
// served during an outage, or a locally synthesized fallback.
type Origin string

const (
	OriginRemote   Origin = "remote"
	OriginCached   Origin = "cached"
	OriginFallback Origin = "fallback"
)

// FallbackConfidenceCap bounds the confidence of any fallback record so that
// downstream consumers can tell degraded results apart from real ones.
const FallbackConfidenceCap = 0.85

// Payload is the captured evidence: either image data or an ordered list of
// component names. Exactly one of the two should be set.
type Payload struct {
	ImageData  string   `json:"image_data,omitempty"`
	Components []string `json:"components,omitempty"`
}

// Empty reports whether the payload carries no evidence at all.
func (p Payload) Empty() bool {
	return p.ImageData == "" && len(p.Components) == 0
}

// Request identifies one pending capture awaiting analysis.
type Request struct {
	ID             RequestID      `json:"id"`
	ExperimentID   string         `json:"experiment_id"`
	ExperimentType ExperimentType `json:"experiment_type"`
	Payload        Payload        `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
	Fingerprint    Fingerprint    `json:"fingerprint"`
	Attempts       int            `json:"attempts"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
}

// Component is one identified part of the experimental setup.
type Component struct {
	Type        string         `json:"type"`
	Properties  map[string]any `json:"properties"`
	Position    string         `json:"position"`
	Connections []string       `json:"connections"`
}

// SafetyWarning flags a hazard in the setup.
type SafetyWarning struct {
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

// GuidanceStep is one step of the execution guidance. Steps are 1-based and
// contiguous.
type GuidanceStep struct {
	Step        int    `json:"step"`
	Instruction string `json:"instruction"`
}

// Record is the terminal outcome of an analysis request. Immutable once
// created; a retried request that later succeeds produces a new record.
type Record struct {
	RequestFingerprint Fingerprint     `json:"request_fingerprint"`
	Observations       string          `json:"observations"`
	Components         []Component     `json:"components"`
	PredictedOutcome   string          `json:"predicted_outcome"`
	SafetyWarnings     []SafetyWarning `json:"safety_warnings"`
	Guidance           []GuidanceStep  `json:"guidance"`
	ConfidenceScore    float64         `json:"confidence_score"`
	Origin             Origin          `json:"origin"`
	Synced             bool            `json:"synced"`
	CreatedAt          time.Time       `json:"created_at"`
}

// CachedCopy returns a copy of the record re-tagged as served from cache, so
// a consumer never mistakes an outage-time cache hit for a fresh result.
func (r *Record) CachedCopy(fp Fingerprint, at time.Time) *Record {
	cp := *r
	cp.RequestFingerprint = fp
	cp.Origin = OriginCached
	cp.Synced = false
	cp.CreatedAt = at
	cp.Components = append([]Component(nil), r.Components...)
	cp.SafetyWarnings = append([]SafetyWarning(nil), r.SafetyWarnings...)
	cp.Guidance = append([]GuidanceStep(nil), r.Guidance...)
	return &cp
}
