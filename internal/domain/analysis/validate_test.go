package analysis

import (
	"errors"
	"testing"
	"time"
)

func validRecord() *Record {
	return &Record{
		Observations:     "a breadboard circuit with an LED and battery",
		Components:       []Component{{Type: "LED"}},
		PredictedOutcome: "the LED lights up",
		SafetyWarnings: []SafetyWarning{
			{Severity: SeverityLow, Message: "sharp leads", Recommendation: "handle with care"},
		},
		Guidance: []GuidanceStep{
			{Step: 1, Instruction: "connect the resistor"},
			{Step: 2, Instruction: "connect the LED"},
		},
		ConfidenceScore: 0.9,
		Origin:          OriginRemote,
		CreatedAt:       time.Now(),
	}
}

func TestValidateRecordAccepts(t *testing.T) {
	if err := ValidateRecord(validRecord()); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
}

func TestValidateRecordRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing observations", func(r *Record) { r.Observations = "" }},
		{"no components", func(r *Record) { r.Components = nil }},
		{"missing outcome", func(r *Record) { r.PredictedOutcome = "" }},
		{"no guidance", func(r *Record) { r.Guidance = nil }},
		{"guidance gap", func(r *Record) { r.Guidance[1].Step = 3 }},
		{"guidance zero based", func(r *Record) { r.Guidance[0].Step = 0 }},
		{"empty instruction", func(r *Record) { r.Guidance[0].Instruction = "" }},
		{"confidence negative", func(r *Record) { r.ConfidenceScore = -0.1 }},
		{"confidence above one", func(r *Record) { r.ConfidenceScore = 1.01 }},
		{"unknown severity", func(r *Record) { r.SafetyWarnings[0].Severity = "catastrophic" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.mutate(rec)
			err := ValidateRecord(rec)
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if !errors.Is(err, ErrStructural) {
				t.Fatalf("expected structural classification, got %v", err)
			}
		})
	}

	if err := ValidateRecord(nil); !errors.Is(err, ErrStructural) {
		t.Fatalf("nil record: expected structural failure, got %v", err)
	}
}

func TestValidateRecordBoundaryConfidence(t *testing.T) {
	for _, score := range []float64{0, 1} {
		rec := validRecord()
		rec.ConfidenceScore = score
		if err := ValidateRecord(rec); err != nil {
			t.Fatalf("confidence %v should be accepted: %v", score, err)
		}
	}
}

func TestCachedCopyIsolation(t *testing.T) {
	orig := validRecord()
	orig.Synced = true
	fp := Fingerprint("abc123")
	at := time.Now().Add(time.Hour)

	cp := orig.CachedCopy(fp, at)
	if cp.Origin != OriginCached {
		t.Fatalf("expected cached origin, got %s", cp.Origin)
	}
	if cp.Synced {
		t.Fatal("outage-time cache hits are not fresh deliveries")
	}
	if cp.RequestFingerprint != fp || !cp.CreatedAt.Equal(at) {
		t.Fatalf("fingerprint/timestamp not re-stamped: %+v", cp)
	}

	cp.Components[0].Type = "mutated"
	cp.Guidance[0].Instruction = "mutated"
	if orig.Components[0].Type == "mutated" || orig.Guidance[0].Instruction == "mutated" {
		t.Fatal("cached copy shares slices with the original")
	}
	if orig.Origin != OriginRemote {
		t.Fatalf("original origin changed to %s", orig.Origin)
	}
}
