package analysis

import "fmt"

// ValidateRecord checks the structural invariants a gateway response must
// satisfy before it may be committed: non-empty observations and components,
// at least one guidance step with contiguous 1-based numbering, confidence in
// [0,1], and known warning severities. A violation is a StructuralError.
func ValidateRecord(r *Record) error {
	if r == nil {
		return &StructuralError{Reason: "empty record"}
	}
	if r.Observations == "" {
		return &StructuralError{Reason: "missing observations"}
	}
	if len(r.Components) == 0 {
		return &StructuralError{Reason: "no components identified"}
	}
	if r.PredictedOutcome == "" {
		return &StructuralError{Reason: "missing predicted outcome"}
	}
	if len(r.Guidance) == 0 {
		return &StructuralError{Reason: "missing guidance"}
	}
	for i, g := range r.Guidance {
		if g.Step != i+1 {
			return &StructuralError{Reason: fmt.Sprintf("guidance step %d out of sequence (want %d)", g.Step, i+1)}
		}
		if g.Instruction == "" {
			return &StructuralError{Reason: fmt.Sprintf("guidance step %d has no instruction", g.Step)}
		}
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return &StructuralError{Reason: fmt.Sprintf("confidence score %v out of range", r.ConfidenceScore)}
	}
	for _, w := range r.SafetyWarnings {
		switch w.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		default:
			return &StructuralError{Reason: fmt.Sprintf("unknown warning severity %q", w.Severity)}
		}
	}
	return nil
}
