package fallback

import (
	"reflect"
	"testing"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

func TestGenerateIsStructurallyValid(t *testing.T) {
	g := New()
	types := []analysis.ExperimentType{
		analysis.TypeCircuits,
		analysis.TypeChemistry,
		analysis.TypePhysics,
		analysis.TypeGeneral,
	}
	for _, typ := range types {
		rec := g.Generate(typ, analysis.Payload{ImageData: "zzz"})
		if err := analysis.ValidateRecord(rec); err != nil {
			t.Errorf("%s: fallback failed its own validation: %v", typ, err)
		}
		if rec.ConfidenceScore >= analysis.FallbackConfidenceCap {
			t.Errorf("%s: confidence %v breaches the cap", typ, rec.ConfidenceScore)
		}
	}
}

func TestGenerateUnknownTypeUsesGeneral(t *testing.T) {
	g := New()
	unknown := g.Generate("biology", analysis.Payload{ImageData: "zzz"})
	general := g.Generate(analysis.TypeGeneral, analysis.Payload{ImageData: "zzz"})
	if unknown.Observations != general.Observations {
		t.Fatal("unknown type should fall through to the general analysis")
	}
}

func TestGenerateDeterministic(t *testing.T) {
	g := New()
	p := analysis.Payload{Components: []string{"LED", "battery"}}
	a := g.Generate(analysis.TypeCircuits, p)
	b := g.Generate(analysis.TypeCircuits, p)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same input must produce identical output")
	}
}

func TestCircuitsEchoesNamedComponents(t *testing.T) {
	g := New()
	rec := g.Generate(analysis.TypeCircuits, analysis.Payload{Components: []string{"potentiometer", "buzzer"}})
	if len(rec.Components) != 2 {
		t.Fatalf("want the 2 named components, got %d", len(rec.Components))
	}
	if rec.Components[0].Type != "potentiometer" || rec.Components[1].Type != "buzzer" {
		t.Fatalf("component names not echoed: %+v", rec.Components)
	}

	// Image captures get the canned component list instead.
	rec = g.Generate(analysis.TypeCircuits, analysis.Payload{ImageData: "zzz"})
	if len(rec.Components) == 0 || rec.Components[0].Type == "potentiometer" {
		t.Fatalf("image capture should use the canned list: %+v", rec.Components)
	}
}
