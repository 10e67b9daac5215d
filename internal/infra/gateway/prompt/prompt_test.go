package prompt

import (
	"strings"
	"testing"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

func TestSystemPerType(t *testing.T) {
	cases := map[analysis.ExperimentType]string{
		analysis.TypeCircuits:  "polarity",
		analysis.TypeChemistry: "glassware",
		analysis.TypePhysics:   "forces",
		analysis.TypeGeneral:   "visible components",
	}
	for typ, marker := range cases {
		p := System(typ)
		if !strings.Contains(p, marker) {
			t.Errorf("%s prompt missing %q", typ, marker)
		}
		if !strings.Contains(p, "ONLY valid JSON") {
			t.Errorf("%s prompt missing the JSON contract", typ)
		}
		if !strings.Contains(p, "confidence_score") {
			t.Errorf("%s prompt missing the schema", typ)
		}
	}
}

func TestSystemUnknownTypeFallsBack(t *testing.T) {
	if System("biology") != System(analysis.TypeGeneral) {
		t.Fatal("unknown type should use the general focus")
	}
}

func TestUser(t *testing.T) {
	msg := User(analysis.Payload{Components: []string{"LED", "battery"}})
	if !strings.Contains(msg, "LED, battery") {
		t.Fatalf("components not rendered: %q", msg)
	}
	msg = User(analysis.Payload{ImageData: "zzz"})
	if !strings.Contains(msg, "image") {
		t.Fatalf("image payload prompt: %q", msg)
	}
}
