// Package prompt builds the per-experiment-type instructions sent to the
// analysis model. The contract is JSON only: the reply must be a single
// object matching the analysis record schema.
package prompt

import (
	"fmt"
	"strings"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

const base = `You are Newton's Lens, an expert AI lab assistant for science experiments.
Analyze this experimental setup and provide a detailed analysis in JSON format.

Your analysis should include:
1. Components identified in the setup
2. How components are connected or arranged
3. Predicted outcome of the experiment
4. Safety warnings (if any)
5. Step-by-step guidance for proper execution
6. Confidence score (0-1)

Focus on:`

var typeSpecific = map[analysis.ExperimentType]string{
	analysis.TypeCircuits: `
- Identify electronic components (resistors, LEDs, batteries, wires, breadboards)
- Check for proper connections and polarity
- Calculate current and voltage if possible
- Warn about short circuits, reverse polarity, or component damage risks
- Provide guidance on proper circuit assembly`,

	analysis.TypeChemistry: `
- Identify chemicals, glassware, and equipment
- Check for proper safety equipment (gloves, goggles)
- Warn about dangerous chemical reactions
- Note proper mixing order and safety precautions
- Provide guidance on safe chemical handling`,

	analysis.TypePhysics: `
- Identify mechanical components and setup
- Analyze forces, motion, or energy involved
- Check for stability and safety of the setup
- Predict physical outcomes
- Provide guidance on measurement and execution`,

	analysis.TypeGeneral: `
- Identify all visible components and materials
- Analyze the experimental setup
- Provide safety recommendations
- Suggest proper execution steps`,
}

const jsonFormat = `

Return your analysis as a valid JSON object with this structure:
{
  "observations": "Detailed description of what you see",
  "components": [
    {
      "type": "component type",
      "properties": {"key": "value"},
      "position": "description",
      "connections": ["connected to"]
    }
  ],
  "predicted_outcome": "What will happen when this experiment is executed",
  "safety_warnings": [
    {
      "severity": "low|medium|high|critical",
      "message": "Warning message",
      "recommendation": "How to fix it"
    }
  ],
  "guidance": [
    {
      "step": 1,
      "instruction": "Step instruction"
    }
  ],
  "confidence_score": 0.95
}

Ensure the response is ONLY valid JSON, no additional text.`

// System returns the system prompt for the experiment type.
func System(t analysis.ExperimentType) string {
	focus, ok := typeSpecific[t]
	if !ok {
		focus = typeSpecific[analysis.TypeGeneral]
	}
	return base + focus + jsonFormat
}

// User renders the capture evidence for a component-list payload. Image
// payloads travel as an image part instead.
func User(p analysis.Payload) string {
	if len(p.Components) > 0 {
		return fmt.Sprintf("The experimental setup contains the following components, in order: %s.",
			strings.Join(p.Components, ", "))
	}
	return "Analyze the attached image of the experimental setup."
}
