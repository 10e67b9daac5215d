package middleware

import (
	"fmt"
	"strings"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

// Input validation and sanitization utilities

// MaxImageBytes caps inbound image payloads (base64 data URLs grow ~4/3 over
// the raw capture, so this allows roughly a 6MB JPEG).
const MaxImageBytes = 8 << 20

// MaxComponents caps the component-name list of a capture.
const MaxComponents = 64

// ValidateExperimentType checks the type against the closed enum.
func ValidateExperimentType(t string) error {
	if !analysis.KnownType(analysis.ExperimentType(t)) {
		return fmt.Errorf("invalid experiment_type: %s (allowed: circuits, chemistry, physics, general)", t)
	}
	return nil
}

// ValidatePayload checks capture evidence before it enters the queue.
func ValidatePayload(p analysis.Payload) error {
	if p.Empty() {
		return fmt.Errorf("payload must carry image_data or components")
	}
	if p.ImageData != "" && len(p.Components) > 0 {
		return fmt.Errorf("payload must carry image_data or components, not both")
	}
	if len(p.ImageData) > MaxImageBytes {
		return fmt.Errorf("image_data exceeds %d bytes", MaxImageBytes)
	}
	if p.ImageData != "" && strings.HasPrefix(p.ImageData, "data:") && !strings.HasPrefix(p.ImageData, "data:image/") {
		return fmt.Errorf("image_data must be an image data URL")
	}
	if len(p.Components) > MaxComponents {
		return fmt.Errorf("too many components (max %d)", MaxComponents)
	}
	for i, c := range p.Components {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("component %d is empty", i+1)
		}
	}
	return nil
}

// ValidateExperimentID keeps identifiers sane for storage keys and logs.
func ValidateExperimentID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 128 {
		return fmt.Errorf("experiment_id too long (max 128 chars)")
	}
	for _, r := range id {
		if !isIDRune(r) {
			return fmt.Errorf("experiment_id contains invalid character %q", r)
		}
	}
	return nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}
