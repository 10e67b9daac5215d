package analysis

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeFingerprint hashes the experiment type together with the payload.
// The same setup always produces the same fingerprint, which is what makes
// response caching and per-item dispatch dedup work.
func ComputeFingerprint(t ExperimentType, p Payload) Fingerprint {
	h := sha256.New()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(p.ImageData))
	for _, c := range p.Components {
		h.Write([]byte{0x1f})
		h.Write([]byte(c))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
