// Package providers adapts the vendor API clients to the cascade provider
// interface. Every adapter returns a model-reported confidence and the
// actual cost of the call, so the cascade can gate and account uniformly.
package providers

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ImageInput is the cascade input for the vision stages: the photo plus the
// operator's question, if any.
type ImageInput struct {
	Image     []byte
	MediaType string
	Query     string
}

// AnalyzeInput is the cascade input for the analysis stage. System carries
// the vendor persona prompt chosen from the extracted manufacturer.
type AnalyzeInput struct {
	System       string
	Manufacturer string
	Model        string
	Question     string
	DocumentURL  string
	DocumentText string
}

// confidenceEnvelope is the JSON wrapper every stage prompt asks the model
// to produce around its payload.
type confidenceEnvelope struct {
	Confidence float64 `json:"confidence"`
}

// decodeEnvelope parses raw model output into payload and pulls out the
// confidence. Confidence outside [0,1] is clamped rather than rejected:
// models occasionally report percentages.
func decodeEnvelope(raw string, payload any) (float64, error) {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), payload); err != nil {
		return 0, eris.Wrap(err, "providers: malformed model output")
	}
	var env confidenceEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return 0, eris.Wrap(err, "providers: malformed confidence")
	}
	c := env.Confidence
	if c > 1 && c <= 100 {
		c /= 100
	}
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c, nil
}
