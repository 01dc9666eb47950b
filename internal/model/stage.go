package model

// Stage identifies one gated step of the analysis pipeline.
type Stage string

const (
	StageScreen  Stage = "screen"
	StageExtract Stage = "extract"
	StageAnalyze Stage = "analyze"
	StageSearch  Stage = "search"
)

// ScreenPayload is the output of the screening stage: a coarse category
// judgment of whether the photo shows industrial equipment at all.
type ScreenPayload struct {
	Category string `json:"category"`
	Reason   string `json:"reason,omitempty"`
}

// ExtractPayload holds the structured fields read off an equipment
// nameplate. Fields carries anything beyond the well-known columns
// (voltage, horsepower, frame size, ...).
type ExtractPayload struct {
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model"`
	Serial       string            `json:"serial,omitempty"`
	Location     string            `json:"location,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	QualityIssue bool              `json:"quality_issue,omitempty"`
}

// AnalyzePayload is the troubleshooting answer produced by the final
// analysis stage.
type AnalyzePayload struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations,omitempty"`
}

// StageResult records one stage outcome together with its provenance and
// cost attribution. Immutable once produced.
type StageResult struct {
	Stage      Stage   `json:"stage"`
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
	CostUSD    float64 `json:"cost_usd"`
	LatencyMS  int64   `json:"latency_ms"`
	FromCache  bool    `json:"from_cache"`
	Degraded   bool    `json:"degraded,omitempty"`

	Screen  *ScreenPayload  `json:"screen,omitempty"`
	Extract *ExtractPayload `json:"extract,omitempty"`
	Analyze *AnalyzePayload `json:"analyze,omitempty"`
}
