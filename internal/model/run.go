package model

import "time"

// RunStatus mirrors the orchestrator state machine for persisted runs.
type RunStatus string

const (
	RunStatusReceived        RunStatus = "received"
	RunStatusScreened        RunStatus = "screened"
	RunStatusRejected        RunStatus = "rejected"
	RunStatusExtracted       RunStatus = "extracted"
	RunStatusMatched         RunStatus = "matched"
	RunStatusUnmatched       RunStatus = "unmatched"
	RunStatusAnalyzed        RunStatus = "analyzed"
	RunStatusSkippedAnalysis RunStatus = "skipped_analysis"
	RunStatusDone            RunStatus = "done"
	RunStatusFailed          RunStatus = "failed"
)

// Run is one persisted pipeline invocation.
type Run struct {
	ID        string          `json:"id"`
	Request   PipelineRequest `json:"request"`
	Status    RunStatus       `json:"status"`
	Result    *PipelineResult `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PipelineResult is the assembled outcome handed back to the messaging
// adapter: equipment data, a troubleshooting answer, or an explanation of
// why neither could be produced.
type PipelineResult struct {
	RequestID string `json:"request_id"`
	ImageHash string `json:"image_hash"`
	FromCache bool   `json:"from_cache"`

	Rejected         bool   `json:"rejected,omitempty"`
	RejectionMessage string `json:"rejection_message,omitempty"`

	Screen  *StageResult `json:"screen,omitempty"`
	Extract *StageResult `json:"extract,omitempty"`
	Analyze *StageResult `json:"analyze,omitempty"`

	Equipment        *EquipmentRecord `json:"equipment,omitempty"`
	EquipmentCreated bool             `json:"equipment_created,omitempty"`

	Search     *SearchReport      `json:"search,omitempty"`
	Validation *ValidationSession `json:"validation,omitempty"`

	Answer       string  `json:"answer,omitempty"`
	Note         string  `json:"note,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	LatencyMS    int64   `json:"latency_ms"`
}
