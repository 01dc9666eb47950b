package cascade

// Attempt records one provider invocation within a cascade run, winner or
// not. Err is empty for attempts that completed.
type Attempt[O any] struct {
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
	CostUSD    float64 `json:"cost_usd"`
	LatencyMS  int64   `json:"latency_ms"`
	Err        string  `json:"error,omitempty"`
	Output     O       `json:"output"`
	Completed  bool    `json:"completed"`
}

// Outcome is the overall result of a cascade run. Winner points into
// Attempts. Degraded is set when no provider cleared the threshold and the
// winner is merely the best seen; the cascade never fails solely because
// confidence was low.
type Outcome[O any] struct {
	Winner       *Attempt[O]  `json:"winner,omitempty"`
	Attempts     []Attempt[O] `json:"attempts"`
	Degraded     bool         `json:"degraded"`
	TotalCostUSD float64      `json:"total_cost_usd"`
}
