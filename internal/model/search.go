package model

// SearchCandidate is one candidate answer or document produced by a
// documentation search provider.
type SearchCandidate struct {
	URL        string  `json:"url,omitempty"`
	Answer     string  `json:"answer,omitempty"`
	Title      string  `json:"title,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Empty reports whether the candidate carries no content at all, which is
// how a failed provider attempt appears in a report.
func (c SearchCandidate) Empty() bool {
	return c.URL == "" && c.Answer == ""
}

// SearchAttempt is one entry of the transparency report: the provider that
// ran, what it produced (if anything), and why the candidate was rejected.
// An empty RejectionReason marks the accepted candidate.
type SearchAttempt struct {
	Provider        string           `json:"provider"`
	Candidate       *SearchCandidate `json:"candidate,omitempty"`
	CostUSD         float64          `json:"cost_usd"`
	LatencyMS       int64            `json:"latency_ms"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

// SearchReport records every documentation lookup attempt in order, so a
// failed search can be explained instead of silently swallowed.
type SearchReport struct {
	Query        string          `json:"query"`
	Attempts     []SearchAttempt `json:"attempts"`
	TotalCostUSD float64         `json:"total_cost_usd"`
}

// Best returns the highest-confidence candidate across all attempts, or
// nil when no provider produced a candidate at all. Rejected candidates
// still count: a report full of rejections has a best candidate.
func (r *SearchReport) Best() *SearchCandidate {
	var best *SearchCandidate
	for i := range r.Attempts {
		c := r.Attempts[i].Candidate
		if c == nil || c.Empty() {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}
