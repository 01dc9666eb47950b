package search

import "strings"

// Query is a documentation lookup request: the equipment identity plus the
// operator's question, if any.
type Query struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial,omitempty"`
	Question     string `json:"question,omitempty"`
}

// Text renders the query as a single search string. The serial is omitted:
// it narrows results without improving manual matches.
func (q Query) Text() string {
	parts := make([]string, 0, 4)
	if q.Manufacturer != "" {
		parts = append(parts, q.Manufacturer)
	}
	if q.Model != "" {
		parts = append(parts, q.Model)
	}
	if q.Question != "" {
		parts = append(parts, q.Question)
	} else {
		parts = append(parts, "manual")
	}
	return strings.Join(parts, " ")
}
