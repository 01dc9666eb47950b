package model

import "time"

// SessionState is the lifecycle state of a human validation session.
type SessionState string

const (
	SessionPresented SessionState = "presented"
	SessionConfirmed SessionState = "confirmed"
	SessionRejected  SessionState = "rejected"
	SessionExpired   SessionState = "expired"
)

// Terminal reports whether no further transition is permitted.
func (s SessionState) Terminal() bool {
	return s == SessionConfirmed || s == SessionRejected || s == SessionExpired
}

// ValidationSession asks a human to confirm an uncertain search candidate.
// Sessions outlive the request that created them; the answer arrives on a
// later inbound event carrying the same session id.
type ValidationSession struct {
	ID             string          `json:"id"`
	SessionKey     string          `json:"session_key"`
	QuerySignature string          `json:"query_signature"`
	Candidate      SearchCandidate `json:"candidate"`
	State          SessionState    `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// ValidationFeedback is the immutable record of a human answer.
type ValidationFeedback struct {
	ID             string          `json:"id"`
	QuerySignature string          `json:"query_signature"`
	Candidate      SearchCandidate `json:"candidate"`
	Outcome        bool            `json:"outcome"`
	CreatedAt      time.Time       `json:"created_at"`
}
