package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// PipelineRequest describes a single inbound photo analysis request.
// It is immutable once created.
type PipelineRequest struct {
	ID        string `json:"id"`
	ImageHash string `json:"image_hash"`
	Query     string `json:"query,omitempty"`
	SessionID string `json:"session_id"`
}

// HashImage computes the content address for an image payload.
func HashImage(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}
