package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
)

func TestFormatResultRejection(t *testing.T) {
	msg := formatResult(&model.PipelineResult{
		Rejected:         true,
		RejectionMessage: "That looks like a photo of a cat, not industrial equipment.",
	})
	assert.Equal(t, "That looks like a photo of a cat, not industrial equipment.", msg)
}

func TestFormatResultAnswerWithEquipmentAndCitations(t *testing.T) {
	msg := formatResult(&model.PipelineResult{
		Equipment: &model.EquipmentRecord{
			Manufacturer: "siemens",
			Model:        "g120c",
			Serial:       "SN-42",
		},
		EquipmentCreated: true,
		Answer:           "F0002 is a DC-link overvoltage trip.",
		Analyze: &model.StageResult{
			Analyze: &model.AnalyzePayload{
				Text:      "F0002 is a DC-link overvoltage trip.",
				Citations: []string{"https://support.industry.siemens.com/g120c.pdf"},
			},
		},
	})

	assert.Contains(t, msg, "Siemens G120C")
	assert.Contains(t, msg, "(s/n SN-42)")
	assert.Contains(t, msg, "new to me")
	assert.Contains(t, msg, "F0002 is a DC-link overvoltage trip.")
	assert.Contains(t, msg, "Sources:")
	assert.Contains(t, msg, "• https://support.industry.siemens.com/g120c.pdf")
}

func TestFormatResultValidationPrompt(t *testing.T) {
	msg := formatResult(&model.PipelineResult{
		Validation: &model.ValidationSession{
			Candidate: model.SearchCandidate{
				Title: "SINAMICS G120C Operating Instructions",
				URL:   "https://maybe.example.com/doc.pdf",
			},
		},
	})

	assert.Contains(t, msg, "not sure it's the right one")
	assert.Contains(t, msg, "SINAMICS G120C Operating Instructions")
	assert.Contains(t, msg, "https://maybe.example.com/doc.pdf")
	assert.Contains(t, msg, "Is this the right document")
	assert.NotContains(t, msg, "Sources:", "the prompt replaces the answer, not decorates it")
}

func TestFormatResultNoteOnly(t *testing.T) {
	msg := formatResult(&model.PipelineResult{
		Note: "I couldn't read a manufacturer or model from this nameplate.",
	})
	assert.Equal(t, "ℹ️ I couldn't read a manufacturer or model from this nameplate.", msg)
}

func TestFormatResultEmptyFallback(t *testing.T) {
	msg := formatResult(&model.PipelineResult{})
	assert.Contains(t, msg, "clearer shot of the nameplate")
}

func TestPipelineRequestTrimsCaption(t *testing.T) {
	req := pipelineRequest([]byte("img"), "  what breaker size?  ", 42)
	assert.Equal(t, "what breaker size?", req.Query)
	assert.Equal(t, "image/jpeg", req.MediaType)
	assert.Equal(t, sessionKey(42), req.SessionID)
}
