package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersonaFor(t *testing.T) {
	tests := []struct {
		manufacturer string
		want         string
	}{
		{"siemens", "siemens"},
		{"Siemens AG", "siemens"},
		{"allen-bradley", "allen-bradley"},
		{"Rockwell Automation", "allen-bradley"},
		{"abb", "abb"},
		{"square d", "schneider"},
		{"Telemecanique", "schneider"},
		{"baldor", "generic"},
		{"", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.manufacturer, func(t *testing.T) {
			assert.Equal(t, tt.want, personaFor(tt.manufacturer).Name)
		})
	}
}

func TestPersonaSystemPromptsShareSafetyPreamble(t *testing.T) {
	for _, entry := range personas {
		assert.Contains(t, entry.persona.System, "lockout/tagout", entry.persona.Name)
	}
	assert.Contains(t, genericPersona.System, "lockout/tagout")
}
