package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeCost(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1M input + 1M output at sonnet rates.
	got := c.Claude("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.00, got, 1e-9)
}

func TestClaudeCostUnknownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("not-a-model", 1000, 1000))
}

func TestGeminiCost(t *testing.T) {
	c := NewCalculator(DefaultRates())
	got := c.Gemini("gemini-2.0-flash", 500_000, 100_000)
	assert.InDelta(t, 0.05+0.04, got, 1e-9)
}

func TestJinaCost(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.02, c.Jina(1_000_000), 1e-9)
}

func TestPerplexityQueryCost(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.005, c.PerplexityQuery(), 1e-9)
}
