package cascade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cascadeYAML = `cascade:
  stages:
    screen:
      providers: [claude-screen, gemini-screen]
      threshold: 0.9
    search:
      providers: [perplexity-search]
`

func writeCascadeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cascadeYAML), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeCascadeFile(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"claude-screen", "gemini-screen"}, cfg.Order("screen", nil))
	assert.InDelta(t, 0.9, cfg.Threshold("screen", 0.8), 1e-9)

	// Stages without an override keep the fallback.
	assert.Equal(t, []string{"x"}, cfg.Order("extract", []string{"x"}))
	assert.InDelta(t, 0.6, cfg.Threshold("extract", 0.6), 1e-9)

	// An override with providers but no threshold keeps the fallback bar.
	assert.InDelta(t, 0.85, cfg.Threshold("search", 0.85), 1e-9)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNilConfigUsesFallbacks(t *testing.T) {
	var cfg *Config
	assert.Equal(t, []string{"a"}, cfg.Order("screen", []string{"a"}))
	assert.InDelta(t, 0.7, cfg.Threshold("screen", 0.7), 1e-9)
}

func TestReorder(t *testing.T) {
	ps := []Provider[string, string]{
		provider("a", 1, 0, nil),
		provider("b", 1, 0, nil),
		provider("c", 1, 0, nil),
	}

	names := func(ps []Provider[string, string]) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.Name()
		}
		return out
	}

	assert.Equal(t, []string{"c", "a", "b"}, names(Reorder(ps, []string{"c", "a"})))
	assert.Equal(t, []string{"b", "a", "c"}, names(Reorder(ps, []string{"b", "ghost", "a"})))
	assert.Equal(t, []string{"a", "b", "c"}, names(Reorder(ps, nil)))
}
