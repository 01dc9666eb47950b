package cascade

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config is an optional per-stage override file for provider order and
// thresholds, so cascade ordering can change without a redeploy.
type Config struct {
	Stages map[string]StageOverride `yaml:"stages"`
}

// StageOverride configures one stage's cascade.
type StageOverride struct {
	Providers []string `yaml:"providers"`
	Threshold float64  `yaml:"threshold"`
}

// LoadConfig reads cascade overrides from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cascade: read config %s", path)
	}

	// The YAML has a top-level "cascade" key.
	var wrapper struct {
		Cascade Config `yaml:"cascade"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "cascade: parse config")
	}

	return &wrapper.Cascade, nil
}

// Order returns the configured provider order for a stage, or the given
// fallback when the stage has no override.
func (c *Config) Order(stage string, fallback []string) []string {
	if c == nil {
		return fallback
	}
	if ov, ok := c.Stages[stage]; ok && len(ov.Providers) > 0 {
		return ov.Providers
	}
	return fallback
}

// Threshold returns the configured threshold for a stage, or the given
// fallback when the stage has no override.
func (c *Config) Threshold(stage string, fallback float64) float64 {
	if c == nil {
		return fallback
	}
	if ov, ok := c.Stages[stage]; ok && ov.Threshold > 0 {
		return ov.Threshold
	}
	return fallback
}

// Reorder arranges providers according to the stage override, keeping the
// fallback order for anything the override does not mention and dropping
// names with no matching provider.
func Reorder[I, O any](providers []Provider[I, O], order []string) []Provider[I, O] {
	if len(order) == 0 {
		return providers
	}
	byName := make(map[string]Provider[I, O], len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	out := make([]Provider[I, O], 0, len(providers))
	seen := make(map[string]bool, len(providers))
	for _, name := range order {
		if p, ok := byName[name]; ok {
			out = append(out, p)
			seen[name] = true
		}
	}
	for _, p := range providers {
		if !seen[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}
