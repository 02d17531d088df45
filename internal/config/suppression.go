package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SuppressionRule matches items that should be held back from alerting.
// Rules appear globally in config/suppression.yaml and per source under a
// source's suppress list.
type SuppressionRule struct {
	ID            string `yaml:"id"`
	Enabled       *bool  `yaml:"enabled"`
	Kind          string `yaml:"kind"`  // keyword, regex, or exact
	Field         string `yaml:"field"` // title, summary, raw_text, url, event_type, source_id, tier, or any
	Pattern       string `yaml:"pattern"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	Note          string `yaml:"note"`
	ReasonCode    string `yaml:"reason_code"`
}

// IsEnabled reports whether the rule is active. Rules default to enabled.
func (r *SuppressionRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// GetReasonCode returns the reporting code, defaulting to the rule id.
func (r *SuppressionRule) GetReasonCode() string {
	if r.ReasonCode != "" {
		return r.ReasonCode
	}
	return r.ID
}

// SuppressionConfig is the parsed config/suppression.yaml document.
type SuppressionConfig struct {
	Version string            `yaml:"version"`
	Enabled *bool             `yaml:"enabled"`
	Rules   []SuppressionRule `yaml:"rules"`
}

// IsEnabled reports whether suppression runs at all. Defaults to true.
func (c *SuppressionConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoadSuppression reads and validates config/suppression.yaml.
func LoadSuppression(path string) (*SuppressionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suppression config not found: %w", err)
	}
	var cfg SuppressionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("suppression config is not valid YAML: %w", err)
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("suppression config must have 'version' field")
	}
	if cfg.Rules == nil {
		cfg.Rules = []SuppressionRule{}
	}
	return &cfg, nil
}
