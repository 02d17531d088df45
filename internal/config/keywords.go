package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyword is a weighted risk term. In the document an entry may be either a
// bare string (weight 1) or a {term, weight} mapping.
type Keyword struct {
	Term   string
	Weight int
}

// UnmarshalYAML accepts both entry shapes. Terms are uppercased and
// trimmed; negative weights clamp to zero.
func (k *Keyword) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var term string
		if err := node.Decode(&term); err != nil {
			return err
		}
		k.Term = strings.ToUpper(strings.TrimSpace(term))
		k.Weight = 1
	case yaml.MappingNode:
		var entry struct {
			Term   string   `yaml:"term"`
			Weight *float64 `yaml:"weight"`
		}
		if err := node.Decode(&entry); err != nil {
			return err
		}
		k.Term = strings.ToUpper(strings.TrimSpace(entry.Term))
		k.Weight = 1
		if entry.Weight != nil {
			k.Weight = int(*entry.Weight)
		}
	default:
		return fmt.Errorf("keyword entry must be a string or mapping")
	}
	if k.Term == "" {
		return fmt.Errorf("keyword entry missing 'term'")
	}
	if k.Weight < 0 {
		k.Weight = 0
	}
	return nil
}

// KeywordsConfig is the parsed config/keywords.yaml document.
type KeywordsConfig struct {
	RiskKeywords []Keyword `yaml:"risk_keywords"`
}

// LoadKeywords reads and normalizes config/keywords.yaml.
func LoadKeywords(path string) (*KeywordsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keywords config not found: %w", err)
	}
	var cfg KeywordsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("keywords config is not valid YAML: %w", err)
	}
	if cfg.RiskKeywords == nil {
		cfg.RiskKeywords = []Keyword{}
	}
	return &cfg, nil
}
