package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AllowedTiers enumerates recognized tiers in evaluation order.
var AllowedTiers = []string{"global", "regional", "local"}

// TierDefaults are the per-tier trust weighting parameters.
type TierDefaults struct {
	TrustTier           int `yaml:"trust_tier"`
	ClassificationFloor int `yaml:"classification_floor"`
	WeightingBias       int `yaml:"weighting_bias"`
}

// baseTierDefaults back any values the config omits.
var baseTierDefaults = map[string]TierDefaults{
	"global":   {TrustTier: 3, ClassificationFloor: 0, WeightingBias: 0},
	"regional": {TrustTier: 2, ClassificationFloor: 0, WeightingBias: 0},
	"local":    {TrustTier: 1, ClassificationFloor: 0, WeightingBias: 0},
}

// SourceDefaults apply to every source unless it overrides them.
type SourceDefaults struct {
	Enabled          *bool           `yaml:"enabled"`
	MaxItemsPerFetch int             `yaml:"max_items_per_fetch"`
	TimeoutSeconds   int             `yaml:"timeout_seconds"`
	UserAgent        string          `yaml:"user_agent"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig paces outbound fetches per upstream host.
type RateLimitConfig struct {
	PerHostMinSeconds *int `yaml:"per_host_min_seconds"`
	JitterSeconds     *int `yaml:"jitter_seconds"`
}

// Source is one configured feed after normalization: tier assigned, global
// defaults and tier trust parameters filled in, containers never nil.
type Source struct {
	ID                  string
	Type                string
	Name                string
	Tier                string
	URL                 string
	Enabled             bool
	MaxItemsPerFetch    int
	TimeoutSeconds      int
	UserAgent           string
	TrustTier           int
	ClassificationFloor int
	WeightingBias       int
	Tags                []string
	Suppress            []SuppressionRule
	Geo                 map[string]string
}

// rawSource is the document form: pointers distinguish absent fields so
// defaults only fill genuine absences.
type rawSource struct {
	ID                  string            `yaml:"id"`
	Type                string            `yaml:"type"`
	Name                string            `yaml:"name"`
	Tier                string            `yaml:"tier"`
	URL                 string            `yaml:"url"`
	Enabled             *bool             `yaml:"enabled"`
	MaxItemsPerFetch    *int              `yaml:"max_items_per_fetch"`
	TimeoutSeconds      *int              `yaml:"timeout_seconds"`
	UserAgent           string            `yaml:"user_agent"`
	TrustTier           *int              `yaml:"trust_tier"`
	ClassificationFloor *int              `yaml:"classification_floor"`
	WeightingBias       *int              `yaml:"weighting_bias"`
	Tags                []string          `yaml:"tags"`
	Suppress            []SuppressionRule `yaml:"suppress"`
	Geo                 map[string]string `yaml:"geo"`
}

// SourcesConfig is the parsed config/sources.yaml document.
type SourcesConfig struct {
	Version      string                   `yaml:"version"`
	Defaults     SourceDefaults           `yaml:"defaults"`
	TierDefaults map[string]*TierDefaults `yaml:"tier_defaults"`
	Tiers        map[string][]rawSource   `yaml:"tiers"`
}

// LoadSources reads and validates config/sources.yaml.
func LoadSources(path string) (*SourcesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sources config not found: %w", err)
	}
	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sources config is not valid YAML: %w", err)
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("sources config must have 'version' field")
	}
	if cfg.Tiers == nil {
		return nil, fmt.Errorf("sources config must have 'tiers' field")
	}
	for _, tier := range AllowedTiers {
		for i, src := range cfg.Tiers[tier] {
			if src.ID == "" || src.Type == "" || src.Tier == "" || src.URL == "" {
				return nil, fmt.Errorf("source %d in tier %q missing a required field (id, type, tier, url)", i, tier)
			}
		}
	}
	return &cfg, nil
}

func (c *SourcesConfig) mergedTierDefaults() map[string]TierDefaults {
	merged := make(map[string]TierDefaults, len(baseTierDefaults)+1)
	for _, tier := range AllowedTiers {
		td := baseTierDefaults[tier]
		if user, ok := c.TierDefaults[tier]; ok && user != nil {
			td = *user
		}
		merged[tier] = td
	}
	// Wildcard fallback keeps unknown tiers from breaking downstream lookups.
	merged["*"] = baseTierDefaults["global"]
	return merged
}

// AllSources flattens the tier map into a normalized list, global tier
// first, preserving document order within each tier.
func (c *SourcesConfig) AllSources() []*Source {
	tierDefaults := c.mergedTierDefaults()
	var sources []*Source
	for _, tier := range AllowedTiers {
		for i := range c.Tiers[tier] {
			sources = append(sources, c.normalize(&c.Tiers[tier][i], tier, tierDefaults))
		}
	}
	return sources
}

// SourcesByTier returns the normalized sources belonging to one tier.
func (c *SourcesConfig) SourcesByTier(tier string) []*Source {
	var out []*Source
	for _, src := range c.AllSources() {
		if src.Tier == tier {
			out = append(out, src)
		}
	}
	return out
}

// FindSource returns the normalized source with the given id, or nil.
func (c *SourcesConfig) FindSource(id string) *Source {
	for _, src := range c.AllSources() {
		if src.ID == id {
			return src
		}
	}
	return nil
}

func (c *SourcesConfig) normalize(raw *rawSource, tierName string, tierDefaults map[string]TierDefaults) *Source {
	src := &Source{
		ID:        raw.ID,
		Type:      raw.Type,
		Name:      raw.Name,
		Tier:      tierName,
		URL:       raw.URL,
		UserAgent: raw.UserAgent,
		Tags:      append([]string{}, raw.Tags...),
		Suppress:  append([]SuppressionRule{}, raw.Suppress...),
		Geo:       map[string]string{},
	}
	if src.Tier == "" {
		src.Tier = raw.Tier
	}
	if src.Tier == "" {
		src.Tier = "global"
	}
	for k, v := range raw.Geo {
		src.Geo[k] = v
	}

	src.Enabled = true
	switch {
	case raw.Enabled != nil:
		src.Enabled = *raw.Enabled
	case c.Defaults.Enabled != nil:
		src.Enabled = *c.Defaults.Enabled
	}
	if raw.MaxItemsPerFetch != nil {
		src.MaxItemsPerFetch = *raw.MaxItemsPerFetch
	} else {
		src.MaxItemsPerFetch = c.Defaults.MaxItemsPerFetch
	}
	if raw.TimeoutSeconds != nil {
		src.TimeoutSeconds = *raw.TimeoutSeconds
	} else {
		src.TimeoutSeconds = c.Defaults.TimeoutSeconds
	}
	if src.UserAgent == "" {
		src.UserAgent = c.Defaults.UserAgent
	}

	td, ok := tierDefaults[src.Tier]
	if !ok {
		td = tierDefaults["*"]
	}
	src.TrustTier = td.TrustTier
	if raw.TrustTier != nil {
		src.TrustTier = *raw.TrustTier
	}
	src.ClassificationFloor = td.ClassificationFloor
	if raw.ClassificationFloor != nil {
		src.ClassificationFloor = *raw.ClassificationFloor
	}
	src.WeightingBias = td.WeightingBias
	if raw.WeightingBias != nil {
		src.WeightingBias = *raw.WeightingBias
	}
	return src
}
