package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourcesDoc = `version: "1"
defaults:
  enabled: false
  max_items_per_fetch: 10
  timeout_seconds: 15
  user_agent: "hardstop-test/1.0"
tier_defaults:
  local:
    trust_tier: 1
    weighting_bias: -1
tiers:
  global:
    - id: nws-alerts
      type: nws_alerts
      tier: global
      name: NWS Active Alerts
      url: https://api.weather.gov/alerts/active
      enabled: true
  regional:
    - id: indiana-deq
      type: rss
      tier: regional
      url: https://example.org/deq.rss
      trust_tier: 3
      geo:
        state: IN
  local:
    - id: avon-local-news
      type: rss
      tier: local
      url: https://example.org/avon.rss
      max_items_per_fetch: 25
      suppress:
        - id: avon-sports
          kind: keyword
          field: title
          pattern: "high school"
          reason_code: OFF_TOPIC
`

func loadSourcesDoc(t *testing.T, doc string) *SourcesConfig {
	t.Helper()
	cfg, err := LoadSources(writeFile(t, "sources.yaml", doc))
	require.NoError(t, err)
	return cfg
}

func TestLoadSourcesValidation(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSources("does-not-exist.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sources config not found")
	})

	t.Run("missing version", func(t *testing.T) {
		_, err := LoadSources(writeFile(t, "sources.yaml", "tiers: {}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must have 'version' field")
	})

	t.Run("missing tiers", func(t *testing.T) {
		_, err := LoadSources(writeFile(t, "sources.yaml", "version: \"1\"\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must have 'tiers' field")
	})

	t.Run("entry missing required field", func(t *testing.T) {
		doc := `version: "1"
tiers:
  local:
    - id: no-tier-field
      type: rss
      url: https://example.org/feed
`
		_, err := LoadSources(writeFile(t, "sources.yaml", doc))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing a required field")
	})

	t.Run("not yaml", func(t *testing.T) {
		_, err := LoadSources(writeFile(t, "sources.yaml", "{{nope"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid YAML")
	})
}

func TestAllSourcesNormalization(t *testing.T) {
	cfg := loadSourcesDoc(t, sourcesDoc)
	sources := cfg.AllSources()
	require.Len(t, sources, 3)

	// Global tier first, then regional, then local.
	assert.Equal(t, "nws-alerts", sources[0].ID)
	assert.Equal(t, "indiana-deq", sources[1].ID)
	assert.Equal(t, "avon-local-news", sources[2].ID)

	nws := sources[0]
	assert.True(t, nws.Enabled)
	assert.Equal(t, 3, nws.TrustTier)
	assert.Equal(t, 10, nws.MaxItemsPerFetch)
	assert.Equal(t, 15, nws.TimeoutSeconds)
	assert.Equal(t, "hardstop-test/1.0", nws.UserAgent)

	deq := sources[1]
	assert.False(t, deq.Enabled)
	// Per-source trust overrides the regional default of 2.
	assert.Equal(t, 3, deq.TrustTier)
	assert.Equal(t, "IN", deq.Geo["state"])

	avon := sources[2]
	assert.Equal(t, 1, avon.TrustTier)
	assert.Equal(t, -1, avon.WeightingBias)
	assert.Equal(t, 25, avon.MaxItemsPerFetch)
	require.Len(t, avon.Suppress, 1)
	assert.Equal(t, "avon-sports", avon.Suppress[0].ID)
	assert.Equal(t, "OFF_TOPIC", avon.Suppress[0].GetReasonCode())
}

func TestTierDefaultsReplaceWholeEntry(t *testing.T) {
	doc := `version: "1"
tier_defaults:
  global:
    classification_floor: 1
tiers:
  global:
    - id: wire-service
      type: rss
      tier: global
      url: https://example.org/wire.rss
`
	cfg := loadSourcesDoc(t, doc)
	src := cfg.FindSource("wire-service")
	require.NotNil(t, src)
	assert.Equal(t, 1, src.ClassificationFloor)
	// A user tier entry replaces the built-in defaults wholesale, so the
	// omitted trust_tier is zero, not the built-in 3.
	assert.Zero(t, src.TrustTier)
}

func TestSourcesByTierAndFindSource(t *testing.T) {
	cfg := loadSourcesDoc(t, sourcesDoc)

	local := cfg.SourcesByTier("local")
	require.Len(t, local, 1)
	assert.Equal(t, "avon-local-news", local[0].ID)

	assert.Nil(t, cfg.FindSource("missing-feed"))
	found := cfg.FindSource("nws-alerts")
	require.NotNil(t, found)
	assert.Equal(t, "global", found.Tier)
}
