package normalize

import (
	"testing"

	"github.com/hardstop-io/hardstop/internal/adapters"
	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEventType(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		title string
		want  string
	}{
		{"weather", "severe thunderstorm warning issued", "", "WEATHER"},
		{"spill", "", "Chemical spill shuts access road", "SPILL"},
		{"strike", "union workers begin walkout at port", "", "STRIKE"},
		{"closure", "the plant was shut down overnight", "", "CLOSURE"},
		{"reg", "new compliance violation and fine announced", "", "REG"},
		{"recall", "voluntary recall of contaminated lots", "", "RECALL"},
		{"other", "quarterly earnings beat expectations", "", "OTHER"},
		{"title wins", "nothing here", "Flood watch in effect", "WEATHER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractEventType(tc.text, tc.title))
		})
	}
}

func TestExtractEventTypeFirstCategoryWins(t *testing.T) {
	// WEATHER is checked before CLOSURE, so a storm-driven closure types
	// as WEATHER.
	assert.Equal(t, "WEATHER", ExtractEventType("storm forces closure of the bridge", ""))
}

func TestExtractLocationHint(t *testing.T) {
	t.Run("geo metadata wins", func(t *testing.T) {
		hint := ExtractLocationHint(
			map[string]any{"areaDesc": "Marion County"},
			map[string]string{"city": "Avon", "state": "IN"})
		assert.Equal(t, "Avon, IN", hint)
	})

	t.Run("structured payload field", func(t *testing.T) {
		hint := ExtractLocationHint(map[string]any{"areaDesc": "Marion County"}, nil)
		assert.Equal(t, "Marion County", hint)
	})

	t.Run("city-state pattern in text", func(t *testing.T) {
		hint := ExtractLocationHint(map[string]any{
			"description": "Crews responded near Terre Haute, IN on Monday.",
		}, nil)
		assert.Equal(t, "Terre Haute, IN", hint)
	})

	t.Run("nothing found", func(t *testing.T) {
		assert.Empty(t, ExtractLocationHint(map[string]any{"description": "no location here"}, nil))
	})
}

func TestExternal(t *testing.T) {
	source := &config.Source{
		ID:                  "indiana-deq",
		Tier:                "regional",
		TrustTier:           3,
		ClassificationFloor: 1,
		WeightingBias:       0,
		Geo:                 map[string]string{"state": "IN"},
	}
	cand := adapters.RawItemCandidate{
		CanonicalID:    "guid-9",
		Title:          "Chemical spill at riverside plant",
		URL:            "https://example.org/spill",
		PublishedAtUTC: "2025-12-29T12:00:00.000000Z",
		Payload: map[string]any{
			"title":   "Chemical spill at riverside plant",
			"summary": "Hazmat crews on scene.",
		},
	}

	event := External(cand, source, "RAW-20251229-abcd1234")

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "EXTERNAL", event.SourceType)
	assert.Equal(t, "indiana-deq", event.SourceID)
	assert.Equal(t, "RAW-20251229-abcd1234", event.RawID)
	assert.Equal(t, "regional", event.Tier)
	assert.Equal(t, 3, event.TrustTier)
	assert.Equal(t, 1, event.ClassificationFloor)
	assert.Equal(t, "SPILL", event.EventType)
	assert.Equal(t, "Chemical spill at riverside plant Hazmat crews on scene.", event.RawText)
	assert.Equal(t, "2025-12-29T12:00:00.000000Z", event.EventTimeUTC)
	assert.Equal(t, 1, event.SeverityGuess)
	assert.Equal(t, "IN", event.LocationHint)
}

func TestExternalTitleFromPayload(t *testing.T) {
	source := &config.Source{ID: "s1", Tier: "local", TrustTier: 2}
	event := External(adapters.RawItemCandidate{
		Payload: map[string]any{"title": "Fallback headline"},
	}, source, "raw-1")
	assert.Equal(t, "Fallback headline", event.Title)
}

func TestDemo(t *testing.T) {
	raw := map[string]any{
		"event_id":       "EVT-DEMO-0001",
		"type":           "NEWS",
		"source":         "Local Wire",
		"title":          "Chemical spill closes road",
		"body":           "Hazmat teams closed the road.",
		"event_type":     "SPILL",
		"severity_guess": float64(3),
	}
	event := Demo(raw)

	assert.Equal(t, "EVT-DEMO-0001", event.EventID)
	assert.Equal(t, "NEWS", event.SourceType)
	assert.Equal(t, "Local Wire", event.SourceName)
	assert.Equal(t, "SPILL", event.EventType)
	assert.Equal(t, 3, event.SeverityGuess)
	assert.Equal(t, 2, event.TrustTier)
}

func TestDemoDefaults(t *testing.T) {
	event := Demo(map[string]any{
		"title": "Strike announced at port",
		"body":  "Dock workers begin a strike at midnight.",
	})
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "NEWS", event.SourceType)
	assert.Equal(t, "UNKNOWN", event.SourceName)
	assert.Equal(t, "STRIKE", event.EventType)
	assert.Equal(t, 2, event.SeverityGuess)
}

func TestToModel(t *testing.T) {
	event := &Event{
		EventID:       "EVT-1",
		SourceType:    "EXTERNAL",
		SourceName:    "src",
		SourceID:      "src",
		Title:         "t",
		RawText:       "body",
		EventType:     "SPILL",
		SeverityGuess: 2,
		TrustTier:     3,
		Entities:      map[string]string{"location": "Avon, IN"},
		Payload:       map[string]any{"summary": "x"},
	}
	row := event.ToModel()
	require.NotNil(t, row)
	assert.Equal(t, "EVT-1", row.EventID)
	assert.Equal(t, 2, row.SeverityGuess)
	require.NotNil(t, row.EntitiesJSON)
	assert.Contains(t, *row.EntitiesJSON, "Avon, IN")
	require.NotNil(t, row.EventPayloadJSON)
}
