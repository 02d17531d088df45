package brief

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedAlert(t *testing.T, st *store.Store, id string, classification, impact int, action, tier string) {
	t.Helper()
	alert := &models.Alert{
		AlertID:           id,
		Classification:    classification,
		Status:            models.AlertStatusOpen,
		RiskType:          "SPILL",
		Summary:           "Spill near the Avon DC",
		RootEventID:       "EVT-1",
		CorrelationKey:    models.StrPtr("SPILL|FAC-AVN-01|NONE"),
		CorrelationAction: models.StrPtr(action),
		FirstSeenUTC:      timeutil.ToUTCZ(testNow.Add(-2 * time.Hour)),
		LastSeenUTC:       timeutil.ToUTCZ(testNow.Add(-time.Hour)),
		ImpactScore:       models.IntPtr(impact),
		ScopeJSON:         models.StrPtr(`{"facilities":["FAC-AVN-01"],"lanes":[],"shipments":[]}`),
		Tier:              models.StrPtr(tier),
		TrustTier:         models.IntPtr(2),
	}
	require.NoError(t, st.InsertAlert(alert))
}

func seedSuppressed(t *testing.T, st *store.Store, canonicalID, ruleID string) {
	t.Helper()
	item, _, err := st.SaveRawItem(store.RawItemParams{
		SourceID:     "avon-local-news",
		Tier:         models.TierLocal,
		FetchedAtUTC: timeutil.ToUTCZ(testNow.Add(-time.Hour)),
		CanonicalID:  canonicalID,
		ContentHash:  "hash-" + canonicalID,
	})
	require.NoError(t, err)
	require.NoError(t, st.MarkRawItemSuppressed(item.RawID, ruleID, []string{ruleID},
		timeutil.ToUTCZ(testNow.Add(-time.Hour)), "INGEST_EXTERNAL", ""))
}

func TestGenerate(t *testing.T) {
	st := newTestStore(t)
	seedAlert(t, st, "ALERT-1", 2, 6, models.CorrelationCreated, models.TierGlobal)
	seedAlert(t, st, "ALERT-2", 2, 4, models.CorrelationUpdated, models.TierLocal)
	seedAlert(t, st, "ALERT-3", 1, 2, models.CorrelationCreated, models.TierLocal)
	seedSuppressed(t, st, "g-1", "promo-content")
	seedSuppressed(t, st, "g-2", "promo-content")
	seedSuppressed(t, st, "g-3", "sports-scores")

	b, err := Generate(st, Options{Since: "24h", Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, ReadModelVersion, b.ReadModelVersion)
	assert.Equal(t, 24, b.Window.SinceHours)
	assert.Equal(t, "24h", b.Window.Since)

	assert.Equal(t, 2, b.Counts.New)
	assert.Equal(t, 1, b.Counts.Updated)
	assert.Equal(t, 2, b.Counts.Impactful)
	assert.Equal(t, 1, b.Counts.Relevant)
	assert.Zero(t, b.Counts.Interesting)
	assert.Equal(t, 1, b.TierCounts.Global)
	assert.Equal(t, 2, b.TierCounts.Local)

	require.Len(t, b.Top, 2)
	assert.Equal(t, "ALERT-1", b.Top[0].AlertID)
	assert.Equal(t, "ALERT-2", b.Top[1].AlertID)
	assert.Equal(t, []string{"FAC-AVN-01"}, b.Top[0].Scope.Facilities)

	require.Len(t, b.Created, 2)
	require.Len(t, b.Updated, 1)
	assert.Equal(t, "ALERT-2", b.Updated[0].AlertID)

	assert.Equal(t, 3, b.Suppressed.Count)
	require.NotEmpty(t, b.Suppressed.ByRule)
	assert.Equal(t, RuleCount{RuleID: "promo-content", Count: 2}, b.Suppressed.ByRule[0])
	require.Len(t, b.Suppressed.BySource, 1)
	assert.Equal(t, "avon-local-news", b.Suppressed.BySource[0].SourceID)
}

func TestGenerateExcludesClass0ByDefault(t *testing.T) {
	st := newTestStore(t)
	seedAlert(t, st, "ALERT-0", 0, 0, models.CorrelationCreated, models.TierLocal)

	b, err := Generate(st, Options{Now: testNow})
	require.NoError(t, err)
	assert.Zero(t, b.Counts.New)

	withClass0, err := Generate(st, Options{IncludeClass0: true, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, 1, withClass0.Counts.New)
	assert.Equal(t, 1, withClass0.Counts.Interesting)
}

func TestGenerateRejectsBadSince(t *testing.T) {
	st := newTestStore(t)
	_, err := Generate(st, Options{Since: "yesterday", Now: testNow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --since format: yesterday")
}

func TestRenderMarkdown(t *testing.T) {
	st := newTestStore(t)
	seedAlert(t, st, "ALERT-1", 2, 6, models.CorrelationCreated, models.TierGlobal)
	seedSuppressed(t, st, "g-1", "promo-content")

	b, err := Generate(st, Options{Now: testNow})
	require.NoError(t, err)
	md := RenderMarkdown(b)

	assert.Contains(t, md, "# Hardstop Daily Brief — 2025-12-29 (since 24h)")
	assert.Contains(t, md, "- **New:** 1 | **Updated:** 0")
	assert.Contains(t, md, "**Tier:** Global 1")
	assert.Contains(t, md, "**Suppressed:** 1 (top: promo-content=1)")
	assert.Contains(t, md, "Spill near the Avon DC")
	assert.NotContains(t, md, "Quiet Day")
}

func TestRenderMarkdownQuietDay(t *testing.T) {
	st := newTestStore(t)
	b, err := Generate(st, Options{Now: testNow})
	require.NoError(t, err)

	md := RenderMarkdown(b)
	assert.Contains(t, md, "## Quiet Day")
	assert.Contains(t, md, "No alerts found for the selected time window.")
}

func TestRenderJSON(t *testing.T) {
	st := newTestStore(t)
	seedAlert(t, st, "ALERT-1", 2, 6, models.CorrelationCreated, models.TierGlobal)

	b, err := Generate(st, Options{Now: testNow})
	require.NoError(t, err)
	out, err := RenderJSON(b)
	require.NoError(t, err)

	var decoded Brief
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, b.ReadModelVersion, decoded.ReadModelVersion)
	assert.Equal(t, b.Counts, decoded.Counts)
}
