package ingest

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/correlate"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

const testSourcesYAML = `version: "1"
tiers:
  local:
    - id: avon-local-news
      type: rss
      tier: local
      name: Avon Local News
      url: https://example.org/avon/news.rss
      trust_tier: 2
      suppress:
        - id: avon-sports
          kind: keyword
          field: title
          pattern: "high school"
          reason_code: OFF_TOPIC
`

const testSuppressionYAML = `version: "1"
enabled: true
rules:
  - id: promo-content
    kind: keyword
    field: title
    pattern: sponsored
    reason_code: PROMO
`

func writeTempYAML(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.UpsertFacility(&models.Facility{
		FacilityID: "FAC-AVN-01", Name: "Avon Distribution Center", Type: "DC", CriticalityScore: 8,
	}))

	sources, err := config.LoadSources(writeTempYAML(t, "sources.yaml", testSourcesYAML))
	require.NoError(t, err)
	suppressionCfg, err := config.LoadSuppression(writeTempYAML(t, "suppression.yaml", testSuppressionYAML))
	require.NoError(t, err)

	builder := correlate.NewBuilder(st, logger, nil)
	return NewRunner(st, sources, suppressionCfg, builder, logger), st
}

func saveRaw(t *testing.T, st *store.Store, canonicalID, title, payloadJSON string) *models.RawItem {
	t.Helper()
	item, isNew, err := st.SaveRawItem(store.RawItemParams{
		SourceID:     "avon-local-news",
		Tier:         models.TierLocal,
		TrustTier:    2,
		FetchedAtUTC: timeutil.ToUTCZ(testNow.Add(-time.Hour)),
		CanonicalID:  canonicalID,
		Title:        title,
		PayloadJSON:  payloadJSON,
		ContentHash:  "hash-" + canonicalID,
	})
	require.NoError(t, err)
	require.True(t, isNew)
	return item
}

func TestRunProcessesItemsIntoAlerts(t *testing.T) {
	r, st := newTestRunner(t)
	raw := saveRaw(t, st, "g-1", "Chemical spill near Avon Distribution Center",
		`{"title":"Chemical spill near Avon Distribution Center","summary":"Hazmat on scene."}`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, Stats{Processed: 1, Events: 1, Alerts: 1}, outcome.Stats)
	assert.Equal(t, "grp-1", outcome.RunGroupID)
	require.Len(t, outcome.AlertResults, 1)
	res := outcome.AlertResults[0]
	assert.Equal(t, models.CorrelationCreated, res.Action)
	assert.Equal(t, []string{"FAC-AVN-01"}, res.Scope.Facilities)

	got, err := st.GetRawItem(raw.RawID)
	require.NoError(t, err)
	assert.Equal(t, models.RawStatusNormalized, got.Status)

	runs, err := st.ListRecentRuns(store.SourceRunQuery{RunGroupID: "grp-1", Phase: models.PhaseIngest})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusSuccess, runs[0].Status)
	assert.Equal(t, 1, runs[0].ItemsProcessed)
	assert.Equal(t, 1, runs[0].ItemsEventsCreated)
	assert.Equal(t, 1, runs[0].ItemsAlertsTouched)
}

func TestRunSuppressesByGlobalAndSourceRules(t *testing.T) {
	r, st := newTestRunner(t)
	globalHit := saveRaw(t, st, "g-1", "Sponsored: new mattress store opens",
		`{"title":"Sponsored: new mattress store opens"}`)
	sourceHit := saveRaw(t, st, "g-2", "High school team wins big",
		`{"title":"High school team wins big"}`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Stats.Suppressed)
	assert.Equal(t, 2, outcome.Stats.Events)
	assert.Zero(t, outcome.Stats.Alerts)

	got, err := st.GetRawItem(globalHit.RawID)
	require.NoError(t, err)
	require.NotNil(t, got.SuppressionStatus)
	assert.Equal(t, "SUPPRESSED", *got.SuppressionStatus)
	require.NotNil(t, got.SuppressionReasonCode)
	assert.Equal(t, "PROMO", *got.SuppressionReasonCode)

	got, err = st.GetRawItem(sourceHit.RawID)
	require.NoError(t, err)
	require.NotNil(t, got.SuppressionReasonCode)
	assert.Equal(t, "OFF_TOPIC", *got.SuppressionReasonCode)

	runs, err := st.ListRecentRuns(store.SourceRunQuery{RunGroupID: "grp-1", Phase: models.PhaseIngest})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].ItemsSuppressed)
	require.NotNil(t, runs[0].DiagnosticsJSON)
	assert.Contains(t, *runs[0].DiagnosticsJSON, "suppression_reason_counts")
	assert.Contains(t, *runs[0].DiagnosticsJSON, "PROMO")
}

func TestRunNoSuppressBypassesRules(t *testing.T) {
	r, st := newTestRunner(t)
	saveRaw(t, st, "g-1", "Sponsored: new mattress store opens",
		`{"title":"Sponsored: new mattress store opens"}`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", NoSuppress: true, Now: testNow})
	require.NoError(t, err)

	assert.Zero(t, outcome.Stats.Suppressed)
	assert.Equal(t, 1, outcome.Stats.Alerts)
}

func TestRunMarksBadPayloadFailedAndContinues(t *testing.T) {
	r, st := newTestRunner(t)
	bad := saveRaw(t, st, "g-1", "broken item", `{not json`)
	saveRaw(t, st, "g-2", "Road closure near Avon Distribution Center",
		`{"title":"Road closure near Avon Distribution Center"}`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Stats.Processed)
	assert.Equal(t, 1, outcome.Stats.Errors)
	assert.Equal(t, 1, outcome.Stats.Alerts)

	got, err := st.GetRawItem(bad.RawID)
	require.NoError(t, err)
	assert.Equal(t, models.RawStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "parse raw payload")

	// Item failures keep the batch going but fail its run by default.
	runs, err := st.ListRecentRuns(store.SourceRunQuery{RunGroupID: "grp-1", Phase: models.PhaseIngest})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusFailure, runs[0].Status)
	require.NotNil(t, runs[0].Error)
	assert.Contains(t, *runs[0].Error, "parse raw payload")
	require.NotNil(t, runs[0].DiagnosticsJSON)
	assert.Contains(t, *runs[0].DiagnosticsJSON, `"errors":1`)
}

func TestRunAllowIngestErrorsDowngradesToSuccess(t *testing.T) {
	r, st := newTestRunner(t)
	saveRaw(t, st, "g-1", "broken item", `{not json`)
	saveRaw(t, st, "g-2", "Road closure near Avon Distribution Center",
		`{"title":"Road closure near Avon Distribution Center"}`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", AllowIngestErrors: true, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Stats.Errors)

	runs, err := st.ListRecentRuns(store.SourceRunQuery{RunGroupID: "grp-1", Phase: models.PhaseIngest})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusSuccess, runs[0].Status)
	require.NotNil(t, runs[0].DiagnosticsJSON)
	assert.Contains(t, *runs[0].DiagnosticsJSON, `"errors":1`)
}

func TestRunFailFastStopsOnFirstError(t *testing.T) {
	r, st := newTestRunner(t)
	saveRaw(t, st, "g-1", "broken item", `{not json`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", FailFast: true, Now: testNow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest failed for source avon-local-news")
	assert.Equal(t, 1, outcome.Stats.Errors)

	runs, errList := st.ListRecentRuns(store.SourceRunQuery{RunGroupID: "grp-1", Phase: models.PhaseIngest})
	require.NoError(t, errList)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusFailure, runs[0].Status)
}

func TestRunCorrelatesRepeatEventsIntoOneAlert(t *testing.T) {
	r, st := newTestRunner(t)
	saveRaw(t, st, "g-1", "Spill at Avon Distribution Center",
		`{"title":"Spill at Avon Distribution Center"}`)
	saveRaw(t, st, "g-2", "Spill cleanup at Avon Distribution Center continues",
		`{"title":"Spill cleanup at Avon Distribution Center continues"}`)

	outcome, err := r.Run(Options{RunGroupID: "grp-1", Now: testNow})
	require.NoError(t, err)

	require.Len(t, outcome.AlertResults, 2)
	assert.Equal(t, models.CorrelationCreated, outcome.AlertResults[0].Action)
	assert.Equal(t, models.CorrelationUpdated, outcome.AlertResults[1].Action)
	assert.Equal(t, outcome.AlertResults[0].Alert.AlertID, outcome.AlertResults[1].Alert.AlertID)
}

func TestRunEmptyBacklogIsQuietSuccess(t *testing.T) {
	r, _ := newTestRunner(t)
	outcome, err := r.Run(Options{RunGroupID: "grp-1", Now: testNow})
	require.NoError(t, err)
	assert.Zero(t, outcome.Stats.Processed)
	assert.Empty(t, outcome.AlertResults)
}
