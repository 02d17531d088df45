package correlate

import (
	"io"
	"testing"
	"time"

	"github.com/hardstop-io/hardstop/internal/artifacts"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.UpsertFacility(&models.Facility{
		FacilityID: "FAC-AVN-01", Name: "Avon Distribution Center", Type: "DC", CriticalityScore: 8,
	}))
	return NewBuilder(st, logger, nil), st
}

func TestKey(t *testing.T) {
	linked := &normalize.Event{
		EventType:  "SPILL",
		Facilities: []string{"FAC-B", "FAC-A"},
		Lanes:      []string{"LANE-002", "LANE-001"},
	}
	assert.Equal(t, "SPILL|FAC-A|LANE-001", Key(linked))

	unlinked := &normalize.Event{EventType: "WEATHER"}
	assert.Equal(t, "WEATHER|NONE|NONE", Key(unlinked))
}

func TestRiskBucket(t *testing.T) {
	cases := []struct {
		name  string
		event *normalize.Event
		want  string
	}{
		{"event type direct", &normalize.Event{EventType: "STRIKE"}, "STRIKE"},
		{"event type substring", &normalize.Event{EventType: "PORT_CLOSURE"}, "CLOSURE"},
		{"regulation alias", &normalize.Event{EventType: "REGULATION_CHANGE"}, "REG"},
		{"unknown type passes through", &normalize.Event{EventType: "RECALL"}, "RECALL"},
		{"text fallback spill", &normalize.Event{Title: "Oil spill near dock"}, "SPILL"},
		{"text fallback weather", &normalize.Event{RawText: "hurricane expected Friday"}, "WEATHER"},
		{"no signal", &normalize.Event{Title: "quiet day"}, "OTHER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, riskBucket(tc.event))
		})
	}
}

func TestMergeScope(t *testing.T) {
	existingJSON := `{"facilities":["FAC-A"],"lanes":["LANE-1"],"shipments":["S-1","S-2"],"shipments_total_linked":8,"shipments_truncated":true}`
	next := Scope{
		Facilities: []string{"FAC-A", "FAC-B"},
		Lanes:      []string{"LANE-2"},
		Shipments:  []string{"S-2", "S-3"},
	}

	merged := MergeScope(&existingJSON, next)

	assert.Equal(t, []string{"FAC-A", "FAC-B"}, merged.Facilities)
	assert.Equal(t, []string{"LANE-1", "LANE-2"}, merged.Lanes)
	assert.Equal(t, []string{"S-1", "S-2", "S-3"}, merged.Shipments)
	assert.Equal(t, 8, merged.ShipmentsTotalLinked)
	assert.True(t, merged.ShipmentsTruncated)
}

func TestMergeScopeNoExisting(t *testing.T) {
	next := Scope{Facilities: []string{"FAC-A"}}
	assert.Equal(t, next, MergeScope(nil, next))

	empty := ""
	assert.Equal(t, next, MergeScope(&empty, next))
}

func TestBuildAlertCreates(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	event := &normalize.Event{
		EventID:    "EVT-1",
		EventType:  "SPILL",
		Title:      "Chemical spill at Avon DC",
		TrustTier:  2,
		Tier:       "local",
		SourceID:   "avon-local-news",
		Facilities: []string{"FAC-AVN-01"},
	}

	res, err := b.BuildAlert(event, now)
	require.NoError(t, err)

	assert.Equal(t, models.CorrelationCreated, res.Action)
	assert.Equal(t, "SPILL|FAC-AVN-01|NONE", res.CorrelationKey)
	// +2 criticality, +1 high-impact type.
	assert.Equal(t, 3, res.ImpactScore)
	assert.Equal(t, 1, res.Classification)

	alert := res.Alert
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
	assert.Equal(t, "EVT-1", alert.RootEventID)
	assert.Equal(t, 0, alert.UpdateCount)
	require.NotNil(t, alert.Reasoning)
	assert.Contains(t, *alert.Reasoning, "Event type: SPILL")
	require.NotNil(t, alert.RecommendedActions)
	assert.Contains(t, *alert.RecommendedActions, "ACT-VERIFY")
	assert.Equal(t, []string{"EVT-1"}, store.LoadRootEventIDs(alert))

	require.NotNil(t, res.Evidence)
	assert.Equal(t, models.CorrelationCreated, res.Evidence.Correlation["action"])
	assert.Equal(t, 3, res.Evidence.Diagnostics.ImpactScore)
}

func TestBuildAlertMergesWithinWindow(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	first := &normalize.Event{
		EventID:    "EVT-1",
		EventType:  "SPILL",
		Title:      "Chemical spill at Avon DC",
		TrustTier:  2,
		Facilities: []string{"FAC-AVN-01"},
	}
	created, err := b.BuildAlert(first, now)
	require.NoError(t, err)

	second := &normalize.Event{
		EventID:    "EVT-2",
		EventType:  "SPILL",
		Title:      "Spill cleanup continues at Avon DC",
		TrustTier:  3,
		Facilities: []string{"FAC-AVN-01"},
	}
	updated, err := b.BuildAlert(second, now.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.CorrelationUpdated, updated.Action)
	assert.Equal(t, created.Alert.AlertID, updated.Alert.AlertID)
	assert.Equal(t, models.AlertStatusUpdated, updated.Alert.Status)
	assert.Equal(t, 1, updated.Alert.UpdateCount)
	assert.Equal(t, []string{"EVT-1", "EVT-2"}, store.LoadRootEventIDs(updated.Alert))
	assert.Equal(t, "Spill cleanup continues at Avon DC", updated.Alert.Summary)
}

func TestBuildAlertSnapshotsPriorStateOnMerge(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	first := &normalize.Event{
		EventID:    "EVT-1",
		EventType:  "SPILL",
		Title:      "Chemical spill at Avon DC",
		TrustTier:  2,
		Facilities: []string{"FAC-AVN-01"},
	}
	created, err := b.BuildAlert(first, now)
	require.NoError(t, err)
	assert.Nil(t, created.PriorAlert)

	second := &normalize.Event{
		EventID:    "EVT-2",
		EventType:  "SPILL",
		Title:      "Spill reaches neighboring site",
		TrustTier:  2,
		Facilities: []string{"FAC-AVN-01", "FAC-ZZZ-09"},
	}
	updated, err := b.BuildAlert(second, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.CorrelationUpdated, updated.Action)

	prior := updated.PriorAlert
	require.NotNil(t, prior)
	assert.Equal(t, timeutil.ToUTCZ(now), prior.LastSeenUTC)
	assert.Equal(t, timeutil.ToUTCZ(now.Add(2*time.Hour)), updated.Alert.LastSeenUTC)
	assert.Equal(t, 0, prior.UpdateCount)
	assert.Equal(t, []string{"EVT-1"}, store.LoadRootEventIDs(prior))

	require.NotNil(t, prior.ScopeJSON)
	assert.NotContains(t, *prior.ScopeJSON, "FAC-ZZZ-09")
	require.NotNil(t, updated.Alert.ScopeJSON)
	assert.Contains(t, *updated.Alert.ScopeJSON, "FAC-ZZZ-09")
}

func TestIncidentEvidenceUsesPriorStateOnMerge(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	first := &normalize.Event{
		EventID:    "EVT-1",
		EventType:  "SPILL",
		Title:      "Chemical spill at Avon DC",
		TrustTier:  2,
		Facilities: []string{"FAC-AVN-01"},
	}
	_, err := b.BuildAlert(first, now)
	require.NoError(t, err)

	second := &normalize.Event{
		EventID:      "EVT-2",
		EventType:    "SPILL",
		Title:        "Spill reaches neighboring site",
		EventTimeUTC: timeutil.ToUTCZ(now.Add(2 * time.Hour)),
		TrustTier:    2,
		Facilities:   []string{"FAC-AVN-01", "FAC-ZZZ-09"},
	}
	updated, err := b.BuildAlert(second, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.CorrelationUpdated, updated.Action)
	require.NotNil(t, updated.PriorAlert)

	evidence, _, _, err := artifacts.BuildIncidentEvidence(artifacts.EvidenceParams{
		AlertID:        updated.Alert.AlertID,
		Event:          updated.Event,
		CorrelationKey: updated.CorrelationKey,
		ExistingAlert:  updated.PriorAlert,
		WindowHours:    MergeWindowDays * 24,
		DestDir:        t.TempDir(),
	})
	require.NoError(t, err)

	// Only ids the alert held before the merge count as shared.
	assert.Equal(t, []string{"FAC-AVN-01"}, evidence.Overlap["facilities"])
	assert.Equal(t, []string{"FAC-AVN-01"}, evidence.Scope["existing"].Facilities)
	assert.Equal(t, []string{"FAC-AVN-01", "FAC-ZZZ-09"}, evidence.Scope["incoming"].Facilities)

	existingInput, ok := evidence.Inputs["existing_alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, timeutil.ToUTCZ(now), existingInput["last_seen_utc"])
	assert.Equal(t, []string{"EVT-1"}, existingInput["root_event_ids"])
}

func TestBuildAlertClassificationOnlyRises(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	strong := &normalize.Event{
		EventID:    "EVT-1",
		EventType:  "SPILL",
		Title:      "Major spill at Avon DC",
		TrustTier:  3,
		Facilities: []string{"FAC-AVN-01"},
	}
	created, err := b.BuildAlert(strong, now)
	require.NoError(t, err)
	// +2 criticality, +1 type, +1 trust tier 3 -> score 4, class 2.
	assert.Equal(t, 2, created.Classification)

	weak := &normalize.Event{
		EventID:    "EVT-2",
		EventType:  "SPILL",
		Title:      "Minor follow-up report",
		TrustTier:  1,
		Facilities: []string{"FAC-AVN-01"},
	}
	updated, err := b.BuildAlert(weak, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.CorrelationUpdated, updated.Action)
	// Weak follow-up scores lower but never lowers the classification.
	assert.Equal(t, 2, updated.Classification)
	assert.Equal(t, 2, updated.Alert.Classification)
}

func TestBuildAlertOutsideWindowCreatesNew(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	first := &normalize.Event{
		EventID:    "EVT-1",
		EventType:  "SPILL",
		Title:      "Spill at Avon DC",
		TrustTier:  2,
		Facilities: []string{"FAC-AVN-01"},
	}
	created, err := b.BuildAlert(first, now)
	require.NoError(t, err)

	later := &normalize.Event{
		EventID:    "EVT-2",
		EventType:  "SPILL",
		Title:      "Another spill at Avon DC",
		TrustTier:  2,
		Facilities: []string{"FAC-AVN-01"},
	}
	res, err := b.BuildAlert(later, now.Add((MergeWindowDays+1)*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.CorrelationCreated, res.Action)
	assert.NotEqual(t, created.Alert.AlertID, res.Alert.AlertID)
}

func TestBuildAlertAppliesClassificationFloor(t *testing.T) {
	b, _ := newTestBuilder(t)
	now := time.Date(2025, 12, 29, 17, 0, 0, 0, time.UTC)

	event := &normalize.Event{
		EventID:             "EVT-1",
		EventType:           "OTHER",
		Title:               "Routine notice",
		TrustTier:           2,
		ClassificationFloor: 1,
	}
	res, err := b.BuildAlert(event, now)
	require.NoError(t, err)

	assert.Equal(t, 0, res.ImpactScore)
	assert.Equal(t, 1, res.Classification)
	require.NotNil(t, res.Alert.Reasoning)
	assert.Contains(t, *res.Alert.Reasoning, "Classification floor: 1")
}
