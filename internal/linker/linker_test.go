package linker

import (
	"fmt"
	"io"
	"testing"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	facilities := []models.Facility{
		{FacilityID: "FAC-AVN-01", Name: "Avon Distribution Center", Type: "DC",
			City: models.StrPtr("Avon"), State: models.StrPtr("IN"), CriticalityScore: 8},
		{FacilityID: "FAC-AVN-02", Name: "Avon West Plant", Type: "PLANT",
			City: models.StrPtr("Avon"), State: models.StrPtr("IN"), CriticalityScore: 9},
		{FacilityID: "FAC-CHI-01", Name: "Chicago Intermodal Hub", Type: "PORT",
			City: models.StrPtr("Chicago"), State: models.StrPtr("IL"), CriticalityScore: 7},
	}
	for i := range facilities {
		require.NoError(t, st.UpsertFacility(&facilities[i]))
	}
	lanes := []models.Lane{
		{LaneID: "LANE-001", OriginFacilityID: "FAC-AVN-02", DestFacilityID: "FAC-AVN-01", Mode: "TRUCK", VolumeScore: 9},
		{LaneID: "LANE-002", OriginFacilityID: "FAC-AVN-01", DestFacilityID: "FAC-CHI-01", Mode: "TRUCK", VolumeScore: 8},
	}
	for i := range lanes {
		require.NoError(t, st.UpsertLane(&lanes[i]))
	}
	shipments := []models.Shipment{
		{ShipmentID: "SHP-1001", LaneID: "LANE-001", EtaDate: "2025-12-29", PriorityFlag: 1},
		{ShipmentID: "SHP-1002", LaneID: "LANE-002", EtaDate: "2025-12-30", PriorityFlag: 0},
		{ShipmentID: "SHP-1003", LaneID: "LANE-002", EtaDate: "2026-01-02", PriorityFlag: 1},
		{ShipmentID: "SHP-1004", LaneID: "LANE-001", EtaDate: "", PriorityFlag: 0},
	}
	for i := range shipments {
		require.NoError(t, st.UpsertShipment(&shipments[i]))
	}
	return st
}

func TestLinkByExactFacilityID(t *testing.T) {
	st := newTestStore(t)
	event := &normalize.Event{
		Title:   "Incident reported at FAC-CHI-01 overnight",
		RawText: "Operations paused.",
	}

	require.NoError(t, Link(event, st, 0))

	assert.Equal(t, []string{"FAC-CHI-01"}, event.Facilities)
	assert.Equal(t, 0.95, event.LinkConfidence["facility"])
	assert.Equal(t, "FACILITY_ID_EXACT", event.LinkProvenance["facility"])
}

func TestLinkByNameSubstringCascades(t *testing.T) {
	st := newTestStore(t)
	event := &normalize.Event{
		Title:   "Chemical spill closes road near Avon Distribution Center",
		RawText: "Hazmat crews on scene at the Avon Distribution Center.",
	}

	require.NoError(t, Link(event, st, 0))

	assert.Equal(t, []string{"FAC-AVN-01"}, event.Facilities)
	assert.Equal(t, 0.85, event.LinkConfidence["facility"])
	assert.Equal(t, "FACILITY_NAME_SUBSTRING", event.LinkProvenance["facility"])

	// Both lanes touch FAC-AVN-01.
	assert.Equal(t, []string{"LANE-001", "LANE-002"}, event.Lanes)
	assert.Equal(t, "FACILITY_RELATION", event.LinkProvenance["lanes"])
	require.Len(t, event.LaneMatches, 2)
	assert.Equal(t, "DESTINATION", event.LaneMatches[0].MatchType)
	assert.Equal(t, "ORIGIN", event.LaneMatches[1].MatchType)

	// Priority shipments first, then earliest ETA; blank ETA last.
	assert.Equal(t, []string{"SHP-1001", "SHP-1003", "SHP-1002", "SHP-1004"}, event.Shipments)
	assert.Equal(t, "LANE_RELATION", event.LinkProvenance["shipments"])
	assert.False(t, event.ShipmentsTruncated)
	assert.Equal(t, 4, event.ShipmentsTotalLinked)
}

func TestLinkCityStateUnambiguous(t *testing.T) {
	st := newTestStore(t)
	event := &normalize.Event{
		Title:   "Dock workers walk out in Chicago, IL",
		RawText: "Port operations suspended.",
	}

	require.NoError(t, Link(event, st, 0))

	assert.Equal(t, []string{"FAC-CHI-01"}, event.Facilities)
	assert.Equal(t, 0.70, event.LinkConfidence["facility"])
	assert.Equal(t, "CITY_STATE", event.LinkProvenance["facility"])
}

func TestLinkCityStateAmbiguousTieBreak(t *testing.T) {
	st := newTestStore(t)

	// No second signal in text: highest criticality wins (the plant).
	event := &normalize.Event{
		Title:   "Road closed in Avon, IN after crash",
		RawText: "Local traffic diverted.",
	}
	require.NoError(t, Link(event, st, 0))
	assert.Equal(t, []string{"FAC-AVN-02"}, event.Facilities)
	assert.Equal(t, 0.45, event.LinkConfidence["facility"])
	assert.Equal(t, "CITY_STATE_AMBIGUOUS", event.LinkProvenance["facility"])
	assert.ElementsMatch(t, []string{"FAC-AVN-01", "FAC-AVN-02"}, event.FacilityCandidates)
}

func TestLinkNoMatchLeavesScopeEmpty(t *testing.T) {
	st := newTestStore(t)
	event := &normalize.Event{
		Title:   "Storm warning for Tulsa, OK",
		RawText: "No network facilities in the area.",
	}

	require.NoError(t, Link(event, st, 0))

	assert.Empty(t, event.Facilities)
	assert.Empty(t, event.Lanes)
	assert.Empty(t, event.Shipments)
	require.NotEmpty(t, event.LinkingNotes)
	assert.Contains(t, event.LinkingNotes[0], "No facility match for city/state: Tulsa, OK")
}

func TestLinkShipmentTruncation(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 10; i++ {
		sh := models.Shipment{
			ShipmentID: fmt.Sprintf("SHP-2%03d", i),
			LaneID:     "LANE-001",
			EtaDate:    "2026-01-10",
		}
		require.NoError(t, st.UpsertShipment(&sh))
	}

	event := &normalize.Event{Title: "Issue at FAC-AVN-01"}
	require.NoError(t, Link(event, st, 5))

	assert.Len(t, event.Shipments, 5)
	assert.True(t, event.ShipmentsTruncated)
	assert.Equal(t, 14, event.ShipmentsTotalLinked)
	assert.Contains(t, event.LinkingNotes[len(event.LinkingNotes)-1], "truncated from 14")
}
