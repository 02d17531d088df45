// Package linker attaches facilities, lanes, and shipments from the
// reference network to normalized events, with confidence and provenance
// for every hop.
package linker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
)

// DefaultMaxShipments caps how many shipments one event may carry.
const DefaultMaxShipments = 50

// matches "Avon, IN" or "Avon, Indiana". City is a single (possibly
// hyphenated) word before the comma so "facility in Avon" never matches.
var cityStateRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:-[A-Z][a-z]+)?),\s*([A-Za-z]{2}|[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)

func extractCityState(text string) (string, string, bool) {
	m := cityStateRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	city := strings.Trim(strings.TrimSpace(m[1]), ".")
	state := normalizeState(strings.Trim(strings.TrimSpace(m[2]), "."))
	if state == "" {
		return "", "", false
	}
	return city, state, true
}

func mergeSorted(existing, add []string) []string {
	seen := map[string]struct{}{}
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

var facilityTypePriority = map[string]int{"PLANT": 3, "DC": 2, "PORT": 1}

// Link resolves the event's network scope: facilities by id, name, or
// city/state; lanes touching those facilities; shipments over those lanes
// sorted by priority then ETA and truncated to maxShipments.
func Link(event *normalize.Event, st *store.Store, maxShipments int) error {
	if maxShipments <= 0 {
		maxShipments = DefaultMaxShipments
	}
	text := strings.TrimSpace(event.Title + " " + event.RawText)

	facilities, err := st.AllFacilities()
	if err != nil {
		return err
	}

	confidence := 0.0
	provenance := ""

	// Exact facility id in text wins.
	var matched []string
	for _, f := range facilities {
		if f.FacilityID != "" && strings.Contains(text, f.FacilityID) {
			matched = append(matched, f.FacilityID)
		}
	}
	if len(matched) > 0 {
		event.Facilities = mergeSorted(event.Facilities, matched)
		confidence = 0.95
		provenance = "FACILITY_ID_EXACT"
		event.LinkingNotes = append(event.LinkingNotes,
			fmt.Sprintf("Facility match by exact ID in text: %v", matched))
	}

	// Facility name substring.
	if len(event.Facilities) == 0 {
		textLower := strings.ToLower(text)
		var nameHits []string
		for _, f := range facilities {
			if f.Name != "" && strings.Contains(textLower, strings.ToLower(f.Name)) {
				nameHits = append(nameHits, f.FacilityID)
			}
		}
		if len(nameHits) > 0 {
			event.Facilities = mergeSorted(event.Facilities, nameHits)
			confidence = 0.85
			provenance = "FACILITY_NAME_SUBSTRING"
			event.LinkingNotes = append(event.LinkingNotes,
				fmt.Sprintf("Facility match by name substring: %v", nameHits))
		}
	}

	// City/state from text, with tie-break on ambiguity.
	if len(event.Facilities) == 0 {
		if city, state, ok := extractCityState(text); ok {
			hits := facilitiesInCity(facilities, city, state)
			if len(hits) == 0 {
				event.LinkingNotes = append(event.LinkingNotes,
					fmt.Sprintf("No facility match for city/state: %s, %s", city, state))
			} else {
				for _, h := range hits {
					event.FacilityCandidates = append(event.FacilityCandidates, h.FacilityID)
				}
				if len(hits) > 1 {
					top, hasSecondSignal := breakTie(hits, text)
					if hasSecondSignal {
						confidence = 0.70
						provenance = "CITY_STATE_WITH_SIGNAL"
						event.LinkingNotes = append(event.LinkingNotes,
							fmt.Sprintf("Facility match by city/state with second signal: %s, %s -> %s", city, state, top.FacilityID))
					} else {
						confidence = 0.45
						provenance = "CITY_STATE_AMBIGUOUS"
						event.LinkingNotes = append(event.LinkingNotes,
							fmt.Sprintf("Ambiguous city/state match: %s, %s -> %d facilities. Selected %s (highest criticality/type). Confidence lowered due to ambiguity.",
								city, state, len(hits), top.FacilityID))
					}
					event.Facilities = mergeSorted(event.Facilities, []string{top.FacilityID})
				} else {
					ids := []string{hits[0].FacilityID}
					event.Facilities = mergeSorted(event.Facilities, ids)
					confidence = 0.70
					provenance = "CITY_STATE"
					event.LinkingNotes = append(event.LinkingNotes,
						fmt.Sprintf("Facility match by city/state: %s, %s -> %v", city, state, ids))
				}
			}
		}
	}

	if len(event.Facilities) > 0 {
		if event.LinkConfidence == nil {
			event.LinkConfidence = map[string]float64{}
		}
		if event.LinkProvenance == nil {
			event.LinkProvenance = map[string]string{}
		}
		event.LinkConfidence["facility"] = confidence
		event.LinkProvenance["facility"] = provenance
	}

	if len(event.Facilities) == 0 {
		return nil
	}

	lanes, err := st.LanesTouching(event.Facilities)
	if err != nil {
		return err
	}
	if len(lanes) == 0 {
		return nil
	}

	facilitySet := map[string]struct{}{}
	for _, id := range event.Facilities {
		facilitySet[id] = struct{}{}
	}
	laneIDs := make([]string, 0, len(lanes))
	laneMatchMap := map[string]normalize.LaneMatch{}
	for _, m := range event.LaneMatches {
		if m.LaneID != "" {
			laneMatchMap[m.LaneID] = m
		}
	}
	for _, lane := range lanes {
		laneIDs = append(laneIDs, lane.LaneID)
		var sources []string
		if _, ok := facilitySet[lane.OriginFacilityID]; ok {
			sources = append(sources, "ORIGIN")
		}
		if _, ok := facilitySet[lane.DestFacilityID]; ok {
			sources = append(sources, "DESTINATION")
		}
		if len(sources) == 0 {
			continue
		}
		matchType := sources[0]
		if len(sources) == 2 {
			matchType = "BOTH"
		}
		laneMatchMap[lane.LaneID] = normalize.LaneMatch{LaneID: lane.LaneID, MatchType: matchType}
	}
	event.Lanes = mergeSorted(event.Lanes, laneIDs)
	event.LaneMatches = event.LaneMatches[:0]
	for _, id := range event.Lanes {
		if m, ok := laneMatchMap[id]; ok {
			event.LaneMatches = append(event.LaneMatches, m)
		}
	}
	event.LinkConfidence["lanes"] = 0.70
	event.LinkProvenance["lanes"] = "FACILITY_RELATION"
	event.LinkingNotes = append(event.LinkingNotes,
		fmt.Sprintf("Linked lanes via facility match: %v", laneIDs))

	shipments, err := st.ShipmentsByLanes(laneIDs)
	if err != nil {
		return err
	}
	if len(shipments) == 0 {
		return nil
	}

	// Priority 1 before 0, then earliest ETA; missing ETAs sort last.
	sort.SliceStable(shipments, func(i, j int) bool {
		if shipments[i].PriorityFlag != shipments[j].PriorityFlag {
			return shipments[i].PriorityFlag > shipments[j].PriorityFlag
		}
		return etaOrFuture(shipments[i]) < etaOrFuture(shipments[j])
	})

	totalLinked := len(shipments)
	top := shipments
	if len(top) > maxShipments {
		top = top[:maxShipments]
	}

	existing := map[string]struct{}{}
	for _, id := range event.Shipments {
		existing[id] = struct{}{}
	}
	for _, sh := range top {
		if _, ok := existing[sh.ShipmentID]; !ok {
			event.Shipments = append(event.Shipments, sh.ShipmentID)
		}
	}
	event.ShipmentsTruncated = totalLinked > maxShipments
	event.ShipmentsTotalLinked = totalLinked
	event.LinkConfidence["shipments"] = 0.60
	event.LinkProvenance["shipments"] = "LANE_RELATION"
	note := fmt.Sprintf("Linked shipments via lanes: %d shipments", len(event.Shipments))
	if event.ShipmentsTruncated {
		note += fmt.Sprintf(" (truncated from %d)", totalLinked)
	}
	event.LinkingNotes = append(event.LinkingNotes, note)

	return nil
}

func etaOrFuture(sh models.Shipment) string {
	if sh.EtaDate == "" {
		return "9999-12-31"
	}
	return sh.EtaDate
}

func facilitiesInCity(facilities []models.Facility, city, state string) []models.Facility {
	fullName := stateFullName(state)
	var hits []models.Facility
	for _, f := range facilities {
		if f.City == nil || !strings.EqualFold(*f.City, city) {
			continue
		}
		if f.State == nil {
			continue
		}
		if strings.EqualFold(*f.State, state) || (fullName != "" && strings.EqualFold(*f.State, fullName)) {
			hits = append(hits, f)
		}
	}
	return hits
}

// breakTie resolves an ambiguous city/state match: a facility whose id or
// name also appears in the text wins outright; otherwise highest
// criticality, then type priority (PLANT > DC > PORT).
func breakTie(hits []models.Facility, text string) (models.Facility, bool) {
	textLower := strings.ToLower(text)
	for _, f := range hits {
		if strings.Contains(text, f.FacilityID) ||
			(f.Name != "" && strings.Contains(textLower, strings.ToLower(f.Name))) {
			return f, true
		}
	}
	sorted := append([]models.Facility{}, hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CriticalityScore != sorted[j].CriticalityScore {
			return sorted[i].CriticalityScore > sorted[j].CriticalityScore
		}
		return facilityTypePriority[strings.ToUpper(sorted[i].Type)] >
			facilityTypePriority[strings.ToUpper(sorted[j].Type)]
	})
	return sorted[0], false
}
