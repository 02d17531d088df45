// Package impact scores an event's network blast radius on a 0-10 scale
// and maps the score onto the alert classification ladder.
package impact

import (
	"fmt"
	"strings"
	"time"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
)

// DefaultRiskKeywords back the keywords config when it is missing or empty.
var DefaultRiskKeywords = []config.Keyword{
	{Term: "SPILL", Weight: 1},
	{Term: "STRIKE", Weight: 1},
	{Term: "CLOSURE", Weight: 1},
	{Term: "CLOSED", Weight: 1},
	{Term: "SHUTDOWN", Weight: 1},
}

var highImpactTypes = map[string]struct{}{
	"SPILL":   {},
	"STRIKE":  {},
	"CLOSURE": {},
}

var etaLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02T15:04:05-07:00",
}

// ParseETA parses a shipment ETA. Date-only values count as end of that
// day UTC; unparseable values return false.
func ParseETA(value string) (time.Time, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false
	}
	if len(v) == 10 && strings.Count(v, "-") == 2 {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, false
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC), true
	}
	for _, layout := range etaLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ETAWithin48h reports whether an ETA falls inside the window that makes a
// shipment urgent: up to 7 days late through 48 hours out.
func ETAWithin48h(value string, now time.Time) bool {
	eta, ok := ParseETA(value)
	if !ok {
		return false
	}
	diff := eta.Sub(now.UTC())
	return diff >= -7*24*time.Hour && diff <= 48*time.Hour
}

// Score computes the network impact score for a linked event. The
// breakdown lists every contribution in the order it was applied so the
// score can be audited from the alert alone.
func Score(event *normalize.Event, st *store.Store, keywords []config.Keyword, now time.Time) (int, []string, error) {
	score := 0
	var breakdown []string

	facilities, err := st.FacilitiesByIDs(event.Facilities)
	if err != nil {
		return 0, nil, err
	}
	for _, f := range facilities {
		if f.CriticalityScore >= 7 {
			score += 2
			breakdown = append(breakdown,
				fmt.Sprintf("+2: Facility criticality_score >= 7 (%s=%g)", f.FacilityID, f.CriticalityScore))
			break
		}
	}

	lanes, err := st.LanesByIDs(event.Lanes)
	if err != nil {
		return 0, nil, err
	}
	for _, l := range lanes {
		if l.VolumeScore >= 7 {
			score++
			breakdown = append(breakdown,
				fmt.Sprintf("+1: Lane volume_score >= 7 (%s=%g)", l.LaneID, l.VolumeScore))
			break
		}
	}

	if len(event.Shipments) > 0 {
		shipments, err := st.ShipmentsByIDs(event.Shipments)
		if err != nil {
			return 0, nil, err
		}
		var priority []models.Shipment
		for _, sh := range shipments {
			if sh.PriorityFlag == 1 {
				priority = append(priority, sh)
			}
		}
		if len(priority) > 0 {
			score++
			breakdown = append(breakdown,
				fmt.Sprintf("+1: Priority shipments found (%d total)", len(priority)))
			if len(priority) >= 5 {
				score++
				breakdown = append(breakdown,
					fmt.Sprintf("+1: >=5 priority shipments (%d)", len(priority)))
			}
			nearTerm := 0
			for _, sh := range priority {
				if ETAWithin48h(sh.EtaDate, now) {
					nearTerm++
				}
			}
			if nearTerm > 0 {
				score++
				breakdown = append(breakdown,
					fmt.Sprintf("+1: Priority shipment ETA within 48h (%d shipments)", nearTerm))
			}
		}
		if len(event.Shipments) >= 10 {
			score++
			breakdown = append(breakdown,
				fmt.Sprintf("+1: Shipment count >= 10 (%d)", len(event.Shipments)))
		}
	}

	eventType := strings.ToUpper(event.EventType)
	if _, ok := highImpactTypes[eventType]; ok {
		score++
		breakdown = append(breakdown,
			fmt.Sprintf("+1: Event type in high-impact types (%s)", eventType))
	} else {
		if len(keywords) == 0 {
			keywords = DefaultRiskKeywords
		}
		textUpper := strings.ToUpper(event.Title + " " + event.RawText)
		totalWeight := 0
		var matched []string
		for _, kw := range keywords {
			if kw.Term != "" && strings.Contains(textUpper, kw.Term) {
				totalWeight += kw.Weight
				matched = append(matched, kw.Term)
			}
		}
		if len(matched) > 0 {
			score += totalWeight
			breakdown = append(breakdown,
				fmt.Sprintf("+%d: High-impact keywords detected (%s)", totalWeight, strings.Join(matched, ", ")))
		}
	}

	if len(breakdown) == 0 {
		breakdown = append(breakdown, "No impact factors detected")
	}

	switch event.TrustTier {
	case 3:
		score++
		breakdown = append(breakdown, "+1: Trust tier 3 bonus (official/government source)")
	case 1:
		score--
		breakdown = append(breakdown, "-1: Trust tier 1 penalty (lower trust source)")
	}

	if event.WeightingBias != 0 {
		score += event.WeightingBias
		sign := ""
		if event.WeightingBias > 0 {
			sign = "+"
		}
		breakdown = append(breakdown,
			fmt.Sprintf("%s%d: Weighting bias (manual adjustment)", sign, event.WeightingBias))
	}

	if score > 10 {
		breakdown = append(breakdown, fmt.Sprintf("Capped at 10 (was %d)", score))
		score = 10
	} else if score < 0 {
		breakdown = append(breakdown, fmt.Sprintf("Capped at 0 (was %d)", score))
		score = 0
	}
	return score, breakdown, nil
}

// Classification maps an impact score onto the risk tier ladder:
// 0-1 Interesting, 2-3 Relevant, 4+ Impactful.
func Classification(impactScore int) int {
	switch {
	case impactScore >= 4:
		return 2
	case impactScore >= 2:
		return 1
	default:
		return 0
	}
}

// ClassificationWithFloor applies a source's classification floor on top
// of the score-derived classification.
func ClassificationWithFloor(impactScore, floor int) int {
	c := Classification(impactScore)
	if floor > c {
		c = floor
	}
	if c > 2 {
		c = 2
	}
	return c
}
