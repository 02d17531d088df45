package brief

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hardstop-io/hardstop/internal/timeutil"
)

var tierOrder = []string{"global", "regional", "local", "unknown"}

var tierBadges = map[string]string{
	"global":   "[G]",
	"regional": "[R]",
	"local":    "[L]",
	"unknown":  "[?]",
}

func tierName(v *string) string {
	if v == nil {
		return "unknown"
	}
	switch *v {
	case "global", "regional", "local":
		return *v
	}
	return "unknown"
}

func groupByTier(alerts []AlertView) map[string][]AlertView {
	groups := map[string][]AlertView{}
	for _, a := range alerts {
		name := tierName(a.Tier)
		groups[name] = append(groups[name], a)
	}
	for _, group := range groups {
		sortTierGroup(group)
	}
	return groups
}

// sortTierGroup orders alerts for display: classification DESC, impact
// DESC, update count DESC, last seen DESC.
func sortTierGroup(group []AlertView) {
	sort.SliceStable(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if a.Classification != b.Classification {
			return a.Classification > b.Classification
		}
		if impactOrZero(a.ImpactScore) != impactOrZero(b.ImpactScore) {
			return impactOrZero(a.ImpactScore) > impactOrZero(b.ImpactScore)
		}
		if a.UpdateCount != b.UpdateCount {
			return a.UpdateCount > b.UpdateCount
		}
		return a.LastSeenUTC > b.LastSeenUTC
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func trustSuffix(a AlertView) string {
	if a.TrustTier == nil || *a.TrustTier == 0 {
		return ""
	}
	return fmt.Sprintf(" (T%d)", *a.TrustTier)
}

func truncatedList(items []string, max int) string {
	shown := items
	if len(shown) > max {
		shown = shown[:max]
	}
	out := strings.Join(shown, ", ")
	if len(items) > max {
		out += fmt.Sprintf(" (+%d more)", len(items)-max)
	}
	return out
}

// RenderMarkdown renders the brief as the daily markdown report. A window
// with no alerts renders the Quiet Day branch.
func RenderMarkdown(b *Brief) string {
	var lines []string

	dateStr := b.GeneratedAtUTC
	if t, err := timeutil.ParseZ(b.GeneratedAtUTC); err == nil {
		dateStr = t.Format("2006-01-02")
	}
	lines = append(lines,
		fmt.Sprintf("# Hardstop Daily Brief — %s (since %s)", dateStr, b.Window.Since), "")

	lines = append(lines, "## Summary", "")
	lines = append(lines,
		fmt.Sprintf("- **New:** %d | **Updated:** %d", b.Counts.New, b.Counts.Updated))
	lines = append(lines, fmt.Sprintf(
		"- **Impactful (2):** %d | **Relevant (1):** %d | **Interesting (0):** %d",
		b.Counts.Impactful, b.Counts.Relevant, b.Counts.Interesting))

	var tierParts []string
	if b.TierCounts.Global > 0 {
		tierParts = append(tierParts, fmt.Sprintf("Global %d", b.TierCounts.Global))
	}
	if b.TierCounts.Regional > 0 {
		tierParts = append(tierParts, fmt.Sprintf("Regional %d", b.TierCounts.Regional))
	}
	if b.TierCounts.Local > 0 {
		tierParts = append(tierParts, fmt.Sprintf("Local %d", b.TierCounts.Local))
	}
	if b.TierCounts.Unknown > 0 {
		tierParts = append(tierParts, fmt.Sprintf("Unknown %d", b.TierCounts.Unknown))
	}
	if len(tierParts) > 0 {
		lines = append(lines, "- **Tier:** "+strings.Join(tierParts, " | "))
	} else {
		lines = append(lines, "- **Tier:** None")
	}

	if b.Suppressed.Count > 0 {
		if len(b.Suppressed.ByRule) > 0 {
			var topRules []string
			for i, r := range b.Suppressed.ByRule {
				if i >= 3 {
					break
				}
				topRules = append(topRules, fmt.Sprintf("%s=%d", r.RuleID, r.Count))
			}
			lines = append(lines, fmt.Sprintf("- **Suppressed:** %d (top: %s)",
				b.Suppressed.Count, strings.Join(topRules, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("- **Suppressed:** %d", b.Suppressed.Count))
		}
	}
	lines = append(lines, "")

	if b.Counts.New+b.Counts.Updated == 0 {
		lines = append(lines,
			"## Quiet Day", "",
			"No alerts found for the selected time window.", "",
			"To generate alerts:",
			"- Run `hardstop demo` to process events",
			"- Configure event sources to ingest new events",
			"")
		return strings.Join(lines, "\n")
	}

	if len(b.Top) > 0 {
		lines = append(lines, "## Top Impact", "")
		groups := groupByTier(b.Top)
		for _, tier := range tierOrder {
			group := groups[tier]
			if len(group) == 0 {
				continue
			}
			lines = append(lines, "### "+capitalize(tier), "")
			for _, a := range group {
				badge := tierBadges[tier]
				lines = append(lines,
					fmt.Sprintf("- **[%d]%s** %s%s", a.Classification, badge, a.Summary, trustSuffix(a)))
				lines = append(lines, fmt.Sprintf("  - **Key:** %s", a.Correlation.Key))

				facilities := truncatedList(a.Scope.Facilities, 3)
				lanes := truncatedList(a.Scope.Lanes, 3)
				shipmentsShown := len(a.Scope.Shipments)
				shipmentsTotal := a.Scope.ShipmentsTotalLinked
				if shipmentsTotal < shipmentsShown {
					shipmentsTotal = shipmentsShown
				}
				shipmentsStr := fmt.Sprintf("%d", shipmentsShown)
				if shipmentsTotal > shipmentsShown {
					shipmentsStr = fmt.Sprintf("%d/%d", shipmentsShown, shipmentsTotal)
				}
				if facilities != "" || lanes != "" || shipmentsStr != "0" {
					var scopeParts []string
					if facilities != "" {
						scopeParts = append(scopeParts, "Facilities: "+facilities)
					}
					if lanes != "" {
						scopeParts = append(scopeParts, "Lanes: "+lanes)
					}
					if shipmentsStr != "0" {
						scopeParts = append(scopeParts, "Shipments: "+shipmentsStr)
					}
					lines = append(lines, "  - "+strings.Join(scopeParts, " | "))
				}
				lines = append(lines, fmt.Sprintf(
					"  - **Last seen:** %s | **Updates:** %d", a.LastSeenUTC, a.UpdateCount))
				lines = append(lines, "")
			}
		}
	}

	if len(b.Updated) > 0 {
		lines = append(lines, "## Updated Alerts", "")
		groups := groupByTier(b.Updated)
		for _, tier := range tierOrder {
			group := groups[tier]
			if len(group) == 0 {
				continue
			}
			lines = append(lines, "### "+capitalize(tier), "")
			for _, a := range group {
				lines = append(lines, fmt.Sprintf("- **[%d]%s** %s%s — Updates: %d",
					a.Classification, tierBadges[tier], a.Summary, trustSuffix(a), a.UpdateCount))
			}
			lines = append(lines, "")
		}
	}

	if len(b.Created) > 0 {
		lines = append(lines, "## New Alerts", "")
		groups := groupByTier(b.Created)
		for _, tier := range tierOrder {
			group := groups[tier]
			if len(group) == 0 {
				continue
			}
			lines = append(lines, "### "+capitalize(tier), "")
			for _, a := range group {
				lines = append(lines, fmt.Sprintf("- **[%d]%s** %s%s",
					a.Classification, tierBadges[tier], a.Summary, trustSuffix(a)))
			}
			lines = append(lines, "")
		}
	}

	return strings.Join(lines, "\n")
}
