// Package brief builds the daily brief read model (brief.v1) and renders
// it as markdown or JSON. Query shaping lives here; the store only sorts.
package brief

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hardstop-io/hardstop/internal/correlate"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// ReadModelVersion identifies the brief schema.
const ReadModelVersion = "brief.v1"

// Correlation echoes the alert's correlation facts.
type Correlation struct {
	Key     string `json:"key"`
	Action  string `json:"action"`
	AlertID string `json:"alert_id"`
}

// AlertView is one alert shaped for the brief.
type AlertView struct {
	AlertID        string          `json:"alert_id"`
	Classification int             `json:"classification"`
	ImpactScore    *int            `json:"impact_score"`
	Summary        string          `json:"summary"`
	Correlation    Correlation     `json:"correlation"`
	Scope          correlate.Scope `json:"scope"`
	FirstSeenUTC   string          `json:"first_seen_utc"`
	LastSeenUTC    string          `json:"last_seen_utc"`
	UpdateCount    int             `json:"update_count"`
	Tier           *string         `json:"tier"`
	TrustTier      *int            `json:"trust_tier"`
}

// Counts summarizes the window by action and classification.
type Counts struct {
	New         int `json:"new"`
	Updated     int `json:"updated"`
	Impactful   int `json:"impactful"`
	Relevant    int `json:"relevant"`
	Interesting int `json:"interesting"`
}

// TierCounts summarizes the window by source tier.
type TierCounts struct {
	Global   int `json:"global"`
	Regional int `json:"regional"`
	Local    int `json:"local"`
	Unknown  int `json:"unknown"`
}

// RuleCount is one suppression rollup entry.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// SourceCount is one per-source suppression rollup entry.
type SourceCount struct {
	SourceID string `json:"source_id"`
	Count    int    `json:"count"`
}

// Suppressed rolls up the window's suppressed items.
type Suppressed struct {
	Count    int           `json:"count"`
	ByRule   []RuleCount   `json:"by_rule"`
	BySource []SourceCount `json:"by_source"`
}

// Window names the query window.
type Window struct {
	Since      string `json:"since"`
	SinceHours int    `json:"since_hours"`
}

// Legacy carries the pre-v1 compatibility counters.
type Legacy struct {
	TotalQueried int `json:"total_queried"`
	LimitApplied int `json:"limit_applied"`
}

// Brief is the brief.v1 read model.
type Brief struct {
	ReadModelVersion string      `json:"read_model_version"`
	GeneratedAtUTC   string      `json:"generated_at_utc"`
	Window           Window      `json:"window"`
	Counts           Counts      `json:"counts"`
	TierCounts       TierCounts  `json:"tier_counts"`
	Top              []AlertView `json:"top"`
	Updated          []AlertView `json:"updated"`
	Created          []AlertView `json:"created"`
	Suppressed       Suppressed  `json:"suppressed"`
	SuppressedLegacy Legacy      `json:"suppressed_legacy"`
}

func loadScope(alert *models.Alert) correlate.Scope {
	scope := correlate.Scope{Facilities: []string{}, Lanes: []string{}, Shipments: []string{}}
	if alert.ScopeJSON == nil || *alert.ScopeJSON == "" {
		return scope
	}
	var parsed correlate.Scope
	if err := json.Unmarshal([]byte(*alert.ScopeJSON), &parsed); err != nil {
		return scope
	}
	if parsed.Facilities == nil {
		parsed.Facilities = []string{}
	}
	if parsed.Lanes == nil {
		parsed.Lanes = []string{}
	}
	if parsed.Shipments == nil {
		parsed.Shipments = []string{}
	}
	return parsed
}

func inferAction(alert *models.Alert) string {
	if alert.CorrelationAction != nil && *alert.CorrelationAction != "" {
		return *alert.CorrelationAction
	}
	if alert.Status == models.AlertStatusUpdated {
		return models.CorrelationUpdated
	}
	return models.CorrelationCreated
}

func toView(alert *models.Alert) AlertView {
	return AlertView{
		AlertID:        alert.AlertID,
		Classification: alert.Classification,
		ImpactScore:    alert.ImpactScore,
		Summary:        alert.Summary,
		Correlation: Correlation{
			Key:     models.Deref(alert.CorrelationKey),
			Action:  inferAction(alert),
			AlertID: alert.AlertID,
		},
		Scope:        loadScope(alert),
		FirstSeenUTC: alert.FirstSeenUTC,
		LastSeenUTC:  alert.LastSeenUTC,
		UpdateCount:  alert.UpdateCount,
		Tier:         alert.Tier,
		TrustTier:    alert.TrustTier,
	}
}

// Options shape one brief generation.
type Options struct {
	Since         string // "24h", "72h", "7d"
	IncludeClass0 bool
	Limit         int
	Now           time.Time
}

// Generate builds the brief.v1 read model for the window.
func Generate(st *store.Store, opts Options) (*Brief, error) {
	since := opts.Since
	if since == "" {
		since = "24h"
	}
	sinceHours, ok := timeutil.ParseSince(since)
	if !ok {
		return nil, fmt.Errorf("invalid --since format: %s (use 24h, 72h, or 7d)", since)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	alerts, err := st.QueryRecentAlerts(store.RecentAlertsQuery{
		SinceHours:    sinceHours,
		IncludeClass0: opts.IncludeClass0,
		Limit:         limit * 2,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	views := make([]AlertView, 0, len(alerts))
	for i := range alerts {
		views = append(views, toView(&alerts[i]))
	}

	created := []AlertView{}
	updated := []AlertView{}
	counts := Counts{}
	tierCounts := TierCounts{}
	for _, v := range views {
		switch v.Correlation.Action {
		case models.CorrelationCreated:
			created = append(created, v)
		case models.CorrelationUpdated:
			updated = append(updated, v)
		}
		switch v.Classification {
		case 2:
			counts.Impactful++
		case 1:
			counts.Relevant++
		case 0:
			counts.Interesting++
		}
		switch {
		case v.Tier == nil:
			tierCounts.Unknown++
		case *v.Tier == models.TierGlobal:
			tierCounts.Global++
		case *v.Tier == models.TierRegional:
			tierCounts.Regional++
		case *v.Tier == models.TierLocal:
			tierCounts.Local++
		default:
			tierCounts.Unknown++
		}
	}
	counts.New = len(created)
	counts.Updated = len(updated)

	top := []AlertView{}
	for _, v := range views {
		if v.Classification == 2 {
			top = append(top, v)
		}
	}
	sort.SliceStable(top, func(i, j int) bool {
		return impactOrZero(top[i].ImpactScore) > impactOrZero(top[j].ImpactScore)
	})
	if len(top) > 2 {
		top = top[:2]
	}

	suppressedItems, err := st.QuerySuppressedItems(sinceHours, now)
	if err != nil {
		return nil, err
	}
	byRule := map[string]int{}
	bySource := map[string]int{}
	for i := range suppressedItems {
		item := &suppressedItems[i]
		if item.SuppressionPrimaryRuleID != nil && *item.SuppressionPrimaryRuleID != "" {
			byRule[*item.SuppressionPrimaryRuleID]++
		}
		if item.SourceID != "" {
			bySource[item.SourceID]++
		}
	}

	if len(created) > limit {
		created = created[:limit]
	}
	if len(updated) > limit {
		updated = updated[:limit]
	}

	return &Brief{
		ReadModelVersion: ReadModelVersion,
		GeneratedAtUTC:   timeutil.ToUTCZ(now),
		Window:           Window{Since: fmt.Sprintf("%dh", sinceHours), SinceHours: sinceHours},
		Counts:           counts,
		TierCounts:       tierCounts,
		Top:              top,
		Updated:          updated,
		Created:          created,
		Suppressed: Suppressed{
			Count:    len(suppressedItems),
			ByRule:   topRuleCounts(byRule, 5),
			BySource: topSourceCounts(bySource, 5),
		},
		SuppressedLegacy: Legacy{TotalQueried: len(alerts), LimitApplied: limit},
	}, nil
}

func impactOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func topRuleCounts(m map[string]int, limit int) []RuleCount {
	out := make([]RuleCount, 0, len(m))
	for id, count := range m {
		out = append(out, RuleCount{RuleID: id, Count: count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RuleID < out[j].RuleID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topSourceCounts(m map[string]int, limit int) []SourceCount {
	out := make([]SourceCount, 0, len(m))
	for id, count := range m {
		out = append(out, SourceCount{SourceID: id, Count: count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SourceID < out[j].SourceID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RenderJSON renders the brief as indented JSON.
func RenderJSON(b *Brief) (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render brief json: %w", err)
	}
	return string(data), nil
}
