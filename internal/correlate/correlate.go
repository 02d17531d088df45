// Package correlate folds related events into durable alerts. Events that
// share a correlation key within the merge window update the existing
// alert instead of opening a new one.
package correlate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/ids"
	"github.com/hardstop-io/hardstop/internal/impact"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
)

// MergeWindowDays bounds how far back a correlation key can reach.
const MergeWindowDays = 7

var keyBuckets = []string{"SPILL", "STRIKE", "CLOSURE", "WEATHER", "REG", "SAFETY"}

func riskBucket(event *normalize.Event) string {
	et := strings.ToUpper(event.EventType)
	if et != "" {
		for _, b := range keyBuckets {
			if strings.Contains(et, b) {
				return b
			}
		}
		if strings.Contains(et, "REGULATION") {
			return "REG"
		}
		if len(et) > 24 {
			return et[:24]
		}
		return et
	}

	text := strings.ToLower(event.Title + " " + event.RawText)
	switch {
	case strings.Contains(text, "spill"):
		return "SPILL"
	case strings.Contains(text, "strike"):
		return "STRIKE"
	case strings.Contains(text, "closure"), strings.Contains(text, "shut down"), strings.Contains(text, "shutdown"):
		return "CLOSURE"
	case strings.Contains(text, "storm"), strings.Contains(text, "hurricane"), strings.Contains(text, "tornado"):
		return "WEATHER"
	case strings.Contains(text, "regulation"), strings.Contains(text, "rule"):
		return "REG"
	}
	return "OTHER"
}

func topOrNone(xs []string) string {
	if len(xs) == 0 {
		return "NONE"
	}
	top := ""
	for _, x := range xs {
		if top == "" || x < top {
			top = x
		}
	}
	return top
}

// Key derives the stable correlation key "BUCKET|FACILITY|LANE" for a
// linked event. Facility and lane are the lexicographically first ids,
// or NONE when the event links nothing.
func Key(event *normalize.Event) string {
	return fmt.Sprintf("%s|%s|%s", riskBucket(event), topOrNone(event.Facilities), topOrNone(event.Lanes))
}

// Scope is the alert's network footprint, persisted as scope_json.
type Scope struct {
	Facilities           []string `json:"facilities"`
	Lanes                []string `json:"lanes"`
	Shipments            []string `json:"shipments"`
	ShipmentsTotalLinked int      `json:"shipments_total_linked"`
	ShipmentsTruncated   bool     `json:"shipments_truncated"`
}

func dedupePreserveOrder(items []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// MergeScope unions an existing alert's scope with the latest event's,
// preserving first-seen order. Truncation is sticky and the total-linked
// count keeps its maximum.
func MergeScope(existingJSON *string, next Scope) Scope {
	if existingJSON == nil || *existingJSON == "" {
		return next
	}
	var existing Scope
	if err := json.Unmarshal([]byte(*existingJSON), &existing); err != nil {
		return next
	}
	merged := Scope{
		Facilities: dedupePreserveOrder(append(existing.Facilities, next.Facilities...)),
		Lanes:      dedupePreserveOrder(append(existing.Lanes, next.Lanes...)),
		Shipments:  dedupePreserveOrder(append(existing.Shipments, next.Shipments...)),
	}
	existingTotal := existing.ShipmentsTotalLinked
	if existingTotal == 0 {
		existingTotal = len(merged.Shipments)
	}
	nextTotal := next.ShipmentsTotalLinked
	if nextTotal == 0 {
		nextTotal = len(next.Shipments)
	}
	merged.ShipmentsTotalLinked = existingTotal
	if nextTotal > merged.ShipmentsTotalLinked {
		merged.ShipmentsTotalLinked = nextTotal
	}
	merged.ShipmentsTruncated = existing.ShipmentsTruncated || next.ShipmentsTruncated
	return merged
}

// Action describes one recommended response attached to an alert.
type Action struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	OwnerRole      string `json:"owner_role"`
	DueWithinHours int    `json:"due_within_hours"`
}

func defaultActions() []Action {
	return []Action{{
		ID:             "ACT-VERIFY",
		Description:    "Verify status with responsible operator or facility.",
		OwnerRole:      "Operations / Supply Chain",
		DueWithinHours: 4,
	}}
}

// Diagnostics carries the non-decisional scoring evidence for one event's
// contribution to an alert.
type Diagnostics struct {
	LinkConfidence       map[string]float64 `json:"link_confidence"`
	LinkProvenance       map[string]string  `json:"link_provenance"`
	ShipmentsTotalLinked int                `json:"shipments_total_linked"`
	ShipmentsTruncated   bool               `json:"shipments_truncated"`
	ImpactScore          int                `json:"impact_score"`
	ImpactScoreBreakdown []string           `json:"impact_score_breakdown"`
}

// Evidence is the audit trail attached to a correlation result. It never
// influences classification.
type Evidence struct {
	Diagnostics  *Diagnostics   `json:"diagnostics,omitempty"`
	LinkingNotes []string       `json:"linking_notes,omitempty"`
	Correlation  map[string]any `json:"correlation,omitempty"`
	Source       map[string]any `json:"source,omitempty"`
}

// Result is the outcome of correlating one event.
type Result struct {
	Alert          *models.Alert
	PriorAlert     *models.Alert // alert as it stood before the merge; nil on CREATED
	Event          *normalize.Event
	Action         string // CREATED | UPDATED
	ImpactScore    int
	Breakdown      []string
	Classification int
	CorrelationKey string
	Scope          Scope
	Evidence       *Evidence
}

// Builder correlates events into alert rows.
type Builder struct {
	st       *store.Store
	logger   *logrus.Logger
	keywords []config.Keyword
}

// NewBuilder constructs an alert builder. Keywords may be nil, in which
// case the built-in risk terms apply.
func NewBuilder(st *store.Store, logger *logrus.Logger, keywords []config.Keyword) *Builder {
	return &Builder{st: st, logger: logger, keywords: keywords}
}

// BuildAlert scores a linked event, derives its correlation key, and
// either opens a new alert or merges into a recent one sharing the key.
func (b *Builder) BuildAlert(event *normalize.Event, now time.Time) (*Result, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	score, breakdown, err := impact.Score(event, b.st, b.keywords, now)
	if err != nil {
		return nil, fmt.Errorf("score event %s: %w", event.EventID, err)
	}
	classification := impact.Classification(score)

	summary := event.Title
	if summary == "" {
		summary = "Risk event detected"
	}
	riskType := event.EventType
	if riskType == "" {
		riskType = "GENERAL"
	}

	reasoning := []string{
		fmt.Sprintf("Event type: %s", riskType),
		fmt.Sprintf("Classification: %d (from network_impact_score=%d)", classification, score),
		"Scope derived from network entity matching.",
	}
	if event.ClassificationFloor > classification {
		reasoning = append(reasoning,
			fmt.Sprintf("Classification floor: %d (source policy) - raised from %d", event.ClassificationFloor, classification))
		classification = event.ClassificationFloor
	}

	scope := Scope{
		Facilities:           append([]string{}, event.Facilities...),
		Lanes:                append([]string{}, event.Lanes...),
		Shipments:            append([]string{}, event.Shipments...),
		ShipmentsTotalLinked: event.ShipmentsTotalLinked,
		ShipmentsTruncated:   event.ShipmentsTruncated,
	}
	if scope.ShipmentsTotalLinked == 0 {
		scope.ShipmentsTotalLinked = len(scope.Shipments)
	}

	key := Key(event)

	evidence := &Evidence{
		Diagnostics: &Diagnostics{
			LinkConfidence:       event.LinkConfidence,
			LinkProvenance:       event.LinkProvenance,
			ShipmentsTotalLinked: scope.ShipmentsTotalLinked,
			ShipmentsTruncated:   event.ShipmentsTruncated,
			ImpactScore:          score,
			ImpactScoreBreakdown: breakdown,
		},
		LinkingNotes: append([]string{}, event.LinkingNotes...),
	}
	if event.SourceID != "" {
		evidence.Source = map[string]any{
			"id":         event.SourceID,
			"tier":       event.Tier,
			"raw_id":     event.RawID,
			"url":        event.URL,
			"trust_tier": event.TrustTier,
		}
	}

	existing, err := b.st.FindRecentAlertByKey(key, MergeWindowDays, now)
	if err != nil {
		return nil, err
	}

	nowZ := timeutil.ToUTCZ(now)

	if existing != nil {
		// Snapshot before mutation: incident evidence must compare the
		// incoming event against the alert as it stood, not the merged union.
		prior := *existing
		merged := MergeScope(existing.ScopeJSON, scope)
		scopeData, _ := json.Marshal(merged)

		if classification > existing.Classification {
			existing.Classification = classification
		}
		existing.Summary = summary
		existing.Status = models.AlertStatusUpdated
		existing.CorrelationAction = models.StrPtr(models.CorrelationUpdated)
		existing.LastSeenUTC = nowZ
		existing.UpdateCount++
		existing.ImpactScore = models.IntPtr(score)
		existing.ScopeJSON = models.StrPtr(string(scopeData))
		existing.Tier = models.StrPtr(event.Tier)
		existing.SourceID = models.StrPtr(event.SourceID)
		existing.TrustTier = models.IntPtr(event.TrustTier)
		rootIDs := append(store.LoadRootEventIDs(existing), event.EventID)
		store.SetRootEventIDs(existing, rootIDs)

		if err := b.st.UpdateAlert(existing); err != nil {
			return nil, err
		}
		b.logger.WithFields(logrus.Fields{
			"alert_id": existing.AlertID, "correlation_key": key,
		}).Info("correlated event into existing alert")

		evidence.Correlation = map[string]any{
			"key":      key,
			"action":   models.CorrelationUpdated,
			"alert_id": existing.AlertID,
		}
		evidence.LinkingNotes = append(evidence.LinkingNotes,
			fmt.Sprintf("Correlated to existing alert_id=%s via key=%s", existing.AlertID, key))

		return &Result{
			Alert:          existing,
			PriorAlert:     &prior,
			Event:          event,
			Action:         models.CorrelationUpdated,
			ImpactScore:    score,
			Breakdown:      breakdown,
			Classification: existing.Classification,
			CorrelationKey: key,
			Scope:          merged,
			Evidence:       evidence,
		}, nil
	}

	scopeData, _ := json.Marshal(scope)
	actionsData, _ := json.Marshal(defaultActions())

	alert := &models.Alert{
		AlertID:            ids.NewAlertID(),
		Classification:     classification,
		Status:             models.AlertStatusOpen,
		RiskType:           riskType,
		Summary:            summary,
		RootEventID:        event.EventID,
		CorrelationKey:     models.StrPtr(key),
		CorrelationAction:  models.StrPtr(models.CorrelationCreated),
		FirstSeenUTC:       nowZ,
		LastSeenUTC:        nowZ,
		UpdateCount:        0,
		ImpactScore:        models.IntPtr(score),
		ScopeJSON:          models.StrPtr(string(scopeData)),
		Tier:               models.StrPtr(event.Tier),
		SourceID:           models.StrPtr(event.SourceID),
		TrustTier:          models.IntPtr(event.TrustTier),
		Reasoning:          models.StrPtr(strings.Join(reasoning, "\n")),
		RecommendedActions: models.StrPtr(string(actionsData)),
	}
	store.SetRootEventIDs(alert, []string{event.EventID})

	if err := b.st.InsertAlert(alert); err != nil {
		return nil, err
	}
	b.logger.WithFields(logrus.Fields{
		"alert_id": alert.AlertID, "correlation_key": key, "classification": classification,
	}).Info("created alert")

	evidence.Correlation = map[string]any{
		"key":      key,
		"action":   models.CorrelationCreated,
		"alert_id": alert.AlertID,
	}
	evidence.LinkingNotes = append(evidence.LinkingNotes,
		fmt.Sprintf("Created new correlated alert via key=%s", key))

	return &Result{
		Alert:          alert,
		Event:          event,
		Action:         models.CorrelationCreated,
		ImpactScore:    score,
		Breakdown:      breakdown,
		Classification: classification,
		CorrelationKey: key,
		Scope:          scope,
		Evidence:       evidence,
	}, nil
}
