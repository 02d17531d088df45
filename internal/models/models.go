// Package models defines the persistent row types shared by the store and
// the pipeline stages. Timestamps are stored as ISO-8601 UTC strings with a
// trailing "Z" so lexicographic order matches chronological order.
package models

// Source tiers.
const (
	TierGlobal   = "global"
	TierRegional = "regional"
	TierLocal    = "local"
	TierUnknown  = "unknown"
)

// Raw item pipeline statuses.
const (
	RawStatusNew        = "NEW"
	RawStatusNormalized = "NORMALIZED"
	RawStatusFailed     = "FAILED"
)

// SuppressionStatusSuppressed marks a raw item held back by a rule.
const SuppressionStatusSuppressed = "SUPPRESSED"

// SourceRun phases and statuses.
const (
	PhaseFetch  = "FETCH"
	PhaseIngest = "INGEST"

	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Alert statuses and correlation actions.
const (
	AlertStatusOpen    = "OPEN"
	AlertStatusUpdated = "UPDATED"

	CorrelationCreated = "CREATED"
	CorrelationUpdated = "UPDATED"
)

// RawItem is a captured upstream payload, deduplicated per source by
// content hash.
type RawItem struct {
	RawID          string  `json:"raw_id" db:"raw_id"`
	SourceID       string  `json:"source_id" db:"source_id"`
	Tier           string  `json:"tier" db:"tier"`
	TrustTier      int     `json:"trust_tier" db:"trust_tier"`
	FetchedAtUTC   string  `json:"fetched_at_utc" db:"fetched_at_utc"`
	PublishedAtUTC *string `json:"published_at_utc,omitempty" db:"published_at_utc"`
	CanonicalID    *string `json:"canonical_id,omitempty" db:"canonical_id"`
	URL            *string `json:"url,omitempty" db:"url"`
	Title          *string `json:"title,omitempty" db:"title"`
	PayloadJSON    string  `json:"payload_json" db:"payload_json"`
	ContentHash    string  `json:"content_hash" db:"content_hash"`
	Status         string  `json:"status" db:"status"`
	Error          *string `json:"error,omitempty" db:"error"`

	SuppressionStatus        *string `json:"suppression_status,omitempty" db:"suppression_status"`
	SuppressionPrimaryRuleID *string `json:"suppression_primary_rule_id,omitempty" db:"suppression_primary_rule_id"`
	SuppressionRuleIDsJSON   *string `json:"suppression_rule_ids_json,omitempty" db:"suppression_rule_ids_json"`
	SuppressedAtUTC          *string `json:"suppressed_at_utc,omitempty" db:"suppressed_at_utc"`
	SuppressionStage         *string `json:"suppression_stage,omitempty" db:"suppression_stage"`
	SuppressionReasonCode    *string `json:"suppression_reason_code,omitempty" db:"suppression_reason_code"`
}

// Event is the canonical normalized form of one raw item.
type Event struct {
	EventID          string  `json:"event_id" db:"event_id"`
	SourceType       string  `json:"source_type" db:"source_type"`
	SourceName       *string `json:"source_name,omitempty" db:"source_name"`
	SourceID         *string `json:"source_id,omitempty" db:"source_id"`
	RawID            *string `json:"raw_id,omitempty" db:"raw_id"`
	Title            *string `json:"title,omitempty" db:"title"`
	RawText          *string `json:"raw_text,omitempty" db:"raw_text"`
	EventType        *string `json:"event_type,omitempty" db:"event_type"`
	EventTimeUTC     *string `json:"event_time_utc,omitempty" db:"event_time_utc"`
	SeverityGuess    int     `json:"severity_guess" db:"severity_guess"`
	City             *string `json:"city,omitempty" db:"city"`
	State            *string `json:"state,omitempty" db:"state"`
	Country          *string `json:"country,omitempty" db:"country"`
	LocationHint     *string `json:"location_hint,omitempty" db:"location_hint"`
	EntitiesJSON     *string `json:"entities_json,omitempty" db:"entities_json"`
	EventPayloadJSON *string `json:"event_payload_json,omitempty" db:"event_payload_json"`
	TrustTier        *int    `json:"trust_tier,omitempty" db:"trust_tier"`

	SuppressionPrimaryRuleID *string `json:"suppression_primary_rule_id,omitempty" db:"suppression_primary_rule_id"`
	SuppressionRuleIDsJSON   *string `json:"suppression_rule_ids_json,omitempty" db:"suppression_rule_ids_json"`
	SuppressedAtUTC          *string `json:"suppressed_at_utc,omitempty" db:"suppressed_at_utc"`
	SuppressionReasonCode    *string `json:"suppression_reason_code,omitempty" db:"suppression_reason_code"`
}

// Alert is a durable, correlated, mergeable risk artifact.
type Alert struct {
	AlertID            string  `json:"alert_id" db:"alert_id"`
	Classification     int     `json:"classification" db:"classification"`
	Status             string  `json:"status" db:"status"`
	RiskType           string  `json:"risk_type" db:"risk_type"`
	Summary            string  `json:"summary" db:"summary"`
	RootEventID        string  `json:"root_event_id" db:"root_event_id"`
	RootEventIDsJSON   *string `json:"root_event_ids_json,omitempty" db:"root_event_ids_json"`
	CorrelationKey     *string `json:"correlation_key,omitempty" db:"correlation_key"`
	CorrelationAction  *string `json:"correlation_action,omitempty" db:"correlation_action"`
	FirstSeenUTC       string  `json:"first_seen_utc" db:"first_seen_utc"`
	LastSeenUTC        string  `json:"last_seen_utc" db:"last_seen_utc"`
	UpdateCount        int     `json:"update_count" db:"update_count"`
	ImpactScore        *int    `json:"impact_score,omitempty" db:"impact_score"`
	ScopeJSON          *string `json:"scope_json,omitempty" db:"scope_json"`
	Tier               *string `json:"tier,omitempty" db:"tier"`
	SourceID           *string `json:"source_id,omitempty" db:"source_id"`
	TrustTier          *int    `json:"trust_tier,omitempty" db:"trust_tier"`
	Reasoning          *string `json:"reasoning,omitempty" db:"reasoning"`
	RecommendedActions *string `json:"recommended_actions,omitempty" db:"recommended_actions"`
}

// SourceRun records one phase (FETCH or INGEST) for one source within a
// run group. Counters default to zero, never null.
type SourceRun struct {
	RunID              string   `json:"run_id" db:"run_id"`
	RunGroupID         string   `json:"run_group_id" db:"run_group_id"`
	SourceID           string   `json:"source_id" db:"source_id"`
	Phase              string   `json:"phase" db:"phase"`
	RunAtUTC           string   `json:"run_at_utc" db:"run_at_utc"`
	Status             string   `json:"status" db:"status"`
	StatusCode         *int     `json:"status_code,omitempty" db:"status_code"`
	Error              *string  `json:"error,omitempty" db:"error"`
	DurationSeconds    *float64 `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ItemsFetched       int      `json:"items_fetched" db:"items_fetched"`
	ItemsNew           int      `json:"items_new" db:"items_new"`
	ItemsProcessed     int      `json:"items_processed" db:"items_processed"`
	ItemsSuppressed    int      `json:"items_suppressed" db:"items_suppressed"`
	ItemsEventsCreated int      `json:"items_events_created" db:"items_events_created"`
	ItemsAlertsTouched int      `json:"items_alerts_touched" db:"items_alerts_touched"`
	DiagnosticsJSON    *string  `json:"diagnostics_json,omitempty" db:"diagnostics_json"`
}

// Facility is a node in the reference supply-chain network.
type Facility struct {
	FacilityID       string   `json:"facility_id" db:"facility_id"`
	Name             string   `json:"name" db:"name"`
	Type             string   `json:"type" db:"type"`
	City             *string  `json:"city,omitempty" db:"city"`
	State            *string  `json:"state,omitempty" db:"state"`
	Country          *string  `json:"country,omitempty" db:"country"`
	Lat              *float64 `json:"lat,omitempty" db:"lat"`
	Lon              *float64 `json:"lon,omitempty" db:"lon"`
	CriticalityScore float64  `json:"criticality_score" db:"criticality_score"`
}

// Lane connects an origin facility to a destination facility.
type Lane struct {
	LaneID           string  `json:"lane_id" db:"lane_id"`
	OriginFacilityID string  `json:"origin_facility_id" db:"origin_facility_id"`
	DestFacilityID   string  `json:"dest_facility_id" db:"dest_facility_id"`
	Mode             string  `json:"mode" db:"mode"`
	CarrierName      string  `json:"carrier_name" db:"carrier_name"`
	AvgTransitDays   float64 `json:"avg_transit_days" db:"avg_transit_days"`
	VolumeScore      float64 `json:"volume_score" db:"volume_score"`
}

// Shipment moves goods over a lane.
type Shipment struct {
	ShipmentID   string `json:"shipment_id" db:"shipment_id"`
	OrderID      string `json:"order_id" db:"order_id"`
	LaneID       string `json:"lane_id" db:"lane_id"`
	SkuID        string `json:"sku_id" db:"sku_id"`
	Qty          int    `json:"qty" db:"qty"`
	Status       string `json:"status" db:"status"`
	ShipDate     string `json:"ship_date" db:"ship_date"`
	EtaDate      string `json:"eta_date" db:"eta_date"`
	CustomerName string `json:"customer_name" db:"customer_name"`
	PriorityFlag int    `json:"priority_flag" db:"priority_flag"`
}

// StrPtr returns a pointer to s, or nil when s is empty. Convenience for
// building nullable columns.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// Deref returns the string behind p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
