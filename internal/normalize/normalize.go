// Package normalize turns raw item candidates into canonical events.
// Event typing and location hints use deterministic keyword heuristics so
// the same input always yields the same event.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hardstop-io/hardstop/internal/adapters"
	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/ids"
	"github.com/hardstop-io/hardstop/internal/models"
)

// LaneMatch records how a lane was tied to an event.
type LaneMatch struct {
	LaneID    string `json:"lane_id"`
	MatchType string `json:"match_type"` // ORIGIN, DESTINATION, or BOTH
}

// Event is the pipeline's working form: the canonical event plus the
// network scope the linker attaches.
type Event struct {
	EventID             string
	SourceType          string
	SourceName          string
	SourceID            string
	RawID               string
	Tier                string
	TrustTier           int
	ClassificationFloor int
	WeightingBias       int
	Title               string
	RawText             string
	EventType           string
	EventTimeUTC        string
	SeverityGuess       int
	LocationHint        string
	Entities            map[string]string
	Payload             map[string]any
	URL                 string

	Facilities           []string
	Lanes                []string
	Shipments            []string
	LinkingNotes         []string
	LinkConfidence       map[string]float64
	LinkProvenance       map[string]string
	FacilityCandidates   []string
	LaneMatches          []LaneMatch
	ShipmentsTruncated   bool
	ShipmentsTotalLinked int
}

var eventTypeKeywords = []struct {
	eventType string
	keywords  []string
}{
	{"WEATHER", []string{
		"hurricane", "tornado", "flood", "storm", "blizzard", "snow", "ice",
		"warning", "watch", "alert", "severe weather", "thunderstorm",
		"wind", "hail", "freeze", "frost", "heat", "drought",
	}},
	{"SPILL", []string{
		"spill", "leak", "contamination", "chemical release", "hazardous material",
		"oil spill", "toxic", "pollution",
	}},
	{"STRIKE", []string{
		"strike", "labor dispute", "work stoppage", "union", "walkout",
		"picketing", "lockout",
	}},
	{"CLOSURE", []string{
		"closure", "closed", "shutdown", "shut down", "suspended", "halted",
		"blocked", "barricade", "evacuation", "emergency closure",
	}},
	{"REG", []string{
		"regulation", "regulatory", "compliance", "violation", "fine", "penalty",
		"inspection", "audit", "sanction", "ban", "prohibition",
	}},
	{"RECALL", []string{
		"recall", "recalled", "withdrawal", "removed from market", "voluntary recall",
	}},
}

// ExtractEventType classifies text into WEATHER, SPILL, STRIKE, CLOSURE,
// REG, RECALL, or OTHER. Categories are checked in fixed order; the first
// category with any keyword hit wins.
func ExtractEventType(text, title string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(strings.ToLower(title))
		b.WriteString(" ")
	}
	b.WriteString(strings.ToLower(text))
	combined := b.String()

	for _, group := range eventTypeKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(combined, kw) {
				return group.eventType
			}
		}
	}
	return "OTHER"
}

var cityStateRe = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*),\s+([A-Z]{2}|[A-Z][a-z]+)\b`)

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ExtractLocationHint picks a best-effort location: source geo metadata
// first, then structured payload fields, then a "City, State" pattern in
// the payload text.
func ExtractLocationHint(payload map[string]any, geo map[string]string) string {
	if len(geo) > 0 {
		var parts []string
		for _, key := range []string{"city", "state", "country"} {
			if geo[key] != "" {
				parts = append(parts, geo[key])
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}

	for _, field := range []string{"areaDesc", "location", "area", "region", "city", "state"} {
		if v := payloadString(payload, field); v != "" {
			return v
		}
	}

	for _, field := range []string{"description", "summary", "content", "title"} {
		text := payloadString(payload, field)
		if text == "" {
			continue
		}
		if m := cityStateRe.FindStringSubmatch(text); m != nil {
			return m[1] + ", " + m[2]
		}
	}
	return ""
}

// External normalizes a fetched candidate into a canonical event,
// injecting the source's trust weighting fields.
func External(cand adapters.RawItemCandidate, source *config.Source, rawID string) *Event {
	payload := cand.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	title := cand.Title
	if title == "" {
		title = payloadString(payload, "title")
	}

	var textParts []string
	if title != "" {
		textParts = append(textParts, title)
	}
	for _, field := range []string{"summary", "description", "content"} {
		if v := payloadString(payload, field); v != "" {
			textParts = append(textParts, v)
		}
	}
	rawText := strings.Join(textParts, " ")

	locationHint := ExtractLocationHint(payload, source.Geo)
	entities := map[string]string{}
	if locationHint != "" {
		entities["location"] = locationHint
	}

	return &Event{
		EventID:             ids.NewEventID(),
		SourceType:          "EXTERNAL",
		SourceName:          source.ID,
		SourceID:            source.ID,
		RawID:               rawID,
		Tier:                source.Tier,
		TrustTier:           source.TrustTier,
		ClassificationFloor: source.ClassificationFloor,
		WeightingBias:       source.WeightingBias,
		Title:               title,
		RawText:             rawText,
		EventType:           ExtractEventType(rawText, title),
		EventTimeUTC:        cand.PublishedAtUTC,
		SeverityGuess:       1,
		LocationHint:        locationHint,
		Entities:            entities,
		Payload:             payload,
		URL:                 cand.URL,
		LinkConfidence:      map[string]float64{},
		LinkProvenance:      map[string]string{},
	}
}

func payloadInt(payload map[string]any, key string, fallback int) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// Demo normalizes a demo fixture document. Fixtures carry a flat shape
// (title, body, event_type) rather than an adapter payload.
func Demo(raw map[string]any) *Event {
	eventID := payloadString(raw, "event_id")
	if eventID == "" {
		eventID = ids.NewEventID()
	}
	sourceType := payloadString(raw, "type")
	if sourceType == "" {
		sourceType = "NEWS"
	}
	sourceName := payloadString(raw, "source")
	if sourceName == "" {
		sourceName = "UNKNOWN"
	}
	title := payloadString(raw, "title")
	body := payloadString(raw, "body")
	eventType := payloadString(raw, "event_type")
	if eventType == "" {
		eventType = ExtractEventType(body, title)
	}
	return &Event{
		EventID:        eventID,
		SourceType:     sourceType,
		SourceName:     sourceName,
		Title:          title,
		RawText:        body,
		EventType:      eventType,
		SeverityGuess:  payloadInt(raw, "severity_guess", 2),
		TrustTier:      payloadInt(raw, "trust_tier", 2),
		Payload:        raw,
		Entities:       map[string]string{},
		LinkConfidence: map[string]float64{},
		LinkProvenance: map[string]string{},
	}
}

// ToModel converts the working event into its persistent row form.
func (e *Event) ToModel() *models.Event {
	row := &models.Event{
		EventID:       e.EventID,
		SourceType:    e.SourceType,
		SourceName:    models.StrPtr(e.SourceName),
		SourceID:      models.StrPtr(e.SourceID),
		RawID:         models.StrPtr(e.RawID),
		Title:         models.StrPtr(e.Title),
		RawText:       models.StrPtr(e.RawText),
		EventType:     models.StrPtr(e.EventType),
		EventTimeUTC:  models.StrPtr(e.EventTimeUTC),
		SeverityGuess: e.SeverityGuess,
		LocationHint:  models.StrPtr(e.LocationHint),
		TrustTier:     models.IntPtr(e.TrustTier),
	}
	if len(e.Entities) > 0 {
		data, _ := json.Marshal(e.Entities)
		row.EntitiesJSON = models.StrPtr(string(data))
	}
	if len(e.Payload) > 0 {
		data, _ := json.Marshal(e.Payload)
		row.EventPayloadJSON = models.StrPtr(string(data))
	}
	return row
}
