package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// EvidenceVersion identifies the incident-evidence artifact schema.
const EvidenceVersion = "incident-evidence.v1"

// EvidenceScope is a three-list network footprint inside an evidence doc.
type EvidenceScope struct {
	Facilities []string `json:"facilities"`
	Lanes      []string `json:"lanes"`
	Shipments  []string `json:"shipments"`
}

// MergeReason explains one factor behind an alert merge.
type MergeReason struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Matched bool           `json:"matched"`
	Details map[string]any `json:"details"`
}

// IncidentEvidence explains why an event merged into an existing alert.
type IncidentEvidence struct {
	ArtifactVersion string                   `json:"artifact_version"`
	Kind            string                   `json:"kind"`
	CorrelationKey  string                   `json:"correlation_key"`
	GeneratedAtUTC  string                   `json:"generated_at_utc"`
	Inputs          map[string]any           `json:"inputs"`
	MergeReasons    []MergeReason            `json:"merge_reasons"`
	MergeSummary    []string                 `json:"merge_summary"`
	Overlap         map[string][]string      `json:"overlap"`
	Scope           map[string]EvidenceScope `json:"scope"`
	WindowHours     int                      `json:"window_hours"`
	ArtifactHash    string                   `json:"artifact_hash,omitempty"`
}

func parseScope(scopeJSON *string) EvidenceScope {
	empty := EvidenceScope{Facilities: []string{}, Lanes: []string{}, Shipments: []string{}}
	if scopeJSON == nil || *scopeJSON == "" {
		return empty
	}
	var raw struct {
		Facilities []string `json:"facilities"`
		Lanes      []string `json:"lanes"`
		Shipments  []string `json:"shipments"`
	}
	if err := json.Unmarshal([]byte(*scopeJSON), &raw); err != nil {
		return empty
	}
	return EvidenceScope{
		Facilities: orStrings(raw.Facilities),
		Lanes:      orStrings(raw.Lanes),
		Shipments:  orStrings(raw.Shipments),
	}
}

func orStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func sortedIntersection(a, b []string) []string {
	set := map[string]struct{}{}
	for _, v := range a {
		set[v] = struct{}{}
	}
	shared := []string{}
	seen := map[string]struct{}{}
	for _, v := range b {
		if _, ok := set[v]; ok {
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				shared = append(shared, v)
			}
		}
	}
	sort.Strings(shared)
	return shared
}

func buildMergeReasons(correlationKey string, incoming, existing EvidenceScope, lastSeenUTC, generatedAtUTC string, windowHours int) ([]MergeReason, []string, map[string][]string) {
	sharedFacilities := sortedIntersection(incoming.Facilities, existing.Facilities)
	sharedLanes := sortedIntersection(incoming.Lanes, existing.Lanes)
	overlap := map[string][]string{"facilities": sharedFacilities, "lanes": sharedLanes}

	var reasons []MergeReason
	var summary []string

	reasons = append(reasons, MergeReason{
		Code:    "CORRELATION_KEY_MATCH",
		Message: "Correlation key matched existing alert",
		Matched: true,
		Details: map[string]any{"correlation_key": correlationKey},
	})
	summary = append(summary, "Correlation key matched existing alert")

	temporalMatched := false
	if lastSeenUTC != "" {
		lastSeen, errA := timeutil.ParseZ(lastSeenUTC)
		generated, errB := timeutil.ParseZ(generatedAtUTC)
		if errA == nil && errB == nil {
			deltaHours := generated.Sub(lastSeen).Hours()
			temporalMatched = deltaHours <= float64(windowHours)
		}
	}
	temporalMsg := fmt.Sprintf("Existing alert seen within %dh window", windowHours)
	reasons = append(reasons, MergeReason{
		Code:    "TEMPORAL_OVERLAP",
		Message: temporalMsg,
		Matched: temporalMatched,
		Details: map[string]any{"existing_last_seen_utc": lastSeenUTC, "window_hours": windowHours},
	})
	if temporalMatched {
		summary = append(summary, temporalMsg)
	}

	facilityMsg := "No shared facilities"
	if len(sharedFacilities) > 0 {
		facilityMsg = "Shared facilities: " + strings.Join(sharedFacilities, ", ")
		summary = append(summary, facilityMsg)
	}
	reasons = append(reasons, MergeReason{
		Code:    "SHARED_FACILITIES",
		Message: facilityMsg,
		Matched: len(sharedFacilities) > 0,
		Details: map[string]any{"shared": sharedFacilities},
	})

	laneMsg := "No shared lanes"
	if len(sharedLanes) > 0 {
		laneMsg = "Shared lanes: " + strings.Join(sharedLanes, ", ")
		summary = append(summary, laneMsg)
	}
	reasons = append(reasons, MergeReason{
		Code:    "SHARED_LANES",
		Message: laneMsg,
		Matched: len(sharedLanes) > 0,
		Details: map[string]any{"shared": sharedLanes},
	})

	return reasons, summary, overlap
}

// EvidenceParams shape one IncidentEvidence emission.
type EvidenceParams struct {
	AlertID          string
	Event            *normalize.Event
	CorrelationKey   string
	ExistingAlert    *models.Alert
	WindowHours      int
	DestDir          string
	GeneratedAt      string
	FilenameBasename string
}

// BuildIncidentEvidence builds, hashes, and persists an IncidentEvidence
// artifact explaining an alert merge. Returns the artifact, the RunRecord
// reference to it, and the written path.
func BuildIncidentEvidence(p EvidenceParams) (*IncidentEvidence, *ArtifactRef, string, error) {
	destDir := p.DestDir
	if destDir == "" {
		destDir = filepath.Join("output", "incidents")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("create incidents dir: %w", err)
	}

	generatedAt := p.GeneratedAt
	if generatedAt == "" {
		generatedAt = p.Event.EventTimeUTC
	}
	if generatedAt == "" {
		generatedAt = timeutil.UTCNowZ()
	}
	if strings.HasSuffix(generatedAt, "+00:00") {
		generatedAt = strings.TrimSuffix(generatedAt, "+00:00") + "Z"
	}

	existingScope := parseScope(p.ExistingAlert.ScopeJSON)
	incomingScope := EvidenceScope{
		Facilities: orStrings(p.Event.Facilities),
		Lanes:      orStrings(p.Event.Lanes),
		Shipments:  orStrings(p.Event.Shipments),
	}

	existingRootIDs := store.LoadRootEventIDs(p.ExistingAlert)
	if existingRootIDs == nil {
		existingRootIDs = []string{}
	}

	reasons, summary, overlap := buildMergeReasons(
		p.CorrelationKey, incomingScope, existingScope,
		p.ExistingAlert.LastSeenUTC, generatedAt, p.WindowHours)

	artifact := &IncidentEvidence{
		ArtifactVersion: EvidenceVersion,
		Kind:            "IncidentEvidence",
		CorrelationKey:  p.CorrelationKey,
		GeneratedAtUTC:  generatedAt,
		Inputs: map[string]any{
			"alert_id": p.AlertID,
			"event": map[string]any{
				"event_id":        p.Event.EventID,
				"event_type":      p.Event.EventType,
				"observed_at_utc": generatedAt,
				"title":           p.Event.Title,
			},
			"existing_alert": map[string]any{
				"alert_id":       p.ExistingAlert.AlertID,
				"last_seen_utc":  p.ExistingAlert.LastSeenUTC,
				"root_event_ids": existingRootIDs,
			},
		},
		MergeReasons: reasons,
		MergeSummary: summary,
		Overlap:      overlap,
		Scope: map[string]EvidenceScope{
			"existing": existingScope,
			"incoming": incomingScope,
		},
		WindowHours: p.WindowHours,
	}

	hash, err := hashEvidence(artifact)
	if err != nil {
		return nil, nil, "", err
	}
	artifact.ArtifactHash = hash

	payload, err := CanonicalJSON(artifact)
	if err != nil {
		return nil, nil, "", err
	}

	filename := p.FilenameBasename
	if filename == "" {
		filename = fmt.Sprintf("%s__%s__%s",
			p.AlertID, p.Event.EventID, strings.ReplaceAll(p.CorrelationKey, "|", "_"))
	}
	path := filepath.Join(destDir, filename+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, nil, "", fmt.Errorf("write incident evidence: %w", err)
	}

	ref := &ArtifactRef{
		ID:     "incident-evidence:" + p.AlertID,
		Hash:   hash,
		Kind:   "IncidentEvidence",
		Schema: "incident-evidence/v1",
		Bytes:  len(payload),
	}
	return artifact, ref, path, nil
}

// hashEvidence hashes the artifact body without its artifact_hash field.
func hashEvidence(artifact *IncidentEvidence) (string, error) {
	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", fmt.Errorf("normalize evidence: %w", err)
	}
	delete(generic, "artifact_hash")
	return ArtifactHash(generic)
}

// LoadIncidentEvidence returns the latest evidence document for an alert
// and correlation key, or nil when none exists. The stored hash is kept;
// a missing hash is recomputed.
func LoadIncidentEvidence(alertID, correlationKey, destDir string) (map[string]any, string, error) {
	if destDir == "" {
		destDir = filepath.Join("output", "incidents")
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read incidents dir: %w", err)
	}

	type candidate struct {
		generatedAt string
		path        string
		payload     map[string]any
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(destDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		inputs, _ := payload["inputs"].(map[string]any)
		if inputs == nil || inputs["alert_id"] != alertID {
			continue
		}
		if payload["correlation_key"] != correlationKey {
			continue
		}
		generatedAt, _ := payload["generated_at_utc"].(string)
		candidates = append(candidates, candidate{generatedAt, path, payload})
	}
	if len(candidates) == 0 {
		return nil, "", nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].generatedAt > candidates[j].generatedAt
	})
	latest := candidates[0]

	if hash, _ := latest.payload["artifact_hash"].(string); hash == "" {
		body := map[string]any{}
		for k, v := range latest.payload {
			if k != "artifact_hash" {
				body[k] = v
			}
		}
		recomputed, err := ArtifactHash(body)
		if err != nil {
			return nil, "", err
		}
		latest.payload["artifact_hash"] = recomputed
	}
	return latest.payload, latest.path, nil
}
