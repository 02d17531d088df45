package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
)

// ReplayOperatorID identifies the incident replay operator in RunRecords.
const ReplayOperatorID = "hardstop.incidents.replay@1.0.0"

// HashParts hashes stable string parts for lightweight artifact refs.
func HashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])
}

// RunGroupRef builds the standard RunRecord reference for a run group.
func RunGroupRef(runGroupID string) ArtifactRef {
	return ArtifactRef{
		ID:   "run-group:" + runGroupID,
		Hash: HashParts(runGroupID),
		Kind: "RunGroup",
	}
}

// LoadRunRecords reads every RunRecord JSON in the directory, sorted by
// filename. Unreadable files are skipped.
func LoadRunRecords(dir string) []map[string]any {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var records []map[string]any
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		record["_path"] = path
		records = append(records, record)
	}
	return records
}

type incidentMatch struct {
	generatedAt string
	path        string
	payload     map[string]any
}

func findIncidentArtifacts(incidentID, correlationKey, dir string) []incidentMatch {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var matches []incidentMatch
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			continue
		}
		inputs, _ := payload["inputs"].(map[string]any)
		if inputs == nil || inputs["alert_id"] != incidentID {
			continue
		}
		if correlationKey != "" && payload["correlation_key"] != correlationKey {
			continue
		}
		generatedAt, _ := payload["generated_at_utc"].(string)
		matches = append(matches, incidentMatch{generatedAt, path, payload})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].generatedAt > matches[j].generatedAt
	})
	return matches
}

// ReplayParams shape one incident replay.
type ReplayParams struct {
	IncidentID     string
	CorrelationKey string
	ArtifactsDir   string
	RunRecordsDir  string
	Strict         bool
	ConfigSnapshot map[string]any
	Logger         *logrus.Logger
}

// ReplayResult summarizes the replay outcome.
type ReplayResult struct {
	IncidentID   string   `json:"incident_id"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
	ArtifactHash string   `json:"artifact_hash,omitempty"`
	ConfigHash   string   `json:"config_hash"`
	RunRecordID  string   `json:"run_record_id,omitempty"`
	Warnings     []string `json:"warnings"`
}

// Replay loads the recorded evidence and RunRecord for an incident and
// verifies hashes and the config fingerprint. In strict mode any missing
// or mismatched artifact is an error; otherwise it becomes a warning. A
// replay RunRecord is emitted either way.
func Replay(p ReplayParams) (*ReplayResult, error) {
	artifactsDir := p.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = filepath.Join("output", "incidents")
	}
	recordsDir := p.RunRecordsDir
	if recordsDir == "" {
		recordsDir = "run_records"
	}
	mode := "best-effort"
	if p.Strict {
		mode = "strict"
	}
	startedAt := timeutil.UTCNowZ()

	configHash, err := FingerprintConfig(p.ConfigSnapshot)
	if err != nil {
		return nil, err
	}

	var warnings, errDiags []Diagnostic
	var inputRefs, outputRefs []ArtifactRef
	result := &ReplayResult{IncidentID: p.IncidentID, ConfigHash: configHash, Warnings: []string{}}

	fail := func(code, message string) error {
		diag := Diagnostic{Code: code, Message: message}
		if p.Strict {
			errDiags = append(errDiags, diag)
			return fmt.Errorf("%s", message)
		}
		warnings = append(warnings, diag)
		result.Warnings = append(result.Warnings, message)
		if p.Logger != nil {
			p.Logger.Warn(message)
		}
		return nil
	}

	replayErr := func() error {
		matches := findIncidentArtifacts(p.IncidentID, p.CorrelationKey, artifactsDir)
		if len(matches) == 0 {
			if err := fail("INCIDENT_ARTIFACT_MISSING",
				fmt.Sprintf("Incident evidence not found for %s", p.IncidentID)); err != nil {
				return err
			}
		} else {
			match := matches[0]
			body := map[string]any{}
			for k, v := range match.payload {
				if k != "artifact_hash" {
					body[k] = v
				}
			}
			expected, err := ArtifactHash(body)
			if err != nil {
				return err
			}
			stored, _ := match.payload["artifact_hash"].(string)
			if stored == "" {
				stored = expected
			}
			if stored != expected {
				if err := fail("INCIDENT_ARTIFACT_MISMATCH",
					fmt.Sprintf("Artifact hash mismatch for %s: stored=%s expected=%s",
						p.IncidentID, stored, expected)); err != nil {
					return err
				}
			}
			result.ArtifactPath = match.path
			result.ArtifactHash = stored

			payloadBytes, _ := CanonicalJSON(match.payload)
			kind, _ := match.payload["kind"].(string)
			if kind == "" {
				kind = "IncidentEvidence"
			}
			schema, _ := match.payload["artifact_version"].(string)
			ref := ArtifactRef{
				ID:     "incident:" + p.IncidentID,
				Hash:   expected,
				Kind:   kind,
				Schema: schema,
				Bytes:  len(payloadBytes),
			}
			inputRefs = append(inputRefs, ref)
			outputRefs = append(outputRefs, ref)
		}

		var matching map[string]any
		for _, record := range LoadRunRecords(recordsDir) {
			refs, _ := record["output_refs"].([]any)
			for _, r := range refs {
				ref, _ := r.(map[string]any)
				if ref == nil {
					continue
				}
				refHash, _ := ref["hash"].(string)
				refID, _ := ref["id"].(string)
				if (result.ArtifactHash != "" && refHash == result.ArtifactHash) ||
					strings.Contains(refID, p.IncidentID) {
					matching = record
					break
				}
			}
			if matching != nil {
				break
			}
		}

		if matching == nil {
			if err := fail("RUN_RECORD_MISSING",
				fmt.Sprintf("No RunRecord found for incident %s", p.IncidentID)); err != nil {
				return err
			}
		} else {
			if id, _ := matching["run_id"].(string); id != "" {
				result.RunRecordID = id
			}
			if recordHash, _ := matching["config_hash"].(string); recordHash != "" && recordHash != configHash {
				if err := fail("CONFIG_FINGERPRINT_MISMATCH",
					fmt.Sprintf("Config hash mismatch for incident %s: record=%s current=%s",
						p.IncidentID, recordHash, configHash)); err != nil {
					return err
				}
			}
		}
		return nil
	}()

	if _, _, err := EmitRunRecord(EmitParams{
		OperatorID:     ReplayOperatorID,
		Mode:           mode,
		ConfigSnapshot: p.ConfigSnapshot,
		StartedAt:      startedAt,
		EndedAt:        timeutil.UTCNowZ(),
		InputRefs:      inputRefs,
		OutputRefs:     outputRefs,
		Warnings:       warnings,
		Errors:         errDiags,
		DestDir:        recordsDir,
	}); err != nil && p.Logger != nil {
		p.Logger.WithError(err).Warn("failed to emit replay run record")
	}

	if replayErr != nil {
		return result, replayErr
	}
	return result, nil
}
