package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// ArtifactRef points a RunRecord at one input or output artifact.
type ArtifactRef struct {
	ID     string `json:"id"`
	Hash   string `json:"hash"`
	Kind   string `json:"kind"`
	Schema string `json:"schema,omitempty"`
	Bytes  int    `json:"bytes,omitempty"`
}

// Diagnostic is one warning or error carried by a RunRecord.
type Diagnostic struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// RunRecord is the per-operator execution record.
type RunRecord struct {
	RunID      string         `json:"run_id"`
	OperatorID string         `json:"operator_id"`
	Mode       string         `json:"mode"`
	StartedAt  string         `json:"started_at"`
	EndedAt    string         `json:"ended_at"`
	ConfigHash string         `json:"config_hash"`
	InputRefs  []ArtifactRef  `json:"input_refs"`
	OutputRefs []ArtifactRef  `json:"output_refs"`
	Warnings   []Diagnostic   `json:"warnings"`
	Errors     []Diagnostic   `json:"errors"`
	Cost       map[string]int `json:"cost"`
	BestEffort map[string]any `json:"best_effort"`
}

// TimeCanonicalizer normalizes RunRecord timestamps for deterministic runs.
type TimeCanonicalizer func(string) string

// CanonicalizeTimeFixed always returns the pinned value.
func CanonicalizeTimeFixed(fixed string) TimeCanonicalizer {
	return func(string) string { return fixed }
}

// CanonicalizeTimePrecision truncates the microsecond field to the given
// number of digits (0 keeps seconds only). Out-of-range precision or an
// unparseable timestamp passes through unchanged.
func CanonicalizeTimePrecision(precision int) TimeCanonicalizer {
	return func(ts string) string {
		if precision < 0 || precision > 6 {
			return ts
		}
		t, err := timeutil.ParseZ(ts)
		if err != nil {
			return ts
		}
		microFactor := 1
		for i := 0; i < 6-precision; i++ {
			microFactor *= 10
		}
		micro := (t.Nanosecond() / 1000 / microFactor) * microFactor
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), micro*1000, time.UTC)
		return timeutil.ToUTCZ(t)
	}
}

// EmitParams shape one RunRecord emission.
type EmitParams struct {
	OperatorID       string
	Mode             string
	RunID            string
	ConfigSnapshot   map[string]any
	StartedAt        string
	EndedAt          string
	CanonicalizeTime TimeCanonicalizer
	InputRefs        []ArtifactRef
	OutputRefs       []ArtifactRef
	Warnings         []Diagnostic
	Errors           []Diagnostic
	Cost             map[string]int
	BestEffort       map[string]any
	DestDir          string
	FilenameBasename string
}

func applyCanonicalize(ts string, fn TimeCanonicalizer) string {
	if fn != nil {
		return fn(ts)
	}
	return ts
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// EmitRunRecord builds a RunRecord and writes it as indented, key-sorted
// JSON with nil members pruned. Returns the record and the written path.
func EmitRunRecord(p EmitParams) (*RunRecord, string, error) {
	startedAt := p.StartedAt
	if startedAt == "" {
		startedAt = timeutil.UTCNowZ()
	}
	endedAt := p.EndedAt
	if endedAt == "" {
		endedAt = timeutil.UTCNowZ()
	}
	startedAt = applyCanonicalize(startedAt, p.CanonicalizeTime)
	endedAt = applyCanonicalize(endedAt, p.CanonicalizeTime)

	configHash, err := FingerprintConfig(p.ConfigSnapshot)
	if err != nil {
		return nil, "", err
	}

	record := &RunRecord{
		RunID:      p.RunID,
		OperatorID: p.OperatorID,
		Mode:       p.Mode,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		ConfigHash: configHash,
		InputRefs:  orEmpty(p.InputRefs),
		OutputRefs: orEmpty(p.OutputRefs),
		Warnings:   orEmpty(p.Warnings),
		Errors:     orEmpty(p.Errors),
		Cost:       p.Cost,
		BestEffort: p.BestEffort,
	}
	if record.RunID == "" {
		record.RunID = uuid.NewString()
	}
	if record.Cost == nil {
		record.Cost = map[string]int{}
	}
	if record.BestEffort == nil {
		record.BestEffort = map[string]any{}
	}

	destDir := p.DestDir
	if destDir == "" {
		destDir = "run_records"
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create run records dir: %w", err)
	}

	filename := p.FilenameBasename
	if filename == "" {
		ts := strings.NewReplacer(":", "", "-", "", "T", "_").Replace(record.StartedAt)
		filename = ts + "_" + record.RunID
	}
	path := filepath.Join(destDir, filename+".json")

	data, err := json.Marshal(record)
	if err != nil {
		return nil, "", fmt.Errorf("marshal run record: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, "", fmt.Errorf("normalize run record: %w", err)
	}
	pretty, err := json.MarshalIndent(PruneNil(generic), "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("render run record: %w", err)
	}
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return nil, "", fmt.Errorf("write run record: %w", err)
	}
	return record, path, nil
}
