// Package artifacts emits the deterministic operational artifacts:
// RunRecords, IncidentEvidence documents, and source-run digests. Every
// hash is SHA-256 over canonical JSON so independent runs over the same
// inputs produce byte-identical artifacts.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v as compact JSON with sorted object keys. The
// value is round-tripped through generic containers so struct field order
// never leaks into the output.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("canonical round-trip: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// ArtifactHash returns the hex SHA-256 of v's canonical JSON.
func ArtifactHash(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintConfig hashes a config snapshot. A nil snapshot fingerprints
// the empty object so the hash is always present.
func FingerprintConfig(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return ArtifactHash(snapshot)
}

// PruneNil removes nil values from maps recursively. Lists keep their
// length; only object members disappear.
func PruneNil(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[k] = PruneNil(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = PruneNil(item)
		}
		return out
	}
	return v
}
