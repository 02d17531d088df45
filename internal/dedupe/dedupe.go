// Package dedupe computes the stable content hash used to deduplicate raw
// items within a source.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Candidate is the subset of a fetched item that participates in
// deduplication. Volatile fields such as fetch timestamps stay out of the
// hash.
type Candidate struct {
	CanonicalID string
	Title       string
	URL         string
	Payload     map[string]any
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ContentHash returns the SHA-256 hex digest of the candidate's stable
// fields, serialized as canonical JSON (sorted keys).
func ContentHash(c Candidate) string {
	stable := map[string]any{
		"canonical_id": strOrNil(c.CanonicalID),
		"title":        strOrNil(c.Title),
		"url":          strOrNil(c.URL),
	}
	if len(c.Payload) > 0 {
		stable["payload_content"] = map[string]any{
			"title":       c.Payload["title"],
			"summary":     c.Payload["summary"],
			"description": c.Payload["description"],
			"content":     c.Payload["content"],
		}
	}
	// encoding/json sorts map keys, which is all the canonicalization the
	// hash needs.
	data, _ := json.Marshal(stable)
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// IsDuplicate checks a candidate against the ids and hashes already stored
// for its source. Canonical id wins; the content hash is the fallback.
func IsDuplicate(c Candidate, existingCanonicalIDs, existingContentHashes map[string]struct{}) bool {
	if c.CanonicalID != "" {
		if _, ok := existingCanonicalIDs[c.CanonicalID]; ok {
			return true
		}
	}
	_, ok := existingContentHashes[ContentHash(c)]
	return ok
}
