package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hardstop-io/hardstop/internal/ids"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// RawItemParams describes a fetched candidate headed for raw_items.
type RawItemParams struct {
	SourceID       string
	Tier           string
	TrustTier      int
	FetchedAtUTC   string
	PublishedAtUTC string
	CanonicalID    string
	URL            string
	Title          string
	PayloadJSON    string
	ContentHash    string
}

// SaveRawItem stores a candidate with per-source deduplication: first by
// canonical id, then by content hash. A duplicate refreshes fetched_at_utc
// and keeps its status. Returns the row and whether it is new.
func (s *Store) SaveRawItem(p RawItemParams) (*models.RawItem, bool, error) {
	if p.FetchedAtUTC == "" {
		p.FetchedAtUTC = timeutil.UTCNowZ()
	}

	var existing models.RawItem
	found := false
	if p.CanonicalID != "" {
		err := s.db.Get(&existing,
			`SELECT * FROM raw_items WHERE source_id = ? AND canonical_id = ? LIMIT 1`,
			p.SourceID, p.CanonicalID)
		if err == nil {
			found = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("lookup raw item by canonical id: %w", err)
		}
	}
	if !found && p.ContentHash != "" {
		err := s.db.Get(&existing,
			`SELECT * FROM raw_items WHERE source_id = ? AND content_hash = ? LIMIT 1`,
			p.SourceID, p.ContentHash)
		if err == nil {
			found = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("lookup raw item by content hash: %w", err)
		}
	}

	if found {
		if _, err := s.db.Exec(`UPDATE raw_items SET fetched_at_utc = ? WHERE raw_id = ?`,
			p.FetchedAtUTC, existing.RawID); err != nil {
			return nil, false, fmt.Errorf("refresh raw item: %w", err)
		}
		existing.FetchedAtUTC = p.FetchedAtUTC
		s.logger.WithField("raw_id", existing.RawID).Debug("raw item already exists (dedupe)")
		return &existing, false, nil
	}

	item := &models.RawItem{
		RawID:          ids.NewRawID(),
		SourceID:       p.SourceID,
		Tier:           p.Tier,
		TrustTier:      p.TrustTier,
		FetchedAtUTC:   p.FetchedAtUTC,
		PublishedAtUTC: models.StrPtr(p.PublishedAtUTC),
		CanonicalID:    models.StrPtr(p.CanonicalID),
		URL:            models.StrPtr(p.URL),
		Title:          models.StrPtr(p.Title),
		PayloadJSON:    p.PayloadJSON,
		ContentHash:    p.ContentHash,
		Status:         models.RawStatusNew,
	}
	_, err := s.db.NamedExec(`
		INSERT INTO raw_items (
			raw_id, source_id, tier, trust_tier, fetched_at_utc, published_at_utc,
			canonical_id, url, title, payload_json, content_hash, status
		) VALUES (
			:raw_id, :source_id, :tier, :trust_tier, :fetched_at_utc, :published_at_utc,
			:canonical_id, :url, :title, :payload_json, :content_hash, :status
		)`, item)
	if err != nil {
		return nil, false, fmt.Errorf("insert raw item: %w", err)
	}
	s.logger.WithFields(map[string]any{"raw_id": item.RawID, "source_id": p.SourceID}).
		Debug("created raw item")
	return item, true, nil
}

var tierPriority = map[string]int{
	models.TierGlobal:   3,
	models.TierRegional: 2,
	models.TierLocal:    1,
}

// IngestQuery selects NEW raw items for ingestion.
type IngestQuery struct {
	Limit             int
	MinTier           string
	SourceID          string
	SinceHours        int
	IncludeSuppressed bool
	Now               time.Time
}

// RawItemsForIngest returns NEW items ordered oldest-first. Suppressed
// items are excluded unless asked for. The time window checks both
// fetched_at_utc and, when present, published_at_utc.
func (s *Store) RawItemsForIngest(q IngestQuery) ([]models.RawItem, error) {
	query := `SELECT * FROM raw_items WHERE status = 'NEW'`
	var args []any

	if !q.IncludeSuppressed {
		query += ` AND (suppression_status IS NULL OR suppression_status != 'SUPPRESSED')`
	}
	if q.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, q.SourceID)
	}
	if q.MinTier != "" {
		minPriority := tierPriority[q.MinTier]
		for tier, priority := range tierPriority {
			if priority < minPriority {
				query += ` AND tier != ?`
				args = append(args, tier)
			}
		}
	}
	if q.SinceHours > 0 {
		now := q.Now
		if now.IsZero() {
			now = time.Now()
		}
		cutoff := timeutil.CutoffZ(now, time.Duration(q.SinceHours)*time.Hour)
		query += ` AND fetched_at_utc >= ? AND (published_at_utc IS NULL OR published_at_utc >= ?)`
		args = append(args, cutoff, cutoff)
	}

	query += ` ORDER BY fetched_at_utc ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var items []models.RawItem
	if err := s.db.Select(&items, query, args...); err != nil {
		return nil, fmt.Errorf("query raw items for ingest: %w", err)
	}
	return items, nil
}

// GetRawItem returns the row with the given id, or nil.
func (s *Store) GetRawItem(rawID string) (*models.RawItem, error) {
	var item models.RawItem
	err := s.db.Get(&item, `SELECT * FROM raw_items WHERE raw_id = ?`, rawID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get raw item: %w", err)
	}
	return &item, nil
}

// MarkRawItemStatus moves a raw item to NORMALIZED or FAILED.
func (s *Store) MarkRawItemStatus(rawID, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE raw_items SET status = ?, error = COALESCE(NULLIF(?, ''), error) WHERE raw_id = ?`,
		status, errMsg, rawID)
	if err != nil {
		return fmt.Errorf("mark raw item status: %w", err)
	}
	return nil
}

// MarkRawItemSuppressed records the suppression decision on the raw item.
func (s *Store) MarkRawItemSuppressed(rawID, primaryRuleID string, matchedRuleIDs []string, suppressedAtUTC, stage, reasonCode string) error {
	ruleIDs, _ := json.Marshal(matchedRuleIDs)
	_, err := s.db.Exec(`
		UPDATE raw_items SET
			suppression_status = 'SUPPRESSED',
			suppression_primary_rule_id = ?,
			suppression_rule_ids_json = ?,
			suppressed_at_utc = ?,
			suppression_stage = ?,
			suppression_reason_code = NULLIF(?, '')
		WHERE raw_id = ?`,
		primaryRuleID, string(ruleIDs), suppressedAtUTC, stage, reasonCode, rawID)
	if err != nil {
		return fmt.Errorf("mark raw item suppressed: %w", err)
	}
	return nil
}

// QuerySuppressedItems returns every raw item suppressed within the
// window, newest first.
func (s *Store) QuerySuppressedItems(sinceHours int, now time.Time) ([]models.RawItem, error) {
	if sinceHours <= 0 {
		sinceHours = 24
	}
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := timeutil.CutoffZ(now, time.Duration(sinceHours)*time.Hour)

	var items []models.RawItem
	err := s.db.Select(&items, `
		SELECT * FROM raw_items
		WHERE suppression_status = 'SUPPRESSED' AND suppressed_at_utc >= ?
		ORDER BY suppressed_at_utc DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query suppressed items: %w", err)
	}
	return items, nil
}

// SuppressionSample is one example item inside a reason bucket.
type SuppressionSample struct {
	RawID           string  `json:"raw_id"`
	Title           *string `json:"title"`
	SuppressedAtUTC *string `json:"suppressed_at_utc"`
}

// SuppressionReason aggregates suppressed items sharing a reason code.
type SuppressionReason struct {
	ReasonCode string              `json:"reason_code"`
	Count      int                 `json:"count"`
	RuleIDs    []string            `json:"rule_ids"`
	Samples    []SuppressionSample `json:"samples"`
}

// SuppressionSummary rolls up a source's recent suppressions.
type SuppressionSummary struct {
	Total   int                 `json:"total"`
	Reasons []SuppressionReason `json:"reasons"`
}

// SummarizeSuppressionReasons buckets a source's suppressed items by reason
// code within the window, most frequent first, keeping a few samples each.
func (s *Store) SummarizeSuppressionReasons(sourceID string, sinceHours, sampleSize, limit int, now time.Time) (*SuppressionSummary, error) {
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := timeutil.CutoffZ(now, time.Duration(sinceHours)*time.Hour)

	var rows []models.RawItem
	err := s.db.Select(&rows, `
		SELECT * FROM raw_items
		WHERE source_id = ? AND suppression_status = 'SUPPRESSED' AND suppressed_at_utc >= ?
		ORDER BY suppressed_at_utc DESC`,
		sourceID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query suppressed items: %w", err)
	}

	type bucket struct {
		count   int
		ruleIDs map[string]struct{}
		samples []SuppressionSample
	}
	buckets := map[string]*bucket{}
	var order []string
	for _, row := range rows {
		reason := "unknown"
		if row.SuppressionReasonCode != nil && *row.SuppressionReasonCode != "" {
			reason = *row.SuppressionReasonCode
		} else if row.SuppressionPrimaryRuleID != nil && *row.SuppressionPrimaryRuleID != "" {
			reason = *row.SuppressionPrimaryRuleID
		}
		b, ok := buckets[reason]
		if !ok {
			b = &bucket{ruleIDs: map[string]struct{}{}}
			buckets[reason] = b
			order = append(order, reason)
		}
		b.count++
		if row.SuppressionPrimaryRuleID != nil && *row.SuppressionPrimaryRuleID != "" {
			b.ruleIDs[*row.SuppressionPrimaryRuleID] = struct{}{}
		}
		if len(b.samples) < sampleSize {
			b.samples = append(b.samples, SuppressionSample{
				RawID:           row.RawID,
				Title:           row.Title,
				SuppressedAtUTC: row.SuppressedAtUTC,
			})
		}
	}

	summary := &SuppressionSummary{Total: len(rows)}
	for _, reason := range order {
		b := buckets[reason]
		ruleIDs := make([]string, 0, len(b.ruleIDs))
		for id := range b.ruleIDs {
			ruleIDs = append(ruleIDs, id)
		}
		sortStrings(ruleIDs)
		summary.Reasons = append(summary.Reasons, SuppressionReason{
			ReasonCode: reason,
			Count:      b.count,
			RuleIDs:    ruleIDs,
			Samples:    b.samples,
		})
	}
	sortReasonsByCount(summary.Reasons)
	if limit > 0 && len(summary.Reasons) > limit {
		summary.Reasons = summary.Reasons[:limit]
	}
	return summary, nil
}
