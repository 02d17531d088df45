package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// LoadRootEventIDs decodes the alert's contributing event ids.
func LoadRootEventIDs(alert *models.Alert) []string {
	if alert.RootEventIDsJSON == nil || *alert.RootEventIDsJSON == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(*alert.RootEventIDsJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetRootEventIDs stores the ids sorted and deduplicated.
func SetRootEventIDs(alert *models.Alert, eventIDs []string) {
	seen := map[string]struct{}{}
	var unique []string
	for _, id := range eventIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)
	data, _ := json.Marshal(unique)
	alert.RootEventIDsJSON = models.StrPtr(string(data))
}

// FindRecentAlertByKey returns the most recent alert carrying the
// correlation key whose last_seen_utc falls within the window. Stored
// timestamps compare lexicographically against the cutoff.
func (s *Store) FindRecentAlertByKey(correlationKey string, withinDays int, now time.Time) (*models.Alert, error) {
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := timeutil.CutoffZ(now, time.Duration(withinDays)*24*time.Hour)

	var alert models.Alert
	err := s.db.Get(&alert, `
		SELECT * FROM alerts
		WHERE correlation_key = ? AND last_seen_utc >= ?
		ORDER BY last_seen_utc DESC
		LIMIT 1`,
		correlationKey, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find alert by correlation key: %w", err)
	}
	return &alert, nil
}

// InsertAlert writes a freshly built alert row.
func (s *Store) InsertAlert(alert *models.Alert) error {
	_, err := s.db.NamedExec(`
		INSERT INTO alerts (
			alert_id, classification, status, risk_type, summary, root_event_id,
			root_event_ids_json, correlation_key, correlation_action,
			first_seen_utc, last_seen_utc, update_count, impact_score, scope_json,
			tier, source_id, trust_tier, reasoning, recommended_actions
		) VALUES (
			:alert_id, :classification, :status, :risk_type, :summary, :root_event_id,
			:root_event_ids_json, :correlation_key, :correlation_action,
			:first_seen_utc, :last_seen_utc, :update_count, :impact_score, :scope_json,
			:tier, :source_id, :trust_tier, :reasoning, :recommended_actions
		)`, alert)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// UpdateAlert persists changes to an existing alert row.
func (s *Store) UpdateAlert(alert *models.Alert) error {
	_, err := s.db.NamedExec(`
		UPDATE alerts SET
			classification = :classification,
			status = :status,
			summary = :summary,
			root_event_ids_json = :root_event_ids_json,
			correlation_action = :correlation_action,
			last_seen_utc = :last_seen_utc,
			update_count = :update_count,
			impact_score = :impact_score,
			scope_json = :scope_json,
			tier = :tier,
			source_id = :source_id,
			trust_tier = :trust_tier,
			reasoning = :reasoning,
			recommended_actions = :recommended_actions
		WHERE alert_id = :alert_id`, alert)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

// FindAlertByID returns the alert with the given id, or nil.
func (s *Store) FindAlertByID(alertID string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.Get(&alert, `SELECT * FROM alerts WHERE alert_id = ?`, alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find alert: %w", err)
	}
	return &alert, nil
}

// RecentAlertsQuery selects alerts touched within a window.
type RecentAlertsQuery struct {
	SinceHours    int
	IncludeClass0 bool
	Limit         int
	Now           time.Time
}

// QueryRecentAlerts returns alerts created or updated within the window,
// ordered classification DESC, impact DESC, update count DESC,
// last seen DESC.
func (s *Store) QueryRecentAlerts(q RecentAlertsQuery) ([]models.Alert, error) {
	if q.SinceHours <= 0 {
		q.SinceHours = 24
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := timeutil.CutoffZ(now, time.Duration(q.SinceHours)*time.Hour)

	query := `
		SELECT * FROM alerts
		WHERE (last_seen_utc >= ? OR first_seen_utc >= ?)`
	args := []any{cutoff, cutoff}
	if !q.IncludeClass0 {
		query += ` AND classification > 0`
	}
	query += `
		ORDER BY classification DESC,
			impact_score DESC,
			update_count DESC,
			last_seen_utc DESC
		LIMIT ?`
	args = append(args, q.Limit)

	var alerts []models.Alert
	if err := s.db.Select(&alerts, query, args...); err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	return alerts, nil
}

// AlertFilters narrows an alert export. A nil Classification means any;
// empty strings mean no filter.
type AlertFilters struct {
	SinceHours     int
	Classification *int
	Tier           string
	SourceID       string
	Limit          int
	Now            time.Time
}

// QueryAlerts returns alerts touched within the window, filtered for
// export. Ordering matches QueryRecentAlerts.
func (s *Store) QueryAlerts(f AlertFilters) ([]models.Alert, error) {
	if f.SinceHours <= 0 {
		f.SinceHours = 24
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	now := f.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := timeutil.CutoffZ(now, time.Duration(f.SinceHours)*time.Hour)

	query := `
		SELECT * FROM alerts
		WHERE (last_seen_utc >= ? OR first_seen_utc >= ?)`
	args := []any{cutoff, cutoff}
	if f.Classification != nil {
		query += ` AND classification = ?`
		args = append(args, *f.Classification)
	}
	if f.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, f.Tier)
	}
	if f.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, f.SourceID)
	}
	query += `
		ORDER BY classification DESC,
			impact_score DESC,
			update_count DESC,
			last_seen_utc DESC
		LIMIT ?`
	args = append(args, f.Limit)

	var alerts []models.Alert
	if err := s.db.Select(&alerts, query, args...); err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	return alerts, nil
}
