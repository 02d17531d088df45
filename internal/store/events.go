package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hardstop-io/hardstop/internal/models"
)

// SaveEvent inserts the event unless a row with the same id already exists.
// Returns whether a row was written.
func (s *Store) SaveEvent(event *models.Event) (bool, error) {
	if event.EventID == "" {
		return false, fmt.Errorf("event must have event_id")
	}
	existing, err := s.GetEvent(event.EventID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		s.logger.WithField("event_id", event.EventID).Debug("event already exists")
		return false, nil
	}
	if event.SourceType == "" {
		event.SourceType = "UNKNOWN"
	}
	_, err = s.db.NamedExec(`
		INSERT INTO events (
			event_id, source_type, source_name, source_id, raw_id, title, raw_text,
			event_type, event_time_utc, severity_guess, city, state, country,
			location_hint, entities_json, event_payload_json, trust_tier,
			suppression_primary_rule_id, suppression_rule_ids_json,
			suppressed_at_utc, suppression_reason_code
		) VALUES (
			:event_id, :source_type, :source_name, :source_id, :raw_id, :title, :raw_text,
			:event_type, :event_time_utc, :severity_guess, :city, :state, :country,
			:location_hint, :entities_json, :event_payload_json, :trust_tier,
			:suppression_primary_rule_id, :suppression_rule_ids_json,
			:suppressed_at_utc, :suppression_reason_code
		)`, event)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return true, nil
}

// GetEvent returns the event with the given id, or nil.
func (s *Store) GetEvent(eventID string) (*models.Event, error) {
	var event models.Event
	err := s.db.Get(&event, `SELECT * FROM events WHERE event_id = ?`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &event, nil
}

// EventsBySource returns events for a source, newest event time first.
func (s *Store) EventsBySource(sourceID string, limit int) ([]models.Event, error) {
	query := `SELECT * FROM events WHERE source_id = ? ORDER BY event_time_utc DESC`
	args := []any{sourceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var events []models.Event
	if err := s.db.Select(&events, query, args...); err != nil {
		return nil, fmt.Errorf("query events by source: %w", err)
	}
	return events, nil
}
