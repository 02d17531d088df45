// Package store persists raw items, events, alerts, source runs, and the
// reference network in a local SQLite database.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store wraps the SQLite connection.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// New opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for tests.
func New(path string, logger *logrus.Logger) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS raw_items (
		raw_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		trust_tier INTEGER NOT NULL DEFAULT 2,
		fetched_at_utc TEXT NOT NULL,
		published_at_utc TEXT,
		canonical_id TEXT,
		url TEXT,
		title TEXT,
		payload_json TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NEW',
		error TEXT,
		suppression_status TEXT,
		suppression_primary_rule_id TEXT,
		suppression_rule_ids_json TEXT,
		suppressed_at_utc TEXT,
		suppression_stage TEXT,
		suppression_reason_code TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_raw_items_source ON raw_items(source_id);
	CREATE INDEX IF NOT EXISTS idx_raw_items_canonical ON raw_items(source_id, canonical_id);
	CREATE INDEX IF NOT EXISTS idx_raw_items_hash ON raw_items(source_id, content_hash);
	CREATE INDEX IF NOT EXISTS idx_raw_items_status ON raw_items(status, fetched_at_utc);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_name TEXT,
		source_id TEXT,
		raw_id TEXT,
		title TEXT,
		raw_text TEXT,
		event_type TEXT,
		event_time_utc TEXT,
		severity_guess INTEGER NOT NULL DEFAULT 1,
		city TEXT,
		state TEXT,
		country TEXT,
		location_hint TEXT,
		entities_json TEXT,
		event_payload_json TEXT,
		trust_tier INTEGER,
		suppression_primary_rule_id TEXT,
		suppression_rule_ids_json TEXT,
		suppressed_at_utc TEXT,
		suppression_reason_code TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_id);
	CREATE INDEX IF NOT EXISTS idx_events_raw ON events(raw_id);

	CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		classification INTEGER NOT NULL,
		status TEXT NOT NULL,
		risk_type TEXT NOT NULL,
		summary TEXT NOT NULL,
		root_event_id TEXT NOT NULL,
		root_event_ids_json TEXT,
		correlation_key TEXT,
		correlation_action TEXT,
		first_seen_utc TEXT NOT NULL,
		last_seen_utc TEXT NOT NULL,
		update_count INTEGER NOT NULL DEFAULT 0,
		impact_score INTEGER,
		scope_json TEXT,
		tier TEXT,
		source_id TEXT,
		trust_tier INTEGER,
		reasoning TEXT,
		recommended_actions TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_correlation ON alerts(correlation_key);
	CREATE INDEX IF NOT EXISTS idx_alerts_seen ON alerts(last_seen_utc);

	CREATE TABLE IF NOT EXISTS source_runs (
		run_id TEXT PRIMARY KEY,
		run_group_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		run_at_utc TEXT NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER,
		error TEXT,
		duration_seconds REAL,
		items_fetched INTEGER NOT NULL DEFAULT 0,
		items_new INTEGER NOT NULL DEFAULT 0,
		items_processed INTEGER NOT NULL DEFAULT 0,
		items_suppressed INTEGER NOT NULL DEFAULT 0,
		items_events_created INTEGER NOT NULL DEFAULT 0,
		items_alerts_touched INTEGER NOT NULL DEFAULT 0,
		diagnostics_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_source_runs_group ON source_runs(run_group_id);
	CREATE INDEX IF NOT EXISTS idx_source_runs_source_run_at ON source_runs(source_id, run_at_utc);

	CREATE TABLE IF NOT EXISTS facilities (
		facility_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		city TEXT,
		state TEXT,
		country TEXT,
		lat REAL,
		lon REAL,
		criticality_score REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS lanes (
		lane_id TEXT PRIMARY KEY,
		origin_facility_id TEXT NOT NULL,
		dest_facility_id TEXT NOT NULL,
		mode TEXT,
		carrier_name TEXT,
		avg_transit_days REAL NOT NULL DEFAULT 0,
		volume_score REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS shipments (
		shipment_id TEXT PRIMARY KEY,
		order_id TEXT,
		lane_id TEXT NOT NULL,
		sku_id TEXT,
		qty INTEGER NOT NULL DEFAULT 0,
		status TEXT,
		ship_date TEXT,
		eta_date TEXT,
		customer_name TEXT,
		priority_flag INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_shipments_lane ON shipments(lane_id);
	`
	_, err := s.db.Exec(schema)
	return err
}
