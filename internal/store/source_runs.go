package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// SourceRunParams describes one phase execution to record.
type SourceRunParams struct {
	RunGroupID         string
	SourceID           string
	Phase              string
	RunAtUTC           string
	Status             string
	StatusCode         *int
	Error              string
	DurationSeconds    *float64
	ItemsFetched       int
	ItemsNew           int
	ItemsProcessed     int
	ItemsSuppressed    int
	ItemsEventsCreated int
	ItemsAlertsTouched int
	Diagnostics        map[string]any
}

// CreateSourceRun appends one SourceRun row. Rows are never updated after
// the fact.
func (s *Store) CreateSourceRun(p SourceRunParams) (*models.SourceRun, error) {
	run := &models.SourceRun{
		RunID:              uuid.NewString(),
		RunGroupID:         p.RunGroupID,
		SourceID:           p.SourceID,
		Phase:              p.Phase,
		RunAtUTC:           p.RunAtUTC,
		Status:             p.Status,
		StatusCode:         p.StatusCode,
		Error:              models.StrPtr(p.Error),
		DurationSeconds:    p.DurationSeconds,
		ItemsFetched:       p.ItemsFetched,
		ItemsNew:           p.ItemsNew,
		ItemsProcessed:     p.ItemsProcessed,
		ItemsSuppressed:    p.ItemsSuppressed,
		ItemsEventsCreated: p.ItemsEventsCreated,
		ItemsAlertsTouched: p.ItemsAlertsTouched,
	}
	if len(p.Diagnostics) > 0 {
		data, err := json.Marshal(p.Diagnostics)
		if err != nil {
			return nil, fmt.Errorf("marshal diagnostics: %w", err)
		}
		run.DiagnosticsJSON = models.StrPtr(string(data))
	}

	_, err := s.db.NamedExec(`
		INSERT INTO source_runs (
			run_id, run_group_id, source_id, phase, run_at_utc, status,
			status_code, error, duration_seconds, items_fetched, items_new,
			items_processed, items_suppressed, items_events_created,
			items_alerts_touched, diagnostics_json
		) VALUES (
			:run_id, :run_group_id, :source_id, :phase, :run_at_utc, :status,
			:status_code, :error, :duration_seconds, :items_fetched, :items_new,
			:items_processed, :items_suppressed, :items_events_created,
			:items_alerts_touched, :diagnostics_json
		)`, run)
	if err != nil {
		return nil, fmt.Errorf("insert source run: %w", err)
	}
	s.logger.WithFields(map[string]any{
		"run_id": run.RunID, "source_id": p.SourceID,
		"phase": p.Phase, "status": p.Status,
	}).Debug("created source run")
	return run, nil
}

// SourceRunQuery filters recent source runs.
type SourceRunQuery struct {
	SourceID   string
	Phase      string
	RunGroupID string
	Limit      int
}

// ListRecentRuns returns runs newest first.
func (s *Store) ListRecentRuns(q SourceRunQuery) ([]models.SourceRun, error) {
	query := `SELECT * FROM source_runs WHERE 1=1`
	var args []any
	if q.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, q.SourceID)
	}
	if q.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, q.Phase)
	}
	if q.RunGroupID != "" {
		query += ` AND run_group_id = ?`
		args = append(args, q.RunGroupID)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY run_at_utc DESC LIMIT ?`
	args = append(args, limit)

	var runs []models.SourceRun
	if err := s.db.Select(&runs, query, args...); err != nil {
		return nil, fmt.Errorf("query source runs: %w", err)
	}
	return runs, nil
}

// KnownSourceIDs returns every source id that has at least one run.
func (s *Store) KnownSourceIDs() ([]string, error) {
	var ids []string
	if err := s.db.Select(&ids, `SELECT DISTINCT source_id FROM source_runs ORDER BY source_id`); err != nil {
		return nil, fmt.Errorf("query source ids: %w", err)
	}
	return ids, nil
}

// LastIngest summarizes the most recent INGEST run for a source.
type LastIngest struct {
	Processed               int            `json:"processed"`
	Suppressed              int            `json:"suppressed"`
	Events                  int            `json:"events"`
	Alerts                  int            `json:"alerts"`
	SuppressionReasonCounts map[string]int `json:"suppression_reason_counts"`
}

// HealthMetrics is the raw observation set the health scorer consumes.
type HealthMetrics struct {
	SourceID            string     `json:"source_id"`
	LastSuccessUTC      string     `json:"last_success_utc,omitempty"`
	LastFailureUTC      string     `json:"last_failure_utc,omitempty"`
	SuccessRate         float64    `json:"success_rate"`
	HasHistory          bool       `json:"has_history"`
	LastStatusCode      *int       `json:"last_status_code,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastItemsFetched    int        `json:"last_items_fetched"`
	LastItemsNew        int        `json:"last_items_new"`
	LastIngest          LastIngest `json:"last_ingest"`
	SuppressionRatio    *float64   `json:"suppression_ratio,omitempty"`
	StaleHours          *float64   `json:"stale_hours,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AvgBytesDownloaded  float64    `json:"avg_bytes_downloaded"`
	DedupeRate          *float64   `json:"dedupe_rate,omitempty"`
	AvgDurationSeconds  *float64   `json:"avg_duration_seconds,omitempty"`
}

func loadDiagnostics(run *models.SourceRun) map[string]any {
	if run.DiagnosticsJSON == nil || *run.DiagnosticsJSON == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*run.DiagnosticsJSON), &out); err != nil {
		return nil
	}
	return out
}

func diagNumber(diag map[string]any, key string) (float64, bool) {
	v, ok := diag[key]
	if !ok || v == nil {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

// SourceHealthMetrics gathers the last lookbackN FETCH runs plus the most
// recent INGEST run into a raw metrics snapshot.
func (s *Store) SourceHealthMetrics(sourceID string, lookbackN int, now time.Time) (*HealthMetrics, error) {
	if lookbackN <= 0 {
		lookbackN = 10
	}
	if now.IsZero() {
		now = time.Now()
	}

	fetchRuns, err := s.ListRecentRuns(SourceRunQuery{SourceID: sourceID, Phase: models.PhaseFetch, Limit: lookbackN})
	if err != nil {
		return nil, err
	}

	m := &HealthMetrics{SourceID: sourceID, HasHistory: len(fetchRuns) > 0}

	successful := 0
	var durations, dedupeRates []float64
	var bytesSamples []float64
	streakDone := false
	for _, run := range fetchRuns {
		if run.Status == models.StatusSuccess {
			successful++
		}
		diag := loadDiagnostics(&run)
		if run.DurationSeconds != nil && *run.DurationSeconds > 0 {
			durations = append(durations, *run.DurationSeconds)
		}
		if n, ok := diagNumber(diag, "bytes_downloaded"); ok {
			bytesSamples = append(bytesSamples, n)
		}
		if seen, ok := diagNumber(diag, "items_seen"); ok && seen > 0 {
			dropped, _ := diagNumber(diag, "dedupe_dropped")
			dedupeRates = append(dedupeRates, dropped/seen)
		}

		switch run.Status {
		case models.StatusSuccess:
			if m.LastSuccessUTC == "" {
				m.LastSuccessUTC = run.RunAtUTC
				if m.LastStatusCode == nil {
					m.LastStatusCode = run.StatusCode
				}
				if m.LastItemsFetched == 0 {
					m.LastItemsFetched = run.ItemsFetched
				}
				if m.LastItemsNew == 0 {
					m.LastItemsNew = run.ItemsNew
				}
			}
		case models.StatusFailure:
			if m.LastFailureUTC == "" {
				m.LastFailureUTC = run.RunAtUTC
				if m.LastStatusCode == nil {
					m.LastStatusCode = run.StatusCode
				}
				if m.LastError == "" && run.Error != nil {
					m.LastError = *run.Error
				}
			}
		}

		if !streakDone {
			if run.Status == models.StatusFailure {
				m.ConsecutiveFailures++
			} else {
				streakDone = true
			}
		}
	}
	if len(fetchRuns) > 0 {
		m.SuccessRate = float64(successful) / float64(len(fetchRuns))
		latest := fetchRuns[0]
		if m.LastStatusCode == nil {
			m.LastStatusCode = latest.StatusCode
		}
		if m.LastError == "" && latest.Error != nil {
			m.LastError = *latest.Error
		}
		if m.LastItemsFetched == 0 {
			m.LastItemsFetched = latest.ItemsFetched
		}
		if m.LastItemsNew == 0 {
			m.LastItemsNew = latest.ItemsNew
		}
	}

	ingestRuns, err := s.ListRecentRuns(SourceRunQuery{SourceID: sourceID, Phase: models.PhaseIngest, Limit: 1})
	if err != nil {
		return nil, err
	}
	m.LastIngest.SuppressionReasonCounts = map[string]int{}
	if len(ingestRuns) > 0 {
		run := ingestRuns[0]
		m.LastIngest.Processed = run.ItemsProcessed
		m.LastIngest.Suppressed = run.ItemsSuppressed
		m.LastIngest.Events = run.ItemsEventsCreated
		m.LastIngest.Alerts = run.ItemsAlertsTouched
		if diag := loadDiagnostics(&run); diag != nil {
			if counts, ok := diag["suppression_reason_counts"].(map[string]any); ok {
				for k, v := range counts {
					if n, ok := v.(float64); ok {
						m.LastIngest.SuppressionReasonCounts[k] = int(n)
					}
				}
			}
		}
	}
	if m.LastIngest.Processed > 0 {
		ratio := float64(m.LastIngest.Suppressed) / float64(m.LastIngest.Processed)
		m.SuppressionRatio = &ratio
	}

	if m.LastSuccessUTC != "" {
		if t, err := timeutil.ParseZ(m.LastSuccessUTC); err == nil {
			hours := now.UTC().Sub(t).Hours()
			m.StaleHours = &hours
		}
	}
	if len(bytesSamples) > 0 {
		var sum float64
		for _, b := range bytesSamples {
			sum += b
		}
		m.AvgBytesDownloaded = sum / float64(len(bytesSamples))
	}
	if len(dedupeRates) > 0 {
		var sum float64
		for _, r := range dedupeRates {
			sum += r
		}
		avg := sum / float64(len(dedupeRates))
		m.DedupeRate = &avg
	}
	if len(durations) > 0 {
		var sum float64
		for _, d := range durations {
			sum += d
		}
		avg := sum / float64(len(durations))
		m.AvgDurationSeconds = &avg
	}
	return m, nil
}
