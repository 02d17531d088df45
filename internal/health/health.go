// Package health derives a bounded 0-100 score and failure-budget state
// for each source from its recent run history.
package health

import (
	"time"

	"github.com/hardstop-io/hardstop/internal/store"
)

// Budget states.
const (
	StateHealthy = "HEALTHY"
	StateWatch   = "WATCH"
	StateBlocked = "BLOCKED"
)

// DefaultStaleThresholdHours is the window after which a source with no
// successful fetch counts as stale.
const DefaultStaleThresholdHours = 48

// Result is the derived health state for one source.
type Result struct {
	Score   int      `json:"score"`
	State   string   `json:"budget_state"`
	Factors []string `json:"factors"`
}

// Score turns raw run metrics into a health score. Each observed problem
// deducts a fixed amount; the factors list names every deduction applied.
func Score(m *store.HealthMetrics, staleThresholdHours int) Result {
	if staleThresholdHours <= 0 {
		staleThresholdHours = DefaultStaleThresholdHours
	}

	score := 100
	var factors []string
	deduct := func(amount int, reason string) {
		if amount <= 0 {
			return
		}
		score -= amount
		factors = append(factors, reason)
	}

	switch {
	case m.SuccessRate < 0.25:
		deduct(50, "success_rate<25%")
	case m.SuccessRate < 0.5:
		deduct(35, "success_rate<50%")
	case m.SuccessRate < 0.7:
		deduct(20, "success_rate<70%")
	case m.SuccessRate < 0.9:
		deduct(10, "success_rate<90%")
	}

	if m.StaleHours == nil {
		deduct(15, "no_success_history")
	} else if *m.StaleHours > float64(staleThresholdHours) {
		deduct(25, "stale_over_threshold")
	} else if *m.StaleHours > float64(staleThresholdHours)/2 {
		deduct(10, "stale_trending")
	}

	if m.ConsecutiveFailures >= 3 {
		deduct(25, "failure_streak>=3")
	} else if m.ConsecutiveFailures == 2 {
		deduct(10, "failure_streak_two")
	}

	if m.LastStatusCode != nil {
		if *m.LastStatusCode >= 500 {
			deduct(20, "last_status_5xx")
		} else if *m.LastStatusCode >= 400 {
			deduct(10, "last_status_4xx")
		}
	}

	if m.LastError != "" {
		deduct(10, "recent_error")
	}

	if m.HasHistory {
		if m.AvgBytesDownloaded == 0 {
			deduct(5, "zero_bytes")
		} else if m.AvgBytesDownloaded < 500 {
			deduct(3, "tiny_payloads")
		}
	}

	if m.DedupeRate != nil && *m.DedupeRate > 0.9 {
		deduct(5, "dedupe>90%")
	}

	if m.SuppressionRatio != nil {
		if *m.SuppressionRatio > 0.85 {
			deduct(10, "suppression>85%")
		} else if *m.SuppressionRatio > 0.6 {
			deduct(5, "suppression>60%")
		}
	}

	if m.AvgDurationSeconds != nil && *m.AvgDurationSeconds > 15 {
		deduct(5, "slow_fetch>15s")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	state := StateBlocked
	switch {
	case score >= 80:
		state = StateHealthy
	case score >= 50:
		state = StateWatch
	}
	if factors == nil {
		factors = []string{}
	}
	return Result{Score: score, State: state, Factors: factors}
}

// SourceReport pairs the raw metrics with the derived score.
type SourceReport struct {
	Metrics *store.HealthMetrics `json:"metrics"`
	Health  Result               `json:"health"`
}

// Report computes health for every source that has run history, keyed by
// source id.
func Report(st *store.Store, lookbackN, staleThresholdHours int) (map[string]SourceReport, error) {
	sourceIDs, err := st.KnownSourceIDs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]SourceReport, len(sourceIDs))
	for _, id := range sourceIDs {
		metrics, err := st.SourceHealthMetrics(id, lookbackN, time.Time{})
		if err != nil {
			return nil, err
		}
		out[id] = SourceReport{Metrics: metrics, Health: Score(metrics, staleThresholdHours)}
	}
	return out, nil
}
