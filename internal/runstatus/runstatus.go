// Package runstatus folds a run's observations into an exit code:
// 0 healthy, 1 warning, 2 broken. Broken conditions short-circuit in a
// fixed order so the first structural failure wins.
package runstatus

import (
	"encoding/json"
	"fmt"

	"github.com/hardstop-io/hardstop/internal/fetch"
	"github.com/hardstop-io/hardstop/internal/models"
)

// Exit codes.
const (
	ExitHealthy = 0
	ExitWarning = 1
	ExitBroken  = 2
)

// DoctorFindings carries environment checks into evaluation.
type DoctorFindings struct {
	ConfigError          string
	SchemaDrift          string
	EnabledSourcesCount  int
	HealthBudgetBlockers []string
	HealthBudgetWarnings []string
	SuppressionWarnings  []string
}

// Input is everything one evaluation considers. IngestRuns must be nil
// (not empty) when ingest did not run at all, so a crash before the first
// source is distinguishable from a quiet run.
type Input struct {
	FetchResults        []fetch.Result
	IngestRuns          []models.SourceRun
	Doctor              *DoctorFindings
	StaleSources        []string
	StaleThresholdHours int
	Strict              bool
	AllowIngestErrors   bool
}

func ingestErrorCount(run *models.SourceRun) int {
	if run.DiagnosticsJSON == nil || *run.DiagnosticsJSON == "" {
		return 0
	}
	var diag map[string]any
	if err := json.Unmarshal([]byte(*run.DiagnosticsJSON), &diag); err != nil {
		return 0
	}
	if n, ok := diag["errors"].(float64); ok {
		return int(n)
	}
	return 0
}

// Evaluate returns the exit code and up to three status messages.
func Evaluate(in Input) (int, []string) {
	doctor := in.Doctor
	if doctor == nil {
		doctor = &DoctorFindings{}
	}
	staleThreshold := in.StaleThresholdHours
	if staleThreshold <= 0 {
		staleThreshold = 48
	}

	var messages []string

	// Broken conditions, first hit wins.
	if doctor.ConfigError != "" {
		return ExitBroken, []string{"Config error: " + doctor.ConfigError}
	}
	if doctor.SchemaDrift != "" {
		return ExitBroken, []string{"Schema drift: " + doctor.SchemaDrift}
	}
	if doctor.EnabledSourcesCount == 0 {
		return ExitBroken, []string{"No enabled sources configured"}
	}
	if len(doctor.HealthBudgetBlockers) > 0 {
		return ExitBroken, []string{
			fmt.Sprintf("%d source(s) exhausted failure budget", len(doctor.HealthBudgetBlockers)),
		}
	}

	var successes, failures, successesWithItems int
	for _, r := range in.FetchResults {
		switch r.Status {
		case models.StatusSuccess:
			successes++
			if len(r.Items) > 0 {
				successesWithItems++
			}
		case models.StatusFailure:
			failures++
		}
	}
	if len(in.FetchResults) > 0 && successes == 0 && failures > 0 {
		return ExitBroken, []string{fmt.Sprintf("All %d sources failed to fetch", failures)}
	}
	if len(in.FetchResults) > 0 && in.IngestRuns != nil && len(in.IngestRuns) == 0 && successesWithItems > 0 {
		return ExitBroken, []string{"Ingest crashed before processing any source"}
	}

	// Warning conditions accumulate; the top three surface.
	var warnings []string
	if failures > 0 {
		warnings = append(warnings, fmt.Sprintf("%d source(s) failed to fetch", failures))
	}
	if len(in.StaleSources) > 0 {
		warnings = append(warnings,
			fmt.Sprintf("%d source(s) stale (no success in %dh)", len(in.StaleSources), staleThreshold))
	}
	if len(in.IngestRuns) > 0 {
		failedIngests := 0
		errorRuns := 0
		errorTotal := 0
		for i := range in.IngestRuns {
			run := &in.IngestRuns[i]
			if run.Status == models.StatusFailure {
				failedIngests++
			}
			if n := ingestErrorCount(run); n > 0 {
				errorRuns++
				errorTotal += n
			}
		}
		if failedIngests > 0 {
			warnings = append(warnings, fmt.Sprintf("%d source(s) failed during ingest", failedIngests))
		}
		if errorRuns > 0 && !in.AllowIngestErrors {
			warnings = append(warnings,
				fmt.Sprintf("%d source(s) had ingest errors (%d total)", errorRuns, errorTotal))
		}
	}
	for _, w := range doctor.SuppressionWarnings {
		warnings = append(warnings, "Suppression: "+w)
	}
	if len(doctor.HealthBudgetWarnings) > 0 {
		warnings = append(warnings,
			fmt.Sprintf("%d source(s) near failure budget", len(doctor.HealthBudgetWarnings)))
	}

	if len(warnings) > 0 {
		if len(warnings) > 3 {
			warnings = warnings[:3]
		}
		messages = append(messages, warnings...)
		if in.Strict {
			return ExitBroken, messages
		}
		return ExitWarning, messages
	}

	if len(in.FetchResults) == 0 {
		return ExitWarning, []string{"No fetch results available"}
	}
	if successes == 0 {
		return ExitWarning, []string{"No successful fetches"}
	}
	return ExitHealthy, []string{"All systems healthy"}
}
