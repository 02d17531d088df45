package artifacts

import (
	"encoding/json"
	"sort"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
)

func sourceRunSnapshots(st *store.Store, runGroupID, phase string) ([]map[string]any, error) {
	runs, err := st.ListRecentRuns(store.SourceRunQuery{
		RunGroupID: runGroupID,
		Phase:      phase,
		Limit:      1000,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].SourceID < runs[j].SourceID
	})

	snapshots := make([]map[string]any, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		diagnostics := map[string]any{}
		if run.DiagnosticsJSON != nil && *run.DiagnosticsJSON != "" {
			_ = json.Unmarshal([]byte(*run.DiagnosticsJSON), &diagnostics)
		}
		var statusCode any
		if run.StatusCode != nil {
			statusCode = *run.StatusCode
		}
		snapshots = append(snapshots, map[string]any{
			"source_id":            run.SourceID,
			"status":               run.Status,
			"status_code":          statusCode,
			"error":                models.Deref(run.Error),
			"items_fetched":        run.ItemsFetched,
			"items_new":            run.ItemsNew,
			"items_processed":      run.ItemsProcessed,
			"items_suppressed":     run.ItemsSuppressed,
			"items_events_created": run.ItemsEventsCreated,
			"items_alerts_touched": run.ItemsAlertsTouched,
			"diagnostics":          diagnostics,
		})
	}
	return snapshots, nil
}

func digestSnapshots(snapshots []map[string]any, fields []string) (string, error) {
	normalized := make([]map[string]any, 0, len(snapshots))
	for _, snapshot := range snapshots {
		entry := map[string]any{}
		for _, field := range fields {
			entry[field] = snapshot[field]
		}
		normalized = append(normalized, entry)
	}
	return ArtifactHash(normalized)
}

// SourceRunsDigest hashes the SourceRun rows for one run group and phase.
// Timestamps and run ids stay out of the digest so replays of the same
// logical work hash identically.
func SourceRunsDigest(st *store.Store, runGroupID, phase string) (string, error) {
	snapshots, err := sourceRunSnapshots(st, runGroupID, phase)
	if err != nil {
		return "", err
	}
	return digestSnapshots(snapshots, []string{
		"source_id", "status", "status_code", "error",
		"items_fetched", "items_new", "items_processed", "items_suppressed",
		"items_events_created", "items_alerts_touched", "diagnostics",
	})
}

// RawItemBatchDigest approximates the raw-item batch for a run group by
// hashing the FETCH-phase metrics.
func RawItemBatchDigest(st *store.Store, runGroupID string) (string, error) {
	snapshots, err := sourceRunSnapshots(st, runGroupID, models.PhaseFetch)
	if err != nil {
		return "", err
	}
	return digestSnapshots(snapshots, []string{
		"source_id", "status", "status_code",
		"items_fetched", "items_new", "diagnostics",
	})
}
