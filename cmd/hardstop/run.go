package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/adapters"
	"github.com/hardstop-io/hardstop/internal/artifacts"
	"github.com/hardstop-io/hardstop/internal/fetch"
	"github.com/hardstop-io/hardstop/internal/health"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/runstatus"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

const runOperatorID = "hardstop.run@1.0.0"

// requiredTables is the schema surface the pipeline depends on. A missing
// table means the database predates a migration and the run cannot be
// trusted.
var requiredTables = []string{"raw_items", "events", "alerts", "source_runs"}

var (
	runSince             string
	runNoSuppress        bool
	runFailFast          bool
	runStaleHours        int
	runStrict            bool
	runAllowIngestErrors bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, ingest, brief, and report run status in one pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd)
	},
}

func init() {
	runCmd.Flags().StringVar(&runSince, "since", "24h", "time window: 24h, 72h, or 7d")
	runCmd.Flags().BoolVar(&runNoSuppress, "no-suppress", false, "bypass suppression during ingest")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "stop ingest on first source failure")
	runCmd.Flags().IntVar(&runStaleHours, "stale", 48, "hours without a successful fetch before a source is stale")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "escalate warnings to exit code 2")
	runCmd.Flags().BoolVar(&runAllowIngestErrors, "allow-ingest-errors", false, "do not warn on item-level ingest errors")
}

func runDiagnosticsInt(run *models.SourceRun, keys ...string) (int, bool) {
	if run.DiagnosticsJSON == nil || *run.DiagnosticsJSON == "" {
		return 0, false
	}
	var diag map[string]any
	if err := json.Unmarshal([]byte(*run.DiagnosticsJSON), &diag); err != nil {
		return 0, false
	}
	for _, key := range keys {
		if v, ok := diag[key].(float64); ok {
			return int(v), true
		}
	}
	return 0, false
}

// groupRuns returns this run group's rows for one phase, newest first.
func groupRuns(st *store.Store, runGroupID, phase string) []models.SourceRun {
	runs, err := st.ListRecentRuns(store.SourceRunQuery{Phase: phase, Limit: 100})
	if err != nil {
		logger.WithError(err).Warn("failed to list source runs")
		return nil
	}
	var matched []models.SourceRun
	for _, run := range runs {
		if run.RunGroupID == runGroupID {
			matched = append(matched, run)
		}
	}
	return matched
}

// reconstructFetchResults rebuilds the per-source fetch outcomes from the
// persisted FETCH runs so status evaluation works even when fetch itself
// ran in an earlier process.
func reconstructFetchResults(runs []models.SourceRun) []fetch.Result {
	results := make([]fetch.Result, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		itemsCount := run.ItemsFetched
		if n, ok := runDiagnosticsInt(run, "items_seen", "items_new", "items_fetched"); ok {
			itemsCount = n
		}
		result := fetch.Result{
			SourceID:     run.SourceID,
			FetchedAtUTC: run.RunAtUTC,
			Status:       run.Status,
			StatusCode:   run.StatusCode,
			Items:        make([]adapters.RawItemCandidate, itemsCount),
		}
		if run.Error != nil {
			result.Error = *run.Error
		}
		results = append(results, result)
	}
	return results
}

// staleSources lists sources whose most recent successful fetch is older
// than the threshold.
func staleSources(st *store.Store, staleHours int, now time.Time) []string {
	runs, err := st.ListRecentRuns(store.SourceRunQuery{Phase: models.PhaseFetch, Limit: 1000})
	if err != nil {
		logger.WithError(err).Warn("failed to list fetch history")
		return nil
	}
	lastSuccess := map[string]time.Time{}
	for i := range runs {
		run := &runs[i]
		if run.Status != models.StatusSuccess {
			continue
		}
		ts, err := timeutil.ParseZ(run.RunAtUTC)
		if err != nil {
			continue
		}
		if ts.After(lastSuccess[run.SourceID]) {
			lastSuccess[run.SourceID] = ts
		}
	}
	var stale []string
	cutoff := now.Add(-time.Duration(staleHours) * time.Hour)
	for sourceID, ts := range lastSuccess {
		if ts.Before(cutoff) {
			stale = append(stale, sourceID)
		}
	}
	return stale
}

// collectDoctorFindings gathers the environment checks that feed run
// status evaluation. Shared with the doctor command.
func collectDoctorFindings(st *store.Store, staleHours int) *runstatus.DoctorFindings {
	findings := &runstatus.DoctorFindings{}

	sources, err := loadSourcesConfig()
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "not found") {
			findings.ConfigError = "sources.yaml not found"
		} else {
			findings.ConfigError = "Config parse error: " + err.Error()
		}
	} else {
		for _, source := range sources.AllSources() {
			if source.Enabled {
				findings.EnabledSourcesCount++
			}
		}
	}

	if supp := loadSuppressionConfig(); supp != nil {
		if !supp.IsEnabled() {
			findings.SuppressionWarnings = append(findings.SuppressionWarnings, "Suppression disabled")
		}
		seen := map[string]bool{}
		for _, rule := range supp.Rules {
			if seen[rule.ID] {
				findings.SuppressionWarnings = append(findings.SuppressionWarnings, "Duplicate rule IDs found")
				break
			}
			seen[rule.ID] = true
		}
	}

	if st != nil {
		if report, err := health.Report(st, 10, staleHours); err == nil {
			for sourceID, entry := range report {
				switch entry.Health.State {
				case health.StateBlocked:
					findings.HealthBudgetBlockers = append(findings.HealthBudgetBlockers, sourceID)
				case health.StateWatch:
					findings.HealthBudgetWarnings = append(findings.HealthBudgetWarnings, sourceID)
				}
			}
		}
		if missing := missingTables(st); len(missing) > 0 {
			findings.SchemaDrift = "missing tables: " + strings.Join(missing, ", ")
		}
	}
	return findings
}

func missingTables(st *store.Store) []string {
	var missing []string
	for _, table := range requiredTables {
		var name string
		err := st.DB().Get(&name,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err != nil {
			missing = append(missing, table)
		}
	}
	return missing
}

func statusLabel(code int) string {
	switch code {
	case runstatus.ExitHealthy:
		return "HEALTHY"
	case runstatus.ExitWarning:
		return "WARNING"
	default:
		return "BROKEN"
	}
}

func runPipeline(cmd *cobra.Command) error {
	runGroupID := uuid.NewString()
	startedAt := timeutil.UTCNowZ()
	snapshot := configSnapshot()
	logger.WithField("run_group_id", runGroupID).Info("starting run")

	fmt.Println("Step 1/4: Fetching external sources...")
	fetchTier = ""
	fetchEnabledOnly = true
	fetchMaxItemsPerSource = 10
	fetchSince = runSince
	fetchDryRun = false
	fetchFailFast = false
	fetchStrict = runStrict
	if err := runFetch(cmd.Context(), runGroupID); err != nil {
		logger.WithError(err).Warn("fetch step failed")
	}

	fmt.Println("\nStep 2/4: Ingesting raw items...")
	ingestLimit = 200
	ingestMinTier = ""
	ingestSourceID = ""
	ingestSince = runSince
	ingestNoSuppress = runNoSuppress
	ingestExplainSuppress = false
	ingestFailFast = runFailFast
	ingestAllowErrors = runAllowIngestErrors
	ingestStrict = runStrict
	ingestStepErr := runIngestExternal(runGroupID)
	if ingestStepErr != nil {
		logger.WithError(ingestStepErr).Warn("ingest step failed")
	}

	fmt.Println("\nStep 3/4: Generating brief...")
	briefToday = true
	briefSince = runSince
	briefFormat = "md"
	briefLimit = 20
	briefIncludeClass0 = false
	if err := runBrief(runGroupID); err != nil {
		logger.WithError(err).Warn("brief step failed")
	}

	fmt.Println("\nStep 4/4: Evaluating run status...")
	input := runstatus.Input{
		StaleThresholdHours: runStaleHours,
		Strict:              runStrict,
		AllowIngestErrors:   runAllowIngestErrors,
	}
	st, storeErr := openStore()
	if storeErr != nil {
		input.Doctor = collectDoctorFindings(nil, runStaleHours)
		if input.Doctor.ConfigError == "" {
			input.Doctor.ConfigError = "cannot open database: " + storeErr.Error()
		}
	} else {
		input.FetchResults = reconstructFetchResults(groupRuns(st, runGroupID, models.PhaseFetch))
		ingestRuns := groupRuns(st, runGroupID, models.PhaseIngest)
		if ingestRuns != nil || ingestStepErr == nil {
			if ingestRuns == nil {
				ingestRuns = []models.SourceRun{}
			}
			input.IngestRuns = ingestRuns
		}
		input.StaleSources = staleSources(st, runStaleHours, time.Now().UTC())
		input.Doctor = collectDoctorFindings(st, runStaleHours)
		st.Close()
	}

	code, messages := runstatus.Evaluate(input)

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Printf("Run status: %s\n", statusLabel(code))
	if code != runstatus.ExitHealthy && len(messages) > 0 {
		fmt.Println("Top issues:")
		for i, msg := range messages {
			if i >= 3 {
				break
			}
			fmt.Printf("  - %s\n", msg)
		}
	} else if len(messages) > 0 {
		fmt.Println(messages[0])
	}

	var warnDiags, errDiags []artifacts.Diagnostic
	diagCode := fmt.Sprintf("RUN_STATUS::%d", code)
	for _, msg := range messages {
		diag := artifacts.Diagnostic{Code: diagCode, Message: msg}
		if code >= runstatus.ExitBroken {
			errDiags = append(errDiags, diag)
		} else if code == runstatus.ExitWarning {
			warnDiags = append(warnDiags, diag)
		}
	}

	if _, _, err := artifacts.EmitRunRecord(artifacts.EmitParams{
		OperatorID:     runOperatorID,
		Mode:           map[bool]string{true: "strict", false: "best-effort"}[runStrict],
		ConfigSnapshot: snapshot,
		StartedAt:      startedAt,
		EndedAt:        timeutil.UTCNowZ(),
		InputRefs:      []artifacts.ArtifactRef{artifacts.RunGroupRef(runGroupID)},
		OutputRefs: []artifacts.ArtifactRef{{
			ID:   "run-status:" + runGroupID,
			Hash: artifacts.HashParts(messages...),
			Kind: "RunStatus",
		}},
		Warnings: warnDiags,
		Errors:   errDiags,
		DestDir:  cfg.Ops.RunRecordsDir,
	}); err != nil {
		logRunRecordFailure("run", err)
	}

	os.Exit(code)
	return nil
}
