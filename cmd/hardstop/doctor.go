package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hardstop-io/hardstop/internal/health"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/spf13/cobra"
)

const doctorProbeURL = "https://api.weather.gov/alerts/active"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose database, sources, network, and suppression health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

type doctorReport struct {
	issues   []string
	warnings []string
}

func (r *doctorReport) issue(format string, args ...any) {
	r.issues = append(r.issues, fmt.Sprintf(format, args...))
}

func (r *doctorReport) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func tableCount(st *store.Store, table string) int {
	var n int
	if err := st.DB().Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		return -1
	}
	return n
}

func rawStatusDistribution(st *store.Store) map[string]int {
	rows, err := st.DB().Queryx(`SELECT status, COUNT(*) AS n FROM raw_items GROUP BY status`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err == nil {
			out[status] = n
		}
	}
	return out
}

func checkDatabase(report *doctorReport) *store.Store {
	fmt.Println("[1] Database Check")
	if _, err := os.Stat(cfg.Storage.SQLitePath); err != nil {
		fmt.Printf("  Database not found at %s (it will be created on first run)\n", cfg.Storage.SQLitePath)
	}
	st, err := openStore()
	if err != nil {
		fmt.Printf("  FAIL: cannot open database: %v\n", err)
		report.issue("Cannot open database: %v", err)
		return nil
	}
	if missing := missingTables(st); len(missing) > 0 {
		for _, table := range missing {
			fmt.Printf("  FAIL: table %s missing\n", table)
		}
		report.issue("Schema drift: %d table(s) missing", len(missing))
	} else {
		fmt.Println("  Schema OK")
	}
	for _, table := range []string{"raw_items", "events", "alerts", "source_runs", "facilities", "lanes", "shipments"} {
		if n := tableCount(st, table); n >= 0 {
			fmt.Printf("  %s: %d rows\n", table, n)
		}
	}
	dist := rawStatusDistribution(st)
	if len(dist) > 0 {
		fmt.Printf("  Raw item statuses: NEW=%d NORMALIZED=%d FAILED=%d SUPPRESSED=%d\n",
			dist["NEW"], dist["NORMALIZED"], dist["FAILED"], dist["SUPPRESSED"])
		if dist["NEW"] > 0 {
			report.warn("%d raw items pending ingestion", dist["NEW"])
		}
	}
	return st
}

func checkSources(report *doctorReport) {
	fmt.Println("\n[2] Sources Configuration")
	sources, err := loadSourcesConfig()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		report.issue("Sources config unreadable: %v", err)
		return
	}
	tierCounts := map[string]int{}
	enabled := 0
	for _, source := range sources.AllSources() {
		tierCounts[source.Tier]++
		if source.Enabled {
			enabled++
		}
	}
	fmt.Printf("  %d sources configured (%d enabled)\n", len(sources.AllSources()), enabled)
	for _, tier := range []string{"global", "regional", "local"} {
		if tierCounts[tier] > 0 {
			fmt.Printf("  %s: %d\n", tier, tierCounts[tier])
		}
	}
	if enabled == 0 {
		report.issue("No enabled sources configured")
	}
}

func checkNetwork(report *doctorReport) {
	fmt.Println("\n[3] Network Connectivity")
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, doctorProbeURL, nil)
	if err != nil {
		report.warn("Network probe setup failed: %v", err)
		return
	}
	req.Header.Set("User-Agent", "hardstop-doctor (diagnostics)")
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		report.warn("Network unreachable: %v", err)
		return
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		fmt.Println("  OK: reached api.weather.gov")
	case resp.StatusCode == http.StatusForbidden:
		fmt.Println("  WARN: 403 from api.weather.gov (check User-Agent)")
		report.warn("Probe returned 403; sources may need a User-Agent header")
	default:
		fmt.Printf("  WARN: probe returned HTTP %d\n", resp.StatusCode)
		report.warn("Probe returned HTTP %d", resp.StatusCode)
	}
}

func checkSuppression(st *store.Store, report *doctorReport) {
	fmt.Println("\n[4] Suppression Configuration")
	supp := loadSuppressionConfig()
	if supp == nil {
		fmt.Println("  No suppression config (suppression inactive)")
		return
	}
	if !supp.IsEnabled() {
		fmt.Println("  WARN: suppression disabled")
		report.warn("Suppression disabled")
	}
	fmt.Printf("  %d rules configured\n", len(supp.Rules))
	seen := map[string]bool{}
	for _, rule := range supp.Rules {
		if seen[rule.ID] {
			fmt.Printf("  WARN: duplicate rule ID %q\n", rule.ID)
			report.warn("Duplicate suppression rule IDs found")
			break
		}
		seen[rule.ID] = true
	}
	if st != nil {
		if items, err := st.QuerySuppressedItems(24, time.Time{}); err == nil {
			fmt.Printf("  %d items suppressed in last 24h\n", len(items))
		}
	}
}

func checkSourceHealth(st *store.Store, report *doctorReport) {
	fmt.Println("\n[5] Source Health Tracking")
	if st == nil {
		fmt.Println("  Skipped (no database)")
		return
	}
	entries, err := health.Report(st, 10, 48)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return
	}
	stale, blocked, watch := 0, 0, 0
	for _, entry := range entries {
		if entry.Metrics != nil && entry.Metrics.StaleHours != nil && *entry.Metrics.StaleHours > 48 {
			stale++
		}
		switch entry.Health.State {
		case health.StateBlocked:
			blocked++
		case health.StateWatch:
			watch++
		}
	}
	fmt.Printf("  %d sources tracked, %d stale, %d blocked, %d on watch\n",
		len(entries), stale, blocked, watch)
	if blocked > 0 {
		report.issue("%d source(s) exhausted failure budget", blocked)
	}
	if watch > 0 {
		report.warn("%d source(s) near failure budget", watch)
	}
	if stale > 0 {
		report.warn("%d source(s) stale", stale)
	}
}

func checkLastRunGroup(st *store.Store) {
	fmt.Println("\n[6] Last Run Group Summary")
	if st == nil {
		fmt.Println("  Skipped (no database)")
		return
	}
	runs, err := st.ListRecentRuns(store.SourceRunQuery{Limit: 1})
	if err != nil || len(runs) == 0 {
		fmt.Println("  No runs recorded yet")
		return
	}
	group := runs[0].RunGroupID
	groupRunRows, err := st.ListRecentRuns(store.SourceRunQuery{RunGroupID: group, Limit: 200})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return
	}
	var fetchOK, fetchFail, fetchQuiet, ingestOK, ingestFail, alertsTouched, suppressed int
	for i := range groupRunRows {
		run := &groupRunRows[i]
		switch run.Phase {
		case models.PhaseFetch:
			if run.Status == models.StatusSuccess {
				fetchOK++
				if run.ItemsFetched == 0 {
					fetchQuiet++
				}
			} else {
				fetchFail++
			}
		case models.PhaseIngest:
			if run.Status == models.StatusSuccess {
				ingestOK++
			} else {
				ingestFail++
			}
			alertsTouched += run.ItemsAlertsTouched
			suppressed += run.ItemsSuppressed
		}
	}
	fmt.Printf("  Run group: %s\n", group)
	fmt.Printf("  Fetch: %d ok (%d quiet), %d failed\n", fetchOK, fetchQuiet, fetchFail)
	fmt.Printf("  Ingest: %d ok, %d failed\n", ingestOK, ingestFail)
	fmt.Printf("  Alerts touched: %d, suppressed: %d\n", alertsTouched, suppressed)
}

// nextAction recommends the single highest-priority fix.
func nextAction(report *doctorReport) string {
	has := func(list []string, substr string) bool {
		for _, entry := range list {
			if strings.Contains(entry, substr) {
				return true
			}
		}
		return false
	}
	switch {
	case has(report.issues, "Schema drift"):
		return fmt.Sprintf("Delete %s and rerun; the schema will be recreated.", cfg.Storage.SQLitePath)
	case has(report.warnings, "stale"):
		return "Run `hardstop sources test <id> --since 72h` against the stale sources."
	case has(report.warnings, "Network unreachable") || has(report.warnings, "403"):
		return "Check network access, User-Agent headers, and source URLs."
	case has(report.warnings, "Duplicate suppression"):
		return "Fix duplicate rule IDs in config/suppression.yaml."
	case has(report.issues, "Sources config") || has(report.issues, "Cannot open database"):
		return "Fix the configuration errors listed above."
	default:
		return "System is healthy. Run `hardstop run --since 24h` to fetch and process new data."
	}
}

func runDoctor() error {
	report := &doctorReport{}

	st := checkDatabase(report)
	if st != nil {
		defer st.Close()
	}
	checkSources(report)
	checkNetwork(report)
	checkSuppression(st, report)
	checkSourceHealth(st, report)
	checkLastRunGroup(st)

	fmt.Println()
	if len(report.issues) > 0 {
		fmt.Printf("[X] Issues found: %d\n", len(report.issues))
		for _, issue := range report.issues {
			fmt.Printf("  - %s\n", issue)
		}
	} else {
		fmt.Println("[OK] No critical issues found")
	}
	for _, warning := range report.warnings {
		fmt.Printf("  warn: %s\n", warning)
	}

	fmt.Println("\nWhat would I do next?")
	fmt.Printf("  %s\n", nextAction(report))
	return nil
}
