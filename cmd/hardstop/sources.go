package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/fetch"
	"github.com/hardstop-io/hardstop/internal/health"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

var (
	sourcesTestSince    string
	sourcesTestMaxItems int
	sourcesTestIngest   bool

	sourcesHealthStale    int
	sourcesHealthLookback int
	sourcesHealthExplain  string
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect, test, and score configured sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSourcesList()
	},
}

var sourcesTestCmd = &cobra.Command{
	Use:   "test <source-id>",
	Short: "Fetch one source and report the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSourcesTest(cmd, args[0])
	},
}

var sourcesHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-source health scores and budget states",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSourcesHealth()
	},
}

func init() {
	sourcesTestCmd.Flags().StringVar(&sourcesTestSince, "since", "24h", "time window: 24h, 72h, or 7d")
	sourcesTestCmd.Flags().IntVar(&sourcesTestMaxItems, "max-items", 20, "maximum items to fetch")
	sourcesTestCmd.Flags().BoolVar(&sourcesTestIngest, "ingest", false, "also ingest the fetched items")

	sourcesHealthCmd.Flags().IntVar(&sourcesHealthStale, "stale", 48, "hours without a successful fetch before a source is stale")
	sourcesHealthCmd.Flags().IntVar(&sourcesHealthLookback, "lookback", 10, "number of recent runs to score over")
	sourcesHealthCmd.Flags().StringVar(&sourcesHealthExplain, "explain-suppress", "", "summarize suppression reasons for one source")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesTestCmd)
	sourcesCmd.AddCommand(sourcesHealthCmd)
}

func runSourcesList() error {
	sources, err := loadSourcesConfig()
	if err != nil {
		return err
	}
	all := sources.AllSources()
	fmt.Printf("%-24s %-10s %-8s %-6s %s\n", "ID", "TIER", "ENABLED", "TRUST", "URL")
	for _, source := range all {
		enabled := "no"
		if source.Enabled {
			enabled = "yes"
		}
		fmt.Printf("%-24s %-10s %-8s %-6d %s\n",
			source.ID, source.Tier, enabled, source.TrustTier, source.URL)
	}
	fmt.Printf("\n%d sources configured\n", len(all))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func runSourcesTest(cmd *cobra.Command, sourceID string) error {
	sources, err := loadSourcesConfig()
	if err != nil {
		return err
	}
	runGroupID := uuid.NewString()
	fetcher := fetch.New(sources, logger, fetch.WithSeed(deriveSeed(runGroupID)))

	result, fetchErr := fetcher.FetchOne(cmd.Context(), sourceID, sourcesTestSince, sourcesTestMaxItems)
	if result == nil {
		return fetchErr
	}

	fmt.Printf("Fetch Results for %s:\n", sourceID)
	fmt.Printf("  Status: %s\n", result.Status)
	if result.StatusCode != nil {
		fmt.Printf("  HTTP Status: %d\n", *result.StatusCode)
	}
	fmt.Printf("  Duration: %.2fs\n", result.DurationSeconds)
	fmt.Printf("  Items Fetched: %d\n", len(result.Items))
	if fetchErr != nil {
		fmt.Printf("  Error: %s\n", result.Error)
		return fetchErr
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	itemsNew := saveFetchResult(st, result, runGroupID)
	fmt.Printf("  Items New (stored): %d\n", itemsNew)

	if len(result.Items) > 0 {
		fmt.Println("  Sample Titles (top 3):")
		for i, item := range result.Items {
			if i >= 3 {
				break
			}
			fmt.Printf("    - %s\n", truncate(item.Title, 80))
		}
	}

	if sourcesTestIngest {
		fmt.Println()
		ingestLimit = 200
		ingestSourceID = sourceID
		ingestMinTier = ""
		ingestSince = ""
		return runIngestExternal(runGroupID)
	}
	return nil
}

func healthSortKey(tier string, entry health.SourceReport) (int, int, int) {
	stateOrder := map[string]int{
		health.StateBlocked: 0,
		health.StateWatch:   1,
		health.StateHealthy: 2,
	}
	tierOrder := map[string]int{"global": 0, "regional": 1, "local": 2}
	stateRank, ok := stateOrder[entry.Health.State]
	if !ok {
		stateRank = 99
	}
	tierRank, ok := tierOrder[tier]
	if !ok {
		tierRank = 99
	}
	return stateRank, tierRank, -entry.Health.Score
}

func runSourcesHealth() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := health.Report(st, sourcesHealthLookback, sourcesHealthStale)
	if err != nil {
		return err
	}
	if len(report) == 0 {
		fmt.Println("No source run history yet. Run `hardstop fetch` first.")
		return nil
	}

	tiers := map[string]string{}
	if sources, err := loadSourcesConfig(); err == nil {
		for _, source := range sources.AllSources() {
			tiers[source.ID] = source.Tier
		}
	}

	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, ti, sci := healthSortKey(tiers[ids[i]], report[ids[i]])
		sj, tj, scj := healthSortKey(tiers[ids[j]], report[ids[j]])
		if si != sj {
			return si < sj
		}
		if ti != tj {
			return ti < tj
		}
		if sci != scj {
			return sci < scj
		}
		return ids[i] < ids[j]
	})

	fmt.Printf("%-24s %-9s %-6s %-5s %-17s %-6s %-5s %-5s %-6s %s\n",
		"ID", "Tier", "Score", "SR%", "Last Success", "Stale", "Fail", "Code", "Supp%", "State")
	for _, id := range ids {
		entry := report[id]
		metrics := entry.Metrics

		tierLabel := "-"
		if tier := tiers[id]; tier != "" {
			tierLabel = strings.ToUpper(tier[:1]) + tier[1:]
		}

		lastSuccess := "Never"
		if metrics.LastSuccessUTC != "" {
			if ts, err := timeutil.ParseZ(metrics.LastSuccessUTC); err == nil {
				lastSuccess = ts.Format("2006-01-02 15:04")
			} else {
				lastSuccess = metrics.LastSuccessUTC
			}
		}

		stale := "—"
		if metrics.StaleHours != nil {
			stale = fmt.Sprintf("%.0fh", *metrics.StaleHours)
		}

		code := "-"
		if metrics.LastStatusCode != nil {
			code = fmt.Sprintf("%d", *metrics.LastStatusCode)
		}

		supp := "-"
		if metrics.SuppressionRatio != nil {
			supp = fmt.Sprintf("%.0f%%", *metrics.SuppressionRatio*100)
		}

		fmt.Printf("%-24s %-9s %-6d %-5.0f %-17s %-6s %-5d %-5s %-6s %s\n",
			id, tierLabel, entry.Health.Score, metrics.SuccessRate*100,
			lastSuccess, stale, metrics.ConsecutiveFailures, code, supp,
			entry.Health.State)
	}

	if sourcesHealthExplain != "" {
		fmt.Printf("\nSuppression reasons for %s (last %dh):\n", sourcesHealthExplain, sourcesHealthStale)
		summary, err := st.SummarizeSuppressionReasons(sourcesHealthExplain, sourcesHealthStale, 3, 10, time.Time{})
		if err != nil {
			return err
		}
		if summary.Total == 0 {
			fmt.Println("  No suppressed items in window")
			return nil
		}
		for _, reason := range summary.Reasons {
			fmt.Printf("  %s :: %d hits (rules: %s)\n",
				reason.ReasonCode, reason.Count, strings.Join(reason.RuleIDs, ", "))
			for _, sample := range reason.Samples {
				title := "(untitled)"
				if sample.Title != nil && *sample.Title != "" {
					title = *sample.Title
				}
				fmt.Printf("    - %s\n", truncate(title, 80))
			}
		}
	}
	return nil
}
