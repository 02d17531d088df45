package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/artifacts"
	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/dedupe"
	"github.com/hardstop-io/hardstop/internal/fetch"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

const fetchOperatorID = "hardstop.fetch@1.0.0"

var (
	fetchTier              string
	fetchEnabledOnly       bool
	fetchMaxItemsPerSource int
	fetchSince             string
	fetchDryRun            bool
	fetchFailFast          bool
	fetchStrict            bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch items from external sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(cmd.Context(), uuid.NewString())
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchTier, "tier", "", "filter by tier: global, regional, or local (default: all)")
	fetchCmd.Flags().BoolVar(&fetchEnabledOnly, "enabled-only", true, "only fetch from enabled sources")
	fetchCmd.Flags().IntVar(&fetchMaxItemsPerSource, "max-items-per-source", 10, "maximum items per source")
	fetchCmd.Flags().StringVar(&fetchSince, "since", "24h", "time window: 24h, 72h, or 7d")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "show what would be fetched without making changes")
	fetchCmd.Flags().BoolVar(&fetchFailFast, "fail-fast", false, "stop on first error")
	fetchCmd.Flags().BoolVar(&fetchStrict, "strict", false, "disable jitter and pin the rng seed")
}

// deriveSeed maps a stable label (the run group id) to a jitter seed so
// retries of the same group pace identically.
func deriveSeed(label string) int64 {
	digest := artifacts.HashParts(label)
	seed, err := strconv.ParseInt(digest[:8], 16, 64)
	if err != nil {
		return 0
	}
	return seed
}

// saveFetchResult persists one source's fetched items and its FETCH-phase
// SourceRun row. Returns how many items were newly stored.
func saveFetchResult(st *store.Store, result *fetch.Result, runGroupID string) int {
	itemsNew := 0
	for _, candidate := range result.Items {
		payloadJSON, err := json.Marshal(candidate.Payload)
		if err != nil {
			logger.WithError(err).WithField("source_id", result.SourceID).
				Error("failed to encode raw item payload")
			continue
		}
		params := store.RawItemParams{
			SourceID:       result.SourceID,
			Tier:           result.Tier,
			TrustTier:      result.TrustTier,
			FetchedAtUTC:   result.FetchedAtUTC,
			PublishedAtUTC: candidate.PublishedAtUTC,
			CanonicalID:    candidate.CanonicalID,
			URL:            candidate.URL,
			Title:          candidate.Title,
			PayloadJSON:    string(payloadJSON),
			ContentHash: dedupe.ContentHash(dedupe.Candidate{
				CanonicalID: candidate.CanonicalID,
				Title:       candidate.Title,
				URL:         candidate.URL,
				Payload:     candidate.Payload,
			}),
		}
		_, isNew, err := st.SaveRawItem(params)
		if err != nil {
			logger.WithError(err).WithField("source_id", result.SourceID).
				Error("failed to save raw item")
			continue
		}
		if isNew {
			itemsNew++
		}
	}

	duration := result.DurationSeconds
	if _, err := st.CreateSourceRun(store.SourceRunParams{
		RunGroupID:      runGroupID,
		SourceID:        result.SourceID,
		Phase:           models.PhaseFetch,
		RunAtUTC:        result.FetchedAtUTC,
		Status:          result.Status,
		StatusCode:      result.StatusCode,
		Error:           result.Error,
		DurationSeconds: &duration,
		ItemsFetched:    len(result.Items),
		ItemsNew:        itemsNew,
		Diagnostics: map[string]any{
			"bytes_downloaded": result.BytesDownloaded,
			"dedupe_dropped":   max(len(result.Items)-itemsNew, 0),
			"items_seen":       len(result.Items),
		},
	}); err != nil {
		logger.WithError(err).WithField("source_id", result.SourceID).
			Error("failed to persist fetch source run")
	}
	return itemsNew
}

func runFetch(ctx context.Context, runGroupID string) error {
	snapshot := configSnapshot()
	startedAt := timeutil.UTCNowZ()
	mode := "best-effort"
	if fetchStrict {
		mode = "strict"
	}

	sinceLabel := fetchSince
	if sinceLabel == "" {
		sinceLabel = "all"
	}
	inputRefs := []artifacts.ArtifactRef{
		artifacts.RunGroupRef(runGroupID),
		{
			ID:   "fetch-window:" + sinceLabel,
			Hash: artifacts.HashParts(sinceLabel),
			Kind: "FetchWindow",
		},
	}
	var outputRefs []artifacts.ArtifactRef
	var errDiags []artifacts.Diagnostic
	bestEffort := map[string]any{}

	fetchErr := func() error {
		sources, err := loadSourcesConfig()
		if err != nil {
			return err
		}

		fetchOpts := []fetch.Option{fetch.WithSeed(deriveSeed(runGroupID))}
		if fetchStrict {
			fetchOpts = append(fetchOpts, fetch.Strict())
		}
		fetcher := fetch.New(sources, logger, fetchOpts...)

		if fetchDryRun {
			var filtered []*config.Source
			for _, source := range sources.AllSources() {
				if fetchTier != "" && source.Tier != fetchTier {
					continue
				}
				if fetchEnabledOnly && !source.Enabled {
					continue
				}
				filtered = append(filtered, source)
			}
			fmt.Println("DRY RUN: Would fetch from sources (no changes will be made)")
			fmt.Printf("Would fetch from %d sources:\n", len(filtered))
			for _, source := range filtered {
				fmt.Printf("  - %s (%s tier)\n", source.ID, source.Tier)
			}
			count := strconv.Itoa(len(filtered))
			outputRefs = []artifacts.ArtifactRef{
				{ID: "raw-items:" + runGroupID, Hash: artifacts.HashParts("dry-run", count), Kind: "RawItemBatch"},
				{ID: "source-runs:fetch:" + runGroupID, Hash: artifacts.HashParts(runGroupID, "dry-run", count), Kind: "SourceRun"},
			}
			return nil
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		results, fetchAllErr := fetcher.FetchAll(ctx, fetch.Options{
			Tier:              fetchTier,
			EnabledOnly:       fetchEnabledOnly,
			MaxItemsPerSource: fetchMaxItemsPerSource,
			Since:             fetchSince,
			FailFast:          fetchFailFast,
		})

		totalFetched, totalStored := 0, 0
		var runsSummary []string
		for i := range results {
			result := &results[i]
			itemsNew := saveFetchResult(st, result, runGroupID)
			totalFetched += len(result.Items)
			totalStored += itemsNew
			code := 0
			if result.StatusCode != nil {
				code = *result.StatusCode
			}
			runsSummary = append(runsSummary, fmt.Sprintf("%s:%s:%d", result.SourceID, result.Status, code))
		}
		fmt.Printf("Fetch complete: %d items fetched, %d stored\n", totalFetched, totalStored)

		rawBatchHash, err := artifacts.RawItemBatchDigest(st, runGroupID)
		if err != nil {
			logger.WithError(err).Debug("falling back to legacy raw batch hash")
			rawBatchHash = artifacts.HashParts(runGroupID, strconv.Itoa(totalFetched), strconv.Itoa(totalStored))
		}
		sourceRunsHash, err := artifacts.SourceRunsDigest(st, runGroupID, models.PhaseFetch)
		if err != nil {
			logger.WithError(err).Debug("falling back to legacy source-runs hash")
			sort.Strings(runsSummary)
			if len(runsSummary) == 0 {
				runsSummary = []string{"none"}
			}
			sourceRunsHash = artifacts.HashParts(runsSummary...)
		}
		outputRefs = []artifacts.ArtifactRef{
			{ID: "raw-items:" + runGroupID, Hash: rawBatchHash, Kind: "RawItemBatch"},
			{ID: "source-runs:fetch:" + runGroupID, Hash: sourceRunsHash, Kind: "SourceRun"},
		}
		bestEffort = fetcher.BestEffortMetadata()
		return fetchAllErr
	}()

	if fetchErr != nil {
		errDiags = append(errDiags, artifacts.Diagnostic{Code: "FETCH_ERROR", Message: fetchErr.Error()})
	}
	if _, _, err := artifacts.EmitRunRecord(artifacts.EmitParams{
		OperatorID:     fetchOperatorID,
		Mode:           mode,
		ConfigSnapshot: snapshot,
		StartedAt:      startedAt,
		EndedAt:        timeutil.UTCNowZ(),
		InputRefs:      inputRefs,
		OutputRefs:     outputRefs,
		Errors:         errDiags,
		BestEffort:     bestEffort,
		DestDir:        cfg.Ops.RunRecordsDir,
	}); err != nil {
		logRunRecordFailure("fetch", err)
	}
	return fetchErr
}
