package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/artifacts"
	"github.com/hardstop-io/hardstop/internal/correlate"
	"github.com/hardstop-io/hardstop/internal/ingest"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

const ingestOperatorID = "hardstop.ingest@1.0.0"

var (
	ingestLimit           int
	ingestMinTier         string
	ingestSourceID        string
	ingestSince           string
	ingestNoSuppress      bool
	ingestExplainSuppress bool
	ingestFailFast        bool
	ingestAllowErrors     bool
	ingestStrict          bool
)

var ingestExternalCmd = &cobra.Command{
	Use:   "ingest-external",
	Short: "Ingest external raw items into events and alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngestExternal(uuid.NewString())
	},
}

var ingestNetworkCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load network data from CSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.LoadNetworkCSVs(cfg.Demo.FacilitiesCSV, cfg.Demo.LanesCSV, cfg.Demo.ShipmentsCSV)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d facilities, %d lanes, %d shipments\n",
			counts.Facilities, counts.Lanes, counts.Shipments)
		return nil
	},
}

func init() {
	ingestExternalCmd.Flags().IntVar(&ingestLimit, "limit", 200, "maximum number of raw items to process")
	ingestExternalCmd.Flags().StringVar(&ingestMinTier, "min-tier", "", "minimum tier: global, regional, or local")
	ingestExternalCmd.Flags().StringVar(&ingestSourceID, "source-id", "", "filter by specific source ID")
	ingestExternalCmd.Flags().StringVar(&ingestSince, "since", "", "only process items fetched within this window (24h, 72h, 7d)")
	ingestExternalCmd.Flags().BoolVar(&ingestNoSuppress, "no-suppress", false, "bypass suppression entirely")
	ingestExternalCmd.Flags().BoolVar(&ingestExplainSuppress, "explain-suppress", false, "print suppression decisions for each suppressed item")
	ingestExternalCmd.Flags().BoolVar(&ingestFailFast, "fail-fast", false, "stop processing on first source failure")
	ingestExternalCmd.Flags().BoolVar(&ingestAllowErrors, "allow-ingest-errors", false, "allow item-level errors without failing the run")
	ingestExternalCmd.Flags().BoolVar(&ingestStrict, "strict", false, "strict mode for RunRecord bookkeeping")
}

// emitIncidentEvidence writes an IncidentEvidence artifact for every merge
// the ingest pass produced and returns their RunRecord refs.
func emitIncidentEvidence(results []*correlate.Result) []artifacts.ArtifactRef {
	var refs []artifacts.ArtifactRef
	for _, result := range results {
		if result.Action != models.CorrelationUpdated || result.Event == nil || result.PriorAlert == nil {
			continue
		}
		_, ref, path, err := artifacts.BuildIncidentEvidence(artifacts.EvidenceParams{
			AlertID:        result.Alert.AlertID,
			Event:          result.Event,
			CorrelationKey: result.CorrelationKey,
			ExistingAlert:  result.PriorAlert,
			WindowHours:    correlate.MergeWindowDays * 24,
			DestDir:        cfg.Ops.IncidentsDir,
		})
		if err != nil {
			logger.WithError(err).WithField("alert_id", result.Alert.AlertID).
				Warn("failed to write incident evidence")
			continue
		}
		logger.WithField("path", path).Debug("wrote incident evidence")
		if ref != nil {
			refs = append(refs, *ref)
		}
	}
	return refs
}

func runIngestExternal(runGroupID string) error {
	snapshot := configSnapshot()
	startedAt := timeutil.UTCNowZ()
	mode := "best-effort"
	if ingestStrict {
		mode = "strict"
	}

	var outputRefs []artifacts.ArtifactRef
	var errDiags []artifacts.Diagnostic

	ingestErr := func() error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sources, err := loadSourcesConfig()
		if err != nil {
			return err
		}
		builder := correlate.NewBuilder(st, logger, loadKeywords())
		runner := ingest.NewRunner(st, sources, loadSuppressionConfig(), builder, logger)

		sinceHours := 0
		if ingestSince != "" {
			hours, ok := timeutil.ParseSince(ingestSince)
			if !ok {
				logger.WithField("since", ingestSince).Warn("invalid --since value, ignoring")
			} else {
				sinceHours = hours
			}
		}

		outcome, err := runner.Run(ingest.Options{
			Limit:             ingestLimit,
			MinTier:           ingestMinTier,
			SourceID:          ingestSourceID,
			SinceHours:        sinceHours,
			NoSuppress:        ingestNoSuppress,
			ExplainSuppress:   ingestExplainSuppress,
			RunGroupID:        runGroupID,
			FailFast:          ingestFailFast,
			AllowIngestErrors: ingestAllowErrors,
		})
		if outcome != nil {
			stats := outcome.Stats
			fmt.Println("Ingestion complete:")
			fmt.Printf("  Processed: %d\n", stats.Processed)
			fmt.Printf("  Events: %d\n", stats.Events)
			fmt.Printf("  Alerts: %d\n", stats.Alerts)
			if stats.Suppressed > 0 {
				fmt.Printf("  Suppressed: %d\n", stats.Suppressed)
			}
			fmt.Printf("  Errors: %d\n", stats.Errors)

			outputRefs = append(outputRefs, emitIncidentEvidence(outcome.AlertResults)...)
		}
		if err != nil {
			return err
		}

		ingestHash, digestErr := artifacts.SourceRunsDigest(st, runGroupID, models.PhaseIngest)
		if digestErr != nil {
			logger.WithError(digestErr).Debug("falling back to legacy ingest hash")
			ingestHash = artifacts.HashParts(runGroupID,
				fmt.Sprint(outcome.Stats.Processed), fmt.Sprint(outcome.Stats.Events),
				fmt.Sprint(outcome.Stats.Alerts), fmt.Sprint(outcome.Stats.Errors))
		}
		outputRefs = append(outputRefs, artifacts.ArtifactRef{
			ID:   "source-runs:ingest:" + runGroupID,
			Hash: ingestHash,
			Kind: "SourceRun",
		})
		return nil
	}()

	if ingestErr != nil {
		errDiags = append(errDiags, artifacts.Diagnostic{Code: "INGEST_ERROR", Message: ingestErr.Error()})
	}

	inputRefs := []artifacts.ArtifactRef{artifacts.RunGroupRef(runGroupID)}
	if st, err := openStore(); err == nil {
		rawBatchHash, digestErr := artifacts.RawItemBatchDigest(st, runGroupID)
		st.Close()
		if digestErr != nil {
			rawBatchHash = artifacts.HashParts(runGroupID, orAll(ingestSourceID), fmt.Sprint(ingestLimit))
		}
		inputRefs = append(inputRefs, artifacts.ArtifactRef{
			ID:   "raw-items:" + runGroupID,
			Hash: rawBatchHash,
			Kind: "RawItemBatch",
		})
	}

	if _, _, err := artifacts.EmitRunRecord(artifacts.EmitParams{
		OperatorID:     ingestOperatorID,
		Mode:           mode,
		ConfigSnapshot: snapshot,
		StartedAt:      startedAt,
		EndedAt:        timeutil.UTCNowZ(),
		InputRefs:      inputRefs,
		OutputRefs:     outputRefs,
		Errors:         errDiags,
		DestDir:        cfg.Ops.RunRecordsDir,
	}); err != nil {
		logRunRecordFailure("ingest", err)
	}
	return ingestErr
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}
