package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hardstop-io/hardstop/internal/correlate"
	"github.com/hardstop-io/hardstop/internal/ids"
	"github.com/hardstop-io/hardstop/internal/linker"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

// Pinned-mode defaults. The pinned run always reproduces the same alert
// from the same fixture, so its output can serve as a golden reference.
const (
	DefaultPinnedTimestamp = "2025-12-29T17:00:00Z"
	DefaultPinnedSeed      = "demo-pinned-seed.v1"
	DefaultPinnedRunID     = "demo-golden-run.v1"
)

var (
	demoMode      string
	demoTimestamp string
	demoSeed      string
	demoRunID     string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the fixture event through the pipeline and print the alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo()
	},
}

func init() {
	demoCmd.Flags().StringVar(&demoMode, "mode", "pinned", "demo mode: live or pinned")
	demoCmd.Flags().StringVar(&demoTimestamp, "timestamp", DefaultPinnedTimestamp, "pinned event timestamp (RFC 3339)")
	demoCmd.Flags().StringVar(&demoSeed, "seed", DefaultPinnedSeed, "pinned id-generation seed")
	demoCmd.Flags().StringVar(&demoRunID, "run-id", DefaultPinnedRunID, "pinned run identifier")
}

func runDemo() error {
	if demoMode != "live" && demoMode != "pinned" {
		return fmt.Errorf("invalid --mode: %s (use live or pinned)", demoMode)
	}

	data, err := os.ReadFile(cfg.Demo.EventJSON)
	if err != nil {
		return fmt.Errorf("fixture not found: %s: %w", cfg.Demo.EventJSON, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse fixture %s: %w", cfg.Demo.EventJSON, err)
	}
	raw["event_id"] = "EVT-DEMO-0001"

	event := normalize.Demo(raw)

	now := time.Now().UTC()
	if demoMode == "pinned" {
		pinned, err := timeutil.ParseZ(demoTimestamp)
		if err != nil {
			return fmt.Errorf("invalid --timestamp: %w", err)
		}
		now = pinned
		event.EventTimeUTC = timeutil.ToUTCZ(pinned)
		logger.WithFields(map[string]any{
			"run_id":    demoRunID,
			"seed":      demoSeed,
			"timestamp": demoTimestamp,
		}).Info("pinned demo context")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := linker.Link(event, st, 0); err != nil {
		return fmt.Errorf("link event to network: %w", err)
	}

	builder := correlate.NewBuilder(st, logger, loadKeywords())

	var result *correlate.Result
	if demoMode == "pinned" {
		idCtx := ids.NewContext(now, demoSeed)
		result, err = builder.BuildAlert(event, now)
		idCtx.Release()
	} else {
		result, err = builder.BuildAlert(event, now)
	}
	if err != nil {
		return fmt.Errorf("build alert: %w", err)
	}

	logger.Info("Built alert:")
	out, err := json.MarshalIndent(result.Alert, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if len(event.LinkingNotes) > 0 {
		logger.Info("Event linking notes:")
		for _, note := range event.LinkingNotes {
			logger.Infof("- %s", note)
		}
	}
	if len(event.LinkConfidence) > 0 || len(event.LinkProvenance) > 0 {
		logger.Info("Link confidence and provenance:")
		if len(event.LinkConfidence) > 0 {
			logger.Infof("  Confidence: %v", event.LinkConfidence)
		}
		if len(event.LinkProvenance) > 0 {
			logger.Infof("  Provenance: %v", event.LinkProvenance)
		}
	}
	if event.ShipmentsTruncated {
		logger.Infof("Shipments truncated: %d shown of %d total",
			len(event.Shipments), event.ShipmentsTotalLinked)
	}
	return nil
}
