package main

import (
	"encoding/json"
	"fmt"

	"github.com/hardstop-io/hardstop/internal/artifacts"
	"github.com/spf13/cobra"
)

var (
	replayCorrelationKey string
	replayArtifactsDir   string
	replayRecordsDir     string
	replayStrict         bool
	replayFormat         string
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "Inspect and replay incident evidence artifacts",
}

var incidentsReplayCmd = &cobra.Command{
	Use:   "replay <incident-id>",
	Short: "Verify an incident evidence artifact against its run records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIncidentsReplay(args[0])
	},
}

func init() {
	incidentsReplayCmd.Flags().StringVar(&replayCorrelationKey, "correlation-key", "", "expected correlation key for the incident")
	incidentsReplayCmd.Flags().StringVar(&replayArtifactsDir, "artifacts-dir", "", "directory holding incident evidence artifacts")
	incidentsReplayCmd.Flags().StringVar(&replayRecordsDir, "records-dir", "", "directory holding run records")
	incidentsReplayCmd.Flags().BoolVar(&replayStrict, "strict", false, "fail on any divergence instead of warning")
	incidentsReplayCmd.Flags().StringVar(&replayFormat, "format", "json", "output format: json or text")

	incidentsCmd.AddCommand(incidentsReplayCmd)
}

func runIncidentsReplay(incidentID string) error {
	artifactsDir := replayArtifactsDir
	if artifactsDir == "" {
		artifactsDir = cfg.Ops.IncidentsDir
	}
	recordsDir := replayRecordsDir
	if recordsDir == "" {
		recordsDir = cfg.Ops.RunRecordsDir
	}

	result, err := artifacts.Replay(artifacts.ReplayParams{
		IncidentID:     incidentID,
		CorrelationKey: replayCorrelationKey,
		ArtifactsDir:   artifactsDir,
		RunRecordsDir:  recordsDir,
		Strict:         replayStrict,
		ConfigSnapshot: configSnapshot(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		data, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Println(string(data))
	case "text":
		fmt.Printf("Incident: %s\n", result.IncidentID)
		fmt.Printf("Artifact: %s\n", result.ArtifactPath)
		fmt.Printf("Artifact hash: %s\n", result.ArtifactHash)
		fmt.Printf("Config hash: %s\n", result.ConfigHash)
		if result.RunRecordID != "" {
			fmt.Printf("Matched run record: %s\n", result.RunRecordID)
		} else {
			fmt.Println("Matched run record: none")
		}
		if len(result.Warnings) > 0 {
			fmt.Println("Warnings:")
			for _, warning := range result.Warnings {
				fmt.Printf("  - %s\n", warning)
			}
		} else {
			fmt.Println("Replay verified with no warnings")
		}
	default:
		return fmt.Errorf("invalid --format: %s (use json or text)", replayFormat)
	}
	return nil
}
