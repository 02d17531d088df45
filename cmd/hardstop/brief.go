package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/artifacts"
	"github.com/hardstop-io/hardstop/internal/brief"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

const briefOperatorID = "hardstop.brief@1.0.0"

var (
	briefToday         bool
	briefSince         string
	briefFormat        string
	briefLimit         int
	briefIncludeClass0 bool
)

var briefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Generate the daily alert brief",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !briefToday {
			return fmt.Errorf("--today is required")
		}
		return runBrief(uuid.NewString())
	},
}

func init() {
	briefCmd.Flags().BoolVar(&briefToday, "today", false, "generate the brief for the current window")
	briefCmd.Flags().StringVar(&briefSince, "since", "24h", "time window: 24h, 72h, or 7d")
	briefCmd.Flags().StringVar(&briefFormat, "format", "md", "output format: md or json")
	briefCmd.Flags().IntVar(&briefLimit, "limit", 20, "maximum alerts per section")
	briefCmd.Flags().BoolVar(&briefIncludeClass0, "include-class0", false, "include informational (class 0) alerts")
}

func runBrief(runGroupID string) error {
	snapshot := configSnapshot()
	startedAt := timeutil.UTCNowZ()

	var rendered string
	var errDiags []artifacts.Diagnostic
	inputRefs := []artifacts.ArtifactRef{artifacts.RunGroupRef(runGroupID)}

	briefErr := func() error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		model, err := brief.Generate(st, brief.Options{
			Since:         briefSince,
			IncludeClass0: briefIncludeClass0,
			Limit:         briefLimit,
		})
		if err != nil {
			return err
		}

		switch briefFormat {
		case "json":
			rendered, err = brief.RenderJSON(model)
			if err != nil {
				return err
			}
		case "md":
			rendered = brief.RenderMarkdown(model)
		default:
			return fmt.Errorf("invalid --format: %s (use md or json)", briefFormat)
		}
		fmt.Println(rendered)

		if ingestHash, digestErr := artifacts.SourceRunsDigest(st, runGroupID, models.PhaseIngest); digestErr == nil {
			inputRefs = append(inputRefs, artifacts.ArtifactRef{
				ID:   "source-runs:ingest:" + runGroupID,
				Hash: ingestHash,
				Kind: "SourceRun",
			})
		}
		return nil
	}()

	if briefErr != nil {
		errDiags = append(errDiags, artifacts.Diagnostic{Code: "BRIEF_ERROR", Message: briefErr.Error()})
	}

	var outputRefs []artifacts.ArtifactRef
	if rendered != "" {
		sum := sha256.Sum256([]byte(rendered))
		outputRefs = append(outputRefs, artifacts.ArtifactRef{
			ID:     "brief:" + runGroupID,
			Hash:   hex.EncodeToString(sum[:]),
			Kind:   "Brief",
			Schema: "brief::" + briefFormat,
			Bytes:  len(rendered),
		})
	}

	if _, _, err := artifacts.EmitRunRecord(artifacts.EmitParams{
		OperatorID:     briefOperatorID,
		Mode:           "best-effort",
		ConfigSnapshot: snapshot,
		StartedAt:      startedAt,
		EndedAt:        timeutil.UTCNowZ(),
		InputRefs:      inputRefs,
		OutputRefs:     outputRefs,
		Errors:         errDiags,
		DestDir:        cfg.Ops.RunRecordsDir,
	}); err != nil {
		logRunRecordFailure("brief", err)
	}
	return briefErr
}
