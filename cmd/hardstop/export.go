package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hardstop-io/hardstop/internal/brief"
	"github.com/hardstop-io/hardstop/internal/health"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/spf13/cobra"
)

// ExportSchemaVersion stamps every export envelope.
const ExportSchemaVersion = "1"

var (
	exportBriefSince    string
	exportBriefClass0   bool
	exportBriefLimit    int
	exportBriefFormat   string
	exportBriefOut      string

	exportAlertsSince    string
	exportAlertsClass    string
	exportAlertsTier     string
	exportAlertsSourceID string
	exportAlertsLimit    int
	exportAlertsFormat   string
	exportAlertsOut      string

	exportSourcesLookback string
	exportSourcesStale    int
	exportSourcesFormat   string
	exportSourcesOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export briefs, alerts, and source health as versioned documents",
}

var exportBriefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Export the brief read model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExportBrief()
	},
}

var exportAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Export recent alerts as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExportAlerts()
	},
}

var exportSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Export per-source health reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExportSources()
	},
}

func init() {
	exportBriefCmd.Flags().StringVar(&exportBriefSince, "since", "24h", "time window: 24h, 72h, or 7d")
	exportBriefCmd.Flags().BoolVar(&exportBriefClass0, "include-class0", false, "include informational (class 0) alerts")
	exportBriefCmd.Flags().IntVar(&exportBriefLimit, "limit", 20, "maximum alerts per section")
	exportBriefCmd.Flags().StringVar(&exportBriefFormat, "format", "json", "output format: json")
	exportBriefCmd.Flags().StringVar(&exportBriefOut, "out", "", "write to file instead of stdout")

	exportAlertsCmd.Flags().StringVar(&exportAlertsSince, "since", "24h", "time window: 24h, 72h, or 7d")
	exportAlertsCmd.Flags().StringVar(&exportAlertsClass, "classification", "", "filter by classification: 0, 1, or 2")
	exportAlertsCmd.Flags().StringVar(&exportAlertsTier, "tier", "", "filter by tier: global, regional, or local")
	exportAlertsCmd.Flags().StringVar(&exportAlertsSourceID, "source-id", "", "filter by source ID")
	exportAlertsCmd.Flags().IntVar(&exportAlertsLimit, "limit", 50, "maximum alerts to export")
	exportAlertsCmd.Flags().StringVar(&exportAlertsFormat, "format", "json", "output format: json or csv")
	exportAlertsCmd.Flags().StringVar(&exportAlertsOut, "out", "", "write to file instead of stdout")

	exportSourcesCmd.Flags().StringVar(&exportSourcesLookback, "lookback", "7d", "health lookback window")
	exportSourcesCmd.Flags().IntVar(&exportSourcesStale, "stale", 72, "hours without a successful fetch before a source is stale")
	exportSourcesCmd.Flags().StringVar(&exportSourcesFormat, "format", "json", "output format: json")
	exportSourcesCmd.Flags().StringVar(&exportSourcesOut, "out", "", "write to file instead of stdout")

	exportCmd.AddCommand(exportBriefCmd)
	exportCmd.AddCommand(exportAlertsCmd)
	exportCmd.AddCommand(exportSourcesCmd)
}

// exportEnvelope wraps exported data with a schema version and timestamp
// so downstream consumers can detect format changes.
func exportEnvelope(data any) (string, error) {
	doc := map[string]any{
		"export_schema_version": ExportSchemaVersion,
		"exported_at_utc":       timeutil.UTCNowZ(),
		"data":                  data,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	return string(out), nil
}

func writeExport(content, outPath string) error {
	if outPath == "" {
		fmt.Println(content)
		return nil
	}
	if err := os.WriteFile(outPath, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("Exported to %s\n", outPath)
	return nil
}

func runExportBrief() error {
	if exportBriefFormat != "json" {
		return fmt.Errorf("invalid --format: %s (use json)", exportBriefFormat)
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	model, err := brief.Generate(st, brief.Options{
		Since:         exportBriefSince,
		IncludeClass0: exportBriefClass0,
		Limit:         exportBriefLimit,
	})
	if err != nil {
		return err
	}
	content, err := exportEnvelope(model)
	if err != nil {
		return err
	}
	return writeExport(content, exportBriefOut)
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func alertsCSV(alerts []models.Alert) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	header := []string{
		"alert_id", "classification", "impact_score", "tier", "trust_tier",
		"source_id", "correlation_action", "update_count",
		"first_seen_utc", "last_seen_utc", "summary",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for i := range alerts {
		alert := &alerts[i]
		impact := ""
		if alert.ImpactScore != nil {
			impact = strconv.Itoa(*alert.ImpactScore)
		}
		trust := ""
		if alert.TrustTier != nil {
			trust = strconv.Itoa(*alert.TrustTier)
		}
		row := []string{
			alert.AlertID,
			strconv.Itoa(alert.Classification),
			impact,
			strOrEmpty(alert.Tier),
			trust,
			strOrEmpty(alert.SourceID),
			strOrEmpty(alert.CorrelationAction),
			strconv.Itoa(alert.UpdateCount),
			alert.FirstSeenUTC,
			alert.LastSeenUTC,
			alert.Summary,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func runExportAlerts() error {
	var classification *int
	if exportAlertsClass != "" {
		n, err := strconv.Atoi(exportAlertsClass)
		if err != nil || n < 0 || n > 2 {
			return fmt.Errorf("invalid --classification: %s (use 0, 1, or 2)", exportAlertsClass)
		}
		classification = &n
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sinceHours, ok := timeutil.ParseSince(exportAlertsSince)
	if !ok {
		return fmt.Errorf("invalid --since format: %s (use 24h, 72h, or 7d)", exportAlertsSince)
	}
	alerts, err := st.QueryAlerts(store.AlertFilters{
		SinceHours:     sinceHours,
		Classification: classification,
		Tier:           exportAlertsTier,
		SourceID:       exportAlertsSourceID,
		Limit:          exportAlertsLimit,
	})
	if err != nil {
		return err
	}

	switch exportAlertsFormat {
	case "json":
		content, err := exportEnvelope(alerts)
		if err != nil {
			return err
		}
		return writeExport(content, exportAlertsOut)
	case "csv":
		content, err := alertsCSV(alerts)
		if err != nil {
			return err
		}
		return writeExport(content, exportAlertsOut)
	default:
		return fmt.Errorf("invalid --format: %s (use json or csv)", exportAlertsFormat)
	}
}

func runExportSources() error {
	if exportSourcesFormat != "json" {
		return fmt.Errorf("invalid --format: %s (use json)", exportSourcesFormat)
	}
	lookbackHours, ok := timeutil.ParseSince(exportSourcesLookback)
	if !ok {
		return fmt.Errorf("invalid --lookback format: %s (use 24h, 72h, or 7d)", exportSourcesLookback)
	}
	// The health report wants a run count, not hours; approximate one run
	// per six hours of lookback with a floor of ten.
	lookbackN := max(lookbackHours/6, 10)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := health.Report(st, lookbackN, exportSourcesStale)
	if err != nil {
		return err
	}
	content, err := exportEnvelope(report)
	if err != nil {
		return err
	}
	return writeExport(content, exportSourcesOut)
}
