package main

import (
	"fmt"
	"os"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hardstop",
	Short: "Hardstop - local-first event-to-alert risk agent",
	Long: `Hardstop fetches external risk feeds, normalizes them into events,
links them to your supply-chain network, and correlates them into alerts.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: hardstop.config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`Hardstop {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(ingestExternalCmd)
	rootCmd.AddCommand(ingestNetworkCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(briefCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(incidentsCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(demoCmd)
}

func openStore() (*store.Store, error) {
	return store.New(cfg.Storage.SQLitePath, logger)
}

func loadSourcesConfig() (*config.SourcesConfig, error) {
	return config.LoadSources(cfg.Paths.SourcesYAML)
}

// loadSuppressionConfig returns nil when no suppression document exists;
// suppression is optional.
func loadSuppressionConfig() *config.SuppressionConfig {
	suppCfg, err := config.LoadSuppression(cfg.Paths.SuppressionYAML)
	if err != nil {
		logger.WithError(err).Debug("no suppression config loaded")
		return nil
	}
	return suppCfg
}

// loadKeywords returns nil when no keywords document exists; the impact
// scorer falls back to its built-in terms.
func loadKeywords() []config.Keyword {
	kwCfg, err := config.LoadKeywords(cfg.Paths.KeywordsYAML)
	if err != nil {
		logger.WithError(err).Debug("no keywords config loaded")
		return nil
	}
	return kwCfg.RiskKeywords
}

// configSnapshot gathers the runtime, sources, and suppression configs for
// RunRecord fingerprinting. Missing documents contribute empty maps so the
// fingerprint stays comparable across runs.
func configSnapshot() map[string]any {
	snapshot := map[string]any{"runtime": cfg}
	if sources, err := loadSourcesConfig(); err == nil {
		snapshot["sources"] = sources
	} else {
		snapshot["sources"] = map[string]any{}
	}
	if supp := loadSuppressionConfig(); supp != nil {
		snapshot["suppression"] = supp
	} else {
		snapshot["suppression"] = map[string]any{}
	}
	return snapshot
}

func logRunRecordFailure(context string, err error) {
	logger.WithError(err).Warnf("Failed to emit %s run record", context)
	fmt.Fprintf(os.Stderr, "[hardstop] RunRecord emission failure (%s): %v\n", context, err)
}
