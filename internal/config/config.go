// Package config loads the runtime configuration plus the structured
// sources, suppression, and keywords documents.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultConfigPath is where the runtime config is looked up when no
// --config flag is given.
const DefaultConfigPath = "hardstop.config.yaml"

// Config holds runtime settings. The structured sources/suppression/keywords
// documents live in separate files under config/.
type Config struct {
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Ops     OpsConfig     `yaml:"ops" mapstructure:"ops"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Demo    DemoConfig    `yaml:"demo" mapstructure:"demo"`
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

type OpsConfig struct {
	RunRecordsDir string `yaml:"run_records_dir" mapstructure:"run_records_dir"`
	IncidentsDir  string `yaml:"incidents_dir" mapstructure:"incidents_dir"`
}

type FetchConfig struct {
	TimeoutSeconds  int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxItems        int    `yaml:"max_items" mapstructure:"max_items"`
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	MinIntervalSecs int    `yaml:"min_interval_seconds" mapstructure:"min_interval_seconds"`
	JitterSeconds   int    `yaml:"jitter_seconds" mapstructure:"jitter_seconds"`
}

type DemoConfig struct {
	FacilitiesCSV string `yaml:"facilities_csv" mapstructure:"facilities_csv"`
	LanesCSV      string `yaml:"lanes_csv" mapstructure:"lanes_csv"`
	ShipmentsCSV  string `yaml:"shipments_csv" mapstructure:"shipments_csv"`
	EventJSON     string `yaml:"event_json" mapstructure:"event_json"`
}

type PathsConfig struct {
	SourcesYAML     string `yaml:"sources_yaml" mapstructure:"sources_yaml"`
	SuppressionYAML string `yaml:"suppression_yaml" mapstructure:"suppression_yaml"`
	KeywordsYAML    string `yaml:"keywords_yaml" mapstructure:"keywords_yaml"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			SQLitePath: "hardstop.db",
		},
		Ops: OpsConfig{
			RunRecordsDir: filepath.Join("ops", "run_records"),
			IncidentsDir:  filepath.Join("ops", "incidents"),
		},
		Fetch: FetchConfig{
			TimeoutSeconds:  20,
			MaxItems:        50,
			UserAgent:       "hardstop/1.0",
			MinIntervalSecs: 2,
			JitterSeconds:   1,
		},
		Demo: DemoConfig{
			FacilitiesCSV: filepath.Join("tests", "fixtures", "facilities.csv"),
			LanesCSV:      filepath.Join("tests", "fixtures", "lanes.csv"),
			ShipmentsCSV:  filepath.Join("tests", "fixtures", "shipments_snapshot.csv"),
			EventJSON:     filepath.Join("tests", "fixtures", "event_spill.json"),
		},
		Paths: PathsConfig{
			SourcesYAML:     filepath.Join("config", "sources.yaml"),
			SuppressionYAML: filepath.Join("config", "suppression.yaml"),
			KeywordsYAML:    filepath.Join("config", "keywords.yaml"),
		},
	}
}

// Load reads the runtime config from path, or the default search locations
// when path is empty. A missing file yields defaults; a malformed file is
// an error.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("ops", cfg.Ops)
	v.SetDefault("fetch", cfg.Fetch)
	v.SetDefault("demo", cfg.Demo)
	v.SetDefault("paths", cfg.Paths)

	v.SetEnvPrefix("HARDSTOP")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hardstop.config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".hardstop"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file must exist and parse. Without a flag,
		// absence falls back to defaults but a broken file is still fatal.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			if path != "" {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			if _, statErr := os.Stat(DefaultConfigPath); statErr == nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if p := os.Getenv("HARDSTOP_SQLITE_PATH"); p != "" {
		cfg.Storage.SQLitePath = p
	}

	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}
}
