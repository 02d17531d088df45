package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the config directory from the bundled examples",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config files")
}

// copyConfigFile copies src to dst unless dst already exists. Returns
// whether a file was written.
func copyConfigFile(src, dst string, force bool) (bool, error) {
	if _, err := os.Stat(dst); err == nil && !force {
		return false, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", dst, err)
	}
	return true, nil
}

func runInit() error {
	copies := []struct {
		src, dst string
	}{
		{filepath.Join("config", "sources.example.yaml"), cfg.Paths.SourcesYAML},
		{filepath.Join("config", "suppression.example.yaml"), cfg.Paths.SuppressionYAML},
	}

	var created, skipped int
	for _, c := range copies {
		wrote, err := copyConfigFile(c.src, c.dst, initForce)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Printf("Created %s\n", c.dst)
			created++
		} else {
			fmt.Printf("Skipped %s (already exists, use --force to overwrite)\n", c.dst)
			skipped++
		}
	}

	fmt.Printf("\n%d file(s) created, %d skipped.\n", created, skipped)
	if created > 0 {
		fmt.Println("\nNext steps:")
		fmt.Printf("  1. Review %s and enable the sources you want\n", cfg.Paths.SourcesYAML)
		fmt.Println("  2. Run `hardstop run --since 24h` to fetch and process data")
	}
	return nil
}
