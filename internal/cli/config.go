package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/redline/internal/config"
)

var configInitPath string

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Redline configuration",
	Long: `Manage Redline configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (REDLINE_*, e.g. REDLINE_STORE_DSN)
3. Config file (./redline.yaml or ~/.redline/redline.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, config file and environment are merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.File != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", cfg.File)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(yamlData))

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nWarning: %v\n", err)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Create a configuration file with every option at its default value (default: ~/.redline/redline.yaml).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := configInitPath
		if configPath == "" {
			configPath = filepath.Join(config.Dir(), "redline.yaml")
		}

		if _, err := os.Stat(configPath); err == nil {
			return eris.Errorf("config file already exists: %s\nUse 'redline config show' to view it, or delete it first to recreate", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return eris.Wrap(err, "create config directory")
		}

		yamlData, err := yaml.Marshal(config.Default())
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}

		header := "# Redline configuration\n" +
			"#\n" +
			"# Configuration hierarchy (highest to lowest priority):\n" +
			"#   1. CLI flags\n" +
			"#   2. Environment variables (REDLINE_*)\n" +
			"#   3. This config file\n" +
			"#   4. Built-in defaults\n\n"

		if err := os.WriteFile(configPath, append([]byte(header), yamlData...), 0o644); err != nil {
			return eris.Wrap(err, "write config")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created default configuration: %s\n", configPath)
		fmt.Fprintf(out, "\nTo view the configuration:\n")
		fmt.Fprintf(out, "  redline config show\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "where to write the file")
}
