// Package cli implements the redline command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/config"
	"github.com/ppiankov/redline/internal/pipeline"
	"github.com/ppiankov/redline/internal/store"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

var (
	cfgFile string
	verbose bool

	// cfg is loaded before every command runs
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "redline",
	Short: "Redline - evidence gate for claims drawn from OCR documents",
	Long: `Redline turns OCR text into addressable chunks, ties claims to exact
document spans and refuses claims that infer identity, speculate about it,
reason by exclusion or collapse a redacted entity into a named one.

Every decision, accepted or not, is written to an append-only validation log
together with the version of the rule table that produced it.

Redline checks how a claim is worded and sourced. It does not decide whether
the claim is true.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		rules := "unknown"
		if v, err := gateValidator(); err == nil {
			rules = v.RuleVersion()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "redline %s (rules %s)\n", Version, rules)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./redline.yaml or $HOME/.redline/redline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration and sets up logging
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = "debug"
	}
	if err := config.InitLogger(loaded.Log); err != nil {
		return err
	}
	if verbose && loaded.File != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", loaded.File)
	}
	cfg = loaded
	return nil
}

// openPipeline opens the configured store and builds a pipeline over it.
// The caller closes the returned store.
func openPipeline(ctx context.Context) (*pipeline.Pipeline, store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	st, err := store.Open(ctx, store.Options{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.FromConfig(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return p, st, nil
}

// readInput reads the named file, or stdin when name is empty or "-"
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "" || name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(name)
	return data, eris.Wrapf(err, "read %s", name)
}

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
