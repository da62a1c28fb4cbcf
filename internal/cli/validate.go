package cli

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/pipeline"
	"github.com/ppiankov/redline/internal/validate"
)

var (
	validateStore bool
	validateJSON  bool
)

// validateCmd groups the gate commands
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the evidence gate on a packet or connection",
	Long: `Validate reads one JSON evidence packet or connection from a file or
stdin and prints the verdict. Input that does not decode is reported as a
MALFORMED_INPUT violation.

Without --store nothing is written. With --store the decision is appended to
the validation log and, unless rejected, the packet or connection is stored.

A rejected verdict exits non-zero.`,
}

var validatePacketCmd = &cobra.Command{
	Use:   "packet [file]",
	Short: "Validate an evidence packet",
	Long: `Example:
  redline validate packet claim.json
  echo '{"claim":"...","claim_type":"Unknown","confidence":0.2}' | redline validate packet
  redline validate packet claim.json --store`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, argOrStdin(args))
		if err != nil {
			return err
		}

		if !validateStore {
			v, err := gateValidator()
			if err != nil {
				return err
			}
			_, result := v.DecodeAndValidatePacket(data)
			return reportVerdict(cmd.OutOrStdout(), "packet", "", false, result)
		}

		p, st, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sub, err := p.SubmitPacketJSON(cmd.Context(), data)
		if err != nil && sub == nil {
			return err
		}
		return reportVerdict(cmd.OutOrStdout(), "packet", sub.ID, sub.Stored, sub.Result)
	},
}

var validateConnectionCmd = &cobra.Command{
	Use:   "connection [file]",
	Short: "Validate a connection between two entities",
	Long: `Example:
  redline validate connection link.json --store`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, argOrStdin(args))
		if err != nil {
			return err
		}

		if !validateStore {
			v, err := gateValidator()
			if err != nil {
				return err
			}
			_, result := v.DecodeAndValidateConnection(data)
			return reportVerdict(cmd.OutOrStdout(), "connection", "", false, result)
		}

		p, st, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sub, err := p.SubmitConnectionJSON(cmd.Context(), data)
		if err != nil && sub == nil {
			return err
		}
		return reportVerdict(cmd.OutOrStdout(), "connection", sub.ID, sub.Stored, sub.Result)
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the gate rules in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := validate.LoadRuleSet(cfg.Rules.Path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Rule table %s\n\n", rs.Version())
		for _, r := range rs.Rules() {
			fmt.Fprintf(out, "%-28s %-5s %s\n", r.ID, r.Severity, r.Description)
			if len(r.Phrases) > 0 {
				fmt.Fprintf(out, "%-28s       %d phrases\n", "", len(r.Phrases))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.AddCommand(validatePacketCmd, validateConnectionCmd, rulesCmd)

	validateCmd.PersistentFlags().BoolVar(&validateStore, "store", false, "log the decision and store accepted input")
	validateCmd.PersistentFlags().BoolVar(&validateJSON, "json", false, "print the verdict as JSON")
}

// gateValidator builds a validator from the configured rule table
func gateValidator() (*validate.Validator, error) {
	path := ""
	if cfg != nil {
		path = cfg.Rules.Path
	}
	rules, err := validate.LoadRuleSet(path)
	if err != nil {
		return nil, err
	}
	return validate.NewValidator(rules), nil
}

func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

type verdictOutput struct {
	ID     string                 `json:"id,omitempty"`
	Stored bool                   `json:"stored"`
	Result model.ValidationResult `json:"result"`
}

// reportVerdict prints the result and turns a rejection into an error
func reportVerdict(w io.Writer, kind, id string, stored bool, result model.ValidationResult) error {
	if validateJSON {
		if err := writeJSON(w, verdictOutput{ID: id, Stored: stored, Result: result}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "%s %s (rules %s)\n", kind, result.Status, result.RuleVersion)
		if id != "" {
			fmt.Fprintf(w, "  id: %s (stored: %v)\n", id, stored)
		}
		for _, v := range result.Violations {
			fmt.Fprintf(w, "  ✗ [%s] %s: %s\n", v.Severity, v.RuleID, v.Message)
		}
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warning)
		}
	}

	if result.Status == model.StatusRejected {
		return eris.Wrapf(pipeline.ErrRejected, "%s", kind)
	}
	return nil
}
