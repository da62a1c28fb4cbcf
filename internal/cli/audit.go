package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/store"
)

var (
	auditEntityType string
	auditEntityID   string
	auditStatus     string
	auditLimit      int
	auditJSON       bool
)

// auditCmd groups the validation log commands
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the validation log",
	Long: `The validation log is append-only: every gate decision is recorded
with its rule version, violations, warnings and an excerpt of the subject.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List validation log entries, newest first",
	Long: `Example:
  redline audit list --status rejected --limit 20
  redline audit list --entity-id 3f6c... --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, st, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := p.AuditLog(cmd.Context(), auditFilter())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			return writeJSON(out, entries)
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-15s %-36s %-8s rules %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.EntityType, e.EntityID, e.Status, e.RuleVersion)
			for _, v := range e.Violations {
				fmt.Fprintf(out, "    ✗ %s: %s\n", v.RuleID, v.Message)
			}
			if e.SubjectExcerpt != "" {
				fmt.Fprintf(out, "    %s\n", preview(e.SubjectExcerpt, 100))
			}
		}
		return nil
	},
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize validation decisions with diagnostic signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, st, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		summary, err := p.AuditSummary(cmd.Context(), auditFilter())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			return writeJSON(out, summary)
		}

		fmt.Fprintf(out, "%d decisions, rejection rate %.2f\n", summary.Entries, summary.RejectionRate)
		for _, status := range []model.ValidationStatus{model.StatusValid, model.StatusFlagged, model.StatusRejected} {
			fmt.Fprintf(out, "  %-9s %d\n", status, summary.ByStatus[status])
		}

		if len(summary.ByRule) > 0 {
			fmt.Fprintln(out, "\nViolations by rule:")
			rules := make([]string, 0, len(summary.ByRule))
			for id := range summary.ByRule {
				rules = append(rules, string(id))
			}
			sort.Strings(rules)
			for _, id := range rules {
				fmt.Fprintf(out, "  %-28s %d\n", id, summary.ByRule[model.RuleID(id)])
			}
		}

		if len(summary.Signals) > 0 {
			fmt.Fprintln(out, "\nSignals:")
			for _, s := range summary.Signals {
				fmt.Fprintf(out, "  [%s] %s\n", s.Severity, s.Description)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditSummaryCmd)

	auditCmd.PersistentFlags().StringVar(&auditEntityType, "entity-type", "", "evidence_packet or connection")
	auditCmd.PersistentFlags().StringVar(&auditEntityID, "entity-id", "", "only entries for this entity")
	auditCmd.PersistentFlags().StringVar(&auditStatus, "status", "", "valid, flagged or rejected")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "maximum entries to read")
	auditCmd.PersistentFlags().BoolVar(&auditJSON, "json", false, "print as JSON")
}

func auditFilter() store.LogFilter {
	return store.LogFilter{
		EntityType: model.EntityType(auditEntityType),
		EntityID:   auditEntityID,
		Status:     model.ValidationStatus(auditStatus),
		Limit:      auditLimit,
	}
}
