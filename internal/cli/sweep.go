package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/pipeline"
	"github.com/ppiankov/redline/internal/worker"
)

var (
	sweepWorkers int
	sweepRate    float64
	sweepBurst   int
	sweepTimeout time.Duration
	sweepAll     bool
	sweepIDsFile string
	sweepJSON    bool
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep [packet_id]...",
	Short: "Revalidate stored packets under the current rule table",
	Long: `Sweep re-runs the gate over stored evidence packets. By default it
selects packets last validated under a different rule version; pass packet
ids, --ids, or --all to choose others.

A packet's status changes only through a sweep, and every revalidation is
appended to the validation log.

Example:
  redline sweep
  redline sweep --all --workers 16 --rate 100
  redline sweep --ids recheck.txt --timeout 2m`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "concurrent revalidations (default from config)")
	sweepCmd.Flags().Float64Var(&sweepRate, "rate", 0, "packet writes per second (default from config)")
	sweepCmd.Flags().IntVar(&sweepBurst, "burst", 0, "rate limiter burst (default from config)")
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 0, "overall sweep timeout (default from config)")
	sweepCmd.Flags().BoolVar(&sweepAll, "all", false, "revalidate every stored packet")
	sweepCmd.Flags().StringVar(&sweepIDsFile, "ids", "", "file of packet ids, one per line")
	sweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "print the sweep report as JSON")
}

func runSweep(cmd *cobra.Command, args []string) error {
	opts := pipeline.SweepOptionsFromConfig(cfg.Sweep)
	if sweepWorkers > 0 {
		opts.Workers = sweepWorkers
	}
	if sweepRate > 0 {
		opts.RatePerSecond = sweepRate
	}
	if sweepBurst > 0 {
		opts.Burst = sweepBurst
	}
	if sweepTimeout > 0 {
		opts.Timeout = sweepTimeout
	}
	opts.All = sweepAll
	opts.IDs = append(opts.IDs, args...)
	if sweepIDsFile != "" {
		ids, err := worker.ReadIDsFromFile(sweepIDsFile)
		if err != nil {
			return err
		}
		opts.IDs = append(opts.IDs, ids...)
	}

	p, st, err := openPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	report, err := p.Revalidate(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sweepJSON {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "Swept %d packets under rules %s: %d changed, %d failed\n",
		report.Tally.Total, report.RuleVersion, report.Tally.Changed, report.Tally.Failed)
	for status, n := range report.Tally.ByStatus {
		fmt.Fprintf(out, "  %-9s %d\n", status, n)
	}
	for _, id := range report.Missing {
		fmt.Fprintf(out, "  ? %s not found\n", id)
	}

	worker.SortByStatus(report.Results)
	for _, r := range report.Results {
		switch {
		case r.Error != nil:
			fmt.Fprintf(out, "  ✗ %s: %v\n", r.PacketID, r.Error)
		case r.Changed():
			fmt.Fprintf(out, "  → %s: %s → %s\n", r.PacketID, r.Previous, r.Status)
		}
	}
	return nil
}
