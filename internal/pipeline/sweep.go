package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/redline/internal/config"
	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/store"
	"github.com/ppiankov/redline/internal/worker"
)

// sweepPage is how many packets are listed per store query
const sweepPage = 500

// SweepOptions controls a revalidation sweep
type SweepOptions struct {
	Workers       int
	RatePerSecond float64 // <= 0 means unlimited
	Burst         int
	Timeout       time.Duration // <= 0 means no deadline

	// IDs limits the sweep to these packets. Otherwise packets validated
	// under a rule version other than the current one are swept, or every
	// packet when All is set.
	IDs []string
	All bool
}

// SweepOptionsFromConfig maps the sweep section of the config
func SweepOptionsFromConfig(cfg config.SweepConfig) SweepOptions {
	return SweepOptions{
		Workers:       cfg.Workers,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Timeout:       cfg.Timeout,
	}
}

// SweepReport is the outcome of a sweep
type SweepReport struct {
	RuleVersion string                `json:"rule_version"`
	Results     []*worker.SweepResult `json:"-"`
	Tally       worker.SweepTally     `json:"tally"`
	Missing     []string              `json:"missing,omitempty"` // requested ids not in the store
}

// Revalidate re-runs the gate over stored packets on the worker pool.
// Each packet moves only through an explicit revalidation transition and
// every decision is appended to the validation log.
func (p *Pipeline) Revalidate(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	report := &SweepReport{RuleVersion: p.validator.RuleVersion()}

	var (
		packets []model.EvidencePacket
		err     error
	)
	if len(opts.IDs) > 0 {
		packets, report.Missing, err = p.packetsByID(ctx, opts.IDs)
	} else {
		filter := store.PacketFilter{StaleFor: report.RuleVersion}
		if opts.All {
			filter.StaleFor = ""
		}
		packets, err = p.listAllPackets(ctx, filter)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: sweep starting",
		zap.Int("packets", len(packets)),
		zap.String("rule_version", report.RuleVersion),
		zap.Int("workers", opts.Workers),
	)

	var limiter *worker.Limiter
	if opts.RatePerSecond > 0 {
		limiter = worker.NewLimiter(opts.RatePerSecond, opts.Burst)
	}
	report.Results = worker.NewSweeper(p, opts.Workers, limiter).Sweep(ctx, packets)
	report.Tally = worker.Tally(report.Results)

	for _, r := range report.Results {
		if r.Error != nil {
			zap.L().Warn("pipeline: revalidation failed", zap.String("packet_id", r.PacketID), zap.Error(r.Error))
		}
	}
	return report, nil
}

func (p *Pipeline) packetsByID(ctx context.Context, ids []string) ([]model.EvidencePacket, []string, error) {
	var (
		packets []model.EvidencePacket
		missing []string
	)
	for _, id := range ids {
		pkt, err := p.store.GetPacket(ctx, id)
		if eris.Is(err, store.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		packets = append(packets, *pkt)
	}
	return packets, missing, nil
}

// listAllPackets pages through the filter before any packet is updated,
// so status changes during the sweep cannot shift the pages.
func (p *Pipeline) listAllPackets(ctx context.Context, filter store.PacketFilter) ([]model.EvidencePacket, error) {
	var all []model.EvidencePacket
	filter.Limit = sweepPage
	for {
		page, err := p.store.ListPackets(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < sweepPage {
			return all, nil
		}
		filter.Offset += len(page)
	}
}
