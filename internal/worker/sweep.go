package worker

import (
	"bufio"
	"context"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/redline/internal/model"
)

// Revalidator re-runs the gate on one stored packet and records the
// outcome, returning the packet's new status.
type Revalidator interface {
	RevalidatePacket(ctx context.Context, p model.EvidencePacket) (model.ValidationStatus, error)
}

// RevalidationJob revalidates one packet
type RevalidationJob struct {
	Index       int
	Packet      model.EvidencePacket
	Revalidator Revalidator
	Limiter     *Limiter
}

// Execute waits for the packet write budget and revalidates
func (j *RevalidationJob) Execute(ctx context.Context) Result {
	res := &SweepResult{
		Index:    j.Index,
		PacketID: j.Packet.ID,
		Previous: j.Packet.ValidationStatus,
		Status:   j.Packet.ValidationStatus,
	}

	if j.Limiter != nil {
		if err := j.Limiter.Wait(ctx, string(model.EntityEvidencePacket)); err != nil {
			res.Error = eris.Wrapf(err, "worker: rate limit for packet %s", j.Packet.ID)
			return res
		}
	}

	status, err := j.Revalidator.RevalidatePacket(ctx, j.Packet)
	if err != nil {
		res.Error = err
		return res
	}
	res.Status = status
	return res
}

// SweepResult is the outcome of revalidating one packet
type SweepResult struct {
	Index    int
	PacketID string
	Previous model.ValidationStatus
	Status   model.ValidationStatus
	Error    error
}

// GetError returns the error from the sweep result
func (r *SweepResult) GetError() error {
	return r.Error
}

// Changed reports whether revalidation moved the packet to a new status
func (r *SweepResult) Changed() bool {
	return r.Error == nil && r.Status != r.Previous
}

// SweepTally counts sweep outcomes
type SweepTally struct {
	Total    int                            `json:"total"`
	Changed  int                            `json:"changed"`
	Failed   int                            `json:"failed"`
	ByStatus map[model.ValidationStatus]int `json:"by_status"`
}

// Tally summarizes results
func Tally(results []*SweepResult) SweepTally {
	t := SweepTally{Total: len(results), ByStatus: make(map[model.ValidationStatus]int)}
	for _, r := range results {
		switch {
		case r.Error != nil:
			t.Failed++
		case r.Changed():
			t.Changed++
			t.ByStatus[r.Status]++
		default:
			t.ByStatus[r.Status]++
		}
	}
	return t
}

// Sweeper revalidates packets concurrently
type Sweeper struct {
	revalidator Revalidator
	concurrency int
	limiter     *Limiter
}

// NewSweeper creates a sweeper; a nil limiter disables rate limiting
func NewSweeper(revalidator Revalidator, concurrency int, limiter *Limiter) *Sweeper {
	return &Sweeper{
		revalidator: revalidator,
		concurrency: concurrency,
		limiter:     limiter,
	}
}

// Sweep revalidates packets and returns one result per packet, in input
// order. Packets not reached before ctx is done carry the context error.
func (s *Sweeper) Sweep(ctx context.Context, packets []model.EvidencePacket) []*SweepResult {
	if len(packets) == 0 {
		return []*SweepResult{}
	}

	pool := NewPool(ctx, s.concurrency)
	pool.Start()

	for i, p := range packets {
		job := &RevalidationJob{
			Index:       i,
			Packet:      p,
			Revalidator: s.revalidator,
			Limiter:     s.limiter,
		}
		if !pool.Submit(job) {
			break
		}
	}

	results := pool.Wait()

	out := make([]*SweepResult, len(packets))
	for _, r := range results {
		sr := r.(*SweepResult)
		out[sr.Index] = sr
	}
	for i, p := range packets {
		if out[i] != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		out[i] = &SweepResult{
			Index:    i,
			PacketID: p.ID,
			Previous: p.ValidationStatus,
			Status:   p.ValidationStatus,
			Error:    eris.Wrapf(err, "worker: packet %s not revalidated", p.ID),
		}
	}

	tally := Tally(out)
	zap.L().Info("sweep: finished",
		zap.Int("packets", tally.Total),
		zap.Int("changed", tally.Changed),
		zap.Int("failed", tally.Failed),
		zap.Int("workers", pool.Workers()),
	)
	return out
}

// ReadIDsFromFile reads packet ids, one per line. Blank lines and lines
// starting with '#' are skipped and duplicates are dropped.
func ReadIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, eris.Wrapf(err, "worker: open %s", filePath)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "worker: scan %s", filePath)
	}

	return ids, nil
}

// SortByStatus orders results so failures come first, then changed packets
func SortByStatus(results []*SweepResult) {
	rank := func(r *SweepResult) int {
		switch {
		case r.Error != nil:
			return 0
		case r.Changed():
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return rank(results[i]) < rank(results[j])
	})
}
