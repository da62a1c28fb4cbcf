// Package score summarizes the validation log into counts and diagnostic
// signals. Every signal carries the inputs and formula that produced it.
package score

import (
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/redline/internal/model"
)

// Thresholds for signal severity
const (
	rejectionWarning     = 0.2
	rejectionCritical    = 0.5
	concentrationShare   = 0.6
	concentrationMinimum = 5
	backlogWarning       = 0.25
)

// Scorer builds audit summaries
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Summarize is NewScorer().Summarize
func Summarize(entries []model.ValidationLogEntry) model.AuditSummary {
	return NewScorer().Summarize(entries)
}

// Summarize counts entries by status, rule and entity type and derives the
// diagnostic signals. Entries may be in any order.
func (s *Scorer) Summarize(entries []model.ValidationLogEntry) model.AuditSummary {
	summary := model.AuditSummary{
		GeneratedAt:  s.now().UTC(),
		Entries:      len(entries),
		ByStatus:     make(map[model.ValidationStatus]int),
		ByRule:       make(map[model.RuleID]int),
		ByEntityType: make(map[model.EntityType]int),
		RuleVersions: []string{},
		Signals:      []model.Signal{},
	}
	if len(entries) == 0 {
		return summary
	}

	versions := make(map[string]int)
	malformed := 0
	for _, e := range entries {
		summary.ByStatus[e.Status]++
		summary.ByEntityType[e.EntityType]++
		versions[e.RuleVersion]++

		hasMalformed := false
		for _, v := range e.Violations {
			summary.ByRule[v.RuleID]++
			if v.RuleID == model.RuleMalformedInput {
				hasMalformed = true
			}
		}
		if hasMalformed {
			malformed++
		}
	}
	for v := range versions {
		summary.RuleVersions = append(summary.RuleVersions, v)
	}
	sort.Strings(summary.RuleVersions)

	summary.RejectionRate = float64(summary.ByStatus[model.StatusRejected]) / float64(len(entries))

	summary.Signals = append(summary.Signals, s.rejectionSignal(summary))
	if sig, ok := s.concentrationSignal(summary.ByRule); ok {
		summary.Signals = append(summary.Signals, sig)
	}
	if sig, ok := s.versionSignal(versions); ok {
		summary.Signals = append(summary.Signals, sig)
	}
	if malformed > 0 {
		summary.Signals = append(summary.Signals, model.Signal{
			Type:        model.SignalMalformedInput,
			Severity:    model.SignalWarning,
			Description: fmt.Sprintf("%d decisions were made on malformed input", malformed),
			Data: map[string]interface{}{
				"malformed": malformed,
				"entries":   len(entries),
			},
		})
	}
	if sig, ok := s.backlogSignal(entries); ok {
		summary.Signals = append(summary.Signals, sig)
	}

	return summary
}

// rejectionSignal reports the share of rejected decisions
func (s *Scorer) rejectionSignal(summary model.AuditSummary) model.Signal {
	rejected := summary.ByStatus[model.StatusRejected]

	severity := model.SignalInfo
	if summary.RejectionRate >= rejectionCritical {
		severity = model.SignalCritical
	} else if summary.RejectionRate >= rejectionWarning {
		severity = model.SignalWarning
	}

	return model.Signal{
		Type:        model.SignalRejectionRate,
		Severity:    severity,
		Description: fmt.Sprintf("Rejection rate: %.2f (%d of %d)", summary.RejectionRate, rejected, summary.Entries),
		Data: map[string]interface{}{
			"rejected": rejected,
			"entries":  summary.Entries,
			"rate":     summary.RejectionRate,
			"formula":  "rejected / entries",
		},
	}
}

// concentrationSignal fires when one rule accounts for most violations
func (s *Scorer) concentrationSignal(byRule map[model.RuleID]int) (model.Signal, bool) {
	total := 0
	var top model.RuleID
	for id, n := range byRule {
		total += n
		if n > byRule[top] || (n == byRule[top] && id < top) {
			top = id
		}
	}
	if total < concentrationMinimum {
		return model.Signal{}, false
	}

	share := float64(byRule[top]) / float64(total)
	if share < concentrationShare {
		return model.Signal{}, false
	}

	return model.Signal{
		Type:        model.SignalRuleConcentration,
		Severity:    model.SignalWarning,
		Description: fmt.Sprintf("%s accounts for %.0f%% of violations", top, share*100),
		Data: map[string]interface{}{
			"rule":       string(top),
			"count":      byRule[top],
			"violations": total,
			"share":      share,
			"formula":    "rule_violations / all_violations",
		},
	}, true
}

// versionSignal fires when decisions were made under more than one rule version
func (s *Scorer) versionSignal(versions map[string]int) (model.Signal, bool) {
	if len(versions) < 2 {
		return model.Signal{}, false
	}

	data := make(map[string]interface{}, len(versions))
	for v, n := range versions {
		data[v] = n
	}
	return model.Signal{
		Type:        model.SignalMixedRuleVersions,
		Severity:    model.SignalInfo,
		Description: fmt.Sprintf("Decisions span %d rule versions", len(versions)),
		Data:        data,
	}, true
}

// backlogSignal counts entities whose latest decision is flagged
func (s *Scorer) backlogSignal(entries []model.ValidationLogEntry) (model.Signal, bool) {
	latest := Latest(entries)
	flagged := 0
	for _, e := range latest {
		if e.Status == model.StatusFlagged {
			flagged++
		}
	}
	if flagged == 0 {
		return model.Signal{}, false
	}

	share := float64(flagged) / float64(len(latest))
	severity := model.SignalInfo
	if share >= backlogWarning {
		severity = model.SignalWarning
	}

	return model.Signal{
		Type:        model.SignalFlaggedBacklog,
		Severity:    severity,
		Description: fmt.Sprintf("%d of %d entities await review", flagged, len(latest)),
		Data: map[string]interface{}{
			"flagged":  flagged,
			"entities": len(latest),
			"share":    share,
			"formula":  "entities_latest_flagged / entities",
		},
	}, true
}

type entityKey struct {
	kind model.EntityType
	id   string
}

// Latest returns the most recent entry per entity, ordered by entity type
// and id. Ties on CreatedAt keep the later entry in input order.
func Latest(entries []model.ValidationLogEntry) []model.ValidationLogEntry {
	latest := make(map[entityKey]model.ValidationLogEntry)
	for _, e := range entries {
		k := entityKey{e.EntityType, e.EntityID}
		if cur, ok := latest[k]; ok && cur.CreatedAt.After(e.CreatedAt) {
			continue
		}
		latest[k] = e
	}

	out := make([]model.ValidationLogEntry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}
