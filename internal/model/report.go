package model

import "time"

// AuditSummary is the transparent breakdown of a set of validation log entries
type AuditSummary struct {
	GeneratedAt   time.Time                `json:"generated_at"`
	Entries       int                      `json:"entries"`
	ByStatus      map[ValidationStatus]int `json:"by_status"`
	ByRule        map[RuleID]int           `json:"by_rule"`
	ByEntityType  map[EntityType]int       `json:"by_entity_type"`
	RuleVersions  []string                 `json:"rule_versions"`
	RejectionRate float64                  `json:"rejection_rate"`
	Signals       []Signal                 `json:"signals"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`           // Signal classification
	Severity    SignalSeverity         `json:"severity"`       // info, warning, critical
	Description string                 `json:"description"`    // Human-readable description
	Data        map[string]interface{} `json:"data,omitempty"` // Transparent data (formulas, inputs)
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalRejectionRate     SignalType = "rejection_rate"      // Share of rejected decisions
	SignalRuleConcentration SignalType = "rule_concentration"  // One rule dominates violations
	SignalMixedRuleVersions SignalType = "mixed_rule_versions" // Decisions made under several rule versions
	SignalMalformedInput    SignalType = "malformed_input"     // Callers sending malformed shapes
	SignalFlaggedBacklog    SignalType = "flagged_backlog"     // Flagged decisions awaiting review
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SignalInfo     SignalSeverity = "info"
	SignalWarning  SignalSeverity = "warning"
	SignalCritical SignalSeverity = "critical"
)
