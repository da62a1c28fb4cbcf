package model

import "time"

// RuleID names a gate rule
type RuleID string

const (
	RuleNoIdentityInference     RuleID = "NO_IDENTITY_INFERENCE"
	RuleNoEntityCollapse        RuleID = "NO_ENTITY_COLLAPSE"
	RuleNoProbabilisticIdentity RuleID = "NO_PROBABILISTIC_IDENTITY"
	RuleCitationRequired        RuleID = "CITATION_REQUIRED"
	RuleExplicitUnknowns        RuleID = "EXPLICIT_UNKNOWNS"
	RuleNoExclusivityReasoning  RuleID = "NO_EXCLUSIVITY_REASONING"
	RuleMalformedInput          RuleID = "MALFORMED_INPUT" // reserved; raised instead of panicking
)

// Severity of a violation
type Severity string

const (
	SeverityHard Severity = "hard" // forces rejection
	SeveritySoft Severity = "soft" // flags for review
)

// Violation is one rule breach
type Violation struct {
	RuleID   RuleID   `json:"rule_id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult is the verdict of the gate. Pure value; callers decide storage.
type ValidationResult struct {
	Valid       bool             `json:"valid"`
	Status      ValidationStatus `json:"status"`
	Violations  []Violation      `json:"violations"`
	Warnings    []string         `json:"warnings"`
	RuleVersion string           `json:"rule_version"`
}

// HasViolation reports whether the result carries a violation of rule id.
func (r ValidationResult) HasViolation(id RuleID) bool {
	for _, v := range r.Violations {
		if v.RuleID == id {
			return true
		}
	}
	return false
}

// Notes flattens violations and warnings into human-readable validation notes.
func (r ValidationResult) Notes() []string {
	notes := make([]string, 0, len(r.Violations)+len(r.Warnings))
	for _, v := range r.Violations {
		notes = append(notes, string(v.RuleID)+": "+v.Message)
	}
	notes = append(notes, r.Warnings...)
	return notes
}

// EntityType names what a log entry was recorded for
type EntityType string

const (
	EntityEvidencePacket EntityType = "evidence_packet"
	EntityConnection     EntityType = "connection"
)

// ValidationLogEntry is the immutable audit record of one validation decision.
type ValidationLogEntry struct {
	ID             string           `json:"id"`
	EntityType     EntityType       `json:"entity_type"`
	EntityID       string           `json:"entity_id"`
	RuleVersion    string           `json:"rule_version"`
	Status         ValidationStatus `json:"status"`
	Violations     []Violation      `json:"violations"`
	Warnings       []string         `json:"warnings"`
	SubjectExcerpt string           `json:"subject_excerpt,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
