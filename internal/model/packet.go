package model

import "time"

// ClaimType categorizes how a claim is supported
type ClaimType string

const (
	ClaimTypeObserved     ClaimType = "Observed"     // Directly visible in cited text
	ClaimTypeCorroborated ClaimType = "Corroborated" // Supported by more than one source
	ClaimTypeUnknown      ClaimType = "Unknown"      // Explicitly unresolved
)

// Valid reports whether t is one of the known claim types.
func (t ClaimType) Valid() bool {
	switch t {
	case ClaimTypeObserved, ClaimTypeCorroborated, ClaimTypeUnknown:
		return true
	}
	return false
}

// RequiresCitation reports whether claims of this type must cite a document.
func (t ClaimType) RequiresCitation() bool {
	return t == ClaimTypeObserved || t == ClaimTypeCorroborated
}

// ValidationStatus is the gate outcome recorded on a packet.
type ValidationStatus string

const (
	StatusPending  ValidationStatus = "pending"
	StatusValid    ValidationStatus = "valid"
	StatusFlagged  ValidationStatus = "flagged"
	StatusRejected ValidationStatus = "rejected"
)

// Final reports whether the status is a validation outcome rather than pending.
func (s ValidationStatus) Final() bool {
	return s == StatusValid || s == StatusFlagged || s == StatusRejected
}

// EvidencePacket is a claim plus its citations and validation outcome.
// Claim and Citations never change after creation; only the validation
// fields move on revalidation.
type EvidencePacket struct {
	ID               string           `json:"id"`
	Claim            string           `json:"claim"`
	ClaimType        ClaimType        `json:"claim_type"`
	Confidence       float64          `json:"confidence"`
	Citations        []Citation       `json:"citations"`
	UncertaintyNotes []string         `json:"uncertainty_notes,omitempty"`
	RawOutput        string           `json:"raw_output,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationNotes  []string         `json:"validation_notes,omitempty"`
	RuleVersion      string           `json:"rule_version,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// EntityRef identifies one end of a connection.
type EntityRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsRedacted bool   `json:"is_redacted"`
}

// Connection is a typed relationship between two entities.
type Connection struct {
	ID                string           `json:"id,omitempty"`
	RelationshipType  string           `json:"relationship_type"`
	RelationshipLabel string           `json:"relationship_label,omitempty"`
	Source            *EntityRef       `json:"source"`
	Target            *EntityRef       `json:"target"`
	Citations         []Citation       `json:"citations,omitempty"`
	ValidationStatus  ValidationStatus `json:"validation_status,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}
