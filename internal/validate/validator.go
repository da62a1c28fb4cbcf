package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/redline/internal/cite"
	"github.com/ppiankov/redline/internal/model"
)

// PacketInput is the subject of one evidence packet validation
type PacketInput struct {
	Claim            string           `json:"claim"`
	ClaimType        model.ClaimType  `json:"claim_type"`
	Confidence       float64          `json:"confidence"`
	Citations        []model.Citation `json:"citations"`
	UncertaintyNotes []string         `json:"uncertainty_notes"`
	RawOutput        string           `json:"raw_output,omitempty"`

	// Chunks, when set, are the known chunks of the cited documents.
	// Citations that do not land inside one of them produce a warning.
	Chunks []model.Chunk `json:"-"`
}

// InputFromPacket builds the validation subject of a stored packet
func InputFromPacket(p model.EvidencePacket) PacketInput {
	return PacketInput{
		Claim:            p.Claim,
		ClaimType:        p.ClaimType,
		Confidence:       p.Confidence,
		Citations:        p.Citations,
		UncertaintyNotes: p.UncertaintyNotes,
		RawOutput:        p.RawOutput,
	}
}

// Validator checks packets and connections against a rule set.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	rules *RuleSet
}

// NewValidator creates a validator; a nil rule set means DefaultRuleSet
func NewValidator(rules *RuleSet) *Validator {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Validator{rules: rules}
}

// RuleVersion returns the version of the rule table in use
func (v *Validator) RuleVersion() string {
	return v.rules.version
}

// verdict accumulates violations and warnings of one validation
type verdict struct {
	rules      *RuleSet
	violations []model.Violation
	warnings   []string
}

func (vd *verdict) violate(id model.RuleID, format string, args ...any) {
	severity := model.SeverityHard
	if r, ok := vd.rules.rules[id]; ok {
		severity = r.Severity
	}
	vd.violations = append(vd.violations, model.Violation{
		RuleID:   id,
		Message:  fmt.Sprintf(format, args...),
		Severity: severity,
	})
}

func (vd *verdict) warn(format string, args ...any) {
	vd.warnings = append(vd.warnings, fmt.Sprintf(format, args...))
}

func (vd *verdict) phrases(id model.RuleID, what string, texts ...string) {
	if found := vd.rules.matchPhrases(id, texts...); len(found) > 0 {
		vd.violate(id, "%s contains %s", what, quoteAll(found))
	}
}

func (vd *verdict) result() model.ValidationResult {
	res := model.ValidationResult{
		Valid:       true,
		Status:      model.StatusValid,
		Violations:  []model.Violation{},
		Warnings:    []string{},
		RuleVersion: vd.rules.version,
	}
	res.Violations = append(res.Violations, vd.violations...)
	res.Warnings = append(res.Warnings, vd.warnings...)

	for _, v := range res.Violations {
		if v.Severity == model.SeverityHard {
			res.Valid = false
			res.Status = model.StatusRejected
			return res
		}
	}
	if len(res.Violations) > 0 || len(res.Warnings) > 0 {
		res.Status = model.StatusFlagged
	}
	return res
}

// ValidateEvidencePacket evaluates every rule against in and reports all
// violations at once. Identical input and rule version give identical output.
func (v *Validator) ValidateEvidencePacket(in PacketInput) model.ValidationResult {
	vd := &verdict{rules: v.rules}

	if strings.TrimSpace(in.Claim) == "" {
		vd.malformed("claim is required")
	}
	if !in.ClaimType.Valid() {
		vd.malformed("claim_type %q is not one of Observed, Corroborated, Unknown", in.ClaimType)
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		vd.malformed("confidence %v is outside [0, 1]", in.Confidence)
	}

	vd.phrases(model.RuleNoIdentityInference, "claim", in.Claim, in.RawOutput)
	vd.phrases(model.RuleNoProbabilisticIdentity, "claim", in.Claim)
	vd.checkCitations(in)
	if in.ClaimType == model.ClaimTypeUnknown && !hasText(in.UncertaintyNotes) {
		vd.violate(model.RuleExplicitUnknowns, "Unknown claim must list its uncertainty notes")
	}
	vd.phrases(model.RuleNoExclusivityReasoning, "claim", in.Claim, in.RawOutput)

	return vd.result()
}

func (vd *verdict) checkCitations(in PacketInput) {
	resolvable := 0
	for _, c := range in.Citations {
		if strings.TrimSpace(c.DocumentID) != "" {
			resolvable++
		}
	}

	if in.ClaimType.RequiresCitation() {
		if len(in.Citations) == 0 {
			vd.violate(model.RuleCitationRequired, "%s claim has no citations", in.ClaimType)
			return
		}
		if resolvable == 0 {
			vd.violate(model.RuleCitationRequired, "%s claim has no citation with a document id", in.ClaimType)
			return
		}
	}

	for i, c := range in.Citations {
		switch {
		case strings.TrimSpace(c.DocumentID) == "":
			vd.warn("citation %d has no document id", i+1)
		case !cite.Valid(c):
			vd.warn("citation %d (%s) does not address a valid span", i+1, cite.Format(c))
		case in.Chunks != nil:
			if _, ok := cite.Resolve(in.Chunks, c); !ok {
				vd.warn("citation %d (%s) does not fall inside a known chunk", i+1, cite.Format(c))
			}
		}
	}
}

// ValidateConnection checks a relationship between two entities. Identity
// relationships between a redacted and a named entity are refused, and the
// relationship label is held to the same phrase rules as claims.
func (v *Validator) ValidateConnection(c model.Connection) model.ValidationResult {
	vd := &verdict{rules: v.rules}

	if strings.TrimSpace(c.RelationshipType) == "" {
		vd.malformed("relationship_type is required")
	}
	if c.Source == nil {
		vd.malformed("source entity is required")
	}
	if c.Target == nil {
		vd.malformed("target entity is required")
	}

	label := c.RelationshipLabel
	vd.phrases(model.RuleNoIdentityInference, "relationship label", label)
	if c.Source != nil && c.Target != nil &&
		c.Source.IsRedacted != c.Target.IsRedacted &&
		v.rules.IsIdentityRelationship(c.RelationshipType) {
		redacted, named := c.Source, c.Target
		if named.IsRedacted {
			redacted, named = named, redacted
		}
		vd.violate(model.RuleNoEntityCollapse, "relationship %q equates redacted entity %s with named entity %s",
			c.RelationshipType, entityName(redacted), entityName(named))
	}
	vd.phrases(model.RuleNoProbabilisticIdentity, "relationship label", label)
	vd.phrases(model.RuleNoExclusivityReasoning, "relationship label", label)

	return vd.result()
}

// DecodeAndValidatePacket validates a JSON packet. Input that does not
// decode is reported as MALFORMED_INPUT, never returned as an error.
func (v *Validator) DecodeAndValidatePacket(data []byte) (PacketInput, model.ValidationResult) {
	var in PacketInput
	if err := json.Unmarshal(data, &in); err != nil {
		vd := &verdict{rules: v.rules}
		vd.malformed("packet does not decode: %v", err)
		return PacketInput{}, vd.result()
	}
	return in, v.ValidateEvidencePacket(in)
}

// DecodeAndValidateConnection validates a JSON connection
func (v *Validator) DecodeAndValidateConnection(data []byte) (model.Connection, model.ValidationResult) {
	var c model.Connection
	if err := json.Unmarshal(data, &c); err != nil {
		vd := &verdict{rules: v.rules}
		vd.malformed("connection does not decode: %v", err)
		return model.Connection{}, vd.result()
	}
	return c, v.ValidateConnection(c)
}

// malformed records input the gate cannot evaluate. It is always hard.
func (vd *verdict) malformed(format string, args ...any) {
	vd.violations = append(vd.violations, model.Violation{
		RuleID:   model.RuleMalformedInput,
		Message:  fmt.Sprintf(format, args...),
		Severity: model.SeverityHard,
	})
}

func hasText(notes []string) bool {
	for _, n := range notes {
		if strings.TrimSpace(n) != "" {
			return true
		}
	}
	return false
}

func entityName(e *model.EntityRef) string {
	if e.Name != "" {
		return fmt.Sprintf("%q", e.Name)
	}
	return fmt.Sprintf("%q", e.ID)
}

func quoteAll(phrases []string) string {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return strings.Join(quoted, ", ")
}
