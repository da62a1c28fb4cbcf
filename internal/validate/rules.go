// Package validate is the evidence gate: every claim and relationship is
// checked against a versioned rule table before it can be treated as
// accepted evidence.
package validate

import (
	_ "embed"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/redline/internal/model"
)

//go:embed rules.yaml
var embeddedRules []byte

// ErrInvalidRuleSet is returned when a rule table cannot be used
var ErrInvalidRuleSet = eris.New("invalid rule set")

// ruleOrder is the evaluation and reporting order of the table rules
var ruleOrder = []model.RuleID{
	model.RuleNoIdentityInference,
	model.RuleNoEntityCollapse,
	model.RuleNoProbabilisticIdentity,
	model.RuleCitationRequired,
	model.RuleExplicitUnknowns,
	model.RuleNoExclusivityReasoning,
}

// phraseRules must carry a phrase list
var phraseRules = map[model.RuleID]bool{
	model.RuleNoIdentityInference:     true,
	model.RuleNoProbabilisticIdentity: true,
	model.RuleNoExclusivityReasoning:  true,
}

type ruleFile struct {
	Version                   string      `yaml:"version"`
	Rules                     []ruleEntry `yaml:"rules"`
	IdentityRelationshipTypes []string    `yaml:"identity_relationship_types"`
}

type ruleEntry struct {
	ID          string   `yaml:"id"`
	Severity    string   `yaml:"severity"`
	Description string   `yaml:"description"`
	Phrases     []string `yaml:"phrases"`
}

// Rule is one compiled gate rule
type Rule struct {
	ID          model.RuleID
	Severity    model.Severity
	Description string
	Phrases     []string // normalized
}

// RuleSet is an immutable, versioned rule table. It is safe for concurrent use.
type RuleSet struct {
	version       string
	rules         map[model.RuleID]Rule
	identityTypes map[string]bool
}

var (
	defaultOnce  sync.Once
	defaultRules *RuleSet
)

// DefaultRuleSet returns the embedded rule table, parsed once per process
func DefaultRuleSet() *RuleSet {
	defaultOnce.Do(func() {
		rs, err := ParseRuleSet(embeddedRules)
		if err != nil {
			panic(eris.Wrap(err, "validate: embedded rules.yaml"))
		}
		defaultRules = rs
	})
	return defaultRules
}

// LoadRuleSet reads a rule table from path. An empty path returns the
// embedded table.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read rules %s", path)
	}
	rs, err := ParseRuleSet(data)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: rules %s", path)
	}
	return rs, nil
}

// ParseRuleSet compiles a YAML rule table. Rules missing from the table
// default to hard severity; phrase rules must list at least one phrase.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(ErrInvalidRuleSet, err.Error())
	}
	if strings.TrimSpace(f.Version) == "" {
		return nil, eris.Wrap(ErrInvalidRuleSet, "version is required")
	}

	rs := &RuleSet{
		version:       strings.TrimSpace(f.Version),
		rules:         make(map[model.RuleID]Rule, len(ruleOrder)),
		identityTypes: make(map[string]bool, len(f.IdentityRelationshipTypes)),
	}
	for _, id := range ruleOrder {
		rs.rules[id] = Rule{ID: id, Severity: model.SeverityHard}
	}

	seen := make(map[model.RuleID]bool, len(f.Rules))
	for _, e := range f.Rules {
		id := model.RuleID(strings.TrimSpace(e.ID))
		if _, ok := rs.rules[id]; !ok {
			return nil, eris.Wrapf(ErrInvalidRuleSet, "unknown rule %q", e.ID)
		}
		if seen[id] {
			return nil, eris.Wrapf(ErrInvalidRuleSet, "duplicate rule %q", e.ID)
		}
		seen[id] = true

		rule := Rule{ID: id, Severity: model.SeverityHard, Description: e.Description}
		switch model.Severity(strings.ToLower(strings.TrimSpace(e.Severity))) {
		case "", model.SeverityHard:
		case model.SeveritySoft:
			rule.Severity = model.SeveritySoft
		default:
			return nil, eris.Wrapf(ErrInvalidRuleSet, "rule %s: unknown severity %q", id, e.Severity)
		}
		for _, p := range e.Phrases {
			if p = normalize(p); p != "" {
				rule.Phrases = append(rule.Phrases, p)
			}
		}
		rs.rules[id] = rule
	}

	for _, id := range ruleOrder {
		if phraseRules[id] && len(rs.rules[id].Phrases) == 0 {
			return nil, eris.Wrapf(ErrInvalidRuleSet, "rule %s has no phrases", id)
		}
	}

	for _, t := range f.IdentityRelationshipTypes {
		if t = normalizeRelationship(t); t != "" {
			rs.identityTypes[t] = true
		}
	}
	if len(rs.identityTypes) == 0 {
		return nil, eris.Wrap(ErrInvalidRuleSet, "identity_relationship_types is empty")
	}

	return rs, nil
}

// Version returns the rule table version
func (rs *RuleSet) Version() string {
	return rs.version
}

// Rule returns the compiled rule for id
func (rs *RuleSet) Rule(id model.RuleID) (Rule, bool) {
	r, ok := rs.rules[id]
	return r, ok
}

// Rules returns the table rules in evaluation order
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, 0, len(ruleOrder))
	for _, id := range ruleOrder {
		out = append(out, rs.rules[id])
	}
	return out
}

// IsIdentityRelationship reports whether relationship type t asserts that
// both ends are the same entity.
func (rs *RuleSet) IsIdentityRelationship(t string) bool {
	return rs.identityTypes[normalizeRelationship(t)]
}

// matchPhrases returns the phrases of rule id found in any of texts, in table order
func (rs *RuleSet) matchPhrases(id model.RuleID, texts ...string) []string {
	var normalized []string
	for _, t := range texts {
		if t = normalize(t); t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return nil
	}

	var found []string
	for _, p := range rs.rules[id].Phrases {
		for _, t := range normalized {
			if strings.Contains(t, p) {
				found = append(found, p)
				break
			}
		}
	}
	return found
}

var apostrophes = strings.NewReplacer("‘", "'", "’", "'", "ʼ", "'")

// normalize folds case and compatibility forms and collapses whitespace so
// phrase matching survives OCR and typographic variation.
func normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = apostrophes.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeRelationship maps "Same As", "same-as" and "SAME_AS" to "same_as"
func normalizeRelationship(s string) string {
	s = normalize(s)
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return strings.Trim(s, "_")
}
