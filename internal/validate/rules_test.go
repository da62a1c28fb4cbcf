package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/redline/internal/model"
)

func TestDefaultRuleSet(t *testing.T) {
	rs := DefaultRuleSet()

	assert.NotEmpty(t, rs.Version())
	assert.Same(t, rs, DefaultRuleSet())

	rules := rs.Rules()
	require.Len(t, rules, 6)
	for _, r := range rules {
		assert.Equal(t, model.SeverityHard, r.Severity, r.ID)
	}

	r, ok := rs.Rule(model.RuleNoProbabilisticIdentity)
	require.True(t, ok)
	for _, p := range []string{"likely", "probably", "possibly", "may be", "could be", "appears to be"} {
		assert.Contains(t, r.Phrases, p)
	}

	r, _ = rs.Rule(model.RuleNoIdentityInference)
	for _, p := range []string{"this could be", "consistent with", "aligns with"} {
		assert.Contains(t, r.Phrases, p)
	}

	r, _ = rs.Rule(model.RuleNoExclusivityReasoning)
	for _, p := range []string{"only person present", "must have been", "no one else could"} {
		assert.Contains(t, r.Phrases, p)
	}
}

func TestRuleSet_IsIdentityRelationship(t *testing.T) {
	rs := DefaultRuleSet()

	for _, typ := range []string{"same_as", "SAME_AS", "Same As", "same-as", " alias_of ", "aka"} {
		assert.True(t, rs.IsIdentityRelationship(typ), typ)
	}
	for _, typ := range []string{"employed_by", "met_with", "", "same"} {
		assert.False(t, rs.IsIdentityRelationship(typ), typ)
	}
}

func TestParseRuleSet_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "version: [unclosed"},
		{"missing version", "rules: []\nidentity_relationship_types: [same_as]"},
		{"unknown rule", "version: v\nrules:\n  - id: NO_GUESSING\nidentity_relationship_types: [same_as]"},
		{"duplicate rule", "version: v\nrules:\n  - id: CITATION_REQUIRED\n  - id: CITATION_REQUIRED\nidentity_relationship_types: [same_as]"},
		{"bad severity", "version: v\nrules:\n  - id: CITATION_REQUIRED\n    severity: fatal\nidentity_relationship_types: [same_as]"},
		{"missing phrases", "version: v\nrules: []\nidentity_relationship_types: [same_as]"},
		{"missing identity types", `version: v
rules:
  - id: NO_IDENTITY_INFERENCE
    phrases: [a]
  - id: NO_PROBABILISTIC_IDENTITY
    phrases: [b]
  - id: NO_EXCLUSIVITY_REASONING
    phrases: [c]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalidRuleSet))
		})
	}
}

func TestParseRuleSet_NormalizesPhrases(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`
version: v2
rules:
  - id: NO_IDENTITY_INFERENCE
    phrases: ["  Consistent   WITH "]
  - id: NO_PROBABILISTIC_IDENTITY
    phrases: ["Ｌｉｋｅｌｙ"]
  - id: NO_EXCLUSIVITY_REASONING
    phrases: ["No One Else Could"]
identity_relationship_types: ["Same As"]
`))
	require.NoError(t, err)

	r, _ := rs.Rule(model.RuleNoIdentityInference)
	assert.Equal(t, []string{"consistent with"}, r.Phrases)
	r, _ = rs.Rule(model.RuleNoProbabilisticIdentity)
	assert.Equal(t, []string{"likely"}, r.Phrases)
	assert.True(t, rs.IsIdentityRelationship("same_as"))
}

func TestLoadRuleSet(t *testing.T) {
	rs, err := LoadRuleSet("")
	require.NoError(t, err)
	assert.Same(t, DefaultRuleSet(), rs)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, embeddedRules, 0o644))
	rs, err = LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRuleSet().Version(), rs.Version())

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
