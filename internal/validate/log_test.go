package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/redline/internal/model"
)

func TestLogBuilder_NewLogEntry(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	b := LogBuilder{
		Now:   func() time.Time { return at },
		NewID: func() string { return "log-1" },
	}
	res := NewValidator(nil).ValidateEvidencePacket(observed("This is likely John Smith"))

	entry := b.NewLogEntry(model.EntityEvidencePacket, "pkt-1", res, "  This is likely John Smith  ")

	assert.Equal(t, "log-1", entry.ID)
	assert.Equal(t, model.EntityEvidencePacket, entry.EntityType)
	assert.Equal(t, "pkt-1", entry.EntityID)
	assert.Equal(t, res.RuleVersion, entry.RuleVersion)
	assert.Equal(t, model.StatusRejected, entry.Status)
	assert.Equal(t, res.Violations, entry.Violations)
	assert.Equal(t, "This is likely John Smith", entry.SubjectExcerpt)
	assert.Equal(t, at.UTC(), entry.CreatedAt)
	assert.Equal(t, time.UTC, entry.CreatedAt.Location())
}

func TestLogBuilder_SnapshotsResult(t *testing.T) {
	res := model.ValidationResult{
		Status:     model.StatusFlagged,
		Violations: []model.Violation{{RuleID: model.RuleExplicitUnknowns, Severity: model.SeveritySoft}},
		Warnings:   []string{"citation 1 has no document id"},
	}

	entry := NewLogEntry(model.EntityConnection, "c1", res, "")
	res.Violations[0].RuleID = model.RuleCitationRequired
	res.Warnings[0] = "changed"

	assert.Equal(t, model.RuleExplicitUnknowns, entry.Violations[0].RuleID)
	assert.Equal(t, "citation 1 has no document id", entry.Warnings[0])
	_, err := uuid.Parse(entry.ID)
	require.NoError(t, err)
}

func TestLogBuilder_BoundsExcerpt(t *testing.T) {
	subject := strings.Repeat("é", 800)

	entry := NewLogEntry(model.EntityEvidencePacket, "p", model.ValidationResult{}, subject)
	assert.Equal(t, DefaultExcerptLimit, len([]rune(entry.SubjectExcerpt)))

	entry = LogBuilder{ExcerptLimit: 10}.NewLogEntry(model.EntityEvidencePacket, "p", model.ValidationResult{}, subject)
	assert.Equal(t, strings.Repeat("é", 10), entry.SubjectExcerpt)
}

func TestLogBuilder_EmptySlicesNotNil(t *testing.T) {
	entry := NewLogEntry(model.EntityEvidencePacket, "p", model.ValidationResult{Status: model.StatusValid}, "x")

	assert.NotNil(t, entry.Violations)
	assert.NotNil(t, entry.Warnings)
}
