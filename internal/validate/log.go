package validate

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ppiankov/redline/internal/model"
)

// DefaultExcerptLimit bounds the subject excerpt kept in a log entry, in runes
const DefaultExcerptLimit = 500

// LogBuilder builds audit log entries. The zero value uses the wall clock,
// random UUIDs and DefaultExcerptLimit.
type LogBuilder struct {
	Now          func() time.Time
	NewID        func() string
	ExcerptLimit int
}

// NewLogEntry records one validation decision with the default builder
func NewLogEntry(entityType model.EntityType, entityID string, result model.ValidationResult, subjectText string) model.ValidationLogEntry {
	return LogBuilder{}.NewLogEntry(entityType, entityID, result, subjectText)
}

// NewLogEntry snapshots result so later changes to it cannot alter the entry
func (b LogBuilder) NewLogEntry(entityType model.EntityType, entityID string, result model.ValidationResult, subjectText string) model.ValidationLogEntry {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	newID := uuid.NewString
	if b.NewID != nil {
		newID = b.NewID
	}
	limit := b.ExcerptLimit
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}

	return model.ValidationLogEntry{
		ID:             newID(),
		EntityType:     entityType,
		EntityID:       entityID,
		RuleVersion:    result.RuleVersion,
		Status:         result.Status,
		Violations:     append([]model.Violation{}, result.Violations...),
		Warnings:       append([]string{}, result.Warnings...),
		SubjectExcerpt: excerpt(subjectText, limit),
		CreatedAt:      now().UTC(),
	}
}

func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
