package pipeline

import (
	"context"

	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/score"
	"github.com/ppiankov/redline/internal/store"
)

// AuditLog returns validation log entries, newest first
func (p *Pipeline) AuditLog(ctx context.Context, filter store.LogFilter) ([]model.ValidationLogEntry, error) {
	return p.store.ListLog(ctx, filter)
}

// AuditSummary summarizes the log entries selected by filter
func (p *Pipeline) AuditSummary(ctx context.Context, filter store.LogFilter) (model.AuditSummary, error) {
	entries, err := p.store.ListLog(ctx, filter)
	if err != nil {
		return model.AuditSummary{}, err
	}
	return score.Summarize(entries), nil
}
