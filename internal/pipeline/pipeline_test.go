package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/redline/internal/cache"
	"github.com/ppiankov/redline/internal/cite"
	"github.com/ppiankov/redline/internal/extract"
	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/store"
	"github.com/ppiankov/redline/internal/validate"
)

const testDocText = "--- PAGE 1 ---\nThe memo is dated March 3, 1998. John Smith was seen at the office on Monday.\n" +
	"--- PAGE 2 ---\nThe second page lists the attendees of the meeting in full.\n"

// stricterRules adds "seen at" to the identity inference phrases
const stricterRules = `
version: "2026.11.1"
rules:
  - id: NO_IDENTITY_INFERENCE
    phrases: ["consistent with", "seen at"]
  - id: NO_PROBABILISTIC_IDENTITY
    phrases: ["likely", "probably"]
  - id: NO_EXCLUSIVITY_REASONING
    phrases: ["must have been"]
identity_relationship_types: [same_as]
`

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	st := newTestStore(t)
	return New(st, Options{}), st
}

func ingestTestDoc(t *testing.T, p *Pipeline) *IngestResult {
	t.Helper()
	res, err := p.Ingest(context.Background(), "memo", testDocText)
	require.NoError(t, err)
	return res
}

func citationFor(t *testing.T, res *IngestResult, excerpt string) model.Citation {
	t.Helper()
	c, ok := cite.CreateCitationFromExcerpt(res.Chunks, excerpt, res.Document.ID)
	require.True(t, ok, "excerpt %q not found", excerpt)
	return c
}

func TestIngest(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	res := ingestTestDoc(t, p)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "memo", res.Document.ID)
	assert.Equal(t, extract.ComputeContentHash(testDocText), res.Document.ContentHash)
	assert.Equal(t, 2, res.Document.PageCount)
	require.Len(t, res.Chunks, 2)

	stored, err := st.ListChunks(ctx, "memo")
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, stored)

	doc, err := st.GetDocument(ctx, "memo")
	require.NoError(t, err)
	assert.Equal(t, testDocText, doc.Text)
}

func TestIngest_DuplicateContent(t *testing.T) {
	p, _ := newTestPipeline(t)
	first := ingestTestDoc(t, p)

	res, err := p.Ingest(context.Background(), "memo-copy", testDocText)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "memo", res.Document.ID)
	assert.Equal(t, first.Chunks, res.Chunks)
}

func TestIngest_IDConflict(t *testing.T) {
	p, _ := newTestPipeline(t)
	ingestTestDoc(t, p)

	_, err := p.Ingest(context.Background(), "memo", "different text")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrDocumentConflict))
}

// staleLookupStore hides stored documents from GetDocument, as a concurrent
// writer landing between the lookup and the save would.
type staleLookupStore struct {
	store.Store
}

func (staleLookupStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	return nil, eris.Wrapf(store.ErrNotFound, "document %s", id)
}

func TestIngest_IDConflictAtSave(t *testing.T) {
	st := newTestStore(t)
	ingestTestDoc(t, New(st, Options{}))

	p := New(staleLookupStore{Store: st}, Options{})
	_, err := p.Ingest(context.Background(), "memo", "different text")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrDocumentConflict))

	doc, err := st.GetDocument(context.Background(), "memo")
	require.NoError(t, err)
	assert.Equal(t, extract.ComputeContentHash(testDocText), doc.ContentHash)
}

func TestIngest_GeneratesID(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.Ingest(context.Background(), "  ", "untitled text")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Document.ID)
	for _, c := range res.Chunks {
		assert.Equal(t, res.Document.ID, c.DocumentID)
	}
}

func TestIngest_UnknownHashAlgorithm(t *testing.T) {
	p := New(newTestStore(t), Options{Hasher: extract.NewHasher("md4")})

	_, err := p.Ingest(context.Background(), "memo", testDocText)
	require.Error(t, err)
	assert.True(t, eris.Is(err, extract.ErrHashUnavailable))
}

func TestIngest_ExtractionCache(t *testing.T) {
	shared := cache.NewExtractionCache(cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)

	p1 := New(newTestStore(t), Options{Cache: shared})
	first, err := p1.Ingest(context.Background(), "memo", testDocText)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	p2 := New(newTestStore(t), Options{Cache: shared})
	second, err := p2.Ingest(context.Background(), "memo", testDocText)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Chunks, second.Chunks)
}

func TestIngestAll(t *testing.T) {
	p, _ := newTestPipeline(t)

	var sources []Source
	for i := 0; i < 6; i++ {
		sources = append(sources, Source{
			ID:   fmt.Sprintf("doc-%d", i),
			Text: fmt.Sprintf("Document number %d records a single filing.", i),
		})
	}

	results, err := p.IngestAll(context.Background(), sources, 3)
	require.NoError(t, err)
	require.Len(t, results, len(sources))
	for i, res := range results {
		assert.Equal(t, sources[i].ID, res.Document.ID)
		assert.Len(t, res.Chunks, 1)
	}
}

func TestIngestAll_Error(t *testing.T) {
	p := New(newTestStore(t), Options{Hasher: extract.NewHasher("md4")})

	_, err := p.IngestAll(context.Background(), []Source{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}, 2)
	require.Error(t, err)
	assert.True(t, eris.Is(err, extract.ErrHashUnavailable))
}

func TestSubmitPacket_Valid(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()
	res := ingestTestDoc(t, p)

	sub, err := p.SubmitPacket(ctx, validate.PacketInput{
		Claim:      "The memo is dated March 3, 1998.",
		ClaimType:  model.ClaimTypeObserved,
		Confidence: 0.9,
		Citations:  []model.Citation{citationFor(t, res, "The memo is dated March 3, 1998.")},
	})
	require.NoError(t, err)
	assert.True(t, sub.Stored)
	assert.Equal(t, model.StatusValid, sub.Result.Status)

	pkt, err := st.GetPacket(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, pkt.ValidationStatus)
	assert.Equal(t, "2026.10.1", pkt.RuleVersion)

	entries, err := st.ListLog(ctx, store.LogFilter{EntityID: sub.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntityEvidencePacket, entries[0].EntityType)
	assert.Equal(t, model.StatusValid, entries[0].Status)
	assert.Equal(t, sub.Entry.ID, entries[0].ID)
}

func TestSubmitPacket_RejectedIsLoggedNotStored(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()
	res := ingestTestDoc(t, p)

	sub, err := p.SubmitPacket(ctx, validate.PacketInput{
		Claim:      "This is likely John Smith",
		ClaimType:  model.ClaimTypeObserved,
		Confidence: 0.6,
		Citations:  []model.Citation{citationFor(t, res, "John Smith was seen at the office")},
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRejected))
	require.NotNil(t, sub)
	assert.False(t, sub.Stored)
	assert.True(t, sub.Result.HasViolation(model.RuleNoProbabilisticIdentity))

	_, err = st.GetPacket(ctx, sub.ID)
	assert.True(t, eris.Is(err, store.ErrNotFound))

	entries, err := st.ListLog(ctx, store.LogFilter{EntityID: sub.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusRejected, entries[0].Status)
	assert.Equal(t, "This is likely John Smith", entries[0].SubjectExcerpt)
}

func TestSubmitPacket_UnresolvedCitationIsFlagged(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()
	ingestTestDoc(t, p)

	sub, err := p.SubmitPacket(ctx, validate.PacketInput{
		Claim:      "The memo is dated March 3, 1998.",
		ClaimType:  model.ClaimTypeObserved,
		Confidence: 0.9,
		Citations:  []model.Citation{{DocumentID: "memo", Page: 7, StartOffset: 0, EndOffset: 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, sub.Result.Status)
	require.Len(t, sub.Result.Warnings, 1)
	assert.Contains(t, sub.Result.Warnings[0], "memo.7.0-10")

	pkt, err := st.GetPacket(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, pkt.ValidationStatus)
	assert.NotEmpty(t, pkt.ValidationNotes)
}

func TestSubmitConnection(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	sub, err := p.SubmitConnection(ctx, model.Connection{
		RelationshipType: "employed_by",
		Source:           &model.EntityRef{ID: "e1", Name: "John Smith"},
		Target:           &model.EntityRef{ID: "e2", Name: "Acme Corp"},
	})
	require.NoError(t, err)
	assert.True(t, sub.Stored)

	conn, err := st.GetConnection(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, conn.ValidationStatus)
}

func TestSubmitConnection_EntityCollapseRejected(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	sub, err := p.SubmitConnection(ctx, model.Connection{
		ID:               "c1",
		RelationshipType: "same_as",
		Source:           &model.EntityRef{ID: "e1", Name: "[REDACTED]", IsRedacted: true},
		Target:           &model.EntityRef{ID: "e2", Name: "John Smith"},
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRejected))
	assert.True(t, sub.Result.HasViolation(model.RuleNoEntityCollapse))

	_, err = st.GetConnection(ctx, "c1")
	assert.True(t, eris.Is(err, store.ErrNotFound))

	entries, err := st.ListLog(ctx, store.LogFilter{EntityType: model.EntityConnection})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].EntityID)
	assert.Equal(t, "same_as", entries[0].SubjectExcerpt)
}

func TestRevalidate_RuleVersionBump(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := New(st, Options{})
	res := ingestTestDoc(t, p)
	sub, err := p.SubmitPacket(ctx, validate.PacketInput{
		Claim:      "John Smith was seen at the office on Monday.",
		ClaimType:  model.ClaimTypeObserved,
		Confidence: 0.8,
		Citations:  []model.Citation{citationFor(t, res, "John Smith was seen at the office on Monday.")},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusValid, sub.Result.Status)

	rules, err := validate.ParseRuleSet([]byte(stricterRules))
	require.NoError(t, err)
	strict := New(st, Options{Validator: validate.NewValidator(rules)})

	report, err := strict.Revalidate(ctx, SweepOptions{Workers: 2, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "2026.11.1", report.RuleVersion)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Tally.Changed)
	assert.Equal(t, model.StatusValid, report.Results[0].Previous)
	assert.Equal(t, model.StatusRejected, report.Results[0].Status)

	pkt, err := st.GetPacket(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, pkt.ValidationStatus)
	assert.Equal(t, "2026.11.1", pkt.RuleVersion)

	entries, err := st.ListLog(ctx, store.LogFilter{EntityID: sub.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.StatusRejected, entries[0].Status)
	assert.Equal(t, model.StatusValid, entries[1].Status)

	// nothing is stale under the current version any more
	again, err := strict.Revalidate(ctx, SweepOptions{Workers: 2})
	require.NoError(t, err)
	assert.Empty(t, again.Results)
}

func TestRevalidate_ByID(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	res := ingestTestDoc(t, p)

	sub, err := p.SubmitPacket(ctx, validate.PacketInput{
		Claim:      "The memo is dated March 3, 1998.",
		ClaimType:  model.ClaimTypeObserved,
		Confidence: 1,
		Citations:  []model.Citation{citationFor(t, res, "The memo is dated March 3, 1998.")},
	})
	require.NoError(t, err)

	report, err := p.Revalidate(ctx, SweepOptions{IDs: []string{sub.ID, "missing"}, RatePerSecond: 100, Burst: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing"}, report.Missing)
	require.Len(t, report.Results, 1)
	assert.NoError(t, report.Results[0].Error)
	assert.False(t, report.Results[0].Changed())
	assert.Equal(t, model.StatusValid, report.Results[0].Status)
}

func TestRevalidate_All(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	res := ingestTestDoc(t, p)

	for _, claim := range []string{"The memo is dated March 3, 1998.", "The second page lists the attendees of the meeting in full."} {
		_, err := p.SubmitPacket(ctx, validate.PacketInput{
			Claim:      claim,
			ClaimType:  model.ClaimTypeObserved,
			Confidence: 1,
			Citations:  []model.Citation{citationFor(t, res, claim)},
		})
		require.NoError(t, err)
	}

	stale, err := p.Revalidate(ctx, SweepOptions{Workers: 2})
	require.NoError(t, err)
	assert.Empty(t, stale.Results)

	all, err := p.Revalidate(ctx, SweepOptions{Workers: 2, All: true})
	require.NoError(t, err)
	assert.Len(t, all.Results, 2)
	assert.Equal(t, 0, all.Tally.Failed)
}

func TestAuditSummary(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	res := ingestTestDoc(t, p)

	_, err := p.SubmitPacket(ctx, validate.PacketInput{
		Claim:      "The memo is dated March 3, 1998.",
		ClaimType:  model.ClaimTypeObserved,
		Confidence: 1,
		Citations:  []model.Citation{citationFor(t, res, "The memo is dated March 3, 1998.")},
	})
	require.NoError(t, err)
	_, err = p.SubmitPacket(ctx, validate.PacketInput{Claim: "It was probably him", ClaimType: model.ClaimTypeUnknown})
	assert.True(t, eris.Is(err, ErrRejected))

	summary, err := p.AuditSummary(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Entries)
	assert.Equal(t, 1, summary.ByStatus[model.StatusRejected])
	assert.Equal(t, 0.5, summary.RejectionRate)

	entries, err := p.AuditLog(ctx, store.LogFilter{Status: model.StatusRejected})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSubmitPacketJSON_MalformedIsLogged(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	sub, err := p.SubmitPacketJSON(ctx, []byte(`{"claim": 42`))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRejected))
	assert.False(t, sub.Stored)
	assert.True(t, sub.Result.HasViolation(model.RuleMalformedInput))

	entries, err := st.ListLog(ctx, store.LogFilter{EntityID: sub.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"claim": 42`, entries[0].SubjectExcerpt)
}

func TestSubmitConnectionJSON(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	sub, err := p.SubmitConnectionJSON(ctx, []byte(`{
		"relationship_type": "employed_by",
		"source": {"id": "e1", "name": "John Smith"},
		"target": {"id": "e2", "name": "Acme Corp"}
	}`))
	require.NoError(t, err)

	conn, err := st.GetConnection(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "employed_by", conn.RelationshipType)

	sub, err = p.SubmitConnectionJSON(ctx, []byte(`{"relationship_type": "same_as"}`))
	assert.True(t, eris.Is(err, ErrRejected))
	assert.True(t, sub.Result.HasViolation(model.RuleMalformedInput))
}
