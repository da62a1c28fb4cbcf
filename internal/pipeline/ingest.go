package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/redline/internal/cache"
	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/store"
)

// Source is one document to ingest
type Source struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// IngestResult describes one ingested document
type IngestResult struct {
	Document  *model.Document `json:"document"`
	Chunks    []model.Chunk   `json:"chunks"`
	Duplicate bool            `json:"duplicate"` // same content was already stored
	Cached    bool            `json:"cached"`    // chunks came from the extraction cache
}

// Ingest hashes, chunks and stores one document. Text already stored under
// any id is not chunked again; the stored document is returned instead.
func (p *Pipeline) Ingest(ctx context.Context, documentID, text string) (*IngestResult, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		documentID = uuid.NewString()
	}

	hash, err := p.hasher.Sum(text)
	if err != nil {
		return nil, err
	}

	existing, err := p.store.FindDocumentByHash(ctx, hash)
	switch {
	case err == nil:
		chunks, err := p.store.ListChunks(ctx, existing.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: chunks of %s", existing.ID)
		}
		zap.L().Debug("pipeline: document already ingested",
			zap.String("document_id", existing.ID),
			zap.String("content_hash", hash),
		)
		return &IngestResult{Document: existing, Chunks: chunks, Duplicate: true}, nil
	case !eris.Is(err, store.ErrNotFound):
		return nil, err
	}

	if prior, err := p.store.GetDocument(ctx, documentID); err == nil {
		return nil, eris.Wrapf(ErrDocumentConflict, "document %s (stored hash %s, new hash %s)",
			documentID, prior.ContentHash, hash)
	} else if !eris.Is(err, store.ErrNotFound) {
		return nil, err
	}

	key := cache.ExtractionKey(documentID, hash, p.chunking)
	result, cached := p.cache.Get(key)
	if !cached {
		result = p.extractor.Extract(documentID, text)
		if err := p.cache.Put(key, result); err != nil {
			zap.L().Warn("pipeline: cache extraction", zap.String("document_id", documentID), zap.Error(err))
		}
	}

	doc := &model.Document{
		ID:          documentID,
		Text:        text,
		ContentHash: hash,
		PageCount:   result.PageCount,
	}
	if err := p.store.SaveDocument(ctx, doc, result.Chunks); err != nil {
		if eris.Is(err, store.ErrConflict) {
			return nil, eris.Wrapf(ErrDocumentConflict, "document %s (new hash %s)", documentID, hash)
		}
		return nil, err
	}

	zap.L().Info("pipeline: document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("pages", doc.PageCount),
		zap.Int("chunks", len(result.Chunks)),
		zap.Int("characters", result.TotalCharacters),
		zap.Bool("cached", cached),
	)
	return &IngestResult{Document: doc, Chunks: result.Chunks, Cached: cached}, nil
}

// IngestAll ingests sources with at most limit in flight and returns the
// results in input order. The first failure cancels the rest.
func (p *Pipeline) IngestAll(ctx context.Context, sources []Source, limit int) ([]*IngestResult, error) {
	if limit <= 0 {
		limit = 1
	}

	results := make([]*IngestResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, src := range sources {
		g.Go(func() error {
			res, err := p.Ingest(gctx, src.ID, src.Text)
			if err != nil {
				return eris.Wrapf(err, "pipeline: ingest %s", src.ID)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
