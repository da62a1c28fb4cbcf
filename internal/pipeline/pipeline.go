// Package pipeline wires extraction, the evidence gate and the store:
// documents are ingested into chunks, packets and connections are gated
// before they are stored, and every decision lands in the validation log.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/redline/internal/cache"
	"github.com/ppiankov/redline/internal/config"
	"github.com/ppiankov/redline/internal/extract"
	"github.com/ppiankov/redline/internal/model"
	"github.com/ppiankov/redline/internal/store"
	"github.com/ppiankov/redline/internal/validate"
)

var (
	// ErrRejected marks a packet or connection refused by the gate
	ErrRejected = eris.New("rejected by the evidence gate")

	// ErrDocumentConflict is returned when a document id is reused for different text
	ErrDocumentConflict = eris.New("document id already holds different content")
)

// Options configures a Pipeline. Zero fields take package defaults.
type Options struct {
	Chunking  extract.Config
	Hasher    *extract.Hasher
	Validator *validate.Validator
	Cache     *cache.ExtractionCache
	Log       validate.LogBuilder
}

// Pipeline orchestrates ingestion, submission and revalidation
type Pipeline struct {
	store     store.Store
	extractor *extract.Extractor
	chunking  extract.Config
	hasher    *extract.Hasher
	validator *validate.Validator
	cache     *cache.ExtractionCache
	logs      validate.LogBuilder
}

// New creates a pipeline over st
func New(st store.Store, opts Options) *Pipeline {
	if opts.Chunking == (extract.Config{}) {
		opts.Chunking = extract.DefaultConfig()
	}
	if opts.Hasher == nil {
		opts.Hasher = extract.NewHasher(extract.AlgorithmSHA256)
	}
	if opts.Validator == nil {
		opts.Validator = validate.NewValidator(nil)
	}

	return &Pipeline{
		store:     st,
		extractor: extract.NewExtractor(opts.Chunking),
		chunking:  opts.Chunking,
		hasher:    opts.Hasher,
		validator: opts.Validator,
		cache:     opts.Cache,
		logs:      opts.Log,
	}
}

// FromConfig builds a pipeline from loaded configuration
func FromConfig(cfg *config.Config, st store.Store) (*Pipeline, error) {
	rules, err := validate.LoadRuleSet(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	return New(st, Options{
		Chunking:  cfg.Chunking,
		Hasher:    extract.NewHasher(cfg.Hash.Algorithm),
		Validator: validate.NewValidator(rules),
		Cache:     cache.NewExtractionCache(cache.New(cfg.Cache), cfg.Cache.DiskTTL),
	}), nil
}

// Validator returns the gate in use
func (p *Pipeline) Validator() *validate.Validator {
	return p.validator
}

// Submission is the outcome of submitting a packet or connection
type Submission struct {
	ID     string                   `json:"id"`
	Stored bool                     `json:"stored"`
	Result model.ValidationResult   `json:"result"`
	Entry  model.ValidationLogEntry `json:"log_entry"`
}

// SubmitPacket gates in and stores it unless rejected. The decision is
// logged either way; a rejection returns the submission with ErrRejected.
func (p *Pipeline) SubmitPacket(ctx context.Context, in validate.PacketInput) (*Submission, error) {
	chunks, err := p.citedChunks(ctx, in.Citations)
	if err != nil {
		return nil, err
	}
	in.Chunks = chunks

	result := p.validator.ValidateEvidencePacket(in)
	status, err := validate.NextStatus(model.StatusPending, result.Status, validate.TriggerInitial)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: packet status")
	}

	sub := &Submission{ID: uuid.NewString(), Result: result}
	if status != model.StatusRejected {
		packet := &model.EvidencePacket{
			ID:               sub.ID,
			Claim:            in.Claim,
			ClaimType:        in.ClaimType,
			Confidence:       in.Confidence,
			Citations:        in.Citations,
			UncertaintyNotes: in.UncertaintyNotes,
			RawOutput:        in.RawOutput,
			ValidationStatus: status,
			ValidationNotes:  result.Notes(),
			RuleVersion:      result.RuleVersion,
		}
		if err := p.store.InsertPacket(ctx, packet); err != nil {
			return nil, err
		}
		sub.Stored = true
	}

	sub.Entry = p.logs.NewLogEntry(model.EntityEvidencePacket, sub.ID, result, in.Claim)
	if err := p.store.AppendLog(ctx, sub.Entry); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: packet validated",
		zap.String("packet_id", sub.ID),
		zap.String("status", string(result.Status)),
		zap.Int("violations", len(result.Violations)),
		zap.Int("warnings", len(result.Warnings)),
		zap.String("rule_version", result.RuleVersion),
	)

	if !sub.Stored {
		return sub, eris.Wrapf(ErrRejected, "packet %s", sub.ID)
	}
	return sub, nil
}

// SubmitConnection gates c and stores it unless rejected
func (p *Pipeline) SubmitConnection(ctx context.Context, c model.Connection) (*Submission, error) {
	result := p.validator.ValidateConnection(c)
	status, err := validate.NextStatus(model.StatusPending, result.Status, validate.TriggerInitial)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: connection status")
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	sub := &Submission{ID: c.ID, Result: result}
	if status != model.StatusRejected {
		c.ValidationStatus = status
		if err := p.store.InsertConnection(ctx, &c); err != nil {
			return nil, err
		}
		sub.Stored = true
	}

	sub.Entry = p.logs.NewLogEntry(model.EntityConnection, sub.ID, result, connectionSubject(c))
	if err := p.store.AppendLog(ctx, sub.Entry); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: connection validated",
		zap.String("connection_id", sub.ID),
		zap.String("relationship_type", c.RelationshipType),
		zap.String("status", string(result.Status)),
		zap.Int("violations", len(result.Violations)),
	)

	if !sub.Stored {
		return sub, eris.Wrapf(ErrRejected, "connection %s", sub.ID)
	}
	return sub, nil
}

// SubmitPacketJSON decodes data and submits the packet. Input the gate
// cannot evaluate is logged as a rejected decision against a fresh id.
func (p *Pipeline) SubmitPacketJSON(ctx context.Context, data []byte) (*Submission, error) {
	in, result := p.validator.DecodeAndValidatePacket(data)
	if result.HasViolation(model.RuleMalformedInput) {
		return p.logMalformed(ctx, model.EntityEvidencePacket, result, string(data))
	}
	return p.SubmitPacket(ctx, in)
}

// SubmitConnectionJSON decodes data and submits the connection
func (p *Pipeline) SubmitConnectionJSON(ctx context.Context, data []byte) (*Submission, error) {
	c, result := p.validator.DecodeAndValidateConnection(data)
	if result.HasViolation(model.RuleMalformedInput) {
		return p.logMalformed(ctx, model.EntityConnection, result, string(data))
	}
	return p.SubmitConnection(ctx, c)
}

func (p *Pipeline) logMalformed(ctx context.Context, entityType model.EntityType, result model.ValidationResult, raw string) (*Submission, error) {
	sub := &Submission{ID: uuid.NewString(), Result: result}
	sub.Entry = p.logs.NewLogEntry(entityType, sub.ID, result, raw)
	if err := p.store.AppendLog(ctx, sub.Entry); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: malformed input rejected",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", sub.ID),
		zap.Int("violations", len(result.Violations)),
	)
	return sub, eris.Wrapf(ErrRejected, "%s %s", entityType, sub.ID)
}

// RevalidatePacket re-runs the gate on a stored packet under the current
// rule table, records the new status and logs the decision.
func (p *Pipeline) RevalidatePacket(ctx context.Context, packet model.EvidencePacket) (model.ValidationStatus, error) {
	in := validate.InputFromPacket(packet)
	chunks, err := p.citedChunks(ctx, packet.Citations)
	if err != nil {
		return packet.ValidationStatus, err
	}
	in.Chunks = chunks

	result := p.validator.ValidateEvidencePacket(in)

	trigger := validate.TriggerRevalidation
	if !packet.ValidationStatus.Final() {
		trigger = validate.TriggerInitial
	}
	next, err := validate.NextStatus(packet.ValidationStatus, result.Status, trigger)
	if err != nil {
		return packet.ValidationStatus, eris.Wrapf(err, "pipeline: revalidate packet %s", packet.ID)
	}

	err = p.store.UpdatePacketValidation(ctx, packet.ID, store.PacketValidation{
		Status:      next,
		Notes:       result.Notes(),
		RuleVersion: result.RuleVersion,
	})
	if err != nil {
		return packet.ValidationStatus, err
	}

	entry := p.logs.NewLogEntry(model.EntityEvidencePacket, packet.ID, result, packet.Claim)
	if err := p.store.AppendLog(ctx, entry); err != nil {
		return next, err
	}

	if next != packet.ValidationStatus {
		zap.L().Info("pipeline: packet status changed",
			zap.String("packet_id", packet.ID),
			zap.String("from", string(packet.ValidationStatus)),
			zap.String("to", string(next)),
			zap.String("rule_version", result.RuleVersion),
		)
	}
	return next, nil
}

// citedChunks loads the chunks of every document cited, so the gate can
// check that citations land on real text. Unknown documents add nothing.
func (p *Pipeline) citedChunks(ctx context.Context, citations []model.Citation) ([]model.Chunk, error) {
	chunks := make([]model.Chunk, 0)
	seen := make(map[string]bool)
	for _, c := range citations {
		if c.DocumentID == "" || seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true

		docChunks, err := p.store.ListChunks(ctx, c.DocumentID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: chunks of %s", c.DocumentID)
		}
		chunks = append(chunks, docChunks...)
	}
	return chunks, nil
}

func connectionSubject(c model.Connection) string {
	subject := c.RelationshipType
	if c.RelationshipLabel != "" {
		subject += ": " + c.RelationshipLabel
	}
	return subject
}
