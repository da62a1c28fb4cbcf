package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ppiankov/redline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

var chunkColumns = []string{"id", "document_id", "page", "start_offset", "end_offset", "doc_start_offset", "doc_end_offset", "text", "chunk_index"}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	text         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	page_count   INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id),
	page         INTEGER NOT NULL,
	start_offset     INTEGER NOT NULL,
	end_offset       INTEGER NOT NULL,
	doc_start_offset INTEGER NOT NULL,
	doc_end_offset   INTEGER NOT NULL,
	text             TEXT NOT NULL,
	chunk_index      INTEGER NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS evidence_packets (
	id                TEXT PRIMARY KEY,
	claim             TEXT NOT NULL,
	claim_type        TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	citations         JSONB NOT NULL,
	uncertainty_notes JSONB NOT NULL,
	raw_output        TEXT NOT NULL DEFAULT '',
	validation_status TEXT NOT NULL DEFAULT 'pending',
	validation_notes  JSONB NOT NULL DEFAULT '[]',
	rule_version      TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS connections (
	id                 TEXT PRIMARY KEY,
	relationship_type  TEXT NOT NULL,
	relationship_label TEXT NOT NULL DEFAULT '',
	source             JSONB NOT NULL,
	target             JSONB NOT NULL,
	citations          JSONB NOT NULL DEFAULT '[]',
	validation_status  TEXT NOT NULL DEFAULT 'pending',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_log (
	id              TEXT PRIMARY KEY,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	rule_version    TEXT NOT NULL,
	status          TEXT NOT NULL,
	violations      JSONB NOT NULL,
	warnings        JSONB NOT NULL,
	subject_excerpt TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE OR REPLACE RULE validation_log_no_update AS ON UPDATE TO validation_log DO INSTEAD NOTHING;
CREATE OR REPLACE RULE validation_log_no_delete AS ON DELETE TO validation_log DO INSTEAD NOTHING;

CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_packets_status ON evidence_packets(validation_status);
CREATE INDEX IF NOT EXISTS idx_packets_rule_version ON evidence_packets(rule_version);
CREATE INDEX IF NOT EXISTS idx_validation_log_entity ON validation_log(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_validation_log_created_at ON validation_log(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *model.Document, chunks []model.Chunk) (err error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx,
		`INSERT INTO documents (id, text, content_hash, page_count, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		doc.ID, doc.Text, doc.ContentHash, doc.PageCount, doc.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert document %s", doc.ID)
	}

	// Documents are immutable: an existing row already has its chunks.
	if tag.RowsAffected() == 0 {
		var stored string
		err = tx.QueryRow(ctx, `SELECT content_hash FROM documents WHERE id = $1`, doc.ID).Scan(&stored)
		if err != nil {
			return eris.Wrapf(err, "postgres: read document %s", doc.ID)
		}
		if stored != doc.ContentHash {
			return eris.Wrapf(ErrConflict, "document %s", doc.ID)
		}
	} else if len(chunks) > 0 {
		rows := make([][]any, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, []any{c.ID, c.DocumentID, c.Page, c.StartOffset, c.EndOffset, c.DocStartOffset, c.DocEndOffset, c.Text, c.ChunkIndex})
		}
		if _, err = tx.CopyFrom(ctx, pgx.Identifier{"chunks"}, chunkColumns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrapf(err, "postgres: COPY chunks of %s", doc.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, text, content_hash, page_count, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Text, &d.ContentHash, &d.PageCount, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return &d, nil
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, contentHash string) (*model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, text, content_hash, page_count, created_at FROM documents
		 WHERE content_hash = $1 ORDER BY created_at LIMIT 1`, contentHash,
	).Scan(&d.ID, &d.Text, &d.ContentHash, &d.PageCount, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document with hash %s", contentHash)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find document by hash")
	}
	return &d, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, documentID string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, page, start_offset, end_offset, doc_start_offset, doc_end_offset, text, chunk_index
		 FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Page, &c.StartOffset, &c.EndOffset, &c.DocStartOffset, &c.DocEndOffset, &c.Text, &c.ChunkIndex); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: list chunks iterate")
}

func (s *PostgresStore) InsertPacket(ctx context.Context, p *model.EvidencePacket) error {
	preparePacket(p)

	citations, notes, validationNotes, err := marshalPacketJSON(p)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO evidence_packets (id, claim, claim_type, confidence, citations, uncertainty_notes,
		 raw_output, validation_status, validation_notes, rule_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Claim, string(p.ClaimType), p.Confidence, citations, notes,
		p.RawOutput, string(p.ValidationStatus), validationNotes, p.RuleVersion, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert packet %s", p.ID)
}

const postgresPacketColumns = `id, claim, claim_type, confidence, citations, uncertainty_notes,
	raw_output, validation_status, validation_notes, rule_version, created_at, updated_at`

func scanPostgresPacket(row pgx.Row) (*model.EvidencePacket, error) {
	var p model.EvidencePacket
	var citations, notes, validationNotes []byte

	if err := row.Scan(&p.ID, &p.Claim, &p.ClaimType, &p.Confidence, &citations, &notes,
		&p.RawOutput, &p.ValidationStatus, &validationNotes, &p.RuleVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalPacketJSON(&p, citations, notes, validationNotes); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPacket(ctx context.Context, id string) (*model.EvidencePacket, error) {
	p, err := scanPostgresPacket(s.pool.QueryRow(ctx,
		`SELECT `+postgresPacketColumns+` FROM evidence_packets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "packet %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get packet %s", id)
	}
	return p, nil
}

func (s *PostgresStore) ListPackets(ctx context.Context, filter PacketFilter) ([]model.EvidencePacket, error) {
	query := `SELECT ` + postgresPacketColumns + ` FROM evidence_packets WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND validation_status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.StaleFor != "" {
		query += fmt.Sprintf(` AND rule_version <> $%d`, argIdx)
		args = append(args, filter.StaleFor)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list packets")
	}
	defer rows.Close()

	var packets []model.EvidencePacket
	for rows.Next() {
		p, err := scanPostgresPacket(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan packet")
		}
		packets = append(packets, *p)
	}
	return packets, eris.Wrap(rows.Err(), "postgres: list packets iterate")
}

func (s *PostgresStore) UpdatePacketValidation(ctx context.Context, id string, v PacketValidation) error {
	notes, err := json.Marshal(nonNilStrings(v.Notes))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation notes")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence_packets SET validation_status = $1, validation_notes = $2, rule_version = $3, updated_at = $4
		 WHERE id = $5`,
		string(v.Status), notes, v.RuleVersion, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update packet validation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "packet %s", id)
	}
	return nil
}

func (s *PostgresStore) InsertConnection(ctx context.Context, c *model.Connection) error {
	prepareConnection(c)

	source, target, citations, err := marshalConnectionJSON(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO connections (id, relationship_type, relationship_label, source, target, citations,
		 validation_status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.RelationshipType, c.RelationshipLabel, source, target, citations,
		string(c.ValidationStatus), c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert connection %s", c.ID)
}

func (s *PostgresStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var c model.Connection
	var source, target, citations []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, relationship_type, relationship_label, source, target, citations, validation_status, created_at
		 FROM connections WHERE id = $1`, id,
	).Scan(&c.ID, &c.RelationshipType, &c.RelationshipLabel, &source, &target, &citations, &c.ValidationStatus, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "connection %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get connection %s", id)
	}
	if err := unmarshalConnectionJSON(&c, source, target, citations); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry model.ValidationLogEntry) error {
	violations, warnings, err := marshalLogJSON(entry)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_log (id, entity_type, entity_id, rule_version, status, violations, warnings,
		 subject_excerpt, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.EntityType), entry.EntityID, entry.RuleVersion, string(entry.Status),
		violations, warnings, entry.SubjectExcerpt, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append log %s", entry.ID)
}

func (s *PostgresStore) ListLog(ctx context.Context, filter LogFilter) ([]model.ValidationLogEntry, error) {
	query := `SELECT id, entity_type, entity_id, rule_version, status, violations, warnings, subject_excerpt, created_at
		FROM validation_log WHERE true`
	args := []any{}
	argIdx := 1

	if filter.EntityType != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argIdx)
		args = append(args, string(filter.EntityType))
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list log")
	}
	defer rows.Close()

	var entries []model.ValidationLogEntry
	for rows.Next() {
		var e model.ValidationLogEntry
		var violations, warnings []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.RuleVersion, &e.Status,
			&violations, &warnings, &e.SubjectExcerpt, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log entry")
		}
		if err := unmarshalLogJSON(&e, violations, warnings); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list log iterate")
}
