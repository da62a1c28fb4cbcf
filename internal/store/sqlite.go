package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/redline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create directory")
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas apply per connection; one connection keeps them all in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	text         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	page_count   INTEGER NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
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
	confidence        REAL NOT NULL,
	citations         TEXT NOT NULL,
	uncertainty_notes TEXT NOT NULL,
	raw_output        TEXT NOT NULL DEFAULT '',
	validation_status TEXT NOT NULL DEFAULT 'pending',
	validation_notes  TEXT NOT NULL DEFAULT '[]',
	rule_version      TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS connections (
	id                 TEXT PRIMARY KEY,
	relationship_type  TEXT NOT NULL,
	relationship_label TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	target             TEXT NOT NULL,
	citations          TEXT NOT NULL DEFAULT '[]',
	validation_status  TEXT NOT NULL DEFAULT 'pending',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS validation_log (
	id              TEXT PRIMARY KEY,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	rule_version    TEXT NOT NULL,
	status          TEXT NOT NULL,
	violations      TEXT NOT NULL,
	warnings        TEXT NOT NULL,
	subject_excerpt TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE TRIGGER IF NOT EXISTS validation_log_no_update
BEFORE UPDATE ON validation_log
BEGIN
	SELECT RAISE(ABORT, 'validation_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS validation_log_no_delete
BEFORE DELETE ON validation_log
BEGIN
	SELECT RAISE(ABORT, 'validation_log is append-only');
END;

CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_packets_status ON evidence_packets(validation_status);
CREATE INDEX IF NOT EXISTS idx_packets_rule_version ON evidence_packets(rule_version);
CREATE INDEX IF NOT EXISTS idx_validation_log_entity ON validation_log(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_validation_log_created_at ON validation_log(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDocument stores a document and its chunks in one transaction.
// Saving a document that already exists is a no-op.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *model.Document, chunks []model.Chunk) (err error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, text, content_hash, page_count, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		doc.ID, doc.Text, doc.ContentHash, doc.PageCount, doc.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert document %s", doc.ID)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: insert document rows")
	}

	if inserted == 0 {
		var stored string
		err = tx.QueryRowContext(ctx, `SELECT content_hash FROM documents WHERE id = ?`, doc.ID).Scan(&stored)
		if err != nil {
			return eris.Wrapf(err, "sqlite: read document %s", doc.ID)
		}
		if stored != doc.ContentHash {
			return eris.Wrapf(ErrConflict, "document %s", doc.ID)
		}
		return eris.Wrap(tx.Commit(), "sqlite: commit document")
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, page, start_offset, end_offset, doc_start_offset, doc_end_offset, text, chunk_index)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Page, c.StartOffset, c.EndOffset, c.DocStartOffset, c.DocEndOffset, c.Text, c.ChunkIndex,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert chunk %s", c.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit document")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, content_hash, page_count, created_at FROM documents WHERE id = ?`, id)
	return scanDocument(row, id)
}

func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, contentHash string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, content_hash, page_count, created_at FROM documents
		 WHERE content_hash = ? ORDER BY created_at LIMIT 1`, contentHash)
	return scanDocument(row, contentHash)
}

func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, page, start_offset, end_offset, doc_start_offset, doc_end_offset, text, chunk_index
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunks")
	}
	defer rows.Close() //nolint:errcheck

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Page, &c.StartOffset, &c.EndOffset, &c.DocStartOffset, &c.DocEndOffset, &c.Text, &c.ChunkIndex); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: list chunks iterate")
}

func (s *SQLiteStore) InsertPacket(ctx context.Context, p *model.EvidencePacket) error {
	preparePacket(p)

	citations, notes, validationNotes, err := marshalPacketJSON(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence_packets (id, claim, claim_type, confidence, citations, uncertainty_notes,
		 raw_output, validation_status, validation_notes, rule_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Claim, string(p.ClaimType), p.Confidence, string(citations), string(notes),
		p.RawOutput, string(p.ValidationStatus), string(validationNotes), p.RuleVersion, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert packet %s", p.ID)
}

const sqlitePacketColumns = `id, claim, claim_type, confidence, citations, uncertainty_notes,
	raw_output, validation_status, validation_notes, rule_version, created_at, updated_at`

func (s *SQLiteStore) GetPacket(ctx context.Context, id string) (*model.EvidencePacket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePacketColumns+` FROM evidence_packets WHERE id = ?`, id)
	p, err := scanPacket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "packet %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get packet")
	}
	return p, nil
}

func (s *SQLiteStore) ListPackets(ctx context.Context, filter PacketFilter) ([]model.EvidencePacket, error) {
	query := `SELECT ` + sqlitePacketColumns + ` FROM evidence_packets WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND validation_status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.StaleFor != "" {
		query += ` AND rule_version <> ?`
		args = append(args, filter.StaleFor)
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list packets")
	}
	defer rows.Close() //nolint:errcheck

	var packets []model.EvidencePacket
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan packet")
		}
		packets = append(packets, *p)
	}
	return packets, eris.Wrap(rows.Err(), "sqlite: list packets iterate")
}

func (s *SQLiteStore) UpdatePacketValidation(ctx context.Context, id string, v PacketValidation) error {
	notes, err := json.Marshal(nonNilStrings(v.Notes))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation notes")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_packets SET validation_status = ?, validation_notes = ?, rule_version = ?, updated_at = ?
		 WHERE id = ?`,
		string(v.Status), string(notes), v.RuleVersion, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update packet validation %s", id)
	}
	return checkRowsAffected(res, "packet", id)
}

func (s *SQLiteStore) InsertConnection(ctx context.Context, c *model.Connection) error {
	prepareConnection(c)

	source, target, citations, err := marshalConnectionJSON(c)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO connections (id, relationship_type, relationship_label, source, target, citations,
		 validation_status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RelationshipType, c.RelationshipLabel, string(source), string(target), string(citations),
		string(c.ValidationStatus), c.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert connection %s", c.ID)
}

func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var c model.Connection
	var source, target, citations string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, relationship_type, relationship_label, source, target, citations, validation_status, created_at
		 FROM connections WHERE id = ?`, id,
	).Scan(&c.ID, &c.RelationshipType, &c.RelationshipLabel, &source, &target, &citations, &c.ValidationStatus, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "connection %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get connection")
	}
	if err := unmarshalConnectionJSON(&c, []byte(source), []byte(target), []byte(citations)); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry model.ValidationLogEntry) error {
	violations, warnings, err := marshalLogJSON(entry)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_log (id, entity_type, entity_id, rule_version, status, violations, warnings,
		 subject_excerpt, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.EntityType), entry.EntityID, entry.RuleVersion, string(entry.Status),
		string(violations), string(warnings), entry.SubjectExcerpt, entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append log %s", entry.ID)
}

func (s *SQLiteStore) ListLog(ctx context.Context, filter LogFilter) ([]model.ValidationLogEntry, error) {
	query := `SELECT id, entity_type, entity_id, rule_version, status, violations, warnings, subject_excerpt, created_at
		FROM validation_log WHERE 1=1`
	var args []any

	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list log")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.ValidationLogEntry
	for rows.Next() {
		var e model.ValidationLogEntry
		var violations, warnings string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.RuleVersion, &e.Status,
			&violations, &warnings, &e.SubjectExcerpt, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log entry")
		}
		if err := unmarshalLogJSON(&e, []byte(violations), []byte(warnings)); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list log iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable, key string) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.Text, &d.ContentHash, &d.PageCount, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "document %s", key)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	return &d, nil
}

// scanPacket returns sql.ErrNoRows unwrapped so callers can map it.
func scanPacket(row scannable) (*model.EvidencePacket, error) {
	var p model.EvidencePacket
	var citations, notes, validationNotes string

	err := row.Scan(&p.ID, &p.Claim, &p.ClaimType, &p.Confidence, &citations, &notes,
		&p.RawOutput, &p.ValidationStatus, &validationNotes, &p.RuleVersion, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalPacketJSON(&p, []byte(citations), []byte(notes), []byte(validationNotes)); err != nil {
		return nil, err
	}
	return &p, nil
}

// shared by both backends

func preparePacket(p *model.EvidencePacket) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ValidationStatus == "" {
		p.ValidationStatus = model.StatusPending
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
}

func prepareConnection(c *model.Connection) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ValidationStatus == "" {
		c.ValidationStatus = model.StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}

func marshalPacketJSON(p *model.EvidencePacket) (citations, notes, validationNotes []byte, err error) {
	if citations, err = json.Marshal(nonNilCitations(p.Citations)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal citations")
	}
	if notes, err = json.Marshal(nonNilStrings(p.UncertaintyNotes)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal uncertainty notes")
	}
	if validationNotes, err = json.Marshal(nonNilStrings(p.ValidationNotes)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal validation notes")
	}
	return citations, notes, validationNotes, nil
}

func unmarshalPacketJSON(p *model.EvidencePacket, citations, notes, validationNotes []byte) error {
	if err := json.Unmarshal(citations, &p.Citations); err != nil {
		return eris.Wrap(err, "store: unmarshal citations")
	}
	if err := json.Unmarshal(notes, &p.UncertaintyNotes); err != nil {
		return eris.Wrap(err, "store: unmarshal uncertainty notes")
	}
	if err := json.Unmarshal(validationNotes, &p.ValidationNotes); err != nil {
		return eris.Wrap(err, "store: unmarshal validation notes")
	}
	return nil
}

func marshalConnectionJSON(c *model.Connection) (source, target, citations []byte, err error) {
	if source, err = json.Marshal(c.Source); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal source")
	}
	if target, err = json.Marshal(c.Target); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal target")
	}
	if citations, err = json.Marshal(nonNilCitations(c.Citations)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "store: marshal citations")
	}
	return source, target, citations, nil
}

func unmarshalConnectionJSON(c *model.Connection, source, target, citations []byte) error {
	if err := json.Unmarshal(source, &c.Source); err != nil {
		return eris.Wrap(err, "store: unmarshal source")
	}
	if err := json.Unmarshal(target, &c.Target); err != nil {
		return eris.Wrap(err, "store: unmarshal target")
	}
	if err := json.Unmarshal(citations, &c.Citations); err != nil {
		return eris.Wrap(err, "store: unmarshal citations")
	}
	return nil
}

func marshalLogJSON(e model.ValidationLogEntry) (violations, warnings []byte, err error) {
	if e.Violations == nil {
		e.Violations = []model.Violation{}
	}
	if violations, err = json.Marshal(e.Violations); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal violations")
	}
	if warnings, err = json.Marshal(nonNilStrings(e.Warnings)); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal warnings")
	}
	return violations, warnings, nil
}

func unmarshalLogJSON(e *model.ValidationLogEntry, violations, warnings []byte) error {
	if err := json.Unmarshal(violations, &e.Violations); err != nil {
		return eris.Wrap(err, "store: unmarshal violations")
	}
	if err := json.Unmarshal(warnings, &e.Warnings); err != nil {
		return eris.Wrap(err, "store: unmarshal warnings")
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilCitations(c []model.Citation) []model.Citation {
	if c == nil {
		return []model.Citation{}
	}
	return c
}
