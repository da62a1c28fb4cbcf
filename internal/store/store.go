// Package store persists documents, chunks, evidence packets, connections
// and the append-only validation log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/redline/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("not found")

// ErrConflict is returned when an id is already taken by different content.
var ErrConflict = eris.New("conflict")

// PacketFilter specifies criteria for listing evidence packets.
type PacketFilter struct {
	Status model.ValidationStatus `json:"status,omitempty"`
	// StaleFor selects packets validated under any rule version other than this one.
	StaleFor string `json:"stale_for,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// LogFilter specifies criteria for listing validation log entries.
type LogFilter struct {
	EntityType model.EntityType       `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Status     model.ValidationStatus `json:"status,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

// PacketValidation is the mutable part of an evidence packet.
type PacketValidation struct {
	Status      model.ValidationStatus
	Notes       []string
	RuleVersion string
}

// Store defines the persistence interface for redline.
type Store interface {
	// Documents. SaveDocument is a no-op for a document already stored with
	// the same content hash and returns ErrConflict when the hash differs.
	SaveDocument(ctx context.Context, doc *model.Document, chunks []model.Chunk) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	FindDocumentByHash(ctx context.Context, contentHash string) (*model.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]model.Chunk, error)

	// Evidence packets
	InsertPacket(ctx context.Context, p *model.EvidencePacket) error
	GetPacket(ctx context.Context, id string) (*model.EvidencePacket, error)
	ListPackets(ctx context.Context, filter PacketFilter) ([]model.EvidencePacket, error)
	UpdatePacketValidation(ctx context.Context, id string, v PacketValidation) error

	// Connections
	InsertConnection(ctx context.Context, c *model.Connection) error
	GetConnection(ctx context.Context, id string) (*model.Connection, error)

	// Validation log, append-only
	AppendLog(ctx context.Context, entry model.ValidationLogEntry) error
	ListLog(ctx context.Context, filter LogFilter) ([]model.ValidationLogEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Options configures Open.
type Options struct {
	Driver   string
	DSN      string
	MaxConns int32
	MinConns int32
}

// Open connects to the backend named by opts.Driver and migrates it.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		st, err = NewSQLite(opts.DSN)
	case "postgres":
		st, err = NewPostgres(ctx, opts.DSN, &PoolConfig{MaxConns: opts.MaxConns, MinConns: opts.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
