// Package cache keeps extraction results keyed by document content so
// re-ingesting the same text skips chunking.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ppiankov/redline/internal/config"
	"github.com/ppiankov/redline/internal/extract"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// keyVersion changes whenever the cached payload shape changes
const keyVersion = "redline:v2:extract:"

// ExtractionKey derives the cache key of one extraction. Chunk IDs depend on
// the document ID and chunk bounds on the config, so both are part of the key.
func ExtractionKey(documentID, contentHash string, cfg extract.Config) string {
	h := sha256.New()
	for _, part := range []string{
		documentID,
		contentHash,
		strconv.Itoa(cfg.TargetChunkSize),
		strconv.Itoa(cfg.MaxChunkSize),
		strconv.Itoa(cfg.MinChunkSize),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return keyVersion + hex.EncodeToString(h.Sum(nil))
}

// New builds the cache described by cfg. It returns nil when caching is
// disabled; an empty disk directory gives a memory-only cache.
func New(cfg config.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	if cfg.DiskDir == "" {
		return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	}
	return NewLayeredCache(cfg.MemoryTTL, cfg.DiskDir, cfg.DiskTTL)
}
