package cache

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/redline/internal/model"
)

// ExtractionCache stores extraction results on top of a byte cache.
// A nil *ExtractionCache always misses.
type ExtractionCache struct {
	backend Cache
	ttl     time.Duration
}

// NewExtractionCache wraps backend; a nil backend disables caching
func NewExtractionCache(backend Cache, ttl time.Duration) *ExtractionCache {
	if backend == nil {
		return nil
	}
	return &ExtractionCache{backend: backend, ttl: ttl}
}

// Get returns the cached result for key
func (c *ExtractionCache) Get(key string) (model.ExtractionResult, bool) {
	if c == nil {
		return model.ExtractionResult{}, false
	}
	data, ok := c.backend.Get(key)
	if !ok {
		return model.ExtractionResult{}, false
	}

	var result model.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		_ = c.backend.Delete(key)
		return model.ExtractionResult{}, false
	}
	return result, true
}

// Put stores result under key
func (c *ExtractionCache) Put(key string, result model.ExtractionResult) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "cache: marshal extraction")
	}
	return c.backend.Set(key, data, c.ttl)
}
