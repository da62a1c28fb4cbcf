package cache

import (
	"time"

	"github.com/rotisserie/eris"
)

// LayeredCache checks memory before disk and writes through to both
type LayeredCache struct {
	memory Cache
	disk   Cache
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Get retrieves a value, promoting disk hits into memory
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.disk.Get(key); found {
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set stores a value in both layers
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

// Delete removes a value from both layers
func (c *LayeredCache) Delete(key string) error {
	memErr := c.memory.Delete(key)
	if err := c.disk.Delete(key); err != nil {
		return err
	}
	return eris.Wrap(memErr, "cache: delete from memory")
}

// Clear removes all values from both layers
func (c *LayeredCache) Clear() error {
	memErr := c.memory.Clear()
	if err := c.disk.Clear(); err != nil {
		return err
	}
	return eris.Wrap(memErr, "cache: clear memory")
}
