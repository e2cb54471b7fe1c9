package codec

import (
	"sync"

	"github.com/pcpkit/shmstats/endian"
)

// Cache memoizes Formats by caller-supplied id so that hot paths reuse the
// computed offsets instead of rebuilding them on every operation.
//
// Each registry owns its own cache; there is no process-wide format state.
// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	engine  endian.EndianEngine
	formats map[string]*Format
}

// NewCache creates an empty format cache bound to the given endian engine.
func NewCache(engine endian.EndianEngine) *Cache {
	return &Cache{
		engine:  engine,
		formats: make(map[string]*Format),
	}
}

// Lookup returns the cached Format for id, building and caching it from
// fields on first use. Later calls with the same id ignore fields.
func (c *Cache) Lookup(id string, fields ...Field) (*Format, error) {
	c.mu.RLock()
	f, ok := c.formats[id]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the write lock; another goroutine may have built it.
	if f, ok := c.formats[id]; ok {
		return f, nil
	}

	f, err := New(c.engine, fields...)
	if err != nil {
		return nil, err
	}
	c.formats[id] = f

	return f, nil
}

// Engine returns the endian engine the cache builds formats with.
func (c *Cache) Engine() endian.EndianEngine {
	return c.engine
}
