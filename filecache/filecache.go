// Package filecache provides a bounded LRU of open hashmap-file handles,
// keyed by hashmap-file index. Eviction flushes and closes the evicted
// handle, guaranteeing release on every exit path (spec.md §4.4, §5).
//
// The cache itself does no locking beyond what's needed to protect its
// own bookkeeping's call into hashicorp/golang-lru; callers are expected
// to hold the keychain's single mutex for the duration of any lookup, so
// that the handle's file position and content stay consistent between
// the lookup and the read/write that follows it (spec.md §5).
package filecache

import (
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Handle wraps an open file with a mutex, matching spec.md's overview of
// a per-handle lock even though in practice the keychain's outer mutex
// already serializes every access; this keeps Handle safe to use on its
// own if a future caller relaxes that outer lock.
type Handle struct {
	mu   sync.Mutex
	File *os.File
}

// Lock and Unlock expose the handle's own mutex to callers that want to
// hold a handle across more than one read/write without re-acquiring it
// from the cache.
func (h *Handle) Lock()   { h.mu.Lock() }
func (h *Handle) Unlock() { h.mu.Unlock() }

// OpenFunc opens (or creates) the backing file for hashmap-file index f.
type OpenFunc func(f uint16) (*os.File, error)

// Cache is a bounded LRU of open hashmap-file handles.
type Cache struct {
	lru  *lru.Cache[uint16, *Handle]
	open OpenFunc
}

// New creates a cache of the given capacity. open is called on a miss to
// produce a new handle; eviction flushes and closes the handle it
// replaces.
func New(size int, open OpenFunc) (*Cache, error) {
	c := &Cache{open: open}

	evictHandle := func(_ uint16, h *Handle) {
		h.mu.Lock()
		defer h.mu.Unlock()
		_ = h.File.Sync()
		_ = h.File.Close()
	}

	l, err := lru.NewWithEvict[uint16, *Handle](size, evictHandle)
	if err != nil {
		return nil, fmt.Errorf("filecache: failed to create lru: %w", err)
	}
	c.lru = l

	return c, nil
}

// Get returns the handle for hashmap-file f, opening it via OpenFunc on
// a cache miss.
func (c *Cache) Get(f uint16) (*Handle, error) {
	if h, ok := c.lru.Get(f); ok {
		return h, nil
	}

	file, err := c.open(f)
	if err != nil {
		return nil, fmt.Errorf("filecache: failed to open hashmap file %d: %w", f, err)
	}

	h := &Handle{File: file}
	c.lru.Add(f, h)

	return h, nil
}

// Flush syncs every cached handle without evicting it.
func (c *Cache) Flush() error {
	var firstErr error
	for _, f := range c.lru.Keys() {
		h, ok := c.lru.Peek(f)
		if !ok {
			continue
		}
		h.mu.Lock()
		err := h.File.Sync()
		h.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filecache: failed to sync hashmap file %d: %w", f, err)
		}
	}
	return firstErr
}

// Close flushes and closes every cached handle, then empties the cache.
func (c *Cache) Close() error {
	var firstErr error
	for _, f := range c.lru.Keys() {
		h, ok := c.lru.Peek(f)
		if !ok {
			continue
		}
		h.mu.Lock()
		_ = h.File.Sync()
		err := h.File.Close()
		h.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filecache: failed to close hashmap file %d: %w", f, err)
		}
	}
	c.lru.Purge()
	return firstErr
}
