package geofile

import "sync"

// windowKey identifies a decoded window within a specific cache-tile file.
type windowKey struct {
	path           string
	x0, y0, w, h int
}

// WindowCache is an LRU-ish cache of decoded sample windows, shared across
// concurrent Reader-actor jobs so that multiple productions depending on the
// same cache tile don't re-decode it from disk repeatedly.
type WindowCache struct {
	mu      sync.Mutex
	entries map[windowKey][]float64
	order   []windowKey
	maxSize int
}

// NewWindowCache creates a cache holding up to maxEntries decoded windows.
func NewWindowCache(maxEntries int) *WindowCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &WindowCache{
		entries: make(map[windowKey][]float64, maxEntries),
		order:   make([]windowKey, 0, maxEntries),
		maxSize: maxEntries,
	}
}

// Get returns a cached window, or nil if absent.
func (c *WindowCache) Get(path string, x0, y0, w, h int) []float64 {
	key := windowKey{path, x0, y0, w, h}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Put stores a decoded window, evicting the oldest entry if full.
func (c *WindowCache) Put(path string, x0, y0, w, h int, samples []float64) {
	key := windowKey{path, x0, y0, w, h}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = samples
	c.order = append(c.order, key)
}

// CachedReader wraps a Reader with a shared WindowCache.
type CachedReader struct {
	*Reader
	path  string
	cache *WindowCache
}

// NewCachedReader wraps r so ReadWindowCached consults cache before decoding.
func NewCachedReader(r *Reader, path string, cache *WindowCache) *CachedReader {
	return &CachedReader{Reader: r, path: path, cache: cache}
}

// ReadWindowCached reads a window, populating/using the shared cache.
func (cr *CachedReader) ReadWindowCached(x0, y0, w, h int) ([]float64, error) {
	if samples := cr.cache.Get(cr.path, x0, y0, w, h); samples != nil {
		return samples, nil
	}
	samples, err := cr.Reader.ReadWindow(x0, y0, w, h)
	if err != nil {
		return nil, err
	}
	cr.cache.Put(cr.path, x0, y0, w, h, samples)
	return samples, nil
}
