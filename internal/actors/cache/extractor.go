// Package cache implements the CacheSupervisor and CacheExtractor actors:
// together they own a recipe raster's on-disk cache tile lifecycle —
// unknown, checking, ready, or absent — and enforce that a given cache
// tile is computed from scratch at most once even if multiple queries
// ask for it concurrently.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Extractor locates an already-written cache tile on disk by its
// content-addressed filename prefix, without needing to know its
// checksum suffix in advance (the tile's content — and therefore its
// checksum — is exactly what we don't have yet when checking).
type Extractor struct {
	dir    string
	prefix string
	ext    string
}

// NewExtractor creates an Extractor for cache tiles named
// "<prefix>_<tileKey>_<checksum>.<ext>" under dir.
func NewExtractor(dir, prefix, ext string) *Extractor {
	return &Extractor{dir: dir, prefix: prefix, ext: ext}
}

// FindExisting globs for any file matching this tile's prefix. Because
// the filename is content-addressed, at most one such file should ever
// exist for a given prefix under correct operation; if more than one is
// found, that's the "candidate ambiguity" case the supervisor treats as
// corruption and resolves by removing every candidate.
func (e *Extractor) FindExisting(tileKey string) (matches []string, err error) {
	pattern := filepath.Join(e.dir, fmt.Sprintf("%s_%s_*.%s", e.prefix, tileKey, e.ext))
	matches, err = filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing for existing cache tile %s: %w", tileKey, err)
	}
	return matches, nil
}

// RemoveCandidates deletes every file in matches, used when more than
// one candidate is found for the same tile key (an impossible state
// under correct operation, treated as corruption rather than silently
// picking one).
func (e *Extractor) RemoveCandidates(matches []string) error {
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing ambiguous cache candidate %s: %w", m, err)
		}
	}
	return nil
}
