// Package filecheck implements the FileChecker actor: it validates a
// candidate cache-tile file's geometry, dtype, band count, and embedded
// checksum before CacheSupervisor trusts it as Ready, and removes the
// candidate from disk when it fails validation.
package filecheck

import (
	"fmt"
	"os"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/cache"
	"github.com/rasterflow/rasterflow/internal/geofile"
)

// FileChecker is the per-raster FileChecker actor.
type FileChecker struct {
	rasterUID string
	spec      geofile.ValidationSpec
}

// New creates a FileChecker validating candidates against spec.
func New(rasterUID string, spec geofile.ValidationSpec) *FileChecker {
	return &FileChecker{rasterUID: rasterUID, spec: spec}
}

func (c *FileChecker) supervisorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: c.rasterUID, Actor: "CacheSupervisor"}
}

// Receive implements actor.Actor. Valid titles: "validate".
func (c *FileChecker) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	if env.Title != "validate" {
		return nil, nil
	}
	args := env.Args.(cache.ValidateArgs)
	err := geofile.ValidateCacheFile(args.Path, c.spec)
	if err != nil {
		// A corrupt or stale candidate must not survive on disk: left in
		// place, the next ensure_cache_tile glob would find it again and
		// re-validate the same broken file forever instead of recomputing.
		if removeErr := os.Remove(args.Path); removeErr != nil && !os.IsNotExist(removeErr) {
			err = fmt.Errorf("%w (and failed to remove candidate: %v)", err, removeErr)
		}
	}
	return []actor.Envelope{{
		Dest:  c.supervisorAddr(),
		Title: "validated",
		Args:  cache.ValidatedArgs{CacheTileKey: args.CacheTileKey, Err: err},
		Kind:  actor.Basic,
	}}, nil
}
