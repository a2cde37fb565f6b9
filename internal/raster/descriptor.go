// Package raster supplies the user-facing descriptor and recipe-builder
// façade: the thin construction/validation layer a caller uses to declare
// a recipe raster and submit queries against it. It deliberately owns no
// runtime scheduling behavior — that lives entirely in the actor system —
// so this package stays the kind of narrow adapter a caller can read in
// one sitting before diving into internal/actors.
package raster

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/geom"
)

// ComputeFn is a user kernel: given the footprints of a recipe's
// primitive inputs already resolved to arrays, produce the output array
// for one compute footprint. Facade is nil when running on a pool whose
// Pool.SameAddressSpace() is false.
type ComputeFn func(facade any, computeFootprint geom.Footprint, primitives map[string]any) (any, error)

// MergeFn combines two adjacent partially-computed arrays covering the
// same cache footprint into one, used by the accumulator when a cache
// tile is assembled from more than one compute tile.
type MergeFn func(a, b any) (any, error)

// Descriptor is a recipe raster's static declaration: its identity, its
// full extent and native grid, the compute/merge kernels, its upstream
// primitive rasters, and its cache/compute tiling parameters.
type Descriptor struct {
	UID              string
	Full             geom.Footprint
	Compute          ComputeFn
	Merge            MergeFn
	Primitives       map[string]string // primitive name -> primitive raster UID
	CacheDir         string            // empty disables on-disk caching
	MaxComputeTile   int               // max_resampling_size equivalent: bounds compute tile subdivision
	MaxCacheTile     int
	ComputePool      string // named pool for compute/merge jobs
	ResamplePool     string // named resample pool, recorded on the Resampler; post-processing runs inline either way
	Bands            int
	BitsPerSample    int
	SampleFormat     uint16
}

// Validate checks a descriptor's internal consistency before it's
// registered with the engine.
func (d Descriptor) Validate() error {
	if d.UID == "" {
		return fmt.Errorf("descriptor: UID is required")
	}
	if d.Compute == nil {
		return fmt.Errorf("descriptor %s: Compute kernel is required", d.UID)
	}
	if d.Full.Width <= 0 || d.Full.Height <= 0 {
		return fmt.Errorf("descriptor %s: Full footprint must have positive extent, got %dx%d", d.UID, d.Full.Width, d.Full.Height)
	}
	if d.MaxComputeTile <= 0 {
		return fmt.Errorf("descriptor %s: MaxComputeTile must be positive", d.UID)
	}
	if d.CacheDir != "" && d.MaxCacheTile <= 0 {
		return fmt.Errorf("descriptor %s: MaxCacheTile must be positive when caching is enabled", d.UID)
	}
	if d.Bands <= 0 {
		return fmt.Errorf("descriptor %s: Bands must be positive", d.UID)
	}
	return nil
}

// ComputeTiles subdivides a requested output footprint into the compute
// tiles that cover it, bounded by MaxComputeTile.
func (d Descriptor) ComputeTiles(fp geom.Footprint) []geom.Footprint {
	return fp.Tile(d.MaxComputeTile, d.MaxComputeTile)
}

// CacheTiles subdivides a requested output footprint into the cache
// tiles that cover it, bounded by MaxCacheTile. Only meaningful when
// CacheDir != "".
func (d Descriptor) CacheTiles(fp geom.Footprint) []geom.Footprint {
	return fp.Tile(d.MaxCacheTile, d.MaxCacheTile)
}

// Cached reports whether this recipe persists computed tiles to disk.
func (d Descriptor) Cached() bool { return d.CacheDir != "" }
