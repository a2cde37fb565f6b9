// Package reader implements the Reader actor: it loads a windowed sample
// from an on-disk cache tile (one CacheSupervisor has already marked
// Ready) into memory for a primitive raster's production pipeline,
// sharing decoded windows across concurrent readers of the same file via
// internal/geofile's WindowCache.
package reader

import (
	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/geofile"
)

// Reader is the per-raster Reader actor.
type Reader struct {
	rasterUID string
	cache     *geofile.WindowCache
	open      map[string]*geofile.Reader
}

// New creates a Reader for rasterUID, sharing decoded windows across
// reads via cache.
func New(rasterUID string, cache *geofile.WindowCache) *Reader {
	return &Reader{rasterUID: rasterUID, cache: cache, open: make(map[string]*geofile.Reader)}
}

func (r *Reader) resamplerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: r.rasterUID, Actor: "Resampler"}
}

// ReadWindowArgs is the payload of a "read_window" envelope.
type ReadWindowArgs struct {
	TileKey string
	Path    string
	X0, Y0  int
	W, H    int
}

// WindowReadArgs is delivered to Resampler once a window has been
// decoded (or failed to decode).
type WindowReadArgs struct {
	TileKey string
	Samples []float64
	Err     error
}

// Receive implements actor.Actor. Valid titles: "read_window".
func (r *Reader) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	if env.Title != "read_window" {
		return nil, nil
	}
	args := env.Args.(ReadWindowArgs)

	rd, ok := r.open[args.Path]
	if !ok {
		opened, err := geofile.Open(args.Path)
		if err != nil {
			return []actor.Envelope{r.reply(args.TileKey, nil, err)}, nil
		}
		rd = opened
		r.open[args.Path] = rd
	}

	cached := geofile.NewCachedReader(rd, args.Path, r.cache)
	samples, err := cached.ReadWindowCached(args.X0, args.Y0, args.W, args.H)
	return []actor.Envelope{r.reply(args.TileKey, samples, err)}, nil
}

func (r *Reader) reply(tileKey string, samples []float64, err error) actor.Envelope {
	return actor.Envelope{
		Dest:  r.resamplerAddr(),
		Title: "window_read",
		Args:  WindowReadArgs{TileKey: tileKey, Samples: samples, Err: err},
		Kind:  actor.Basic,
	}
}

// Close releases every memory-mapped cache tile this Reader has opened.
// Called during raster teardown.
func (r *Reader) Close() error {
	var firstErr error
	for path, rd := range r.open {
		if err := rd.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.open, path)
	}
	return firstErr
}
