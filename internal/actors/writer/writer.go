// Package writer implements the Writer actor: it persists an assembled
// cache tile to disk via internal/geofile and reports back the final
// content-addressed path (or the error that prevented writing).
package writer

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/cache"
	"github.com/rasterflow/rasterflow/internal/geofile"
)

// Writer is the per-raster Writer actor.
type Writer struct {
	rasterUID     string
	dir           string
	filePrefix    string
	ext           string
	bands         int
	bitsPerSample int
	sampleFormat  geofile.SampleFormat
}

// New creates a Writer persisting cache tiles under dir, named
// "<filePrefix>_<cacheTileKey>_<checksum>.<ext>".
func New(rasterUID, dir, filePrefix, ext string, bands, bitsPerSample int, sampleFormat geofile.SampleFormat) *Writer {
	return &Writer{
		rasterUID:     rasterUID,
		dir:           dir,
		filePrefix:    filePrefix,
		ext:           ext,
		bands:         bands,
		bitsPerSample: bitsPerSample,
		sampleFormat:  sampleFormat,
	}
}

func (w *Writer) supervisorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: w.rasterUID, Actor: "CacheSupervisor"}
}

// Receive implements actor.Actor. Valid titles: "write_tile".
func (w *Writer) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	if env.Title != "write_tile" {
		return nil, nil
	}
	args := env.Args.(cache.WriteTileArgs)

	samples, ok := args.Result.([]float64)
	if !ok {
		return []actor.Envelope{w.reply(args.CacheTileKey, "", 0,
			fmt.Errorf("writer: expected []float64 compute result, got %T", args.Result))}, nil
	}

	spec := geofile.WriteSpec{
		Geo: geofile.GeoInfo{
			OriginX:    args.Footprint.TopLeftX,
			OriginY:    args.Footprint.TopLeftY,
			PixelSizeX: args.Footprint.PixelSizeX,
			PixelSizeY: args.Footprint.PixelSizeY,
			Width:      args.Footprint.Width,
			Height:     args.Footprint.Height,
		},
		Bands:         w.bands,
		BitsPerSample: w.bitsPerSample,
		SampleFormat:  w.sampleFormat,
		Samples:       samples,
	}

	prefix := fmt.Sprintf("%s_%s", w.filePrefix, args.CacheTileKey)
	path, checksum, err := geofile.WriteCacheTile(w.dir, prefix, w.ext, spec)
	return []actor.Envelope{w.reply(args.CacheTileKey, path, checksum, err)}, nil
}

func (w *Writer) reply(cacheTileKey, path string, checksum uint64, err error) actor.Envelope {
	return actor.Envelope{
		Dest:  w.supervisorAddr(),
		Title: "write_done",
		Args:  cache.WriteDoneArgs{CacheTileKey: cacheTileKey, Path: path, Checksum: checksum, Err: err},
		Kind:  actor.Basic,
	}
}
