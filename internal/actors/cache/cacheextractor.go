package cache

import (
	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/reader"
	"github.com/rasterflow/rasterflow/internal/geom"
)

// ExtractorActor is the per-raster CacheExtractor actor: it turns a
// CacheSupervisor-announced ready path into decoded sample data by
// dispatching a Reader job, buffering extraction requests that arrive
// before the tile they name is actually ready.
type ExtractorActor struct {
	rasterUID string

	ready   map[string]readyFile      // cacheTileKey -> on-disk location
	pending map[string]geom.Footprint // cacheTileKey -> requested footprint, awaiting readiness
}

type readyFile struct {
	path      string
	footprint geom.Footprint
}

// NewExtractorActor creates a CacheExtractor actor for rasterUID.
func NewExtractorActor(rasterUID string) *ExtractorActor {
	return &ExtractorActor{
		rasterUID: rasterUID,
		ready:     make(map[string]readyFile),
		pending:   make(map[string]geom.Footprint),
	}
}

func (e *ExtractorActor) readerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: e.rasterUID, Actor: "Reader"}
}

// ExtractArgs is sent by Producer asking for a cache tile's pixel data.
type ExtractArgs struct {
	TileKey   string
	Footprint geom.Footprint
}

// CacheFileReadyArgs is sent by CacheSupervisor once a cache tile has
// reached the Ready state, carrying its on-disk path.
type CacheFileReadyArgs struct {
	TileKey   string
	Path      string
	Footprint geom.Footprint
}

// Receive implements actor.Actor. Valid titles: "extract_cache_file",
// "cache_file_ready".
func (e *ExtractorActor) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "extract_cache_file":
		args := env.Args.(ExtractArgs)
		if rf, ok := e.ready[args.TileKey]; ok {
			return []actor.Envelope{e.dispatchRead(args.TileKey, rf)}, nil
		}
		e.pending[args.TileKey] = args.Footprint
		return nil, nil

	case "cache_file_ready":
		args := env.Args.(CacheFileReadyArgs)
		rf := readyFile{path: args.Path, footprint: args.Footprint}
		e.ready[args.TileKey] = rf
		if _, waiting := e.pending[args.TileKey]; waiting {
			delete(e.pending, args.TileKey)
			return []actor.Envelope{e.dispatchRead(args.TileKey, rf)}, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func (e *ExtractorActor) dispatchRead(tileKey string, rf readyFile) actor.Envelope {
	return actor.Envelope{
		Dest:  e.readerAddr(),
		Title: "read_window",
		Args: reader.ReadWindowArgs{
			TileKey: tileKey,
			Path:    rf.path,
			X0:      0,
			Y0:      0,
			W:       rf.footprint.Width,
			H:       rf.footprint.Height,
		},
		Kind: actor.Basic,
	}
}
