// Package producer implements the Producer actor: for each output tile
// ProductionGate admits, it decides whether the data comes from the
// on-disk cache (requesting extraction, and triggering computation on a
// cache miss) or, for uncached rasters, straight from a compute job; it
// short-circuits tiles that fall entirely outside the raster's footprint
// to a nodata fill; and it hands every raw array to Resampler for
// channel reordering and nodata remap before reporting the finished
// array back to ProductionGate.
package producer

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/accumulate"
	"github.com/rasterflow/rasterflow/internal/actors/cache"
	"github.com/rasterflow/rasterflow/internal/actors/gate"
	"github.com/rasterflow/rasterflow/internal/actors/resampler"
	"github.com/rasterflow/rasterflow/internal/geom"
)

// Producer is the per-raster Producer actor.
type Producer struct {
	rasterUID string
	full      geom.Footprint
	cached    bool

	footprints   map[string]geom.Footprint
	maxQueueSize map[string]int // tile key -> requesting query's queue bound, carried to ComputationGate1
}

// New creates a Producer for rasterUID. full is the raster's overall
// footprint, used to detect resample tiles that lie entirely outside
// it; cached mirrors Descriptor.Cached().
func New(rasterUID string, full geom.Footprint, cached bool) *Producer {
	return &Producer{
		rasterUID:    rasterUID,
		full:         full,
		cached:       cached,
		footprints:   make(map[string]geom.Footprint),
		maxQueueSize: make(map[string]int),
	}
}

func (p *Producer) productionGateAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: p.rasterUID, Actor: "ProductionGate"}
}

func (p *Producer) cacheSupervisorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: p.rasterUID, Actor: "CacheSupervisor"}
}

func (p *Producer) cacheExtractorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: p.rasterUID, Actor: "CacheExtractor"}
}

func (p *Producer) computationGate1Addr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: p.rasterUID, Actor: "ComputationGate1"}
}

func (p *Producer) resamplerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: p.rasterUID, Actor: "Resampler"}
}

// Receive implements actor.Actor. Valid titles: "make_this_array" (from
// ProductionGate; reuses gate.RequestComputeArgs's shape), "cache_miss"
// (from CacheSupervisor), "array_computed" (from Accumulator, uncached
// rasters only), "resample_done" (from Resampler).
func (p *Producer) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "make_this_array":
		return p.onMakeThisArray(env.Args.(gate.RequestComputeArgs)), nil

	case "cache_miss":
		args := env.Args.(cache.CacheMissArgs)
		fp, ok := p.footprints[args.CacheTileKey]
		if !ok {
			return nil, nil
		}
		return []actor.Envelope{p.requestCompute(args.CacheTileKey, fp)}, nil

	case "array_computed":
		args := env.Args.(accumulate.ArrayComputedArgs)
		samples, ok := args.Result.([]float64)
		if !ok {
			return nil, fmt.Errorf("producer: expected []float64 compute result for %s, got %T", args.TileKey, args.Result)
		}
		return []actor.Envelope{{
			Dest:  p.resamplerAddr(),
			Title: "resample_array",
			Args:  resampler.ResampleArrayArgs{TileKey: args.TileKey, Samples: samples},
			Kind:  actor.Basic,
		}}, nil

	case "resample_done":
		args := env.Args.(resampler.ResampleDoneArgs)
		delete(p.footprints, args.TileKey)
		delete(p.maxQueueSize, args.TileKey)
		if args.Err != nil {
			return nil, fmt.Errorf("producer: resampling %s: %w", args.TileKey, args.Err)
		}
		return []actor.Envelope{{
			Dest:  p.productionGateAddr(),
			Title: "tile_ready",
			Args:  gate.TileReadyArgs{TileKey: args.TileKey, Result: args.Samples},
			Kind:  actor.Basic,
		}}, nil

	default:
		return nil, nil
	}
}

func (p *Producer) onMakeThisArray(args gate.RequestComputeArgs) []actor.Envelope {
	p.footprints[args.TileKey] = args.Footprint
	p.maxQueueSize[args.TileKey] = args.MaxQueueSize

	if p.full.Width > 0 && p.full.Height > 0 && !p.full.ShareArea(args.Footprint) {
		return []actor.Envelope{{
			Dest:  p.resamplerAddr(),
			Title: "resample_nodata",
			Args:  resampler.ResampleNodataArgs{TileKey: args.TileKey, PixelCount: args.Footprint.Width * args.Footprint.Height},
			Kind:  actor.Basic,
		}}
	}

	if !p.cached {
		return []actor.Envelope{p.requestCompute(args.TileKey, args.Footprint)}
	}

	return []actor.Envelope{
		{
			Dest:  p.cacheSupervisorAddr(),
			Title: "ensure_cache_tile",
			Args:  cache.EnsureArgs{CacheTileKey: args.TileKey, Footprint: args.Footprint},
			Kind:  actor.Basic,
		},
		{
			Dest:  p.cacheExtractorAddr(),
			Title: "extract_cache_file",
			Args:  cache.ExtractArgs{TileKey: args.TileKey, Footprint: args.Footprint},
			Kind:  actor.Basic,
		},
	}
}

func (p *Producer) requestCompute(tileKey string, fp geom.Footprint) actor.Envelope {
	return actor.Envelope{
		Dest:  p.computationGate1Addr(),
		Title: "request_compute",
		Args:  gate.RequestComputeArgs{TileKey: tileKey, Footprint: fp, MaxQueueSize: p.maxQueueSize[tileKey]},
		Kind:  actor.Basic,
	}
}
