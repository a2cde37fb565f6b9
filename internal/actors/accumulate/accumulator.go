// Package accumulate implements the ComputationAccumulator and Merger:
// together they collect the one or more compute-tile results that make
// up a single cache tile and fold them into one array before the cache
// (or, if caching is disabled, the query directly) sees it.
package accumulate

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/compute"
	"github.com/rasterflow/rasterflow/internal/geom"
)

// MergeFn combines two partially-assembled cache-tile results. Called
// pairwise, in compute-tile arrival order, as siblings complete.
type MergeFn func(a, b any) (any, error)

// GroupFn maps a compute tile's key to the cache tile it belongs to and
// how many sibling compute tiles must complete before that cache tile is
// whole. The default wiring (one compute tile per cache tile) returns
// (computeTileKey, 1); a recipe whose MaxComputeTile is smaller than its
// MaxCacheTile groups several compute tiles per cache tile instead. The
// cache tile's footprint comes from whichever compute tile happens to
// complete first (compute.ComputeResultArgs.Footprint), not from GroupFn
// itself — correct for the common MaxComputeTile==MaxCacheTile case this
// engine builds recipes with; a true sub-tiled accumulator would need
// GroupFn to also return the cache tile's own (wider) footprint.
type GroupFn func(computeTileKey string) (cacheTileKey string, expected int)

type group struct {
	expected  int
	arrived   int
	results   []any
	footprint geom.Footprint
}

// Accumulator is the per-raster ComputationAccumulator/Merger actor.
type Accumulator struct {
	rasterUID string
	cached    bool
	groupFn   GroupFn
	merge     MergeFn

	groups map[string]*group
}

// New creates an Accumulator for rasterUID. cached controls whether an
// assembled tile is routed to the cache pipeline (CacheSupervisor) or
// delivered straight to ProductionGate.
func New(rasterUID string, cached bool, groupFn GroupFn, merge MergeFn) *Accumulator {
	return &Accumulator{rasterUID: rasterUID, cached: cached, groupFn: groupFn, merge: merge, groups: make(map[string]*group)}
}

func (a *Accumulator) producerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: a.rasterUID, Actor: "Producer"}
}

func (a *Accumulator) cacheSupervisorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: a.rasterUID, Actor: "CacheSupervisor"}
}

// TileAssembledArgs is delivered to CacheSupervisor once a cache tile's
// compute tiles have all arrived and been merged.
type TileAssembledArgs struct {
	CacheTileKey string
	Footprint    geom.Footprint
	Result       any
}

// Receive implements actor.Actor. Valid titles: "compute_result".
func (a *Accumulator) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	if env.Title != "compute_result" {
		return nil, nil
	}
	args := env.Args.(compute.ComputeResultArgs)
	if args.Err != nil {
		return nil, args.Err
	}

	cacheKey, expected := a.groupFn(args.TileKey)
	g, ok := a.groups[cacheKey]
	if !ok {
		g = &group{expected: expected, footprint: args.Footprint}
		a.groups[cacheKey] = g
	}

	g.arrived++
	if len(g.results) == 0 {
		g.results = append(g.results, args.Result)
	} else {
		merged, err := a.merge(g.results[len(g.results)-1], args.Result)
		if err != nil {
			return nil, fmt.Errorf("merging cache tile %s: %w", cacheKey, err)
		}
		g.results[len(g.results)-1] = merged
	}

	if g.arrived < g.expected {
		return nil, nil
	}
	delete(a.groups, cacheKey)
	final := g.results[0]

	if a.cached {
		return []actor.Envelope{{
			Dest:  a.cacheSupervisorAddr(),
			Title: "tile_assembled",
			Args:  TileAssembledArgs{CacheTileKey: cacheKey, Footprint: g.footprint, Result: final},
			Kind:  actor.Basic,
		}}, nil
	}
	return []actor.Envelope{{
		Dest:  a.producerAddr(),
		Title: "array_computed",
		Args:  ArrayComputedArgs{TileKey: cacheKey, Result: final},
		Kind:  actor.Basic,
	}}, nil
}

// ArrayComputedArgs is delivered to Producer when an uncached raster's
// tile finishes computing — there is no cache pipeline to route through,
// so the assembled array goes straight back to the actor that requested
// it.
type ArrayComputedArgs struct {
	TileKey string
	Result  any
}
