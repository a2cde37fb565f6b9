// Package compute implements the two computation gates and the Computer
// actor: Gate 1 admits a compute tile once ProductionGate has asked for
// it, Gate 2 holds it until its primitive inputs are ready, and Computer
// submits the admitted tile to the raster's compute pool.
package compute

import (
	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/gate"
	"github.com/rasterflow/rasterflow/internal/geom"
)

// PrimitivesFn resolves the already-available primitive arrays a compute
// tile needs. ready is false if at least one input primitive is still
// missing; Gate2 holds the tile and re-checks on every
// input_queue_update it's forwarded.
type PrimitivesFn func(fp geom.Footprint) (primitives map[string]any, ready bool)

// Gate1 is the output-needed-soon admission gate: it bounds how many
// tiles this raster has in flight at once to max(1, MaxQueueSize) — the
// requesting query's own queue bound, carried on RequestComputeArgs —
// admitting requests beyond that bound only once an in-flight tile
// completes (ProductionGate's "tile_done"). This is a tile-keyed
// approximation of the per-query pulled_count/max_prod_idx_allowed
// bookkeeping: one admission slot per distinct tile key, shared by
// however many queries are waiting on it, rather than one slot per
// (query, production index) pair — see DESIGN.md.
type Gate1 struct {
	rasterUID string
	inFlight  map[string]struct{}
	pending   []gate.RequestComputeArgs
}

// NewGate1 creates a Gate1 for rasterUID.
func NewGate1(rasterUID string) *Gate1 {
	return &Gate1{rasterUID: rasterUID, inFlight: make(map[string]struct{})}
}

func (g *Gate1) gate2Addr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: g.rasterUID, Actor: "ComputationGate2"}
}

// Receive implements actor.Actor. Valid titles: "request_compute",
// "tile_done" (from ProductionGate, releasing an admission slot).
func (g *Gate1) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "request_compute":
		args := env.Args.(gate.RequestComputeArgs)
		if _, already := g.inFlight[args.TileKey]; already {
			return nil, nil
		}
		if len(g.inFlight) >= bound(args.MaxQueueSize) {
			g.pending = append(g.pending, args)
			return nil, nil
		}
		return g.admit(args), nil

	case "tile_done":
		args := env.Args.(gate.TileDoneArgs)
		delete(g.inFlight, args.TileKey)
		return g.admitPending(), nil

	default:
		return nil, nil
	}
}

func (g *Gate1) admit(args gate.RequestComputeArgs) []actor.Envelope {
	g.inFlight[args.TileKey] = struct{}{}
	return []actor.Envelope{{
		Dest:  g.gate2Addr(),
		Title: "check_primitives",
		Args:  args,
		Kind:  actor.Basic,
	}}
}

// admitPending pulls as many queued requests off the front of pending as
// the current admission bound allows, stopping at the first one that's
// still over bound.
func (g *Gate1) admitPending() []actor.Envelope {
	var out []actor.Envelope
	for len(g.pending) > 0 {
		next := g.pending[0]
		if _, already := g.inFlight[next.TileKey]; already {
			g.pending = g.pending[1:]
			continue
		}
		if len(g.inFlight) >= bound(next.MaxQueueSize) {
			break
		}
		g.pending = g.pending[1:]
		out = append(out, g.admit(next)...)
	}
	return out
}

// bound returns the admission bound a request carries, defaulting to 1
// when a caller didn't specify one (e.g. a test constructing
// RequestComputeArgs directly).
func bound(maxQueueSize int) int {
	if maxQueueSize <= 0 {
		return 1
	}
	return maxQueueSize
}

// PendingCount reports how many requests are waiting on an admission
// slot, for tests and diagnostics.
func (g *Gate1) PendingCount() int { return len(g.pending) }

// InFlightCount reports how many tiles currently hold an admission slot,
// for tests and diagnostics.
func (g *Gate1) InFlightCount() int { return len(g.inFlight) }

// Gate2 is the primitive-queue-readiness gate: it holds a requested tile
// until PrimitivesFn reports its inputs are ready, re-checking whenever
// it's told a primitive updated.
type Gate2 struct {
	rasterUID  string
	primitives PrimitivesFn
	pending    map[string]gate.RequestComputeArgs
}

// NewGate2 creates a Gate2 for rasterUID, gating admission on primitives.
func NewGate2(rasterUID string, primitives PrimitivesFn) *Gate2 {
	return &Gate2{rasterUID: rasterUID, primitives: primitives, pending: make(map[string]gate.RequestComputeArgs)}
}

func (g *Gate2) computerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: g.rasterUID, Actor: "Computer"}
}

// AdmitArgs is sent to Computer once a tile clears both gates.
type AdmitArgs struct {
	TileKey    string
	Footprint  geom.Footprint
	Primitives map[string]any
}

// Receive implements actor.Actor. Valid titles: "check_primitives",
// "input_queue_update" (re-checks every still-pending tile).
func (g *Gate2) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "check_primitives":
		args := env.Args.(gate.RequestComputeArgs)
		return g.tryAdmit(args), nil

	case "input_queue_update":
		var out []actor.Envelope
		for key, args := range g.pending {
			envs := g.tryAdmit(args)
			if len(envs) > 0 {
				delete(g.pending, key)
			}
			out = append(out, envs...)
		}
		return out, nil

	default:
		return nil, nil
	}
}

func (g *Gate2) tryAdmit(args gate.RequestComputeArgs) []actor.Envelope {
	primitives, ready := g.primitives(args.Footprint)
	if !ready {
		g.pending[args.TileKey] = args
		return nil
	}
	delete(g.pending, args.TileKey)
	return []actor.Envelope{{
		Dest:  g.computerAddr(),
		Title: "admit",
		Args:  AdmitArgs{TileKey: args.TileKey, Footprint: args.Footprint, Primitives: primitives},
		Kind:  actor.Basic,
	}}
}

// PendingCount reports how many tiles are waiting on primitives, for
// tests and diagnostics.
func (g *Gate2) PendingCount() int { return len(g.pending) }
