// Package gate implements the ProductionGate actor: the per-raster
// coordinator that turns admitted queries into a set of needed output
// tiles, tracks which are already satisfied, and hands the rest to
// Producer once a query's queue has room. It also defines the message
// types Producer and the computation gates (internal/actors/compute)
// exchange with it, since those packages depend on this one rather than
// the reverse.
package gate

import (
	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/query"
	"github.com/rasterflow/rasterflow/internal/geom"
	qmodel "github.com/rasterflow/rasterflow/internal/query"
	"github.com/rasterflow/rasterflow/internal/sched/priorities"
)

// TileState is a compute tile's lifecycle from this gate's point of view.
type TileState int

const (
	TileNeeded TileState = iota
	TileRequested
	TileReady
)

type trackedQuery struct {
	info     qmodel.Info
	tileKeys []string
	nextProd int
}

type trackedTile struct {
	footprint geom.Footprint
	state     TileState
	result    any
	refCount  int // number of active queries still waiting on this tile
}

// ProductionGate is the per-raster actor owning the query-to-compute-tile
// mapping.
type ProductionGate struct {
	rasterUID string
	tileFn    func(geom.Footprint) []geom.Footprint

	queries map[string]*trackedQuery
	tiles   map[string]*trackedTile
}

// New creates a ProductionGate for rasterUID. tileFn subdivides a
// requested output footprint into the tiles Producer delivers
// (Descriptor.ComputeTiles, or Descriptor.CacheTiles for a cached raster).
func New(rasterUID string, tileFn func(geom.Footprint) []geom.Footprint) *ProductionGate {
	return &ProductionGate{
		rasterUID: rasterUID,
		tileFn:    tileFn,
		queries:   make(map[string]*trackedQuery),
		tiles:     make(map[string]*trackedTile),
	}
}

func (g *ProductionGate) producerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: g.rasterUID, Actor: "Producer"}
}

func (g *ProductionGate) handlerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: g.rasterUID, Actor: "QueriesHandler"}
}

func (g *ProductionGate) gate1Addr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: g.rasterUID, Actor: "ComputationGate1"}
}

func (g *ProductionGate) prioritiesWatcherAddr() actor.Address {
	return actor.Address{Group: actor.Global, Actor: "PrioritiesWatcher"}
}

// priorityKey identifies the global priorities watcher's queue for one of
// this raster's cache tiles.
func (g *ProductionGate) priorityKey(tileKey string) priorities.Key {
	return priorities.Key{RasterUID: g.rasterUID, CacheFP: tileKey}
}

// priorityUpdate tells the global priorities watcher that queryUID's most
// urgent still-pending output depends on tileKey at production index
// minProdIdx, so pool waiting rooms can order compute jobs for it by real
// downstream urgency.
func (g *ProductionGate) priorityUpdate(tileKey, queryUID string, minProdIdx int) actor.Envelope {
	return actor.Envelope{
		Dest:  g.prioritiesWatcherAddr(),
		Title: "set_prod_idx",
		Args:  priorities.SetProdIdxArgs{Key: g.priorityKey(tileKey), QueryID: queryUID, MinProdIdx: minProdIdx},
		Kind:  actor.Basic,
	}
}

// priorityRemove tells the global priorities watcher that queryUID no
// longer needs tileKey (delivered, or the query was abandoned).
func (g *ProductionGate) priorityRemove(tileKey, queryUID string) actor.Envelope {
	return actor.Envelope{
		Dest:  g.prioritiesWatcherAddr(),
		Title: "remove_query",
		Args:  priorities.RemoveQueryArgs{Key: g.priorityKey(tileKey), QueryID: queryUID},
		Kind:  actor.Basic,
	}
}

// Receive implements actor.Actor. Valid titles: "query_admitted",
// "query_abandoned", "queue_needs_more", "tile_ready", "input_queue_update".
func (g *ProductionGate) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "query_admitted":
		return g.onQueryAdmitted(env.Args.(query.QueryAdmittedArgs).Info), nil

	case "query_abandoned":
		return g.onQueryAbandoned(env.Args.(query.QueryAbandonedArgs).QueryUID), nil

	case "queue_needs_more":
		return g.requestNeededTiles(env.Args.(query.QueueNeedsMoreArgs).QueryUID), nil

	case "tile_ready":
		return g.onTileReady(env.Args.(TileReadyArgs)), nil

	case "input_queue_update":
		// A primitive's data arrived; re-evaluate every query that was
		// waiting on a tile needing that primitive. Conservative but
		// correct: re-request every still-needed tile.
		var out []actor.Envelope
		for uid := range g.queries {
			out = append(out, g.requestNeededTiles(uid)...)
		}
		return out, nil

	default:
		return nil, nil
	}
}

// TileReadyArgs is delivered by Producer once a tile's array has been
// extracted or computed and fully post-processed.
type TileReadyArgs struct {
	TileKey string
	Result  any
}

// RequestComputeArgs is sent from ProductionGate to Producer
// ("make_this_array") and reused, unchanged, from Producer to
// ComputationGate1 ("request_compute") asking it to consider admitting
// a tile for computation. MaxQueueSize carries the requesting query's own
// queue bound through to Gate1, which uses it to cap how many tiles this
// raster computes concurrently (see ComputationGate1's admission logic).
type RequestComputeArgs struct {
	TileKey      string
	Footprint    geom.Footprint
	MaxQueueSize int
}

// TileDoneArgs notifies ComputationGate1 that a tile it admitted has
// finished (computed or served from cache), releasing the admission slot
// it held.
type TileDoneArgs struct {
	TileKey string
}

func (g *ProductionGate) onQueryAdmitted(info qmodel.Info) []actor.Envelope {
	tq := &trackedQuery{info: info}
	for _, fp := range info.Footprints {
		for _, tile := range g.tileFn(fp) {
			key := tile.Key()
			t, ok := g.tiles[key]
			if !ok {
				t = &trackedTile{footprint: tile, state: TileNeeded}
				g.tiles[key] = t
			}
			t.refCount++
			tq.tileKeys = append(tq.tileKeys, key)
		}
	}
	g.queries[info.UID] = tq
	return g.requestNeededTiles(info.UID)
}

func (g *ProductionGate) onQueryAbandoned(queryUID string) []actor.Envelope {
	tq, ok := g.queries[queryUID]
	if !ok {
		return nil
	}
	var out []actor.Envelope
	for _, key := range tq.tileKeys {
		out = append(out, g.priorityRemove(key, queryUID))
		if t, ok := g.tiles[key]; ok {
			t.refCount--
			if t.refCount <= 0 {
				delete(g.tiles, key)
			}
		}
	}
	delete(g.queries, queryUID)
	return out
}

// requestNeededTiles walks the query's tiles in production-index order
// from its delivery cursor: it delivers each TileReady tile the query
// hasn't yet been sent, and stops at the first tile that isn't ready,
// requesting it if it is still TileNeeded. At most one tile per query is
// requested at a time; later tiles are not requested until it is ready.
func (g *ProductionGate) requestNeededTiles(queryUID string) []actor.Envelope {
	tq, ok := g.queries[queryUID]
	if !ok {
		return nil
	}
	var out []actor.Envelope
	for tq.nextProd < len(tq.tileKeys) {
		key := tq.tileKeys[tq.nextProd]
		t := g.tiles[key]
		if t == nil {
			tq.nextProd++
			continue
		}
		switch t.state {
		case TileNeeded:
			t.state = TileRequested
			out = append(out,
				g.priorityUpdate(key, queryUID, tq.nextProd),
				actor.Envelope{
					Dest:  g.producerAddr(),
					Title: "make_this_array",
					Args:  RequestComputeArgs{TileKey: key, Footprint: t.footprint, MaxQueueSize: tq.info.MaxQueueSize},
					Kind:  actor.Basic,
				})
			return out // wait for this tile before considering the next
		case TileRequested:
			return out // already in flight, nothing more to do yet
		case TileReady:
			out = append(out,
				g.priorityRemove(key, queryUID),
				actor.Envelope{
					Dest:  g.handlerAddr(),
					Title: "array_ready",
					Args:  query.ArrayReadyArgs{QueryUID: queryUID, ProdIdx: tq.nextProd, Data: t.result},
					Kind:  actor.Basic,
				})
			tq.nextProd++
		}
	}
	return out
}

func (g *ProductionGate) onTileReady(args TileReadyArgs) []actor.Envelope {
	t, ok := g.tiles[args.TileKey]
	if !ok {
		return nil
	}
	t.state = TileReady
	t.result = args.Result

	out := []actor.Envelope{{
		Dest:  g.gate1Addr(),
		Title: "tile_done",
		Args:  TileDoneArgs{TileKey: args.TileKey},
		Kind:  actor.Basic,
	}}
	for uid, tq := range g.queries {
		_ = tq
		out = append(out, g.requestNeededTiles(uid)...)
	}
	return out
}
