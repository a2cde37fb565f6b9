package gate

import (
	"testing"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/query"
	"github.com/rasterflow/rasterflow/internal/geom"
	qmodel "github.com/rasterflow/rasterflow/internal/query"
	"github.com/rasterflow/rasterflow/internal/sched/priorities"
)

func oneTile(fp geom.Footprint) []geom.Footprint { return []geom.Footprint{fp} }

func TestQueryAdmittedRequestsComputeForNewTile(t *testing.T) {
	g := New("dem", oneTile)
	fp := geom.Footprint{Width: 10, Height: 10, PixelSizeX: 1, PixelSizeY: 1}

	envs := g.onQueryAdmitted(qmodel.Info{UID: "q1", Footprints: []geom.Footprint{fp}})
	if len(envs) != 2 || envs[0].Title != "set_prod_idx" || envs[0].Dest.Actor != "PrioritiesWatcher" {
		t.Fatalf("expected a leading set_prod_idx to the priorities watcher, got %+v", envs)
	}
	if envs[1].Title != "make_this_array" || envs[1].Dest.Actor != "Producer" {
		t.Fatalf("expected a make_this_array envelope to Producer, got %+v", envs)
	}
	prio := envs[0].Args.(priorities.SetProdIdxArgs)
	if prio.QueryID != "q1" || prio.Key.RasterUID != "dem" {
		t.Fatalf("unexpected set_prod_idx args: %+v", prio)
	}
}

func TestSecondQueryOnSameTileDoesNotReRequest(t *testing.T) {
	g := New("dem", oneTile)
	fp := geom.Footprint{Width: 10, Height: 10, PixelSizeX: 1, PixelSizeY: 1}

	g.onQueryAdmitted(qmodel.Info{UID: "q1", Footprints: []geom.Footprint{fp}})
	envs := g.onQueryAdmitted(qmodel.Info{UID: "q2", Footprints: []geom.Footprint{fp}})
	if len(envs) != 0 {
		t.Fatalf("expected no new request for an already-requested tile, got %+v", envs)
	}
}

func TestTileReadyDeliversToWaitingQueries(t *testing.T) {
	g := New("dem", oneTile)
	fp := geom.Footprint{Width: 10, Height: 10, PixelSizeX: 1, PixelSizeY: 1}

	g.onQueryAdmitted(qmodel.Info{UID: "q1", Footprints: []geom.Footprint{fp}})
	key := fp.Key()

	envs := g.onTileReady(TileReadyArgs{TileKey: key, Result: "computed"})
	if len(envs) != 3 || envs[0].Title != "tile_done" || envs[0].Dest.Actor != "ComputationGate1" {
		t.Fatalf("expected a leading tile_done release to ComputationGate1, got %+v", envs)
	}
	if envs[1].Title != "remove_query" || envs[1].Dest.Actor != "PrioritiesWatcher" {
		t.Fatalf("expected a remove_query to the priorities watcher once the tile is delivered, got %+v", envs)
	}
	if envs[2].Title != "array_ready" {
		t.Fatalf("expected an array_ready delivery, got %+v", envs)
	}
	args := envs[2].Args.(query.ArrayReadyArgs)
	if args.QueryUID != "q1" || args.Data != "computed" {
		t.Fatalf("unexpected array_ready args: %+v", args)
	}
}

func TestQueryAbandonedDropsUnreferencedTile(t *testing.T) {
	g := New("dem", oneTile)
	fp := geom.Footprint{Width: 10, Height: 10, PixelSizeX: 1, PixelSizeY: 1}
	g.onQueryAdmitted(qmodel.Info{UID: "q1", Footprints: []geom.Footprint{fp}})

	g.onQueryAbandoned("q1")
	if len(g.tiles) != 0 {
		t.Fatalf("expected the tile to be dropped once its only query is abandoned, got %d tiles", len(g.tiles))
	}
}

func TestReceiveDispatchesKnownTitles(t *testing.T) {
	g := New("dem", oneTile)
	fp := geom.Footprint{Width: 10, Height: 10, PixelSizeX: 1, PixelSizeY: 1}

	envs, err := g.Receive(actor.Envelope{
		Title: "query_admitted",
		Args:  query.QueryAdmittedArgs{Info: qmodel.Info{UID: "q1", Footprints: []geom.Footprint{fp}}},
	})
	if err != nil || len(envs) != 2 {
		t.Fatalf("Receive(query_admitted) = (%v, %v)", envs, err)
	}
}

func TestQueryAbandonedBroadcastsRemoveQueryForEveryTrackedTile(t *testing.T) {
	g := New("dem", oneTile)
	fp := geom.Footprint{Width: 10, Height: 10, PixelSizeX: 1, PixelSizeY: 1}
	g.onQueryAdmitted(qmodel.Info{UID: "q1", Footprints: []geom.Footprint{fp}})

	envs := g.onQueryAbandoned("q1")
	if len(envs) != 1 || envs[0].Title != "remove_query" || envs[0].Dest.Actor != "PrioritiesWatcher" {
		t.Fatalf("expected a remove_query broadcast for the abandoned query's tile, got %+v", envs)
	}
	args := envs[0].Args.(priorities.RemoveQueryArgs)
	if args.QueryID != "q1" || args.Key.RasterUID != "dem" {
		t.Fatalf("unexpected remove_query args: %+v", args)
	}
}
