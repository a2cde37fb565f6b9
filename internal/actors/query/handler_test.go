package query

import (
	"context"
	"errors"
	"testing"

	"github.com/rasterflow/rasterflow/internal/actor"
	qmodel "github.com/rasterflow/rasterflow/internal/query"
)

func TestAdmitEmitsQueryAdmitted(t *testing.T) {
	h := NewHandler("dem")
	result, envs := h.Admit(qmodel.Info{UID: "q1", RasterUID: "dem", MaxQueueSize: 4})

	if result.Queue == nil {
		t.Fatalf("expected a queue handle back")
	}
	if len(envs) != 1 || envs[0].Title != "query_admitted" {
		t.Fatalf("expected a query_admitted envelope, got %+v", envs)
	}
	if h.ActiveCount() != 1 {
		t.Fatalf("expected 1 active query, got %d", h.ActiveCount())
	}
}

func TestArrayReadyDeliversToQueue(t *testing.T) {
	h := NewHandler("dem")
	result, _ := h.Admit(qmodel.Info{UID: "q1", MaxQueueSize: 4})

	_, err := h.Receive(actor.Envelope{
		Title: "array_ready",
		Args:  ArrayReadyArgs{QueryUID: "q1", ProdIdx: 0, Data: "tile-0"},
	})
	if err != nil {
		t.Fatalf("array_ready: %v", err)
	}

	arr, err := result.Queue.Pop(context.Background())
	if err != nil || arr.Data != "tile-0" {
		t.Fatalf("Pop() = (%+v, %v), want (tile-0, nil)", arr, err)
	}
}

func TestArrayReadyPropagatesToParentForSubQuery(t *testing.T) {
	h := NewHandler("ndvi")
	h.Admit(qmodel.Info{UID: "sub1", ParentUID: "ndvi_recipe", KeyInParent: "red_band", MaxQueueSize: 4})

	envs, err := h.Receive(actor.Envelope{
		Title: "array_ready",
		Args:  ArrayReadyArgs{QueryUID: "sub1", ProdIdx: 0, Data: "band"},
	})
	if err != nil {
		t.Fatalf("array_ready: %v", err)
	}
	if len(envs) != 1 || envs[0].Title != "input_queue_update" {
		t.Fatalf("expected an input_queue_update propagated to the parent, got %+v", envs)
	}
	args := envs[0].Args.(InputQueueUpdateArgs)
	if args.KeyInParent != "red_band" {
		t.Fatalf("KeyInParent = %q, want red_band", args.KeyInParent)
	}
	if envs[0].Dest.GroupID != "ndvi_recipe" {
		t.Fatalf("expected propagation to parent raster ndvi_recipe, got %v", envs[0].Dest)
	}
}

func TestRemoveQueryClosesQueue(t *testing.T) {
	h := NewHandler("dem")
	result, _ := h.Admit(qmodel.Info{UID: "q1", MaxQueueSize: 4})

	_, err := h.Receive(actor.Envelope{Title: "remove_query", Args: QueryAbandonedArgs{QueryUID: "q1"}})
	if err != nil {
		t.Fatalf("remove_query: %v", err)
	}
	if h.ActiveCount() != 0 {
		t.Fatalf("expected query to be removed")
	}
	if _, err := result.Queue.Pop(context.Background()); err != nil {
		t.Fatalf("expected a closed queue to return a nil close error, got %v", err)
	}
}

func TestCloseUnblocksAllActiveQueriesWithFatalError(t *testing.T) {
	h := NewHandler("dem")
	r1, _ := h.Admit(qmodel.Info{UID: "q1", MaxQueueSize: 4})
	r2, _ := h.Admit(qmodel.Info{UID: "q2", MaxQueueSize: 4})

	fatal := errors.New("kernel panicked")
	if err := h.Close(fatal); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.ActiveCount() != 0 {
		t.Fatalf("expected Close to drop all active queries, got %d", h.ActiveCount())
	}

	if _, err := r1.Queue.Pop(context.Background()); !errors.Is(err, fatal) {
		t.Fatalf("q1 Pop() err = %v, want %v", err, fatal)
	}
	if _, err := r2.Queue.Pop(context.Background()); !errors.Is(err, fatal) {
		t.Fatalf("q2 Pop() err = %v, want %v", err, fatal)
	}
}
