// Package query implements the per-raster QueriesHandler actor: query
// admission, queue backpressure polling through a weak consumer handle,
// and parent-chain propagation for recipe-of-recipe sub-queries.
package query

import (
	"weak"

	"github.com/rasterflow/rasterflow/internal/actor"
	qmodel "github.com/rasterflow/rasterflow/internal/query"
)

// Handler is the QueriesHandler actor for one raster: it admits new
// queries, routes produced arrays to the right query's queue, and on
// each keep-alive tick polls every active query's weak queue handle to
// notice abandonment and backpressure changes.
type Handler struct {
	rasterUID string
	active    map[string]*activeQuery
	nextUID   int
}

type activeQuery struct {
	info  qmodel.Info
	queue *qmodel.BoundedQueue
	weak  weak.Pointer[qmodel.BoundedQueue]
	// lastNeedsMore avoids re-emitting queue_needs_more every tick once
	// ProductionGate already knows the queue has room.
	lastNeedsMore bool
}

// NewHandler creates a QueriesHandler for rasterUID.
func NewHandler(rasterUID string) *Handler {
	return &Handler{rasterUID: rasterUID, active: make(map[string]*activeQuery)}
}

func (h *Handler) gateAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: h.rasterUID, Actor: "ProductionGate"}
}

// NewQueryArgs pairs a caller's QueueData request, already turned into a
// query.Info, with the queue size the caller wants to bound delivery to.
// No actor handles a "new_query" envelope: admission goes through Admit.
type NewQueryArgs struct {
	Info         qmodel.Info
	MaxQueueSize int
}

// NewQueryResult is returned synchronously by Admit (not via the
// scheduler — QueueData is a synchronous façade call) so the caller
// immediately gets back the queue handle to read from.
type NewQueryResult struct {
	UID   string
	Queue *qmodel.BoundedQueue
}

// ArrayReadyArgs is the payload of an "array_ready" envelope:
// ProductionGate delivering one finished output array.
type ArrayReadyArgs struct {
	QueryUID string
	ProdIdx  int
	Data     any
}

// Admit registers a new query and returns its delivery queue. Unlike the
// rest of the actor system, admission is synchronous: the caller needs
// the BoundedQueue handle back immediately to start reading, so this is
// called directly by the raster façade rather than routed as an
// envelope — it still emits a "query_admitted" envelope for
// ProductionGate to pick up on its next dispatch.
func (h *Handler) Admit(info qmodel.Info) (NewQueryResult, []actor.Envelope) {
	q, weakQ := qmodel.NewBoundedQueue(info.MaxQueueSize)
	h.active[info.UID] = &activeQuery{info: info, queue: q, weak: weakQ, lastNeedsMore: true}

	envs := []actor.Envelope{{
		Dest:  h.gateAddr(),
		Title: "query_admitted",
		Args:  QueryAdmittedArgs{Info: info},
		Kind:  actor.Basic,
	}}
	return NewQueryResult{UID: info.UID, Queue: q}, envs
}

// QueryAdmittedArgs is delivered to ProductionGate when a query is
// admitted.
type QueryAdmittedArgs struct {
	Info qmodel.Info
}

// QueryAbandonedArgs is delivered to ProductionGate when a query's
// consumer handle has been garbage collected.
type QueryAbandonedArgs struct {
	QueryUID string
}

// QueueNeedsMoreArgs is delivered to ProductionGate when a query's queue
// gains room under its bound, the signal ProductionGate uses to resume
// scheduling more output tiles for that query.
type QueueNeedsMoreArgs struct {
	QueryUID string
}

// Receive implements actor.Actor. Valid titles: "array_ready",
// "remove_query" (explicit teardown, e.g. on error).
func (h *Handler) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "array_ready":
		args := env.Args.(ArrayReadyArgs)
		aq, ok := h.active[args.QueryUID]
		if !ok {
			return nil, nil
		}
		aq.queue.Deliver(qmodel.Array{ProdIdx: args.ProdIdx, Data: args.Data})
		return h.propagateToParent(aq), nil

	case "remove_query":
		args := env.Args.(QueryAbandonedArgs)
		if aq, ok := h.active[args.QueryUID]; ok {
			aq.queue.Close(nil)
			delete(h.active, args.QueryUID)
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// ExtReceiveNothing implements actor.KeepAlive: each tick, poll every
// active query's weak queue handle for abandonment, and its live queue
// for newly-available room.
func (h *Handler) ExtReceiveNothing() ([]actor.Envelope, error) {
	var out []actor.Envelope
	for uid, aq := range h.active {
		if aq.weak.Value() == nil {
			out = append(out, actor.Envelope{
				Dest:  h.gateAddr(),
				Title: "query_abandoned",
				Args:  QueryAbandonedArgs{QueryUID: uid},
				Kind:  actor.Droppable,
			})
			aq.queue.Close(nil)
			delete(h.active, uid)
			continue
		}

		needsMore := aq.queue.NeedsMore()
		if needsMore && !aq.lastNeedsMore {
			out = append(out, actor.Envelope{
				Dest:  h.gateAddr(),
				Title: "queue_needs_more",
				Args:  QueueNeedsMoreArgs{QueryUID: uid},
				Kind:  actor.Aging,
				IDArgs: uid,
			})
		}
		aq.lastNeedsMore = needsMore
	}
	return out, nil
}

// propagateToParent emits an input_queue_update to the parent recipe's
// ProductionGate when aq is a sub-query a downstream recipe issued
// against this raster as one of its primitives.
func (h *Handler) propagateToParent(aq *activeQuery) []actor.Envelope {
	if !aq.info.IsSubQuery() {
		return nil
	}
	return []actor.Envelope{{
		Dest:  actor.Address{Group: actor.Raster, GroupID: aq.info.ParentUID, Actor: "ProductionGate"},
		Title: "input_queue_update",
		Args: InputQueueUpdateArgs{
			KeyInParent: aq.info.KeyInParent,
			QueryUID:    aq.info.UID,
		},
		Kind: actor.Basic,
	}}
}

// InputQueueUpdateArgs notifies a parent recipe's ProductionGate that one
// of its primitive inputs (named KeyInParent) has new data available.
type InputQueueUpdateArgs struct {
	KeyInParent string
	QueryUID    string
}

// ActiveCount reports how many queries are currently admitted, for tests
// and diagnostics.
func (h *Handler) ActiveCount() int { return len(h.active) }

// Close implements actor.Closer. The scheduler calls it with a non-nil
// err when a fatal actor error has stopped the dispatch loop, so every
// query still blocked on Pop(ctx) wakes up with that error instead of
// hanging forever.
func (h *Handler) Close(err error) error {
	for uid, aq := range h.active {
		aq.queue.Close(err)
		delete(h.active, uid)
	}
	return nil
}
