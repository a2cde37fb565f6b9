// Package priorities implements the global priorities watcher: a
// singleton actor tracking, per (raster, cache footprint), which pending
// query has the most urgent unmet need for that tile, so pool waiting
// rooms can order their job queues by real downstream urgency instead of
// arrival order.
package priorities

import (
	"container/heap"

	"github.com/rasterflow/rasterflow/internal/actor"
)

// Key identifies one cache tile's priority queue: a raster and the
// content-addressed footprint of one of its cache tiles.
type Key struct {
	RasterUID string
	CacheFP   string
}

// entry is one query's outstanding need for a cache tile: the query id
// and the minimum production index among that query's still-pending
// outputs that depend on this tile. A smaller MinProdIdx means the
// query is closer to being able to deliver, so it sorts first.
type entry struct {
	queryID    string
	minProdIdx int
	index      int // heap.Interface bookkeeping
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].minProdIdx != h[j].minProdIdx {
		return h[i].minProdIdx < h[j].minProdIdx
	}
	return h[i].queryID < h[j].queryID
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// queue is the heap for one Key plus a side index for O(log n) re-keying
// of an existing query's entry (heap.Fix instead of remove+push).
type queue struct {
	h     entryHeap
	byQID map[string]*entry
}

func newQueue() *queue {
	return &queue{byQID: make(map[string]*entry)}
}

func (q *queue) set(queryID string, minProdIdx int) {
	if e, ok := q.byQID[queryID]; ok {
		e.minProdIdx = minProdIdx
		heap.Fix(&q.h, e.index)
		return
	}
	e := &entry{queryID: queryID, minProdIdx: minProdIdx}
	q.byQID[queryID] = e
	heap.Push(&q.h, e)
}

func (q *queue) remove(queryID string) {
	e, ok := q.byQID[queryID]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.byQID, queryID)
}

func (q *queue) top() (queryID string, minProdIdx int, ok bool) {
	if len(q.h) == 0 {
		return "", 0, false
	}
	return q.h[0].queryID, q.h[0].minProdIdx, true
}

// Watcher is the global priorities singleton. It lives at
// Address{Global, "", "PrioritiesWatcher"} and is the only writer of its
// internal state. Top reads that state directly; pool waiting rooms do
// not call it, they take the mutated key's new top entry from each
// GlobalPrioritiesUpdate broadcast.
type Watcher struct {
	queues    map[Key]*queue
	dbVersion uint64
}

// NewWatcher creates an empty priorities watcher.
func NewWatcher() *Watcher {
	return &Watcher{queues: make(map[Key]*queue)}
}

// DBVersion returns the monotone counter incremented on every mutation,
// so callers can cheaply detect whether their cached view is stale.
func (w *Watcher) DBVersion() uint64 { return w.dbVersion }

// Top returns the most urgent query waiting on a cache tile, if any.
func (w *Watcher) Top(key Key) (queryID string, minProdIdx int, ok bool) {
	q, exists := w.queues[key]
	if !exists {
		return "", 0, false
	}
	return q.top()
}

// SetProdIdxArgs is the payload of a "set_prod_idx" envelope: a query
// updating (or first declaring) its minimum pending production index for
// a cache tile.
type SetProdIdxArgs struct {
	Key        Key
	QueryID    string
	MinProdIdx int
}

// RemoveQueryArgs is the payload of a "remove_query" envelope: a query
// that no longer needs a cache tile (delivered, or torn down).
type RemoveQueryArgs struct {
	Key     Key
	QueryID string
}

// GlobalPrioritiesUpdate is broadcast to every pool's waiting room after a
// mutation. It carries the db_version for staleness checks plus the
// mutated Key's new top entry, so a waiting room can cheaply refresh the
// Urgency of any of its own pending jobs tagged with that Key without
// reaching back into the watcher: Removed means the key's queue is now
// empty (every job tagged with it, if any remain queued, should be
// treated as no longer urgent); otherwise QueryID/MinProdIdx is the new
// top of that key's queue.
type GlobalPrioritiesUpdate struct {
	DBVersion  uint64
	Key        Key
	QueryID    string
	MinProdIdx int
	Removed    bool
}

// Receive implements actor.Actor. Valid titles: "set_prod_idx",
// "remove_query". Every successful mutation produces a broadcast to
// every registered pool's WaitingRoom, scoped to the mutated Key.
func (w *Watcher) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "set_prod_idx":
		args := env.Args.(SetProdIdxArgs)
		q, ok := w.queues[args.Key]
		if !ok {
			q = newQueue()
			w.queues[args.Key] = q
		}
		q.set(args.QueryID, args.MinProdIdx)
		w.dbVersion++
		return w.broadcastFor(args.Key), nil

	case "remove_query":
		args := env.Args.(RemoveQueryArgs)
		if q, ok := w.queues[args.Key]; ok {
			q.remove(args.QueryID)
			if len(q.h) == 0 {
				delete(w.queues, args.Key)
			}
		}
		w.dbVersion++
		return w.broadcastFor(args.Key), nil

	default:
		return nil, nil
	}
}

func (w *Watcher) broadcastFor(key Key) []actor.Envelope {
	update := GlobalPrioritiesUpdate{DBVersion: w.dbVersion, Key: key}
	if qid, idx, ok := w.Top(key); ok {
		update.QueryID = qid
		update.MinProdIdx = idx
	} else {
		update.Removed = true
	}
	return []actor.Envelope{{
		Dest:  actor.Address{Group: actor.Pool, GroupID: actor.WildcardGroupID, Actor: "WaitingRoom"},
		Title: "global_priorities_update",
		Args:  update,
		Kind:  actor.Droppable,
	}}
}
