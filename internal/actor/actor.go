// Package actor defines the addressing and message types the scheduler
// dispatches: actors are addressed by a (group kind, group id, actor kind)
// triple, and messages carry a delivery guarantee (Basic, Droppable, or
// Aging) the scheduler enforces in its dispatch loop.
package actor

import "fmt"

// GroupKind partitions the address space. Global holds singleton actors
// (the priorities watcher, top-level supervisor); Raster groups actors
// scoped to one recipe raster (its QueriesHandler, ProductionGate, cache
// actors); Pool groups the two-room pool actors, one group per named pool.
type GroupKind int

const (
	Global GroupKind = iota
	Raster
	Pool
)

func (g GroupKind) String() string {
	switch g {
	case Global:
		return "Global"
	case Raster:
		return "Raster"
	case Pool:
		return "Pool"
	default:
		return fmt.Sprintf("GroupKind(%d)", int(g))
	}
}

// WildcardGroupID addresses every registered group of a GroupKind at once.
// Only Pool groups currently support wildcard broadcast (the priorities
// watcher uses it to reach every waiting room).
const WildcardGroupID = "*"

// Address identifies one actor instance: its group kind, the group's id
// (e.g. a raster uid, or a pool name), and the actor kind within that
// group (e.g. "WaitingRoom", "QueriesHandler").
type Address struct {
	Group   GroupKind
	GroupID string
	Actor   string
}

// IsWildcard reports whether this address should be resolved to every
// registered group of the same kind at send time.
func (a Address) IsWildcard() bool { return a.GroupID == WildcardGroupID }

func (a Address) String() string {
	return fmt.Sprintf("/%s/%s/%s", a.Group, a.GroupID, a.Actor)
}

// Kind is the delivery guarantee a message carries.
type Kind int

const (
	// Basic messages are always delivered, queued if the recipient is
	// momentarily busy.
	Basic Kind = iota
	// Droppable messages are silently discarded if the recipient has
	// already been torn down by the time they'd be delivered.
	Droppable
	// Aging messages collapse: if more than one Aging envelope addressed
	// to the same (recipient, method, IDArgs) is pending within a single
	// dispatch round, only the last one survives.
	Aging
)

// Envelope is one scheduled unit of work: a method call (Title) on an
// actor (Dest) carrying arguments (Args), with a delivery guarantee
// (Kind). Aging envelopes additionally carry IDArgs, the comparable key
// the scheduler collapses duplicates on.
type Envelope struct {
	Dest   Address
	Title  string
	Args   any
	Kind   Kind
	IDArgs any
}

// agingKey identifies the (recipient, method, id) triple Aging envelopes
// collapse on.
type agingKey struct {
	dest   Address
	title  string
	idArgs any
}

// AgingKey returns the key under which this envelope collapses with
// others of the same (Dest, Title, IDArgs). Only meaningful for
// Kind == Aging.
func (e Envelope) AgingKey() any {
	return agingKey{dest: e.Dest, title: e.Title, idArgs: e.IDArgs}
}

// Actor is implemented by every addressable actor. Receive handles one
// envelope and returns any new envelopes it produces as a side effect
// (e.g. a reply, or a cascading message to another actor), which the
// scheduler pushes onto its pile.
type Actor interface {
	Receive(env Envelope) ([]Envelope, error)
}

// KeepAlive is implemented by actors the scheduler should tick even when
// no envelope addresses them, via ExtReceiveNothing, so they can notice
// external state changes (a future resolving, a file appearing) without
// needing an explicit wakeup message.
type KeepAlive interface {
	Actor
	ExtReceiveNothing() ([]Envelope, error)
}

// Closer is implemented by actors that hold resources a user thread may
// be blocked on (a BoundedQueue, an open file) and need to be told when
// the scheduler is shutting down because of a fatal error, so that
// anything waiting on them is unblocked with that error instead of
// hanging forever.
type Closer interface {
	Actor
	Close(err error) error
}
