// Package sched implements the engine's dispatch loop: a single-threaded,
// cooperative scheduler that pops pending envelopes, invokes the
// addressed actor, and pushes any envelopes that invocation produces back
// onto the pile, exactly as a trampoline.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rasterflow/rasterflow/internal/actor"
)

// idleSleep is how long Run waits before re-polling when the pile and the
// external queue are empty and no keep-alive actor is registered. While
// any keep-alive actor is registered, Run keeps ticking them without
// sleeping, whether or not a tick produced envelopes.
const idleSleep = 50 * time.Millisecond

// Scheduler owns the actor registry and the message pile, and runs the
// single-threaded dispatch loop described by the engine's design: pop,
// resolve, invoke, push, with aging collapse inside each round and a
// round-robin keep-alive tick when the pile empties.
type Scheduler struct {
	log *slog.Logger

	mu       sync.Mutex
	actors   map[actor.Address]actor.Actor
	groups   map[actor.GroupKind][]string // distinct GroupIDs seen per kind, for wildcard resolution
	pile     []actor.Envelope
	keepAlive []actor.Address

	extMu  sync.Mutex
	ext    []actor.Envelope
	extNext int // round-robin cursor into keepAlive
}

// New creates an empty Scheduler. Actors register themselves via
// Register before Run starts processing.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:    log,
		actors: make(map[actor.Address]actor.Actor),
		groups: make(map[actor.GroupKind][]string),
	}
}

// Register adds an actor at addr. If it also implements actor.KeepAlive,
// it's added to the round-robin keep-alive rotation.
func (s *Scheduler) Register(addr actor.Address, a actor.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actors[addr]; !exists {
		s.groups[addr.Group] = appendDistinct(s.groups[addr.Group], addr.GroupID)
	}
	s.actors[addr] = a
	if _, ok := a.(actor.KeepAlive); ok {
		s.keepAlive = appendDistinctAddr(s.keepAlive, addr)
	}
}

// Unregister removes an actor, e.g. after a raster or pool is torn down.
// Droppable envelopes already queued for addr are discarded at dispatch
// time rather than here.
func (s *Scheduler) Unregister(addr actor.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actors, addr)
	for i, a := range s.keepAlive {
		if a == addr {
			s.keepAlive = append(s.keepAlive[:i], s.keepAlive[i+1:]...)
			break
		}
	}
}

// Send enqueues an envelope from outside the scheduler's own goroutine
// (e.g. a user calling QueueData).
// It is safe to call concurrently with Run.
func (s *Scheduler) Send(env actor.Envelope) {
	s.extMu.Lock()
	s.ext = append(s.ext, env)
	s.extMu.Unlock()
}

// Run drains the pile until ctx is cancelled. Each round: pop one
// envelope, resolve its destination (expanding wildcards), invoke the
// actor(s), push whatever new envelopes that produces, and collapse
// Aging envelopes sharing a key within the same round. When the pile is
// empty, Run drains one externally-queued envelope if present, else
// ticks the next keep-alive actor round-robin, else sleeps idleSleep.
//
// An error returned from an actor's Receive is unrecoverable: it stops
// the dispatch loop, notifies every registered actor.Closer so anything
// a user thread is blocked on (a BoundedQueue, say) is released with
// that error, and is itself returned from Run.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, ok := s.popPile()
		if ok {
			if err := s.dispatch(env); err != nil {
				s.shutdown(err)
				return err
			}
			continue
		}

		if env, ok := s.popExternal(); ok {
			s.pushPile(env)
			continue
		}

		if s.tickKeepAlive() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idleSleep):
		}
	}
}

func (s *Scheduler) popPile() (actor.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pile) == 0 {
		return actor.Envelope{}, false
	}
	n := len(s.pile) - 1
	env := s.pile[n]
	s.pile = s.pile[:n]
	return env, true
}

func (s *Scheduler) pushPile(envs ...actor.Envelope) {
	if len(envs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, env := range envs {
		if env.Kind == actor.Aging {
			key := env.AgingKey()
			replaced := false
			for i := range s.pile {
				if s.pile[i].Kind == actor.Aging && s.pile[i].AgingKey() == key {
					s.pile[i] = env
					replaced = true
					break
				}
			}
			if replaced {
				continue
			}
		}
		s.pile = append(s.pile, env)
	}
}

func (s *Scheduler) popExternal() (actor.Envelope, bool) {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	if len(s.ext) == 0 {
		return actor.Envelope{}, false
	}
	env := s.ext[0]
	s.ext = s.ext[1:]
	return env, true
}

// tickKeepAlive advances the round-robin cursor by one and invokes that
// actor's ExtReceiveNothing. Returns false if there are no keep-alive
// actors registered.
func (s *Scheduler) tickKeepAlive() bool {
	s.mu.Lock()
	if len(s.keepAlive) == 0 {
		s.mu.Unlock()
		return false
	}
	addr := s.keepAlive[s.extNext%len(s.keepAlive)]
	s.extNext++
	a := s.actors[addr]
	s.mu.Unlock()

	if a == nil {
		return true
	}
	ka, ok := a.(actor.KeepAlive)
	if !ok {
		return true
	}
	envs, err := ka.ExtReceiveNothing()
	if err != nil {
		s.log.Error("keep-alive tick failed", "actor", addr.String(), "err", err)
		return true
	}
	s.pushPile(envs...)
	return true
}

// resolve expands a destination address to the concrete actors it should
// be delivered to: itself, unless it's a wildcard, in which case every
// registered group of the same kind.
func (s *Scheduler) resolve(dest actor.Address) []actor.Address {
	if !dest.IsWildcard() {
		return []actor.Address{dest}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.groups[dest.Group]
	out := make([]actor.Address, 0, len(ids))
	for _, id := range ids {
		out = append(out, actor.Address{Group: dest.Group, GroupID: id, Actor: dest.Actor})
	}
	return out
}

// dispatch delivers env to its resolved target(s). It returns the first
// error an actor's Receive produces, which Run treats as fatal: actor
// errors are exceptions that surface to the scheduler thread and must be
// re-raised in the user thread, not swallowed as a log line.
func (s *Scheduler) dispatch(env actor.Envelope) error {
	targets := s.resolve(env.Dest)
	for _, addr := range targets {
		s.mu.Lock()
		a := s.actors[addr]
		s.mu.Unlock()

		if a == nil {
			if env.Kind != actor.Droppable {
				s.log.Warn("message to unregistered actor", "dest", addr.String(), "title", env.Title)
			}
			continue
		}

		envs, err := a.Receive(actor.Envelope{Dest: addr, Title: env.Title, Args: env.Args, Kind: env.Kind, IDArgs: env.IDArgs})
		if err != nil {
			return fmt.Errorf("actor %s receive %q: %w", addr.String(), env.Title, err)
		}
		s.pushPile(envs...)
	}
	return nil
}

// shutdown notifies every registered actor.Closer that the scheduler is
// stopping because of a fatal error, unblocking anything a user thread
// is waiting on (e.g. query.Handler's BoundedQueues) with that error
// instead of leaving it to hang forever.
func (s *Scheduler) shutdown(err error) {
	s.mu.Lock()
	closers := make([]actor.Closer, 0)
	for _, a := range s.actors {
		if c, ok := a.(actor.Closer); ok {
			closers = append(closers, c)
		}
	}
	s.mu.Unlock()

	for _, c := range closers {
		if cerr := c.Close(err); cerr != nil {
			s.log.Error("actor close failed during shutdown", "err", cerr)
		}
	}
}

func appendDistinct(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

func appendDistinctAddr(as []actor.Address, v actor.Address) []actor.Address {
	for _, a := range as {
		if a == v {
			return as
		}
	}
	return append(as, v)
}
