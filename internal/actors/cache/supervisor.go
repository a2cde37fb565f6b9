package cache

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/accumulate"
	"github.com/rasterflow/rasterflow/internal/geofile"
	"github.com/rasterflow/rasterflow/internal/geom"
)

// State is a cache tile's lifecycle stage. absent is terminal only until
// the tile is requested again; ready is terminal for the tile's content
// (content-addressed files are never mutated in place).
type State int

const (
	Unknown State = iota
	Checking
	Ready
	Absent
)

type tileEntry struct {
	state     State
	path      string
	footprint geom.Footprint
}

// Supervisor is the per-raster CacheSupervisor actor: it owns
// tileEntry.state transitions and is the only actor allowed to move a
// tile into Checking, enforcing the at-most-one-computation invariant at
// the point a tile is first assembled (see Computer's dedup: once a tile
// is Checking or Ready here, a second "tile_assembled" for the same key
// is treated as a duplicate and ignored rather than re-written).
type Supervisor struct {
	rasterUID string
	extractor *Extractor
	spec      geofile.ValidationSpec

	tiles map[string]*tileEntry
}

// New creates a Supervisor for rasterUID, persisting tiles via extractor
// and validating them against spec.
func New(rasterUID string, extractor *Extractor, spec geofile.ValidationSpec) *Supervisor {
	return &Supervisor{rasterUID: rasterUID, extractor: extractor, spec: spec, tiles: make(map[string]*tileEntry)}
}

func (s *Supervisor) writerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: s.rasterUID, Actor: "Writer"}
}

func (s *Supervisor) fileCheckerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: s.rasterUID, Actor: "FileChecker"}
}

func (s *Supervisor) extractorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: s.rasterUID, Actor: "CacheExtractor"}
}

func (s *Supervisor) producerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: s.rasterUID, Actor: "Producer"}
}

// Receive implements actor.Actor. Valid titles: "ensure_cache_tile" (from
// Producer, demand-driven), "tile_assembled" (from Accumulator,
// supply-driven), "write_done" (from Writer), "validated" (from
// FileChecker).
func (s *Supervisor) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "ensure_cache_tile":
		return s.onEnsure(env.Args.(EnsureArgs))

	case "tile_assembled":
		return s.onTileAssembled(env.Args.(accumulate.TileAssembledArgs))

	case "write_done":
		return s.onWriteDone(env.Args.(WriteDoneArgs))

	case "validated":
		return s.onValidated(env.Args.(ValidatedArgs))

	default:
		return nil, nil
	}
}

// onEnsure handles a demand-driven check from Producer: is this cache
// tile available? Ready tiles re-announce themselves to CacheExtractor
// (idempotent — it only acts if something is still waiting); unknown
// tiles run the same candidate-glob as onTileAssembled, and absent
// tiles are reported back to Producer so it can request computation.
func (s *Supervisor) onEnsure(args EnsureArgs) ([]actor.Envelope, error) {
	entry, exists := s.tiles[args.CacheTileKey]
	if exists {
		switch entry.state {
		case Ready:
			return []actor.Envelope{s.readyEnvelope(args.CacheTileKey, entry)}, nil
		case Checking:
			return nil, nil // CacheExtractor will be told once validation completes
		}
	}

	matches, err := s.extractor.FindExisting(args.CacheTileKey)
	if err != nil {
		return nil, err
	}
	if len(matches) > 1 {
		if err := s.extractor.RemoveCandidates(matches); err != nil {
			return nil, err
		}
		matches = nil
	}
	if len(matches) == 1 {
		s.tiles[args.CacheTileKey] = &tileEntry{state: Checking, path: matches[0], footprint: args.Footprint}
		return []actor.Envelope{{
			Dest:  s.fileCheckerAddr(),
			Title: "validate",
			Args:  ValidateArgs{CacheTileKey: args.CacheTileKey, Path: matches[0]},
			Kind:  actor.Basic,
		}}, nil
	}

	s.tiles[args.CacheTileKey] = &tileEntry{state: Absent, footprint: args.Footprint}
	return []actor.Envelope{{
		Dest:  s.producerAddr(),
		Title: "cache_miss",
		Args:  CacheMissArgs{CacheTileKey: args.CacheTileKey},
		Kind:  actor.Basic,
	}}, nil
}

func (s *Supervisor) readyEnvelope(cacheTileKey string, entry *tileEntry) actor.Envelope {
	return actor.Envelope{
		Dest:  s.extractorAddr(),
		Title: "cache_file_ready",
		Args:  CacheFileReadyArgs{TileKey: cacheTileKey, Path: entry.path, Footprint: entry.footprint},
		Kind:  actor.Basic,
	}
}

// EnsureArgs is sent by Producer to ask whether a cache tile is
// available, triggering computation if it is not.
type EnsureArgs struct {
	CacheTileKey string
	Footprint    geom.Footprint
}

// CacheMissArgs is the supervisor's reply to Producer when a tile turns
// out to be absent, so Producer can request its computation.
type CacheMissArgs struct {
	CacheTileKey string
}

func (s *Supervisor) onTileAssembled(args accumulate.TileAssembledArgs) ([]actor.Envelope, error) {
	entry, exists := s.tiles[args.CacheTileKey]
	if exists && (entry.state == Checking || entry.state == Ready) {
		// A second assembly for a tile already being written or already
		// on disk: the at-most-one invariant is enforced right here.
		return nil, nil
	}

	matches, err := s.extractor.FindExisting(args.CacheTileKey)
	if err != nil {
		return nil, err
	}
	if len(matches) > 1 {
		if err := s.extractor.RemoveCandidates(matches); err != nil {
			return nil, err
		}
		matches = nil
	}
	if len(matches) == 1 {
		s.tiles[args.CacheTileKey] = &tileEntry{state: Checking, path: matches[0], footprint: args.Footprint}
		return []actor.Envelope{{
			Dest:  s.fileCheckerAddr(),
			Title: "validate",
			Args:  ValidateArgs{CacheTileKey: args.CacheTileKey, Path: matches[0]},
			Kind:  actor.Basic,
		}}, nil
	}

	s.tiles[args.CacheTileKey] = &tileEntry{state: Checking, footprint: args.Footprint}
	return []actor.Envelope{{
		Dest:  s.writerAddr(),
		Title: "write_tile",
		Args:  WriteTileArgs{CacheTileKey: args.CacheTileKey, Footprint: args.Footprint, Result: args.Result},
		Kind:  actor.Basic,
	}}, nil
}

func (s *Supervisor) onWriteDone(args WriteDoneArgs) ([]actor.Envelope, error) {
	entry, ok := s.tiles[args.CacheTileKey]
	if !ok {
		return nil, nil
	}
	if args.Err != nil {
		entry.state = Absent
		return nil, fmt.Errorf("writing cache tile %s: %w", args.CacheTileKey, args.Err)
	}
	entry.path = args.Path
	return []actor.Envelope{{
		Dest:  s.fileCheckerAddr(),
		Title: "validate",
		Args:  ValidateArgs{CacheTileKey: args.CacheTileKey, Path: args.Path},
		Kind:  actor.Basic,
	}}, nil
}

func (s *Supervisor) onValidated(args ValidatedArgs) ([]actor.Envelope, error) {
	entry, ok := s.tiles[args.CacheTileKey]
	if !ok {
		return nil, nil
	}
	if args.Err != nil {
		// FileChecker has already removed the bad candidate from disk.
		// A corrupt cache file is recoverable: report absent so Producer
		// requests a fresh computation, rather than taking down the
		// scheduler over a tile the pipeline can simply recompute.
		entry.state = Absent
		entry.path = ""
		return []actor.Envelope{{
			Dest:  s.producerAddr(),
			Title: "cache_miss",
			Args:  CacheMissArgs{CacheTileKey: args.CacheTileKey},
			Kind:  actor.Basic,
		}}, nil
	}
	entry.state = Ready
	return []actor.Envelope{s.readyEnvelope(args.CacheTileKey, entry)}, nil
}

// WriteTileArgs is sent to Writer to persist an assembled cache tile.
type WriteTileArgs struct {
	CacheTileKey string
	Footprint    geom.Footprint
	Result       any
}

// WriteDoneArgs is Writer's reply once a tile has been written (or
// failed to write).
type WriteDoneArgs struct {
	CacheTileKey string
	Path         string
	Checksum     uint64
	Err          error
}

// ValidateArgs is sent to FileChecker to confirm a candidate file's
// geometry/dtype/checksum before the supervisor trusts it.
type ValidateArgs struct {
	CacheTileKey string
	Path         string
}

// ValidatedArgs is FileChecker's reply.
type ValidatedArgs struct {
	CacheTileKey string
	Err          error
}

// StateOf reports a tile's current lifecycle state, for tests and
// diagnostics.
func (s *Supervisor) StateOf(cacheTileKey string) State {
	if e, ok := s.tiles[cacheTileKey]; ok {
		return e.state
	}
	return Unknown
}
