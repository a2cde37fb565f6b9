package raster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/accumulate"
	"github.com/rasterflow/rasterflow/internal/actors/cache"
	"github.com/rasterflow/rasterflow/internal/actors/compute"
	"github.com/rasterflow/rasterflow/internal/actors/filecheck"
	"github.com/rasterflow/rasterflow/internal/actors/gate"
	"github.com/rasterflow/rasterflow/internal/actors/producer"
	"github.com/rasterflow/rasterflow/internal/actors/query"
	"github.com/rasterflow/rasterflow/internal/actors/reader"
	"github.com/rasterflow/rasterflow/internal/actors/resampler"
	"github.com/rasterflow/rasterflow/internal/actors/writer"
	"github.com/rasterflow/rasterflow/internal/geofile"
	"github.com/rasterflow/rasterflow/internal/geom"
	"github.com/rasterflow/rasterflow/internal/pool"
	qmodel "github.com/rasterflow/rasterflow/internal/query"
	"github.com/rasterflow/rasterflow/internal/sched"
	"github.com/rasterflow/rasterflow/internal/sched/priorities"
)

// Engine is the top-level façade: it owns the scheduler, the named
// worker pools, and every registered recipe raster's actor set, and
// exposes the synchronous QueueData entry point callers use to start a
// query. It does no scheduling itself — everything it builds is wired
// through Scheduler.Register, the actor system remains the sole owner of
// runtime behavior.
type Engine struct {
	log     *slog.Logger
	sched   *sched.Scheduler
	watcher *priorities.Watcher

	mu       sync.Mutex
	pools    map[string]pool.Pool
	handlers map[string]*query.Handler
	readers  map[string]*reader.Reader // only populated for cached rasters, for Close
}

// NewEngine creates an Engine with an empty pool set and no registered
// rasters. Register pools with AddThreadPool/AddProcessPool before
// registering any raster that names them.
func NewEngine(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	s := sched.New(log)
	w := priorities.NewWatcher()
	s.Register(actor.Address{Group: actor.Global, GroupID: "", Actor: "PrioritiesWatcher"}, w)

	return &Engine{
		log:      log,
		sched:    s,
		watcher:  w,
		pools:    make(map[string]pool.Pool),
		handlers: make(map[string]*query.Handler),
		readers:  make(map[string]*reader.Reader),
	}
}

// AddThreadPool registers a named in-process worker pool (Pool.SameAddressSpace
// true), suited to compute/merge/resample kernels that benefit from
// zero-copy access to already-decoded arrays.
func (e *Engine) AddThreadPool(name string, workers int) {
	e.addPool(name, workers, pool.NewThreadPool(workers))
}

// AddProcessPool registers a named pool modeling worker-subprocess
// semantics (Pool.SameAddressSpace false); kernels submitted to it are
// invoked with a nil facade.
func (e *Engine) AddProcessPool(name string, workers int) {
	e.addPool(name, workers, pool.NewProcessPool(workers))
}

func (e *Engine) addPool(name string, workers int, p pool.Pool) {
	e.mu.Lock()
	e.pools[name] = p
	e.mu.Unlock()

	wr := pool.NewWaitingRoom(name, workers)
	wk := pool.NewWorkingRoom(name, p)
	e.sched.Register(actor.Address{Group: actor.Pool, GroupID: name, Actor: "WaitingRoom"}, wr)
	e.sched.Register(actor.Address{Group: actor.Pool, GroupID: name, Actor: "WorkingRoom"}, wk)
}

// Register wires a recipe raster's full actor set: QueriesHandler,
// ProductionGate, Producer, Resampler, the computation gates, Computer,
// Accumulator, and — when Descriptor.Cached() — CacheSupervisor,
// CacheExtractor, Reader, Writer, and FileChecker.
func (e *Engine) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	_, exists := e.handlers[d.UID]
	computePool, havePool := e.pools[d.ComputePool]
	e.mu.Unlock()

	if exists {
		return fmt.Errorf("raster %s: already registered", d.UID)
	}
	if !havePool {
		return fmt.Errorf("raster %s: unknown compute pool %q, call AddThreadPool/AddProcessPool first", d.UID, d.ComputePool)
	}

	handler := query.NewHandler(d.UID)
	e.mu.Lock()
	e.handlers[d.UID] = handler
	e.mu.Unlock()
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "QueriesHandler"}, handler)

	// ProductionGate tracks readiness of whichever tile granularity
	// Producer delivers directly: cache tiles for a cached raster (the
	// common resample_needs==1 case this engine builds, §9(a)/(d)), or
	// compute tiles directly when caching is disabled.
	tileFn := d.ComputeTiles
	if d.Cached() {
		tileFn = d.CacheTiles
	}
	pg := gate.New(d.UID, tileFn)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "ProductionGate"}, pg)

	prod := producer.New(d.UID, d.Full, d.Cached())
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "Producer"}, prod)

	rs := resampler.New(d.UID, d.ResamplePool, resampler.ChannelPlan{UniqueChannels: d.Bands})
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "Resampler"}, rs)

	kernel := compute.KernelFn(d.Compute)
	computer := compute.NewComputer(d.UID, d.ComputePool, computePool.SameAddressSpace(), d.Bands, d.BitsPerSample, d.SampleFormat, kernel)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "Computer"}, computer)

	g1 := compute.NewGate1(d.UID)
	g2 := compute.NewGate2(d.UID, e.primitivesFn(d))
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "ComputationGate1"}, g1)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "ComputationGate2"}, g2)

	merge := accumulate.MergeFn(d.Merge)
	if merge == nil {
		merge = func(_, b any) (any, error) { return b, nil }
	}
	acc := accumulate.New(d.UID, d.Cached(), oneComputeTilePerCacheTile, merge)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "Accumulator"}, acc)

	if d.Cached() {
		if err := e.registerCacheActors(d); err != nil {
			return err
		}
	}

	return nil
}

// oneComputeTilePerCacheTile is the default accumulate.GroupFn: every
// compute tile is its own cache tile (MaxComputeTile == MaxCacheTile in
// the recipes this engine builds), so the accumulator's merge path never
// actually runs — it exists for a future recipe whose compute tiles
// subdivide more finely than its cache tiles.
func oneComputeTilePerCacheTile(computeTileKey string) (string, int) {
	return computeTileKey, 1
}

func (e *Engine) registerCacheActors(d Descriptor) error {
	ext := cache.NewExtractor(d.CacheDir, d.UID, "tif")
	spec := geofile.ValidationSpec{
		Geo: geofile.GeoInfo{
			PixelSizeX: d.Full.PixelSizeX,
			PixelSizeY: d.Full.PixelSizeY,
			Width:      d.MaxCacheTile,
			Height:     d.MaxCacheTile,
		},
		Bands:         d.Bands,
		BitsPerSample: d.BitsPerSample,
		SampleFormat:  d.SampleFormat,
	}

	sup := cache.New(d.UID, ext, spec)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "CacheSupervisor"}, sup)

	cacheExt := cache.NewExtractorActor(d.UID)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "CacheExtractor"}, cacheExt)

	fc := filecheck.New(d.UID, spec)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "FileChecker"}, fc)

	wtr := writer.New(d.UID, d.CacheDir, d.UID, "tif", d.Bands, d.BitsPerSample, d.SampleFormat)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "Writer"}, wtr)

	windowCache := geofile.NewWindowCache(256)
	rdr := reader.New(d.UID, windowCache)
	e.sched.Register(actor.Address{Group: actor.Raster, GroupID: d.UID, Actor: "Reader"}, rdr)

	e.mu.Lock()
	e.readers[d.UID] = rdr
	e.mu.Unlock()
	return nil
}

// primitivesFn builds the Gate2 readiness check for d. A recipe with no
// declared primitives is always ready with an empty primitive set — the
// common case this engine exercises end to end. A recipe that declares
// primitives needs each one's QueriesHandler wired as a sub-query source
// (§3's recipe-of-recipe ParentUID/KeyInParent propagation); that
// cross-raster subscription isn't built here, so such a tile is held
// indefinitely rather than silently admitted with missing inputs.
func (e *Engine) primitivesFn(d Descriptor) compute.PrimitivesFn {
	if len(d.Primitives) == 0 {
		return func(geom.Footprint) (map[string]any, bool) { return map[string]any{}, true }
	}
	return func(geom.Footprint) (map[string]any, bool) { return nil, false }
}

// QueueData admits a new query against rasterUID and returns the bounded
// queue the caller reads produced arrays from, mirroring §6's QueueData.
func (e *Engine) QueueData(rasterUID string, footprints []geom.Footprint, maxQueueSize int) (*qmodel.BoundedQueue, error) {
	e.mu.Lock()
	h, ok := e.handlers[rasterUID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("raster %s: not registered", rasterUID)
	}

	info := qmodel.Info{
		UID:          uuid.NewString(),
		RasterUID:    rasterUID,
		Footprints:   footprints,
		MaxQueueSize: maxQueueSize,
	}
	result, envs := h.Admit(info)
	for _, env := range envs {
		e.sched.Send(env)
	}
	return result.Queue, nil
}

// Run drains the scheduler's dispatch loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.sched.Run(ctx)
}

// Close releases every cached raster's open Reader file handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for uid, rdr := range e.readers {
		if err := rdr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.readers, uid)
	}
	return firstErr
}
