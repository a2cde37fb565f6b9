package pool

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is a handle to a job running on a worker Pool. Poll is
// non-blocking: the WorkingRoom calls it once per keep-alive tick rather
// than blocking the scheduler goroutine on completion.
type Future interface {
	Poll() (result any, err error, done bool)
}

// Pool runs thunks on workers outside the scheduler goroutine. SameAddressSpace
// tells a caller building the thunk whether it may close over
// shared-memory state directly (ThreadPool) or must go through a facade
// proxy instead (ProcessPool), mirroring the distinction the engine's
// design draws between in-process and subprocess worker pools.
type Pool interface {
	Apply(fn func() (any, error)) Future
	SameAddressSpace() bool
}

type future struct {
	mu     sync.Mutex
	done   bool
	result any
	err    error
}

func (f *future) Poll() (any, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err, f.done
}

func (f *future) complete(result any, err error) {
	f.mu.Lock()
	f.result, f.err, f.done = result, err, true
	f.mu.Unlock()
}

// ThreadPool runs jobs as goroutines sharing the host process's memory,
// bounded to workerCount concurrent jobs via errgroup.Group.SetLimit.
// Used for compute/merge/resample kernels, which are trusted Go code
// that benefits from zero-copy access to already-decoded arrays.
type ThreadPool struct {
	g *errgroup.Group
}

// NewThreadPool creates a thread pool with the given worker concurrency.
func NewThreadPool(workerCount int) *ThreadPool {
	g := new(errgroup.Group)
	g.SetLimit(workerCount)
	return &ThreadPool{g: g}
}

func (p *ThreadPool) Apply(fn func() (any, error)) Future {
	f := &future{}
	p.g.Go(func() error {
		result, err := fn()
		f.complete(result, err)
		return nil
	})
	return f
}

func (p *ThreadPool) SameAddressSpace() bool { return true }

// Wait blocks until every job submitted to the pool has completed. Used
// during shutdown; the scheduler's own dispatch loop never blocks on it.
func (p *ThreadPool) Wait() error { return p.g.Wait() }

// ProcessPool models the engine's worker-subprocess pool: kernels run
// with the same (fn func() (any, error)) contract as ThreadPool, but
// SameAddressSpace reports false so callers pass kernels a nil facade
// instead of a shared-memory proxy, honoring the spec's contract that a
// subprocess worker cannot see the parent's in-memory state directly.
// Full OS-process isolation (marshalling kernels and their arguments
// across an os/exec boundary) is out of scope here: the goal is the
// documented behavioral contract, not a working subprocess RPC layer, so
// this shares ThreadPool's in-process mechanics while honoring that
// contract at the call sites that build job thunks.
type ProcessPool struct {
	g *errgroup.Group
}

// NewProcessPool creates a process-semantics pool with the given worker
// concurrency.
func NewProcessPool(workerCount int) *ProcessPool {
	g := new(errgroup.Group)
	g.SetLimit(workerCount)
	return &ProcessPool{g: g}
}

func (p *ProcessPool) Apply(fn func() (any, error)) Future {
	f := &future{}
	p.g.Go(func() error {
		result, err := fn()
		f.complete(result, err)
		return nil
	})
	return f
}

func (p *ProcessPool) SameAddressSpace() bool { return false }

func (p *ProcessPool) Wait() error { return p.g.Wait() }
