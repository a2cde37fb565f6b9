package compute

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/geofile"
	"github.com/rasterflow/rasterflow/internal/geom"
	"github.com/rasterflow/rasterflow/internal/pool"
	"github.com/rasterflow/rasterflow/internal/sched/priorities"
)

// KernelFn is a raster's compute kernel, already bound to its descriptor
// (see raster.ComputeFn) so Computer doesn't need to know about
// internal/raster.
type KernelFn func(facade any, fp geom.Footprint, primitives map[string]any) (any, error)

// KernelError reports that a kernel's result doesn't match its raster's
// declared tile shape or channel count. It is user-kernel misbehavior
// rather than an engine fault, but Computer still reports it through the
// same "compute_result.Err" path a pool job failure uses: a kernel that
// returns nonsense is as unrecoverable as one that panics.
type KernelError struct {
	TileKey string
	Reason  string
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel result for tile %s: %s", e.TileKey, e.Reason)
}

// Computer submits admitted compute tiles to the raster's named compute
// pool and, once a job completes, normalizes the raw kernel result
// (shape, channel count, dtype range) before reporting it onward to the
// accumulator (which may merge several compute tiles into one cache tile
// before the result is visible to queries).
type Computer struct {
	rasterUID        string
	computePool      string
	sameAddressSpace bool
	kernel           KernelFn

	bands         int
	bitsPerSample int
	sampleFormat  geofile.SampleFormat

	footprints map[string]geom.Footprint // tile key -> footprint, admit to compute_done
}

// NewComputer creates a Computer for rasterUID, submitting jobs to
// computePool. sameAddressSpace mirrors the target pool's
// Pool.SameAddressSpace(): when false, the kernel is invoked with a nil
// facade. bands/bitsPerSample/sampleFormat are the raster's declared
// output layout, used to normalize every kernel result before it reaches
// the accumulator.
func NewComputer(rasterUID, computePool string, sameAddressSpace bool, bands, bitsPerSample int, sampleFormat geofile.SampleFormat, kernel KernelFn) *Computer {
	return &Computer{
		rasterUID:        rasterUID,
		computePool:      computePool,
		sameAddressSpace: sameAddressSpace,
		kernel:           kernel,
		bands:            bands,
		bitsPerSample:    bitsPerSample,
		sampleFormat:     sampleFormat,
		footprints:       make(map[string]geom.Footprint),
	}
}

func (c *Computer) waitingRoomAddr() actor.Address {
	return actor.Address{Group: actor.Pool, GroupID: c.computePool, Actor: "WaitingRoom"}
}

func (c *Computer) selfAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: c.rasterUID, Actor: "Computer"}
}

func (c *Computer) accumulatorAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: c.rasterUID, Actor: "Accumulator"}
}

// ComputeResultArgs is delivered to the Accumulator once a compute job
// finishes. Footprint is carried through from the admitted job rather
// than re-derived, since the accumulator's GroupFn only has the tile key
// to work with.
type ComputeResultArgs struct {
	TileKey   string
	Footprint geom.Footprint
	Result    any
	Err       error
}

// Receive implements actor.Actor. Valid titles: "admit" (from Gate2),
// "compute_done" (from the compute pool's WorkingRoom).
func (c *Computer) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "admit":
		args := env.Args.(AdmitArgs)
		c.footprints[args.TileKey] = args.Footprint
		var facade any
		if c.sameAddressSpace {
			facade = struct{}{} // placeholder shared-memory facade; real recipes close over richer state via kernel
		}
		job := pool.Job{
			ID:          args.TileKey,
			Class:       pool.ClassProduction,
			PriorityKey: priorities.Key{RasterUID: c.rasterUID, CacheFP: args.TileKey},
			Run: func() (any, error) {
				return c.kernel(facade, args.Footprint, args.Primitives)
			},
			ReplyTo:  c.selfAddr(),
			ReplyKey: "compute_done",
		}
		return []actor.Envelope{{
			Dest:  c.waitingRoomAddr(),
			Title: "submit_job",
			Args:  pool.SubmitJobArgs{Job: job},
			Kind:  actor.Basic,
		}}, nil

	case "compute_done":
		result := env.Args.(pool.JobResult)
		fp := c.footprints[result.JobID]
		delete(c.footprints, result.JobID)

		var normalized any
		var err error
		if result.Err != nil {
			err = fmt.Errorf("computing tile %s: %w", result.JobID, result.Err)
		} else {
			normalized, err = c.normalizeResult(result.JobID, fp, result.Result)
		}
		return []actor.Envelope{{
			Dest:  c.accumulatorAddr(),
			Title: "compute_result",
			Args:  ComputeResultArgs{TileKey: result.JobID, Footprint: fp, Result: normalized, Err: err},
			Kind:  actor.Basic,
		}}, nil

	default:
		return nil, nil
	}
}

// normalizeResult coerces a kernel's raw result into the canonical flat,
// band-interleaved []float64 the rest of the pipeline expects (the same
// layout Writer's WriteSpec.Samples uses), rejecting shapes or channel
// counts that don't match fp and c.bands, and clamping the remaining
// samples into the raster's declared dtype range.
func (c *Computer) normalizeResult(tileKey string, fp geom.Footprint, raw any) ([]float64, error) {
	flat, bands, err := flattenKernelResult(raw)
	if err != nil {
		return nil, &KernelError{TileKey: tileKey, Reason: err.Error()}
	}
	if bands != 0 && bands != c.bands {
		return nil, &KernelError{TileKey: tileKey, Reason: fmt.Sprintf("%d channels, want %d", bands, c.bands)}
	}
	want := fp.Width * fp.Height * c.bands
	if len(flat) != want {
		return nil, &KernelError{TileKey: tileKey, Reason: fmt.Sprintf(
			"%d samples, want %d for a %dx%d tile with %d bands", len(flat), want, fp.Width, fp.Height, c.bands)}
	}
	geofile.ClampToDType(flat, c.bitsPerSample, c.sampleFormat)
	return flat, nil
}

// flattenKernelResult coerces a kernel's result to 3-D (row, column, band)
// and flattens it to row-major, band-interleaved-by-pixel order. Kernels
// may return their own channel count per band.flat/band.planar shape;
// bands is 0 when the shape doesn't carry a self-describing band count
// (a flat []float64/[]float32), in which case normalizeResult falls back
// to checking the total sample count against fp and the raster's bands.
func flattenKernelResult(raw any) (flat []float64, bands int, err error) {
	switch v := raw.(type) {
	case []float64:
		return v, 0, nil

	case []float32:
		out := make([]float64, len(v))
		for i, s := range v {
			out[i] = float64(s)
		}
		return out, 0, nil

	case [][]float64: // band-planar: [band][pixel]
		bands = len(v)
		if bands == 0 {
			return nil, 0, fmt.Errorf("empty band-planar result")
		}
		n := len(v[0])
		out := make([]float64, n*bands)
		for b, plane := range v {
			if len(plane) != n {
				return nil, 0, fmt.Errorf("band %d has %d samples, want %d", b, len(plane), n)
			}
			for i, s := range plane {
				out[i*bands+b] = s
			}
		}
		return out, bands, nil

	case [][][]float64: // 3-D: [row][col][band]
		h := len(v)
		if h == 0 {
			return nil, 0, fmt.Errorf("empty 3-D result")
		}
		w := len(v[0])
		if w == 0 {
			return nil, 0, fmt.Errorf("empty row in 3-D result")
		}
		bands = len(v[0][0])
		out := make([]float64, 0, h*w*bands)
		for r, row := range v {
			if len(row) != w {
				return nil, 0, fmt.Errorf("row %d has %d columns, want %d", r, len(row), w)
			}
			for _, px := range row {
				if len(px) != bands {
					return nil, 0, fmt.Errorf("pixel has %d bands, want %d", len(px), bands)
				}
				out = append(out, px...)
			}
		}
		return out, bands, nil

	default:
		return nil, 0, fmt.Errorf("unsupported kernel result type %T", raw)
	}
}
