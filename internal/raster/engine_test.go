package raster

import (
	"context"
	"testing"
	"time"

	"github.com/rasterflow/rasterflow/internal/geom"
)

func TestRegisterRejectsUnknownComputePool(t *testing.T) {
	e := NewEngine(nil)
	d := Descriptor{
		UID:            "dem",
		Full:           geom.Footprint{Width: 4, Height: 4, PixelSizeX: 1, PixelSizeY: 1},
		Compute:        func(any, geom.Footprint, map[string]any) (any, error) { return nil, nil },
		MaxComputeTile: 4,
		Bands:          1,
		ComputePool:    "compute",
	}
	if err := e.Register(d); err == nil {
		t.Fatalf("expected an error registering against a pool that was never added")
	}
}

func TestRegisterRejectsDuplicateUID(t *testing.T) {
	e := NewEngine(nil)
	e.AddThreadPool("compute", 1)
	d := Descriptor{
		UID:            "dem",
		Full:           geom.Footprint{Width: 4, Height: 4, PixelSizeX: 1, PixelSizeY: 1},
		Compute:        func(any, geom.Footprint, map[string]any) (any, error) { return nil, nil },
		MaxComputeTile: 4,
		Bands:          1,
		ComputePool:    "compute",
	}
	if err := e.Register(d); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := e.Register(d); err == nil {
		t.Fatalf("expected an error re-registering the same UID")
	}
}

func TestRegisterRejectsInvalidDescriptor(t *testing.T) {
	e := NewEngine(nil)
	e.AddThreadPool("compute", 1)
	if err := e.Register(Descriptor{UID: "dem", ComputePool: "compute"}); err == nil {
		t.Fatalf("expected Validate's error to surface from Register")
	}
}

func TestQueueDataRejectsUnregisteredRaster(t *testing.T) {
	e := NewEngine(nil)
	if _, err := e.QueueData("missing", nil, 4); err == nil {
		t.Fatalf("expected an error queuing data against an unregistered raster")
	}
}

// TestEndToEndUncachedRasterDeliversComputedArray exercises the full
// wiring an uncached Register call builds: QueueData admits a query,
// the scheduler's dispatch loop carries it through ProductionGate,
// Producer, the computation gates, Computer (a real ThreadPool job),
// Accumulator, and Resampler, and the caller's BoundedQueue receives the
// finished array.
func TestEndToEndUncachedRasterDeliversComputedArray(t *testing.T) {
	e := NewEngine(nil)
	e.AddThreadPool("compute", 2)

	full := geom.Footprint{Width: 4, Height: 4, PixelSizeX: 1, PixelSizeY: 1}
	d := Descriptor{
		UID:  "dem",
		Full: full,
		Compute: func(facade any, fp geom.Footprint, primitives map[string]any) (any, error) {
			out := make([]float64, fp.Width*fp.Height)
			for i := range out {
				out[i] = 7
			}
			return out, nil
		},
		MaxComputeTile: 4,
		Bands:          1,
		ComputePool:    "compute",
	}
	if err := e.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}

	q, err := e.QueueData("dem", []geom.Footprint{full}, 4)
	if err != nil {
		t.Fatalf("QueueData: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	arr, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	samples, ok := arr.Data.([]float64)
	if !ok || len(samples) != 16 {
		t.Fatalf("expected 16 samples, got %#v", arr.Data)
	}
	for i, v := range samples {
		if v != 7 {
			t.Fatalf("sample %d: want 7, got %v", i, v)
		}
	}
}

// TestEndToEndOutsideFootprintDeliversNodata exercises Producer's
// nodata short-circuit end to end: a query footprint entirely outside
// the raster's Full extent never reaches the compute pool at all.
func TestEndToEndOutsideFootprintDeliversNodata(t *testing.T) {
	e := NewEngine(nil)
	e.AddThreadPool("compute", 1)

	full := geom.Footprint{Width: 4, Height: 4, PixelSizeX: 1, PixelSizeY: 1}
	called := false
	d := Descriptor{
		UID:  "dem",
		Full: full,
		Compute: func(any, geom.Footprint, map[string]any) (any, error) {
			called = true
			return nil, nil
		},
		MaxComputeTile: 4,
		Bands:          1,
		ComputePool:    "compute",
	}
	if err := e.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}

	outside := geom.Footprint{TopLeftX: 1000, TopLeftY: 1000, Width: 4, Height: 4, PixelSizeX: 1, PixelSizeY: 1}
	q, err := e.QueueData("dem", []geom.Footprint{outside}, 4)
	if err != nil {
		t.Fatalf("QueueData: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.Run(ctx)

	arr, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	samples, ok := arr.Data.([]float64)
	if !ok || len(samples) != 16 {
		t.Fatalf("expected a 16-sample nodata fill, got %#v", arr.Data)
	}
	if called {
		t.Fatalf("expected the compute kernel to never run for a fully-outside footprint")
	}
}

func TestCloseReleasesCachedRasterReaders(t *testing.T) {
	e := NewEngine(nil)
	e.AddThreadPool("compute", 1)

	full := geom.Footprint{Width: 4, Height: 4, PixelSizeX: 1, PixelSizeY: 1}
	d := Descriptor{
		UID:            "dem",
		Full:           full,
		Compute:        func(any, geom.Footprint, map[string]any) (any, error) { return nil, nil },
		MaxComputeTile: 4,
		MaxCacheTile:   4,
		CacheDir:       t.TempDir(),
		Bands:          1,
		BitsPerSample:  64,
		ComputePool:    "compute",
	}
	if err := e.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
