package writer

import (
	"testing"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/cache"
	"github.com/rasterflow/rasterflow/internal/geofile/tiff"
	"github.com/rasterflow/rasterflow/internal/geom"
)

func TestReceiveWritesTileAndRepliesToSupervisor(t *testing.T) {
	dir := t.TempDir()
	w := New("dem", dir, "dem", "tif", 1, 64, tiff.SampleFormatFloat)

	samples := make([]float64, 4)
	for i := range samples {
		samples[i] = float64(i)
	}

	envs, err := w.Receive(actor.Envelope{
		Title: "write_tile",
		Args: cache.WriteTileArgs{
			CacheTileKey: "t1",
			Footprint:    geom.Footprint{TopLeftX: 0, TopLeftY: 0, PixelSizeX: 1, PixelSizeY: 1, Width: 2, Height: 2},
			Result:       samples,
		},
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(envs) != 1 || envs[0].Title != "write_done" {
		t.Fatalf("expected a single write_done reply, got %v", envs)
	}
	reply := envs[0].Args.(cache.WriteDoneArgs)
	if reply.Err != nil {
		t.Fatalf("unexpected write error: %v", reply.Err)
	}
	if reply.Path == "" {
		t.Fatalf("expected a non-empty path on success")
	}
	if envs[0].Dest.Actor != "CacheSupervisor" || envs[0].Dest.GroupID != "dem" {
		t.Fatalf("unexpected reply destination: %+v", envs[0].Dest)
	}
}

func TestReceiveRejectsNonFloatResult(t *testing.T) {
	w := New("dem", t.TempDir(), "dem", "tif", 1, 64, tiff.SampleFormatFloat)

	envs, err := w.Receive(actor.Envelope{
		Title: "write_tile",
		Args: cache.WriteTileArgs{
			CacheTileKey: "t1",
			Footprint:    geom.Footprint{Width: 2, Height: 2, PixelSizeX: 1, PixelSizeY: 1},
			Result:       "not a sample slice",
		},
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	reply := envs[0].Args.(cache.WriteDoneArgs)
	if reply.Err == nil {
		t.Fatalf("expected an error for a non-[]float64 result")
	}
}

func TestReceiveIgnoresUnrelatedTitles(t *testing.T) {
	w := New("dem", t.TempDir(), "dem", "tif", 1, 64, tiff.SampleFormatFloat)
	envs, err := w.Receive(actor.Envelope{Title: "something_else"})
	if err != nil || envs != nil {
		t.Fatalf("expected a silent no-op, got (%v, %v)", envs, err)
	}
}
