package resampler

import (
	"errors"
	"testing"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/reader"
)

func TestWindowReadPassesThroughWithNoPlan(t *testing.T) {
	r := New("dem", "", ChannelPlan{UniqueChannels: 1})
	envs, err := r.Receive(actor.Envelope{
		Title: "window_read",
		Args:  reader.WindowReadArgs{TileKey: "t1", Samples: []float64{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("window_read: %v", err)
	}
	got := envs[0].Args.(ResampleDoneArgs)
	if got.TileKey != "t1" || len(got.Samples) != 3 || got.Samples[1] != 2 {
		t.Fatalf("unexpected passthrough result: %+v", got)
	}
}

func TestWindowReadPropagatesReaderError(t *testing.T) {
	r := New("dem", "", ChannelPlan{UniqueChannels: 1})
	envs, _ := r.Receive(actor.Envelope{
		Title: "window_read",
		Args:  reader.WindowReadArgs{TileKey: "t1", Err: errors.New("boom")},
	})
	got := envs[0].Args.(ResampleDoneArgs)
	if got.Err == nil {
		t.Fatalf("expected the reader error to propagate")
	}
}

func TestChannelReorderPicksSourceChannels(t *testing.T) {
	// 2 pixels, 3 unique source channels (r,g,b); output wants (b,b,r).
	plan := ChannelPlan{UniqueChannels: 3, ChannelIndices: []int{2, 2, 0}}
	r := New("rgb", "", plan)
	samples := []float64{10, 20, 30, 40, 50, 60} // px0=(10,20,30) px1=(40,50,60)

	envs, err := r.Receive(actor.Envelope{
		Title: "resample_array",
		Args:  ResampleArrayArgs{TileKey: "t1", Samples: samples},
	})
	if err != nil {
		t.Fatalf("resample_array: %v", err)
	}
	got := envs[0].Args.(ResampleDoneArgs).Samples
	want := []float64{30, 30, 10, 60, 60, 40}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNodataRemapReplacesSourceSentinel(t *testing.T) {
	plan := ChannelPlan{UniqueChannels: 1, HasSrcNodata: true, SrcNodata: -9999, DstNodata: 0}
	r := New("dem", "", plan)

	envs, err := r.Receive(actor.Envelope{
		Title: "resample_array",
		Args:  ResampleArrayArgs{TileKey: "t1", Samples: []float64{1, -9999, 3}},
	})
	if err != nil {
		t.Fatalf("resample_array: %v", err)
	}
	got := envs[0].Args.(ResampleDoneArgs).Samples
	want := []float64{1, 0, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResampleNodataFillsWholeTile(t *testing.T) {
	plan := ChannelPlan{UniqueChannels: 2, DstNodata: -1}
	r := New("dem", "", plan)

	envs, err := r.Receive(actor.Envelope{
		Title: "resample_nodata",
		Args:  ResampleNodataArgs{TileKey: "t1", PixelCount: 3},
	})
	if err != nil {
		t.Fatalf("resample_nodata: %v", err)
	}
	got := envs[0].Args.(ResampleDoneArgs).Samples
	if len(got) != 6 {
		t.Fatalf("expected 3 pixels * 2 channels = 6 samples, got %d", len(got))
	}
	for _, v := range got {
		if v != -1 {
			t.Fatalf("expected all nodata fill, got %v", got)
		}
	}
}
