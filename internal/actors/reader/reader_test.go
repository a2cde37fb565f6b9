package reader

import (
	"testing"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/geofile"
)

func TestReceiveRepliesWithErrorForMissingFile(t *testing.T) {
	r := New("dem", geofile.NewWindowCache(4))

	envs, err := r.Receive(actor.Envelope{
		Title: "read_window",
		Args:  ReadWindowArgs{TileKey: "t1", Path: "/no/such/cache/tile.tif", X0: 0, Y0: 0, W: 4, H: 4},
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(envs) != 1 || envs[0].Title != "window_read" {
		t.Fatalf("expected a single window_read reply, got %v", envs)
	}
	reply := envs[0].Args.(WindowReadArgs)
	if reply.Err == nil {
		t.Fatalf("expected an error reading a nonexistent cache tile")
	}
	if envs[0].Dest.Actor != "Resampler" || envs[0].Dest.GroupID != "dem" {
		t.Fatalf("unexpected reply destination: %+v", envs[0].Dest)
	}
}

func TestReceiveIgnoresUnrelatedTitles(t *testing.T) {
	r := New("dem", geofile.NewWindowCache(4))
	envs, err := r.Receive(actor.Envelope{Title: "something_else"})
	if err != nil || envs != nil {
		t.Fatalf("expected a silent no-op, got (%v, %v)", envs, err)
	}
}

func TestCloseWithNoOpenFilesIsANoop(t *testing.T) {
	r := New("dem", geofile.NewWindowCache(4))
	if err := r.Close(); err != nil {
		t.Fatalf("Close with nothing open: %v", err)
	}
}
