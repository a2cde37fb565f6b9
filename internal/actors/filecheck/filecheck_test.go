package filecheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/cache"
	"github.com/rasterflow/rasterflow/internal/geofile"
)

func TestReceiveRepliesValidatedWithErrorForMissingFile(t *testing.T) {
	c := New("dem", geofile.ValidationSpec{Geo: geofile.GeoInfo{Width: 4, Height: 4}, Bands: 1})

	envs, err := c.Receive(actor.Envelope{
		Title: "validate",
		Args:  cache.ValidateArgs{CacheTileKey: "t1", Path: "/no/such/candidate.tif"},
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(envs) != 1 || envs[0].Title != "validated" {
		t.Fatalf("expected a single validated reply, got %v", envs)
	}
	reply := envs[0].Args.(cache.ValidatedArgs)
	if reply.Err == nil {
		t.Fatalf("expected a validation error for a missing candidate file")
	}
	if reply.CacheTileKey != "t1" {
		t.Fatalf("expected CacheTileKey to round-trip, got %q", reply.CacheTileKey)
	}
	if envs[0].Dest.Actor != "CacheSupervisor" || envs[0].Dest.GroupID != "dem" {
		t.Fatalf("unexpected reply destination: %+v", envs[0].Dest)
	}
}

func TestReceiveDeletesCandidateThatFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elevation_0000000000000001.tif")
	if err := os.WriteFile(path, []byte("not a real tile"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	c := New("dem", geofile.ValidationSpec{Geo: geofile.GeoInfo{Width: 4, Height: 4}, Bands: 1})
	envs, err := c.Receive(actor.Envelope{
		Title: "validate",
		Args:  cache.ValidateArgs{CacheTileKey: "t1", Path: path},
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	reply := envs[0].Args.(cache.ValidatedArgs)
	if reply.Err == nil {
		t.Fatalf("expected a validation error for a malformed candidate")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("expected the invalid candidate to be deleted, stat err = %v", statErr)
	}
}

func TestReceiveIgnoresUnrelatedTitles(t *testing.T) {
	c := New("dem", geofile.ValidationSpec{})
	envs, err := c.Receive(actor.Envelope{Title: "something_else"})
	if err != nil || envs != nil {
		t.Fatalf("expected a silent no-op, got (%v, %v)", envs, err)
	}
}
