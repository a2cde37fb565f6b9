package actor

import "testing"

func TestAddressString(t *testing.T) {
	a := Address{Group: Raster, GroupID: "dem_1", Actor: "QueriesHandler"}
	want := "/Raster/dem_1/QueriesHandler"
	if got := a.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestWildcard(t *testing.T) {
	a := Address{Group: Pool, GroupID: WildcardGroupID, Actor: "WaitingRoom"}
	if !a.IsWildcard() {
		t.Errorf("expected wildcard address")
	}
	b := Address{Group: Pool, GroupID: "compute", Actor: "WaitingRoom"}
	if b.IsWildcard() {
		t.Errorf("named pool address should not be a wildcard")
	}
}

func TestAgingKeyCollapsesOnIDArgs(t *testing.T) {
	dest := Address{Group: Raster, GroupID: "dem_1", Actor: "Producer"}
	e1 := Envelope{Dest: dest, Title: "schedule", IDArgs: 42, Kind: Aging}
	e2 := Envelope{Dest: dest, Title: "schedule", IDArgs: 42, Kind: Aging}
	e3 := Envelope{Dest: dest, Title: "schedule", IDArgs: 43, Kind: Aging}

	if e1.AgingKey() != e2.AgingKey() {
		t.Errorf("envelopes with identical (dest, title, idargs) should share an aging key")
	}
	if e1.AgingKey() == e3.AgingKey() {
		t.Errorf("envelopes with different idargs should not share an aging key")
	}
}
