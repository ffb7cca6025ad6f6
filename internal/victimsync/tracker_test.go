package victimsync

import (
	"testing"

	"github.com/dreamware/edgecache/internal/wire"
)

func TestTrackerInstallAndRefcount(t *testing.T) {
	tr := NewVictimTracker()

	tr.Install(1, map[string]wire.VictimDirinfo{"k": vd(1, 1)})
	tr.Install(2, map[string]wire.VictimDirinfo{"k": vd(2, 2)})

	count, isVictim := tr.IsVictimSomewhere("k")
	if !isVictim || count != 2 {
		t.Fatalf("expected key tracked by 2 neighbors, got count=%d isVictim=%v", count, isVictim)
	}

	// Neighbor 1 stops reporting k.
	tr.Install(1, map[string]wire.VictimDirinfo{})
	count, isVictim = tr.IsVictimSomewhere("k")
	if !isVictim || count != 1 {
		t.Fatalf("expected count to drop to 1, got count=%d isVictim=%v", count, isVictim)
	}
}

func TestTrackerDropNeighborClearsItsKeys(t *testing.T) {
	tr := NewVictimTracker()
	tr.Install(1, map[string]wire.VictimDirinfo{"k": vd(1, 1)})

	tr.DropNeighbor(1)

	if _, isVictim := tr.IsVictimSomewhere("k"); isVictim {
		t.Fatal("expected key to no longer be a victim after its only neighbor is dropped")
	}
	if tr.NeighborBatch(1) != nil {
		t.Fatal("expected neighbor batch to be cleared")
	}
}

func TestTrackerLookup(t *testing.T) {
	tr := NewVictimTracker()
	tr.Install(1, map[string]wire.VictimDirinfo{"k": vd(1, 9)})

	info, ok := tr.Lookup(1, "k")
	if !ok || info.BeaconEdgeIndex != 1 {
		t.Fatalf("expected lookup to find neighbor 1's record, got %+v ok=%v", info, ok)
	}

	if _, ok := tr.Lookup(2, "k"); ok {
		t.Fatal("expected no record from an unknown neighbor")
	}
}
