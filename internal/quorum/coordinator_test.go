package quorum

import (
	"testing"

	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
)

func TestReconcileAdoptsStrictlyNewerClock(t *testing.T) {
	a := crdt.NewItem("i1", "l1", "milk", 1, 0, "node-a", 100, 100)
	aSnap := a.Snapshot()

	b := crdt.ItemFromSnapshot(aSnap)
	b.Touch("node-a", 150)
	bSnap := b.Snapshot()

	result := reconcile(model.DataItem, []any{aSnap, bSnap})
	if result.Item == nil {
		t.Fatal("expected an item result")
	}
	if result.Item.LastUpdated != 150 {
		t.Fatalf("got lastUpdated %d, want 150 (the strictly-after clock)", result.Item.LastUpdated)
	}
}

func TestReconcilePicksGreaterLastUpdatedOnConcurrent(t *testing.T) {
	a := crdt.NewItem("i1", "l1", "milk", 1, 0, "node-a", 100, 100)
	a.Touch("node-a", 100)
	aSnap := a.Snapshot()

	b := crdt.NewItem("i1", "l1", "milk", 1, 0, "node-b", 100, 150)
	b.Touch("node-b", 150)
	bSnap := b.Snapshot()

	result := reconcile(model.DataItem, []any{aSnap, bSnap})
	if result.Item == nil {
		t.Fatal("expected an item result")
	}
	if result.Item.LastUpdated != 150 {
		t.Fatalf("got lastUpdated %d, want 150 (the concurrent winner)", result.Item.LastUpdated)
	}
}

func TestRemotesOfExcludesSelf(t *testing.T) {
	c := &Coordinator{selfID: "node-a"}
	out := c.remotesOf([]string{"node-a", "node-b", "node-c"})
	if len(out) != 2 {
		t.Fatalf("got %d remotes, want 2", len(out))
	}
	for _, n := range out {
		if n == "node-a" {
			t.Fatal("selfID must be excluded from remotes")
		}
	}
}
