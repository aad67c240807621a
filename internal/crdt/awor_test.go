package crdt

import "testing"

func TestItemSetAddThenGet(t *testing.T) {
	s := NewItemSet()
	it := NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100)
	s.Add(it, "node-a")

	got, ok := s.Get("item-1")
	if !ok {
		t.Fatal("expected item-1 to exist after Add")
	}
	name, _, _ := got.Name.Get()
	if name != "milk" {
		t.Fatalf("got name %q, want milk", name)
	}
}

func TestItemSetRemoveTombstonesObservedTags(t *testing.T) {
	s := NewItemSet()
	it := NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100)
	s.Add(it, "node-a")
	s.Remove("item-1", "node-a")

	if s.ShouldExist("item-1") {
		t.Fatal("item-1 should not exist after Remove")
	}
	if _, ok := s.Get("item-1"); ok {
		t.Fatal("Get should not return a removed item")
	}
}

func TestItemSetConcurrentAddWinsOverRemove(t *testing.T) {
	// Replica A adds and removes item-1 before replica B ever sees it.
	a := NewItemSet()
	itA := NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100)
	a.Add(itA, "node-a")
	a.Remove("item-1", "node-a")

	// Replica B concurrently adds the same id with a fresh tag, unaware of
	// A's remove.
	b := NewItemSet()
	itB := NewItem("item-1", "list-1", "milk", 2, 0, "node-b", 100, 100)
	b.Add(itB, "node-b")

	a.Merge(b)
	b.Merge(a)

	if !a.ShouldExist("item-1") {
		t.Fatal("add-wins: item-1 must survive a concurrent remove")
	}
	if !b.ShouldExist("item-1") {
		t.Fatal("add-wins: item-1 must survive on the other replica too")
	}
}

// TestItemSetTwoConcurrentRemovesDoNotOutweighAReAdd exercises the
// interleaving a cardinality-based (add-count > remove-count) rule gets
// wrong: two replicas concurrently remove an id while a third concurrently
// re-adds it. A correct add-wins merge must still surface the id, since
// its fresh add-tag was never observed by either remove.
func TestItemSetTwoConcurrentRemovesDoNotOutweighAReAdd(t *testing.T) {
	origin := NewItemSet()
	origin.Add(NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100), "node-a")

	r1 := NewItemSet()
	r1.Merge(origin)
	r1.Remove("item-1", "node-b")

	r2 := NewItemSet()
	r2.Merge(origin)
	r2.Remove("item-1", "node-c")

	readd := NewItemSet()
	readd.Merge(origin)
	readd.Add(NewItem("item-1", "list-1", "milk", 2, 0, "node-d", 200, 200), "node-d")

	merged := NewItemSet()
	merged.Merge(r1)
	merged.Merge(r2)
	merged.Merge(readd)

	if !merged.ShouldExist("item-1") {
		t.Fatal("add-wins: a re-add's fresh tag must survive two concurrent removes that never observed it")
	}
}

func TestItemSetRemoveBeforeAddIsHiddenUntilCreateArrives(t *testing.T) {
	// A remove targeting an id this replica has never seen an add for.
	s := NewItemSet()
	s.Remove("item-1", "node-a")
	if s.ShouldExist("item-1") {
		t.Fatal("unknown id should not exist")
	}

	// The create now arrives locally. A local Add is always a rebirth: it
	// clears prior remove-tags for the id so the item becomes visible
	// again, matching the "re-add after remove" contract.
	it := NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100)
	s.Add(it, "node-a")

	if !s.ShouldExist("item-1") {
		t.Fatal("a local Add must resurrect the id even if a removal preceded it")
	}
}

func TestItemSetMergeIsCommutativeAndIdempotent(t *testing.T) {
	a := NewItemSet()
	a.Add(NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100), "node-a")

	b := NewItemSet()
	b.Add(NewItem("item-2", "list-1", "eggs", 12, 0, "node-b", 110, 110), "node-b")

	ab := NewItemSet()
	ab.Merge(a)
	ab.Merge(b)

	ba := NewItemSet()
	ba.Merge(b)
	ba.Merge(a)

	if ab.ShouldExist("item-1") != ba.ShouldExist("item-1") || ab.ShouldExist("item-2") != ba.ShouldExist("item-2") {
		t.Fatal("merge not commutative over item membership")
	}

	ab.Merge(b)
	if !ab.ShouldExist("item-2") {
		t.Fatal("repeated merge must not lose membership")
	}
}

func TestItemSetUpdateFieldAppliesCounterDelta(t *testing.T) {
	s := NewItemSet()
	it := NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100)
	s.Add(it, "node-a")

	s.UpdateField("item-1", FieldQuantity, int64(5), "node-a", 200)
	got, _ := s.Get("item-1")
	if got.Quantity.Value() != 5 {
		t.Fatalf("got quantity %d, want 5", got.Quantity.Value())
	}

	s.UpdateField("item-1", FieldAcquired, int64(1), "node-a", 201)
	if got.Acquired.Value() != 1 {
		t.Fatalf("got acquired %d, want 1", got.Acquired.Value())
	}
}
