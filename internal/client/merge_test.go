package client

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/storage"
)

func TestMergeIncomingItemTogglesScopesToAcquired(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	e, err := New(Options{Store: store, Log: zap.NewNop(), Metrics: monitoring.NewMetrics()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.pool.Stop()

	list, err := e.CreateList("groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	item, err := e.AddItem(list.ID, "milk", 2)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	existing, ok := e.items.Get(item.ID)
	if !ok {
		t.Fatalf("item not found locally")
	}
	incoming := crdt.ItemFromSnapshot(existing.Snapshot())
	incoming.Acquired.ApplyDelta("remote-node", 3)
	incoming.VectorClock = clock.Increment(incoming.VectorClockOf(), "remote-node")
	snap := incoming.Snapshot()

	e.mergeIncomingItem("item-toggled", snap)

	after, ok := e.items.Get(item.ID)
	if !ok {
		t.Fatalf("item missing after merge")
	}
	if after.Acquired.Value() != 3 {
		t.Fatalf("acquired after merge = %d, want 3", after.Acquired.Value())
	}
	name, _, _ := after.Name.Get()
	if name != "milk" {
		t.Fatalf("name changed to %q, want unchanged milk", name)
	}
}

func TestMergeIncomingItemIgnoresUnknownListPrivacyBoundary(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	e, err := New(Options{Store: store, Log: zap.NewNop(), Metrics: monitoring.NewMetrics()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.pool.Stop()

	incoming := crdt.NewItem("item-1", "unknown-list", "eggs", 1, 0, "remote-node", 1, 1)
	e.mergeIncomingItem("item-added", incoming.Snapshot())

	if _, ok := e.items.Get("item-1"); ok {
		t.Fatalf("item from an unknown list should not be adopted")
	}
}

func TestMergeIncomingItemAdoptsOnItemAdded(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	e, err := New(Options{Store: store, Log: zap.NewNop(), Metrics: monitoring.NewMetrics()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.pool.Stop()

	list, err := e.CreateList("groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	incoming := crdt.NewItem("item-2", list.ID, "eggs", 6, 0, "remote-node", 1, 1)
	e.mergeIncomingItem("item-added", incoming.Snapshot())

	got, ok := e.items.Get("item-2")
	if !ok {
		t.Fatalf("expected item-added to adopt a new item from a known list")
	}
	if got.Quantity.Value() != 6 {
		t.Fatalf("quantity = %d, want 6", got.Quantity.Value())
	}
}

func TestForgetListAndItem(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	e, err := New(Options{Store: store, Log: zap.NewNop(), Metrics: monitoring.NewMetrics()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.pool.Stop()

	list, _ := e.CreateList("groceries")
	item, err := e.AddItem(list.ID, "milk", 1)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	e.forgetItem(item.ID)
	if _, ok := e.items.Get(item.ID); ok {
		t.Fatalf("item should be forgotten")
	}

	e.forgetList(list.ID)
	if len(e.Lists()) != 0 {
		t.Fatalf("list should be forgotten")
	}
}
