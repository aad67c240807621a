package storage

import (
	"path/filepath"
	"testing"

	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "shoplist.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetList(t *testing.T) {
	s := openTestStore(t)
	list := crdt.NewList("list-1", "Weekly", "node-a", 100, 100).Snapshot()

	if err := s.SaveList(list); err != nil {
		t.Fatalf("save list: %v", err)
	}
	got, ok, err := s.GetList("list-1")
	if err != nil || !ok {
		t.Fatalf("get list: ok=%v err=%v", ok, err)
	}
	if got.Name != "Weekly" {
		t.Fatalf("got name %q, want Weekly", got.Name)
	}
}

func TestDeleteListCascadesToItems(t *testing.T) {
	s := openTestStore(t)
	list := crdt.NewList("list-1", "Weekly", "node-a", 100, 100).Snapshot()
	if err := s.SaveList(list); err != nil {
		t.Fatal(err)
	}

	item := crdt.NewItem("item-1", "list-1", "milk", 2, 0, "node-a", 100, 100).Snapshot()
	if err := s.SaveItem(item); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteList("list-1"); err != nil {
		t.Fatalf("delete list: %v", err)
	}

	if _, ok, _ := s.GetList("list-1"); ok {
		t.Fatal("list should be gone after delete")
	}
	if _, ok, _ := s.GetItem("item-1"); ok {
		t.Fatal("item should be cascade-deleted with its list")
	}
}

func TestPendingOpsOrderedByTimestampAndSyncLifecycle(t *testing.T) {
	s := openTestStore(t)

	ops := []model.PendingOp{
		{ID: "op-2", Type: model.OpAddItem, Data: []byte(`{}`), Timestamp: 200},
		{ID: "op-1", Type: model.OpCreateList, Data: []byte(`{}`), Timestamp: 100},
	}
	for _, op := range ops {
		if err := s.SavePendingOp(op); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := s.PendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "op-1" || pending[1].ID != "op-2" {
		t.Fatalf("expected ops ordered by timestamp, got %+v", pending)
	}

	if err := s.MarkSynced("op-1"); err != nil {
		t.Fatal(err)
	}
	pending, err = s.PendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "op-2" {
		t.Fatalf("marked-synced op should drop out of PendingOps, got %+v", pending)
	}

	if err := s.ClearSynced(); err != nil {
		t.Fatal(err)
	}
}

func TestHintsQueuedAndDrained(t *testing.T) {
	s := openTestStore(t)
	h := model.Hint{
		ID:           "hint-1",
		TargetNodeID: "node-b",
		Operation:    model.EnvelopeMsg{Type: model.MsgAddItem},
		QueuedAt:     100,
	}
	if err := s.SaveHint(h); err != nil {
		t.Fatal(err)
	}

	hints, err := s.HintsFor("node-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 1 || hints[0].Operation.Type != model.MsgAddItem {
		t.Fatalf("got %+v, want one ADD_ITEM hint", hints)
	}

	if err := s.DeleteHint("hint-1"); err != nil {
		t.Fatal(err)
	}
	hints, err = s.HintsFor("node-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 0 {
		t.Fatalf("expected no hints after drain, got %+v", hints)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetMeta("nodeId", "node-a"); err != nil {
		t.Fatal(err)
	}
	value, ok, err := s.GetMeta("nodeId")
	if err != nil || !ok || value != "node-a" {
		t.Fatalf("got (%q, %v, %v), want (node-a, true, nil)", value, ok, err)
	}
}
