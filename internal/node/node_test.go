package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/storage"
)

func newTestNode(t *testing.T) (*Node, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.Open(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	n, err := New(Options{
		SelfID:          "node-a",
		CoordinatorAddr: "http://127.0.0.1:0",
		ClusterNodes:    map[string]string{"node-a": "http://127.0.0.1:0"},
		Quorum:          config.QuorumConfig{N: 1, R: 1, W: 1},
		Store:           store,
		Log:             zap.NewNop(),
		Metrics:         monitoring.NewMetrics(),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	r := gin.New()
	n.Register(r)
	return n, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetListSingleNode(t *testing.T) {
	_, r := newTestNode(t)

	rec := doJSON(t, r, http.MethodPost, "/api/lists", map[string]any{"id": "L1", "name": "Weekly"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create list: got %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/api/lists/L1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get list: got %d, body %s", rec.Code, rec.Body.String())
	}
	var got listView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Weekly" {
		t.Fatalf("got name %q, want Weekly", got.Name)
	}
	if got.VectorClock["node-a"] == 0 {
		t.Fatalf("expected node-a's vector clock component to be stamped, got %v", got.VectorClock)
	}
}

func TestCreateListConflict(t *testing.T) {
	_, r := newTestNode(t)
	doJSON(t, r, http.MethodPost, "/api/lists", map[string]any{"id": "L1", "name": "Weekly"})
	rec := doJSON(t, r, http.MethodPost, "/api/lists", map[string]any{"id": "L1", "name": "Weekly again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", rec.Code)
	}
}

func TestAddItemThenToggleAndQuantity(t *testing.T) {
	_, r := newTestNode(t)
	doJSON(t, r, http.MethodPost, "/api/lists", map[string]any{"id": "L1", "name": "Weekly"})
	rec := doJSON(t, r, http.MethodPost, "/api/lists/L1/items", map[string]any{"id": "I1", "name": "Milk", "quantity": 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item: got %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPatch, "/api/items/I1/toggle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: got %d, body %s", rec.Code, rec.Body.String())
	}
	var toggled itemView
	json.Unmarshal(rec.Body.Bytes(), &toggled)
	if toggled.Acquired != 1 {
		t.Fatalf("got acquired %d, want 1", toggled.Acquired)
	}

	rec = doJSON(t, r, http.MethodPatch, "/api/items/I1/quantity", map[string]any{"quantity": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("quantity: got %d, body %s", rec.Code, rec.Body.String())
	}
	var updated itemView
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Quantity != 5 {
		t.Fatalf("got quantity %d, want 5", updated.Quantity)
	}
	if updated.Acquired != 1 {
		t.Fatalf("quantity patch must not disturb acquired: got %d", updated.Acquired)
	}
}

func TestRemoveItemThenNotFound(t *testing.T) {
	_, r := newTestNode(t)
	doJSON(t, r, http.MethodPost, "/api/lists", map[string]any{"id": "L1", "name": "Weekly"})
	doJSON(t, r, http.MethodPost, "/api/lists/L1/items", map[string]any{"id": "I1", "name": "Milk"})

	rec := doJSON(t, r, http.MethodDelete, "/api/items/I1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/items/I1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("re-remove: got %d, want 404", rec.Code)
	}
}

func TestDeleteListCascadesItems(t *testing.T) {
	n, r := newTestNode(t)
	doJSON(t, r, http.MethodPost, "/api/lists", map[string]any{"id": "L1", "name": "Weekly"})
	doJSON(t, r, http.MethodPost, "/api/lists/L1/items", map[string]any{"id": "I1", "name": "Milk"})

	rec := doJSON(t, r, http.MethodDelete, "/api/lists/L1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete list: got %d", rec.Code)
	}
	items, err := n.store.ListItemsByList("L1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected cascade delete, still have %d items", len(items))
	}
}

func TestApplyItemWriteBeforeIsIgnored(t *testing.T) {
	n, _ := newTestNode(t)

	// Seed local state directly so its vector clock carries a component
	// (node-c) that a stale incoming write cannot possibly know about.
	existing := crdt.NewItem("I1", "L1", "Milk", 2, 0, "node-a", 100, 100)
	existing.VectorClock = clock.VectorClock{"node-a": 1, "node-c": 5}
	n.items.Add(existing, "node-a")

	stale := crdt.ItemSnapshot{ID: "I1", ListID: "L1", Name: "Stale Name", CreatedAt: 100, LastUpdated: 50}
	again, err := n.applyItemWrite(context.Background(), stale)
	if err != nil {
		t.Fatalf("apply stale: %v", err)
	}
	if again.Name != "Milk" {
		t.Fatalf("a before-write must leave local state unchanged: got name %q, want Milk", again.Name)
	}
}

func TestApplyItemWriteConcurrentMergesFields(t *testing.T) {
	n, _ := newTestNode(t)

	existing := crdt.NewItem("I1", "L1", "Milk", 0, 0, "node-a", 100, 100)
	existing.VectorClock = clock.VectorClock{"node-a": 1, "node-c": 5}
	n.items.Add(existing, "node-a")

	// An incoming write whose clock has node-b (existing lacks) but lacks
	// node-c (existing has): neither dominates, so comparison must yield
	// Concurrent and the two replicas' fields must merge rather than one
	// replacing the other.
	concurrent := crdt.ItemSnapshot{
		ID: "I1", ListID: "L1", Name: "Milk", CreatedAt: 100, LastUpdated: 150,
		VectorClock:      clock.VectorClock{"node-b": 1},
		QuantityPositive: map[string]int64{"node-b": 3},
	}

	merged, err := n.applyItemWrite(context.Background(), concurrent)
	if err != nil {
		t.Fatalf("apply concurrent: %v", err)
	}
	if merged.Quantity != 3 {
		t.Fatalf("got quantity %d, want 3 (PN-merge of a disjoint node bucket)", merged.Quantity)
	}
	if merged.VectorClock["node-c"] != 5 {
		t.Fatalf("expected node-c's component preserved in the merged clock, got %v", merged.VectorClock)
	}
	if merged.VectorClock["node-b"] != 1 {
		t.Fatalf("expected node-b's component folded into the merged clock, got %v", merged.VectorClock)
	}
}
