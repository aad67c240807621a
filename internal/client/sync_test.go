package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/storage"
)

// fakeNode is a minimal stand-in for a storage node's REST surface, just
// enough to exercise the sync loop's push/pull dispatch.
func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/lists", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/lists/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/items") && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("{}"))
		case r.Method == http.MethodGet:
			id := strings.TrimPrefix(r.URL.Path, "/api/lists/")
			resp := listPullResponse{ID: id, Name: "groceries", CreatedAt: 1, LastUpdated: 1, VectorClock: clock.VectorClock{"x": 1}}
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/api/items/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})
	return httptest.NewServer(mux)
}

func TestSyncOncePushesAndClearsPendingOps(t *testing.T) {
	srv := fakeNode(t)
	defer srv.Close()

	store, err := storage.Open(t.TempDir() + "/client.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	e, err := New(Options{
		Servers:         []string{srv.URL},
		CoordinatorAddr: "http://127.0.0.1:0",
		Store:           store,
		Log:             zap.NewNop(),
		Metrics:         monitoring.NewMetrics(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.pool.Stop()

	if _, err := e.CreateList("groceries"); err != nil {
		t.Fatalf("create list: %v", err)
	}

	if err := e.syncOnce(); err != nil {
		t.Fatalf("sync once: %v", err)
	}

	ops, err := e.store.PendingOps()
	if err != nil {
		t.Fatalf("pending ops: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("pending ops after sync = %d, want 0", len(ops))
	}

	if !e.firstSyncDone {
		t.Fatalf("expected first-sync flag to be set after a successful sync")
	}
}

func TestSyncOnceFailsWithNoServers(t *testing.T) {
	store, err := storage.Open(t.TempDir() + "/client.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	e, err := New(Options{Store: store, Log: zap.NewNop(), Metrics: monitoring.NewMetrics()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.pool.Stop()

	if _, err := e.CreateList("groceries"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	if err := e.syncOnce(); err == nil {
		t.Fatalf("expected sync to fail with no reachable servers")
	}
}
