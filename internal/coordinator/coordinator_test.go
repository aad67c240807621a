package coordinator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/model"
	"github.com/knirvcorp/shoplist/internal/monitoring"
)

func newTestServer(t *testing.T) (*gin.Engine, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop(), monitoring.NewMetrics())
	srv := NewServer(hub, zap.NewNop())
	r := gin.New()
	srv.Register(r)
	return r, hub
}

func TestIngestRejectsNonBroadcast(t *testing.T) {
	r, _ := newTestServer(t)
	body, _ := json.Marshal(model.EnvelopeMsg{Type: model.MsgRead})
	req := httptest.NewRequest(http.MethodPost, "/internal/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop(), monitoring.NewMetrics())
	ch := hub.subscribe("test-subscriber")
	defer hub.unsubscribe("test-subscriber")

	hub.Broadcast("item-added", map[string]string{"id": "I1"})

	select {
	case ev := <-ch:
		if ev.name != "item-added" {
			t.Fatalf("got event %q, want item-added", ev.name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestEventsStreamDeliversIngestedBroadcast(t *testing.T) {
	r, _ := newTestServer(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("connect to event stream: %v", err)
	}
	defer resp.Body.Close()

	// Give the handler goroutine time to register the subscriber before
	// posting the broadcast.
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(model.EnvelopeMsg{Type: model.MsgBroadcast, Event: "list-created", Data: map[string]string{"id": "L1"}})
	ingestResp, err := http.Post(srv.URL+"/internal/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post broadcast: %v", err)
	}
	ingestResp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	deadline := time.Now().Add(2 * time.Second)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: list-created") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out scanning for list-created event")
		}
	}
	t.Fatal("event stream closed before delivering the broadcast event")
}
