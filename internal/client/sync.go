package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
)

// syncLoop is the periodic fallback: every local operation already calls
// triggerSync directly, but this ticker catches the case where an earlier
// run gave up after SyncMaxAttempts while ops were still queued.
func (e *Engine) syncLoop() {
	ticker := time.NewTicker(config.SyncFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.triggerSync()
		}
	}
}

// triggerSync schedules a sync attempt without blocking the caller — the
// "(d) schedules a sync attempt" half of every local operation.
func (e *Engine) triggerSync() {
	go e.runSync()
}

// runSync is the single-flight guard: if a sync is already in progress,
// this call is a no-op. An operation queued while a run is in progress is
// pushed by that run only if it lands before the run reads the pending-op
// queue; otherwise it waits for the next run (the next local operation's
// trigger or the syncLoop tick).
func (e *Engine) runSync() {
	if !e.syncMu.TryLock() {
		return
	}
	defer e.syncMu.Unlock()

	for attempt := 0; attempt < config.SyncMaxAttempts; attempt++ {
		if e.metrics != nil {
			e.metrics.SyncAttempts.Inc()
		}
		if err := e.syncOnce(); err == nil {
			return
		} else if e.log != nil {
			e.log.Warn("sync attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
		}
		if e.metrics != nil {
			e.metrics.SyncFailures.Inc()
		}

		backoff := time.Duration(float64(config.SyncBackoffBase) * math.Pow(config.SyncBackoffFactor, float64(attempt)))
		select {
		case <-e.stopCh:
			return
		case <-time.After(backoff):
		}
	}
	e.surfaceQueueSize()
}

// syncOnce runs one pass of the §4.11 sync loop: first-sync push of every
// local List/Item, pending-op drain, first-sync pull-and-merge, then
// clearing acknowledged operations. "First sync" means the first
// successful sync of this process's lifetime, not something persisted
// across restarts — a freshly started client always re-announces its
// local state and re-pulls before trusting the SSE stream alone.
func (e *Engine) syncOnce() error {
	firstSync := !e.firstSyncDone

	if firstSync {
		if err := e.pushAllLocal(); err != nil {
			return err
		}
	}
	if err := e.pushPendingOps(); err != nil {
		return err
	}
	if firstSync {
		if err := e.pullKnownLists(); err != nil {
			return err
		}
		e.firstSyncDone = true
	}
	if err := e.store.ClearSynced(); err != nil {
		return err
	}
	e.surfaceQueueSize()
	return nil
}

// pushAllLocal pushes every locally-held List (and its Items) to any
// reachable node, treating a 409 conflict as success: the server already
// has it.
func (e *Engine) pushAllLocal() error {
	for _, l := range e.Lists() {
		if err := e.post("/api/lists", l); err != nil {
			return err
		}
	}
	for _, it := range e.Items() {
		if err := e.post(fmt.Sprintf("/api/lists/%s/items", it.ListID), it); err != nil {
			return err
		}
	}
	return nil
}

// pushPendingOps pushes every unsynced operation, in ascending timestamp
// order, through its corresponding REST endpoint.
func (e *Engine) pushPendingOps() error {
	ops, err := e.store.PendingOps()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := e.pushOne(op); err != nil {
			return err
		}
		if err := e.store.MarkSynced(op.ID); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.SyncQueueSize.Dec()
		}
	}
	return nil
}

func (e *Engine) pushOne(op model.PendingOp) error {
	var payload opPayload
	if err := json.Unmarshal(op.Data, &payload); err != nil {
		return err
	}

	switch op.Type {
	case model.OpCreateList:
		return e.post("/api/lists", payload.List)
	case model.OpDeleteList:
		return e.delete(fmt.Sprintf("/api/lists/%s", payload.ListID), true)
	case model.OpAddItem:
		return e.post(fmt.Sprintf("/api/lists/%s/items", payload.Item.ListID), payload.Item)
	case model.OpToggleCheck:
		return e.patch(fmt.Sprintf("/api/items/%s/toggle", payload.Item.ID), payload.Item)
	case model.OpUpdateQuantity:
		return e.patch(fmt.Sprintf("/api/items/%s/quantity", payload.Item.ID), payload.Item)
	case model.OpUpdateName:
		return e.patch(fmt.Sprintf("/api/items/%s/name", payload.Item.ID), payload.Item)
	case model.OpRemoveItem:
		return e.delete(fmt.Sprintf("/api/items/%s", payload.ItemID), true)
	default:
		return fmt.Errorf("sync: unknown pending op type %q", op.Type)
	}
}

// listPullResponse/itemPullResponse mirror the node's REST view shape
// (the flat DTO, not the internal CRDT snapshot) — pulling over the
// public HTTP surface never sees the per-node counter buckets the
// internal RPC channel carries.
type listPullResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	CreatedAt   int64              `json:"createdAt"`
	LastUpdated int64              `json:"lastUpdated"`
	VectorClock clock.VectorClock  `json:"vectorClock"`
	Items       []itemPullResponse `json:"items"`
}

type itemPullResponse struct {
	ID          string            `json:"id"`
	ListID      string            `json:"listId"`
	Name        string            `json:"name"`
	Quantity    int64             `json:"quantity"`
	Acquired    int64             `json:"acquired"`
	CreatedAt   int64             `json:"createdAt"`
	LastUpdated int64             `json:"lastUpdated"`
	VectorClock clock.VectorClock `json:"vectorClock"`
}

// pullKnownLists re-fetches every locally-known list from a node and
// merges the result into local state — the client never pulls a list id
// it did not already know, honoring the privacy boundary.
func (e *Engine) pullKnownLists() error {
	for _, l := range e.Lists() {
		var resp listPullResponse
		if err := e.get(fmt.Sprintf("/api/lists/%s", l.ID), &resp); err != nil {
			return err
		}
		e.mergeIncomingList("list-created", listSnapshotFromPull(resp))
		for _, it := range resp.Items {
			e.mergeIncomingItem("item-added", itemSnapshotFromPull(it))
		}
	}
	return nil
}

// listSnapshotFromPull reconstructs a full CRDT snapshot from the flat
// pull response. The name register's writer/timestamp are attributed to
// a synthetic "server" tag since the REST surface does not expose the
// real one. LWW compares timestamps first and consults the writer id only
// on an exact timestamp tie, where "server" is compared like any other id.
func listSnapshotFromPull(r listPullResponse) crdt.ListSnapshot {
	return crdt.ListSnapshot{
		ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt, LastUpdated: r.LastUpdated,
		VectorClock: r.VectorClock, NameTimestamp: r.LastUpdated, NameWriter: "server",
	}
}

// itemSnapshotFromPull reconstructs a full item snapshot the same way,
// attributing the pulled quantity/acquired totals to a single synthetic
// "server" bucket each. A subsequent PN-counter merge against this
// baseline still behaves correctly (merge takes the per-bucket max), it
// just cannot distinguish which original writer contributed what share.
func itemSnapshotFromPull(r itemPullResponse) crdt.ItemSnapshot {
	return crdt.ItemSnapshot{
		ID: r.ID, ListID: r.ListID, Name: r.Name, Quantity: r.Quantity, Acquired: r.Acquired,
		CreatedAt: r.CreatedAt, LastUpdated: r.LastUpdated, VectorClock: r.VectorClock,
		NameTimestamp:    r.LastUpdated,
		NameWriter:       "server",
		QuantityPositive: map[string]int64{"server": r.Quantity},
		AcquiredPositive: map[string]int64{"server": r.Acquired},
	}
}

func (e *Engine) surfaceQueueSize() {
	if e.metrics == nil {
		return
	}
	ops, err := e.store.PendingOps()
	if err != nil {
		return
	}
	e.metrics.SyncQueueSize.Set(float64(len(ops)))
}

// --- HTTP helpers -----------------------------------------------------

func (e *Engine) post(path string, body any) error {
	return e.do(http.MethodPost, path, body, []int{http.StatusConflict}, nil)
}

func (e *Engine) patch(path string, body any) error {
	return e.do(http.MethodPatch, path, body, nil, nil)
}

func (e *Engine) delete(path string, treatNotFoundAsSuccess bool) error {
	var okExtra []int
	if treatNotFoundAsSuccess {
		okExtra = []int{http.StatusNotFound}
	}
	return e.do(http.MethodDelete, path, nil, okExtra, nil)
}

func (e *Engine) get(path string, out any) error {
	return e.do(http.MethodGet, path, nil, nil, out)
}

// do sends one request against the pool's next server, marking it failed
// on an I/O error and returning it so the caller's retry loop can back
// off. okExtra lists status codes (besides 2xx) the caller treats as
// success per §4.11 ("409 already exists", "404 on deletes").
func (e *Engine) do(method, path string, body any, okExtra []int, out any) error {
	addr := e.pool.Next()
	if addr == "" {
		return fmt.Errorf("sync: no servers available")
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		e.pool.MarkFailed(addr)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	}
	for _, code := range okExtra {
		if resp.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("sync: %s %s: unexpected status %d", method, path, resp.StatusCode)
}

func (e *Engine) httpClient() *http.Client {
	return &http.Client{Timeout: config.ReplicaCallTimeout}
}
