package node

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
)

// listView and itemView are the REST surface's public shapes: the flat
// CRDT snapshots minus the LWW/PN-counter bookkeeping fields (nameWriter,
// the positive/negative tally maps) that exist only for replica merge.
type listView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CreatedAt   int64             `json:"createdAt"`
	LastUpdated int64             `json:"lastUpdated"`
	VectorClock clock.VectorClock `json:"vectorClock"`
	Items       []itemView        `json:"items,omitempty"`
}

type itemView struct {
	ID          string            `json:"id"`
	ListID      string            `json:"listId"`
	Name        string            `json:"name"`
	Quantity    int64             `json:"quantity"`
	Acquired    int64             `json:"acquired"`
	CreatedAt   int64             `json:"createdAt"`
	LastUpdated int64             `json:"lastUpdated"`
	VectorClock clock.VectorClock `json:"vectorClock"`
}

func toListView(s crdt.ListSnapshot) listView {
	return listView{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, LastUpdated: s.LastUpdated, VectorClock: s.VectorClock}
}

func toItemView(s crdt.ItemSnapshot) itemView {
	return itemView{
		ID: s.ID, ListID: s.ListID, Name: s.Name, Quantity: s.Quantity, Acquired: s.Acquired,
		CreatedAt: s.CreatedAt, LastUpdated: s.LastUpdated, VectorClock: s.VectorClock,
	}
}

func (n *Node) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "nodeId": n.id, "timestamp": crdt.NowMillis()})
}

// handleCreateList implements POST /api/lists.
func (n *Node) handleCreateList(c *gin.Context) {
	var body struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		VectorClock clock.VectorClock `json:"vectorClock"`
		CreatedAt   int64             `json:"createdAt"`
		LastUpdated int64             `json:"lastUpdated"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	id := body.ID
	if id == "" {
		id = uuid.NewString()
	}
	n.mu.RLock()
	_, exists := n.lists[id]
	n.mu.RUnlock()
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "list already exists"})
		return
	}

	now := crdt.NowMillis()
	createdAt, lastUpdated := orNow(body.CreatedAt, now), orNow(body.LastUpdated, now)
	l := crdt.NewList(id, body.Name, n.id, createdAt, lastUpdated)
	if body.VectorClock != nil {
		l.VectorClock = clock.Clone(body.VectorClock)
	}

	n.commitList(c, l.Snapshot(), model.MsgCreateList, "list-created", http.StatusCreated)
}

// handleGetList implements GET /api/lists/:id.
func (n *Node) handleGetList(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	snap, ok := n.readList(ctx, id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}

	items, err := n.store.ListItemsByList(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	view := toListView(snap)
	view.Items = make([]itemView, 0, len(items))
	for _, it := range items {
		view.Items = append(view.Items, toItemView(it))
	}
	c.JSON(http.StatusOK, view)
}

// readList serves a quorum read, falling back to a local lookup when the
// quorum read cannot reach R replicas — matching §4.9's "read path ... falls
// back to a local lookup" for the degenerate case where quorum state
// genuinely cannot be established.
func (n *Node) readList(ctx context.Context, id string) (crdt.ListSnapshot, bool) {
	if res, err := n.quorum.Read(ctx, model.DataList, id); err == nil && res.List != nil {
		return *res.List, true
	}
	if data, ok := n.localRead(model.DataList, id); ok {
		return data.(crdt.ListSnapshot), true
	}
	return crdt.ListSnapshot{}, false
}

func (n *Node) readItem(ctx context.Context, id string) (crdt.ItemSnapshot, bool) {
	if res, err := n.quorum.Read(ctx, model.DataItem, id); err == nil && res.Item != nil {
		return *res.Item, true
	}
	if data, ok := n.localRead(model.DataItem, id); ok {
		return data.(crdt.ItemSnapshot), true
	}
	return crdt.ItemSnapshot{}, false
}

// handleDeleteList implements DELETE /api/lists/:id.
func (n *Node) handleDeleteList(c *gin.Context) {
	id := c.Param("id")
	n.mu.RLock()
	_, exists := n.lists[id]
	n.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}
	if err := n.applyDeleteList(id); err != nil {
		n.log.Error("delete list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	msg := model.EnvelopeMsg{Type: model.MsgDeleteList, ListID: id}
	wr, _ := n.quorum.Write(c.Request.Context(), id, msg)
	n.recordHints(wr.Failed, msg)
	n.broadcast("list-deleted", gin.H{"id": id})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleListLists implements GET /api/lists: the locally-held catalog, not
// a cluster-wide scatter-gather — the REST table does not specify quorum
// semantics for the bare listing endpoint.
func (n *Node) handleListLists(c *gin.Context) {
	lists, err := n.store.ListLists()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]listView, 0, len(lists))
	for _, l := range lists {
		out = append(out, toListView(l))
	}
	c.JSON(http.StatusOK, out)
}

// handleAddItem implements POST /api/lists/:id/items.
func (n *Node) handleAddItem(c *gin.Context) {
	listID := c.Param("id")
	n.mu.RLock()
	_, listExists := n.lists[listID]
	n.mu.RUnlock()
	if !listExists {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}

	var body struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		Quantity    *int64            `json:"quantity"`
		Acquired    *int64            `json:"acquired"`
		VectorClock clock.VectorClock `json:"vectorClock"`
		CreatedAt   int64             `json:"createdAt"`
		LastUpdated int64             `json:"lastUpdated"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	id := body.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := n.items.Get(id); exists {
		c.JSON(http.StatusConflict, gin.H{"error": "item already exists"})
		return
	}

	now := crdt.NowMillis()
	createdAt, lastUpdated := orNow(body.CreatedAt, now), orNow(body.LastUpdated, now)
	qty, acq := derefOr(body.Quantity, 0), derefOr(body.Acquired, 0)

	it := crdt.NewItem(id, listID, body.Name, qty, acq, n.id, createdAt, lastUpdated)
	if body.VectorClock != nil {
		it.VectorClock = clock.Clone(body.VectorClock)
	}

	n.commitItem(c, it.Snapshot(), model.MsgAddItem, "item-added", http.StatusCreated)
}

// handleListItems implements GET /api/items: the locally-held item set.
func (n *Node) handleListItems(c *gin.Context) {
	items := n.items.Items()
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, toItemView(it.Snapshot()))
	}
	c.JSON(http.StatusOK, out)
}

// handleToggleItem implements PATCH /api/items/:id/toggle. A body without
// an explicit `acquired` target increments it by one — "check this item
// off" — since `acquired` is a counter, not a boolean.
func (n *Node) handleToggleItem(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Acquired *int64 `json:"acquired"`
	}
	_ = c.ShouldBindJSON(&body)

	existing, ok := n.items.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	working := crdt.ItemFromSnapshot(existing.Snapshot())
	if body.Acquired != nil {
		working.Acquired.ApplyDelta(n.id, *body.Acquired)
	} else {
		working.Acquired.Increment(n.id, 1)
	}
	working.Touch(n.id, crdt.NowMillis())

	n.commitItem(c, working.Snapshot(), model.MsgToggleCheck, "item-toggled", http.StatusOK)
}

// handleUpdateQuantity implements PATCH /api/items/:id/quantity.
func (n *Node) handleUpdateQuantity(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Quantity *int64 `json:"quantity"`
		Acquired *int64 `json:"acquired"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Quantity == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity is required"})
		return
	}
	existing, ok := n.items.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	working := crdt.ItemFromSnapshot(existing.Snapshot())
	working.Quantity.ApplyDelta(n.id, *body.Quantity)
	if body.Acquired != nil {
		working.Acquired.ApplyDelta(n.id, *body.Acquired)
	}
	working.Touch(n.id, crdt.NowMillis())

	n.commitItem(c, working.Snapshot(), model.MsgUpdateQuantity, "item-quantity-updated", http.StatusOK)
}

// handleUpdateName implements PATCH /api/items/:id/name.
func (n *Node) handleUpdateName(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	existing, ok := n.items.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	now := crdt.NowMillis()
	working := crdt.ItemFromSnapshot(existing.Snapshot())
	working.Name.Set(body.Name, now, n.id)
	working.Touch(n.id, now)

	n.commitItem(c, working.Snapshot(), model.MsgUpdateName, "item-name-updated", http.StatusOK)
}

// handleRemoveItem implements DELETE /api/items/:id.
func (n *Node) handleRemoveItem(c *gin.Context) {
	id := c.Param("id")
	if _, ok := n.items.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	if err := n.applyRemoveItem(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	msg := model.EnvelopeMsg{Type: model.MsgRemoveItem, ItemID: id}
	wr, _ := n.quorum.Write(c.Request.Context(), id, msg)
	n.recordHints(wr.Failed, msg)
	n.broadcast("item-removed", gin.H{"id": id})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// commitItem runs the apply state machine locally, replicates the result
// through the quorum coordinator, queues hints for any replica that did
// not acknowledge, broadcasts the change to the SSE coordinator, and
// writes the HTTP response.
func (n *Node) commitItem(c *gin.Context, incoming crdt.ItemSnapshot, msgType model.MessageType, event string, okStatus int) {
	ctx := c.Request.Context()
	result, err := n.applyItemWrite(ctx, incoming)
	if err != nil {
		n.log.Error("apply item write", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	msg := model.EnvelopeMsg{Type: msgType, Item: &result}
	wr, err := n.quorum.Write(ctx, result.ID, msg)
	n.recordHints(wr.Failed, msg)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quorum write failed"})
		return
	}

	// The SSE payload carries the full snapshot, not the REST view: a
	// subscribing client needs the per-node counter buckets and LWW
	// writer tag to fold concurrent updates in with real CRDT merge
	// semantics, not just the flattened display fields.
	n.broadcast(event, result)
	c.JSON(okStatus, toItemView(result))
}

func (n *Node) commitList(c *gin.Context, incoming crdt.ListSnapshot, msgType model.MessageType, event string, okStatus int) {
	ctx := c.Request.Context()
	result, err := n.applyListWrite(ctx, incoming)
	if err != nil {
		n.log.Error("apply list write", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	msg := model.EnvelopeMsg{Type: msgType, List: &result}
	wr, err := n.quorum.Write(ctx, result.ID, msg)
	n.recordHints(wr.Failed, msg)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quorum write failed"})
		return
	}

	n.broadcast(event, result)
	view := toListView(result)
	view.Items = []itemView{}
	c.JSON(okStatus, view)
}

func orNow(v, now int64) int64 {
	if v == 0 {
		return now
	}
	return v
}

func derefOr(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}
