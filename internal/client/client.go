// Package client implements the local-first client sync engine (C11):
// every mutation lands in the local durable store immediately and is
// queued for delivery to the cluster, so the UI never blocks on network
// reachability. A background sync loop drains the queue against a
// round-robin pool of storage nodes, and an SSE subscription folds in
// concurrent updates from other clients via the same vector-clock rules
// the storage node itself uses.
package client

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/storage"
)

const metaSelfID = "client_self_id"

// Options configures an Engine at construction time.
type Options struct {
	// Servers is the cluster's storage node base URLs.
	Servers []string
	// CoordinatorAddr is the SSE coordinator's base URL.
	CoordinatorAddr string
	Store           storage.Store
	Log             *zap.Logger
	Metrics         *monitoring.Metrics
}

// Engine is one client process's local-first state: the durable store, an
// in-memory mirror of every List/Item it has ever loaded, the pending-op
// queue, and the machinery (pool, sync loop, SSE consumer) that keeps it
// converging with the cluster.
type Engine struct {
	id string

	store           storage.Store
	pool            *Pool
	coordinatorAddr string
	log             *zap.Logger
	metrics         *monitoring.Metrics

	mu    sync.RWMutex
	lists map[string]*crdt.List
	items *crdt.ItemSet

	// syncMu single-flights the sync loop; firstSyncDone is only ever read
	// or written while syncMu is held, so it needs no lock of its own.
	syncMu        sync.Mutex
	firstSyncDone bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs an Engine, assigning it a stable self id (persisted
// across restarts) and loading its durable store into memory.
func New(opts Options) (*Engine, error) {
	selfID, err := loadOrCreateSelfID(opts.Store)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:              selfID,
		store:           opts.Store,
		pool:            NewPool(opts.Servers, opts.Log),
		coordinatorAddr: opts.CoordinatorAddr,
		log:             opts.Log,
		metrics:         opts.Metrics,
		lists:           make(map[string]*crdt.List),
		items:           crdt.NewItemSet(),
		stopCh:          make(chan struct{}),
	}
	if err := e.loadFromStore(); err != nil {
		return nil, err
	}
	return e, nil
}

func loadOrCreateSelfID(store storage.Store) (string, error) {
	if id, ok, err := store.GetMeta(metaSelfID); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}
	id := uuid.NewString()
	if err := store.SetMeta(metaSelfID, id); err != nil {
		return "", err
	}
	return id, nil
}

// loadFromStore rehydrates every locally-known List and Item, mirroring
// the storage node's own startup rehydration.
func (e *Engine) loadFromStore() error {
	lists, err := e.store.ListLists()
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, s := range lists {
		e.lists[s.ID] = crdt.ListFromSnapshot(s)
	}
	e.mu.Unlock()

	items, err := e.store.ListItems()
	if err != nil {
		return err
	}
	for _, s := range items {
		e.items.Add(crdt.ItemFromSnapshot(s), e.id)
	}
	return nil
}

// Start launches the sync loop and the SSE consumer. Callers should call
// Stop on shutdown.
func (e *Engine) Start() {
	go e.syncLoop()
	go e.consumeEvents()
	e.triggerSync()
}

// Stop ends the sync loop, the SSE consumer and the pool's health-check
// loop. Safe to call more than once.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.pool.Stop()
	return e.store.Close()
}

// ListView and ItemView mirror the node's REST DTOs for callers (a CLI or
// UI layer) that want the display-friendly shape without CRDT internals.
type ListView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedAt   int64  `json:"createdAt"`
	LastUpdated int64  `json:"lastUpdated"`
}

type ItemView struct {
	ID          string `json:"id"`
	ListID      string `json:"listId"`
	Name        string `json:"name"`
	Quantity    int64  `json:"quantity"`
	Acquired    int64  `json:"acquired"`
	CreatedAt   int64  `json:"createdAt"`
	LastUpdated int64  `json:"lastUpdated"`
}

func toListView(s crdt.ListSnapshot) ListView {
	return ListView{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, LastUpdated: s.LastUpdated}
}

func toItemView(s crdt.ItemSnapshot) ItemView {
	return ItemView{ID: s.ID, ListID: s.ListID, Name: s.Name, Quantity: s.Quantity, Acquired: s.Acquired, CreatedAt: s.CreatedAt, LastUpdated: s.LastUpdated}
}

// CreateList is a local operation (§4.11): it stamps fresh CRDT metadata,
// persists immediately, queues the mutation for the sync loop, and
// returns without waiting on the network.
func (e *Engine) CreateList(name string) (ListView, error) {
	now := crdt.NowMillis()
	id := uuid.NewString()
	l := crdt.NewList(id, name, e.id, now, now)

	e.mu.Lock()
	e.lists[id] = l
	e.mu.Unlock()

	snap := l.Snapshot()
	if err := e.store.SaveList(snap); err != nil {
		return ListView{}, err
	}
	if err := e.enqueue(model.OpCreateList, opPayload{List: &snap}); err != nil {
		return ListView{}, err
	}
	e.triggerSync()
	return toListView(snap), nil
}

// DeleteList removes a list and its items locally and queues the
// deletion for the sync loop.
func (e *Engine) DeleteList(id string) error {
	e.mu.Lock()
	delete(e.lists, id)
	e.mu.Unlock()

	if err := e.store.DeleteList(id); err != nil {
		return err
	}
	if err := e.enqueue(model.OpDeleteList, opPayload{ListID: id}); err != nil {
		return err
	}
	e.triggerSync()
	return nil
}

// AddItem is a local operation scoped to a list the client already knows
// about.
func (e *Engine) AddItem(listID, name string, quantity int64) (ItemView, error) {
	e.mu.RLock()
	_, known := e.lists[listID]
	e.mu.RUnlock()
	if !known {
		return ItemView{}, errListUnknown(listID)
	}

	now := crdt.NowMillis()
	id := uuid.NewString()
	it := crdt.NewItem(id, listID, name, quantity, 0, e.id, now, now)
	e.items.Add(it, e.id)

	snap := it.Snapshot()
	if err := e.store.SaveItem(snap); err != nil {
		return ItemView{}, err
	}
	if err := e.enqueue(model.OpAddItem, opPayload{Item: &snap}); err != nil {
		return ItemView{}, err
	}
	e.triggerSync()
	return toItemView(snap), nil
}

// ToggleItem increments the item's acquired counter by one, the same
// "check this item off" contract the node's toggle endpoint uses.
func (e *Engine) ToggleItem(id string) (ItemView, error) {
	it, ok := e.items.Get(id)
	if !ok {
		return ItemView{}, errItemUnknown(id)
	}
	now := crdt.NowMillis()
	target := it.Acquired.Value() + 1
	e.items.UpdateField(id, crdt.FieldAcquired, target, e.id, now)

	snap := it.Snapshot()
	if err := e.store.SaveItem(snap); err != nil {
		return ItemView{}, err
	}
	if err := e.enqueue(model.OpToggleCheck, opPayload{Item: &snap}); err != nil {
		return ItemView{}, err
	}
	e.triggerSync()
	return toItemView(snap), nil
}

// UpdateQuantity sets an item's desired quantity to target.
func (e *Engine) UpdateQuantity(id string, target int64) (ItemView, error) {
	it, ok := e.items.Get(id)
	if !ok {
		return ItemView{}, errItemUnknown(id)
	}
	now := crdt.NowMillis()
	e.items.UpdateField(id, crdt.FieldQuantity, target, e.id, now)

	snap := it.Snapshot()
	if err := e.store.SaveItem(snap); err != nil {
		return ItemView{}, err
	}
	if err := e.enqueue(model.OpUpdateQuantity, opPayload{Item: &snap}); err != nil {
		return ItemView{}, err
	}
	e.triggerSync()
	return toItemView(snap), nil
}

// UpdateName renames an item via its LWW register.
func (e *Engine) UpdateName(id, name string) (ItemView, error) {
	it, ok := e.items.Get(id)
	if !ok {
		return ItemView{}, errItemUnknown(id)
	}
	now := crdt.NowMillis()
	e.items.UpdateField(id, crdt.FieldName, name, e.id, now)

	snap := it.Snapshot()
	if err := e.store.SaveItem(snap); err != nil {
		return ItemView{}, err
	}
	if err := e.enqueue(model.OpUpdateName, opPayload{Item: &snap}); err != nil {
		return ItemView{}, err
	}
	e.triggerSync()
	return toItemView(snap), nil
}

// RemoveItem mints a remove-tag locally and queues the deletion.
func (e *Engine) RemoveItem(id string) error {
	if _, ok := e.items.Get(id); !ok {
		return errItemUnknown(id)
	}
	e.items.Remove(id, e.id)
	if err := e.store.DeleteItem(id); err != nil {
		return err
	}
	if err := e.enqueue(model.OpRemoveItem, opPayload{ItemID: id}); err != nil {
		return err
	}
	e.triggerSync()
	return nil
}

// Lists returns every locally-known list (the privacy boundary: this
// client only ever holds the lists it created or explicitly loaded).
func (e *Engine) Lists() []ListView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ListView, 0, len(e.lists))
	for _, l := range e.lists {
		out = append(out, toListView(l.Snapshot()))
	}
	return out
}

// Items returns every locally-known item.
func (e *Engine) Items() []ItemView {
	out := make([]ItemView, 0)
	for _, it := range e.items.Items() {
		out = append(out, toItemView(it.Snapshot()))
	}
	return out
}

// opPayload is the opaque body a PendingOp carries: whichever fields its
// op type needs, the rest left zero.
type opPayload struct {
	List   *crdt.ListSnapshot `json:"list,omitempty"`
	Item   *crdt.ItemSnapshot `json:"item,omitempty"`
	ListID string             `json:"listId,omitempty"`
	ItemID string             `json:"itemId,omitempty"`
}

func (e *Engine) enqueue(opType model.OpType, payload opPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	op := model.PendingOp{
		ID:        uuid.NewString(),
		Type:      opType,
		Data:      data,
		Timestamp: crdt.NowMillis(),
	}
	if err := e.store.SavePendingOp(op); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SyncQueueSize.Inc()
	}
	return nil
}
