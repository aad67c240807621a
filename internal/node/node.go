// Package node implements the storage node (C9): the public REST surface,
// the vector-clock-aware apply state machine, the bootstrap-on-miss path,
// the hinted-handoff queue, and the gossip handler that replays inter-node
// envelopes through the same apply logic as client writes.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/quorum"
	"github.com/knirvcorp/shoplist/internal/ring"
	"github.com/knirvcorp/shoplist/internal/storage"
	"github.com/knirvcorp/shoplist/internal/transport"
)

// Options configures a Node at construction time.
type Options struct {
	SelfID          string
	CoordinatorAddr string
	// ClusterNodes maps every node id in the cluster, including self, to
	// its base HTTP address (e.g. "http://127.0.0.1:8002").
	ClusterNodes map[string]string
	Quorum       config.QuorumConfig
	Store        storage.Store
	Log          *zap.Logger
	Metrics      *monitoring.Metrics
}

// Node is one storage node's in-process state: the live CRDT entities, the
// durable store backing them, the consistent-hash ring and quorum
// coordinator used to replicate writes, and the hinted-handoff queue for
// replicas that could not be reached at acknowledgment time.
type Node struct {
	id   string
	addr map[string]string

	log     *zap.Logger
	metrics *monitoring.Metrics
	store   storage.Store

	ring        *ring.Ring
	peers       *transport.Registry
	coordinator *transport.Peer
	quorum      *quorum.Coordinator

	mu    sync.RWMutex
	lists map[string]*crdt.List
	items *crdt.ItemSet

	hintMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Node, loads its durable store into memory, and wires
// its quorum coordinator against the supplied cluster membership.
func New(opts Options) (*Node, error) {
	r := ring.New()
	for id := range opts.ClusterNodes {
		r.AddNode(id)
	}

	n := &Node{
		id:          opts.SelfID,
		addr:        opts.ClusterNodes,
		log:         opts.Log,
		metrics:     opts.Metrics,
		store:       opts.Store,
		ring:        r,
		peers:       transport.NewRegistry(),
		coordinator: transport.NewPeer(opts.CoordinatorAddr),
		lists:       make(map[string]*crdt.List),
		items:       crdt.NewItemSet(),
		stopCh:      make(chan struct{}),
	}
	n.quorum = quorum.New(n.id, r, n.peers, n.addrOf, n.localRead, n.metrics, n.log, opts.Quorum.N, opts.Quorum.R, opts.Quorum.W)

	if err := n.loadFromStore(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) addrOf(nodeID string) string { return n.addr[nodeID] }

// loadFromStore rehydrates every List and Item the durable store holds.
// Tags are not persisted (only the materialized CRDT value is), so every
// loaded item is re-added to the ItemSet under a fresh local tag: the
// store itself is the source of truth for "does this id currently exist".
func (n *Node) loadFromStore() error {
	lists, err := n.store.ListLists()
	if err != nil {
		return err
	}
	n.mu.Lock()
	for _, s := range lists {
		n.lists[s.ID] = crdt.ListFromSnapshot(s)
	}
	n.mu.Unlock()

	items, err := n.store.ListItems()
	if err != nil {
		return err
	}
	for _, s := range items {
		n.items.Add(crdt.ItemFromSnapshot(s), n.id)
	}
	return nil
}

// localRead satisfies quorum.LocalReadFunc: it serves a READ out of this
// node's in-memory state without going through the peer channel.
func (n *Node) localRead(dataType model.DataType, key string) (any, bool) {
	switch dataType {
	case model.DataList:
		n.mu.RLock()
		l, ok := n.lists[key]
		n.mu.RUnlock()
		if !ok {
			return nil, false
		}
		return l.Snapshot(), true
	case model.DataItem:
		it, ok := n.items.Get(key)
		if !ok {
			return nil, false
		}
		return it.Snapshot(), true
	default:
		return nil, false
	}
}

// Register mounts the public REST surface (§6) and the internal RPC
// endpoint on router.
func (n *Node) Register(router *gin.Engine) {
	router.Use(zapLogger(n.log), recovery(n.log))

	router.GET("/api/health", n.handleHealth)

	router.POST("/api/lists", n.handleCreateList)
	router.GET("/api/lists", n.handleListLists)
	router.GET("/api/lists/:id", n.handleGetList)
	router.DELETE("/api/lists/:id", n.handleDeleteList)

	router.POST("/api/lists/:id/items", n.handleAddItem)
	router.GET("/api/items", n.handleListItems)
	router.PATCH("/api/items/:id/toggle", n.handleToggleItem)
	router.PATCH("/api/items/:id/quantity", n.handleUpdateQuantity)
	router.PATCH("/api/items/:id/name", n.handleUpdateName)
	router.DELETE("/api/items/:id", n.handleRemoveItem)

	router.POST("/internal/rpc", n.handleRPC)
}

// Run starts the hinted-handoff flush loop; it returns when ctx is
// cancelled or Stop is called.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(config.HintedHandoffFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.flushHints()
		}
	}
}

// Stop signals Run to exit and releases the durable store. It is safe to
// call more than once.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	return n.store.Close()
}
