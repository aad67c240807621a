package crdt

import (
	"sync"

	"github.com/knirvcorp/shoplist/internal/clock"
)

// Item is the live, mergeable CRDT representation of a shopping-list item:
// an immutable identity (ID, ListID, CreatedAt), an LWW register for the
// display name, and two PN counters for the desired and acquired
// quantities. LastUpdated and VectorClock track the item as a whole so the
// node/client apply paths can run the §4.9 three-case comparison before
// touching any sub-CRDT.
type Item struct {
	mu sync.Mutex

	ID        string
	ListID    string
	CreatedAt int64

	Name     *LWWRegister[string]
	Quantity *PNCounter
	Acquired *PNCounter

	LastUpdated int64
	VectorClock clock.VectorClock
}

// NewItem creates a fresh item whose CRDT state is attributed to nodeID.
func NewItem(id, listID, name string, quantity, acquired int64, nodeID string, createdAt, lastUpdated int64) *Item {
	it := &Item{
		ID:          id,
		ListID:      listID,
		CreatedAt:   createdAt,
		Name:        NewLWWRegister(name, lastUpdated, nodeID),
		Quantity:    NewPNCounter(),
		Acquired:    NewPNCounter(),
		LastUpdated: lastUpdated,
		VectorClock: clock.NewVectorClock(),
	}
	it.Quantity.ApplyDelta(nodeID, quantity)
	it.Acquired.ApplyDelta(nodeID, acquired)
	return it
}

// ItemSnapshot is the flat, JSON/SQL-serializable form of an Item. Storage
// and the HTTP/SSE wire format both use this shape; the live Item only
// exists transiently while merging.
type ItemSnapshot struct {
	ID        string `json:"id"`
	ListID    string `json:"listId"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	Acquired  int64  `json:"acquired"`
	CreatedAt int64  `json:"createdAt"`

	LastUpdated int64             `json:"lastUpdated"`
	VectorClock clock.VectorClock `json:"vectorClock"`

	NameTimestamp int64  `json:"nameTimestamp"`
	NameWriter    string `json:"nameWriter"`

	QuantityPositive map[string]int64 `json:"quantityPositive"`
	QuantityNegative map[string]int64 `json:"quantityNegative"`
	AcquiredPositive map[string]int64 `json:"acquiredPositive"`
	AcquiredNegative map[string]int64 `json:"acquiredNegative"`
}

// Snapshot flattens the live item into its serializable form.
func (it *Item) Snapshot() ItemSnapshot {
	it.mu.Lock()
	defer it.mu.Unlock()

	name, nameTS, nameWriter := it.Name.Get()
	return ItemSnapshot{
		ID:               it.ID,
		ListID:           it.ListID,
		Name:             name,
		Quantity:         it.Quantity.Value(),
		Acquired:         it.Acquired.Value(),
		CreatedAt:        it.CreatedAt,
		LastUpdated:      it.LastUpdated,
		VectorClock:      clock.Clone(it.VectorClock),
		NameTimestamp:    nameTS,
		NameWriter:       nameWriter,
		QuantityPositive: it.Quantity.Clone().positive,
		QuantityNegative: it.Quantity.Clone().negative,
		AcquiredPositive: it.Acquired.Clone().positive,
		AcquiredNegative: it.Acquired.Clone().negative,
	}
}

// ItemFromSnapshot rehydrates a live Item from its flat form.
func ItemFromSnapshot(s ItemSnapshot) *Item {
	it := &Item{
		ID:          s.ID,
		ListID:      s.ListID,
		CreatedAt:   s.CreatedAt,
		Name:        NewLWWRegister(s.Name, s.NameTimestamp, s.NameWriter),
		Quantity:    &PNCounter{positive: cloneOrEmpty(s.QuantityPositive), negative: cloneOrEmpty(s.QuantityNegative)},
		Acquired:    &PNCounter{positive: cloneOrEmpty(s.AcquiredPositive), negative: cloneOrEmpty(s.AcquiredNegative)},
		LastUpdated: s.LastUpdated,
		VectorClock: clock.Clone(s.VectorClock),
	}
	if it.VectorClock == nil {
		it.VectorClock = clock.NewVectorClock()
	}
	return it
}

func cloneOrEmpty(m map[string]int64) map[string]int64 {
	if m == nil {
		return make(map[string]int64)
	}
	return cloneInt64Map(m)
}

// ClockOf returns the snapshot's vector clock, satisfying the quorum
// coordinator's reconciliation interface.
func (s ItemSnapshot) ClockOf() clock.VectorClock { return s.VectorClock }

// UpdatedAt returns the snapshot's lastUpdated timestamp, satisfying the
// quorum coordinator's reconciliation interface.
func (s ItemSnapshot) UpdatedAt() int64 { return s.LastUpdated }

// Field names accepted by UpdateField / the node and client mergers.
const (
	FieldName     = "name"
	FieldQuantity = "quantity"
	FieldAcquired = "acquired"
)

// MergeFields merges the per-field sub-CRDTs of other into it: LWW for
// name, PN-max for quantity/acquired, max of lastUpdated, and a
// component-wise merge of the vector clocks. Used whenever two Item
// replicas need reconciling (AWOR-Set merge, or a node's §4.9 "concurrent"
// case).
func (it *Item) MergeFields(other *Item) {
	it.Name.Merge(other.Name)
	it.Quantity.Merge(other.Quantity)
	it.Acquired.Merge(other.Acquired)

	it.mu.Lock()
	if other.LastUpdatedAt() > it.LastUpdated {
		it.LastUpdated = other.LastUpdatedAt()
	}
	it.VectorClock = clock.Merge(it.VectorClock, other.VectorClockOf())
	it.mu.Unlock()
}

// MergeAcquired merges only the acquired counter and the clock/lastUpdated
// bookkeeping, leaving name and quantity untouched. Used when an incoming
// replica is known to have touched acquired alone (an "item-toggled" sync
// event), so the other sub-CRDTs are not redundantly re-merged.
func (it *Item) MergeAcquired(other *Item) {
	it.Acquired.Merge(other.Acquired)
	it.mergeClock(other)
}

// MergeQuantity merges the quantity and acquired counters — a quantity
// update can touch both, since the REST endpoint accepts an optional
// acquired target alongside the required quantity one.
func (it *Item) MergeQuantity(other *Item) {
	it.Quantity.Merge(other.Quantity)
	it.Acquired.Merge(other.Acquired)
	it.mergeClock(other)
}

// MergeName merges only the name LWW register.
func (it *Item) MergeName(other *Item) {
	it.Name.Merge(other.Name)
	it.mergeClock(other)
}

func (it *Item) mergeClock(other *Item) {
	it.mu.Lock()
	if other.LastUpdatedAt() > it.LastUpdated {
		it.LastUpdated = other.LastUpdatedAt()
	}
	it.VectorClock = clock.Merge(it.VectorClock, other.VectorClockOf())
	it.mu.Unlock()
}

// LastUpdatedAt returns the item's lastUpdated timestamp.
func (it *Item) LastUpdatedAt() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.LastUpdated
}

// VectorClockOf returns a clone of the item's vector clock.
func (it *Item) VectorClockOf() clock.VectorClock {
	it.mu.Lock()
	defer it.mu.Unlock()
	return clock.Clone(it.VectorClock)
}

// Touch bumps lastUpdated and increments the local node's vector-clock
// component; callers invoke it once per locally-originated mutation.
func (it *Item) Touch(nodeID string, lastUpdated int64) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.LastUpdated = lastUpdated
	it.VectorClock = clock.Increment(it.VectorClock, nodeID)
}
