package crdt

import (
	"sync"

	"github.com/knirvcorp/shoplist/internal/clock"
)

// List is the live CRDT representation of a shopping list's own metadata:
// just a name (LWW) plus the bookkeeping needed to merge concurrent
// renames/creates. Item membership lives in an ItemSet, not here.
type List struct {
	mu sync.Mutex

	ID        string
	CreatedAt int64

	Name *LWWRegister[string]

	LastUpdated int64
	VectorClock clock.VectorClock
}

// NewList creates a fresh list whose CRDT state is attributed to nodeID.
func NewList(id, name, nodeID string, createdAt, lastUpdated int64) *List {
	return &List{
		ID:          id,
		CreatedAt:   createdAt,
		Name:        NewLWWRegister(name, lastUpdated, nodeID),
		LastUpdated: lastUpdated,
		VectorClock: clock.NewVectorClock(),
	}
}

// ListSnapshot is the flat, JSON/SQL-serializable form of a List.
type ListSnapshot struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	CreatedAt     int64             `json:"createdAt"`
	LastUpdated   int64             `json:"lastUpdated"`
	VectorClock   clock.VectorClock `json:"vectorClock"`
	NameTimestamp int64             `json:"nameTimestamp"`
	NameWriter    string            `json:"nameWriter"`
}

// Snapshot flattens the live list into its serializable form.
func (l *List) Snapshot() ListSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ts, writer := l.Name.Get()
	return ListSnapshot{
		ID:            l.ID,
		Name:          name,
		CreatedAt:     l.CreatedAt,
		LastUpdated:   l.LastUpdated,
		VectorClock:   clock.Clone(l.VectorClock),
		NameTimestamp: ts,
		NameWriter:    writer,
	}
}

// ListFromSnapshot rehydrates a live List from its flat form.
func ListFromSnapshot(s ListSnapshot) *List {
	l := &List{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		Name:        NewLWWRegister(s.Name, s.NameTimestamp, s.NameWriter),
		LastUpdated: s.LastUpdated,
		VectorClock: clock.Clone(s.VectorClock),
	}
	if l.VectorClock == nil {
		l.VectorClock = clock.NewVectorClock()
	}
	return l
}

// ClockOf returns the snapshot's vector clock, satisfying the quorum
// coordinator's reconciliation interface.
func (s ListSnapshot) ClockOf() clock.VectorClock { return s.VectorClock }

// UpdatedAt returns the snapshot's lastUpdated timestamp, satisfying the
// quorum coordinator's reconciliation interface.
func (s ListSnapshot) UpdatedAt() int64 { return s.LastUpdated }

// Touch bumps lastUpdated and increments the local node's vector-clock
// component.
func (l *List) Touch(nodeID string, lastUpdated int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LastUpdated = lastUpdated
	l.VectorClock = clock.Increment(l.VectorClock, nodeID)
}

// MergeFields merges another list replica's name register, lastUpdated and
// vector clock into this one.
func (l *List) MergeFields(other *List) {
	l.Name.Merge(other.Name)

	l.mu.Lock()
	if other.LastUpdatedAt() > l.LastUpdated {
		l.LastUpdated = other.LastUpdatedAt()
	}
	l.VectorClock = clock.Merge(l.VectorClock, other.VectorClockOf())
	l.mu.Unlock()
}

// LastUpdatedAt returns the list's lastUpdated timestamp.
func (l *List) LastUpdatedAt() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.LastUpdated
}

// VectorClockOf returns a clone of the list's vector clock.
func (l *List) VectorClockOf() clock.VectorClock {
	l.mu.Lock()
	defer l.mu.Unlock()
	return clock.Clone(l.VectorClock)
}
