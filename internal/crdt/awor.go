package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// ItemSet is an add-wins observed-remove set of Items. Every add mints a
// fresh, globally-unique tag; a remove tombstones every add-tag the
// removing replica has observed for that id so far — it can never cover a
// tag it has not seen. An id is live iff at least one of its add-tags is
// not tombstoned. Tag-set union under Merge is commutative, associative
// and idempotent, and a concurrent add always mints a tag the remove
// could not have observed, so it survives the merge — "add wins".
type ItemSet struct {
	mu sync.Mutex

	elements   map[string]*Item
	addTags    map[string]map[string]struct{}
	removeTags map[string]map[string]struct{}

	// pendingRemovals suppresses locally-removed ids from reads between a
	// local Remove and the next Merge, covering the case where Remove
	// targets an id this replica has not yet observed any add-tag for (the
	// create is still in flight). Merge always clears this set: once the
	// remote tag state has been folded in, the add-tag and remove-tag sets
	// become authoritative again.
	pendingRemovals map[string]struct{}
}

// NewItemSet returns an empty set.
func NewItemSet() *ItemSet {
	return &ItemSet{
		elements:        make(map[string]*Item),
		addTags:         make(map[string]map[string]struct{}),
		removeTags:      make(map[string]map[string]struct{}),
		pendingRemovals: make(map[string]struct{}),
	}
}

func newTag(nodeID string) string {
	return nodeID + ":" + uuid.NewString()
}

// Add inserts item (or merges it into an existing element sharing its ID)
// under a freshly minted add-tag attributed to nodeID. A re-add after a
// remove is a legitimate rebirth: prior remove-tags and any pending local
// removal for the id are discarded, so earlier add-tags for the id count
// as live again alongside the fresh one.
func (s *ItemSet) Add(item *Item, nodeID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := item.ID
	delete(s.pendingRemovals, id)
	delete(s.removeTags, id)

	if s.addTags[id] == nil {
		s.addTags[id] = make(map[string]struct{})
	}
	tag := newTag(nodeID)
	s.addTags[id][tag] = struct{}{}

	if existing, ok := s.elements[id]; ok {
		existing.MergeFields(item)
	} else {
		s.elements[id] = item
	}
	return tag
}

// Overwrite replaces the live element for an id that already has at least
// one add-tag, without minting any tag of its own. Used by the node's
// vector-clock apply state machine for its "after"/"equal" cases, where
// the incoming replica's value is adopted wholesale rather than merged
// field-by-field — the AWOR-Set membership question was already settled
// by an earlier Add, so only the value changes here.
func (s *ItemSet) Overwrite(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shouldExistLocked(item.ID) {
		return
	}
	s.elements[item.ID] = item
}

// Remove tombstones every add-tag this replica has observed for id,
// attributed to nodeID, and hides id from local reads immediately, even
// if no add-tag for id has been observed yet (the create is still in
// flight — pendingRemovals covers that race until the next Merge folds
// in the add-tag this replica had not yet seen). A concurrent add on
// another replica always mints a tag this Remove could not have covered,
// so it is never tombstoned here and survives the merge.
func (s *ItemSet) Remove(id, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removeTags[id] == nil {
		s.removeTags[id] = make(map[string]struct{})
	}
	for tag := range s.addTags[id] {
		s.removeTags[id][tag] = struct{}{}
	}
	s.removeTags[id][newTag(nodeID)] = struct{}{}
	s.pendingRemovals[id] = struct{}{}
	delete(s.elements, id)
}

// shouldExistLocked reports whether id has at least one add-tag that is
// not tombstoned by a remove-tag. Caller must hold s.mu.
func (s *ItemSet) shouldExistLocked(id string) bool {
	if _, pending := s.pendingRemovals[id]; pending {
		return false
	}
	tombstoned := s.removeTags[id]
	for tag := range s.addTags[id] {
		if _, covered := tombstoned[tag]; !covered {
			return true
		}
	}
	return false
}

// ShouldExist reports whether id currently has an uncovered add-tag and
// has no pending local removal.
func (s *ItemSet) ShouldExist(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldExistLocked(id)
}

// Get returns the live element for id, if it currently exists in the set.
func (s *ItemSet) Get(id string) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.elements[id]
	return it, ok
}

// UpdateField applies a local mutation to field on an existing element,
// dispatching name to the LWW register and quantity/acquired to the PN
// counters via delta application. No-op if id is pending removal or does
// not currently exist.
func (s *ItemSet) UpdateField(id, field string, value any, nodeID string, timestamp int64) {
	s.mu.Lock()
	if _, pending := s.pendingRemovals[id]; pending {
		s.mu.Unlock()
		return
	}
	it, ok := s.elements[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	switch field {
	case FieldName:
		if name, ok := value.(string); ok {
			it.Name.Set(name, timestamp, nodeID)
		}
	case FieldQuantity:
		if qty, ok := toInt64(value); ok {
			it.Quantity.ApplyDelta(nodeID, qty)
		}
	case FieldAcquired:
		if acq, ok := toInt64(value); ok {
			it.Acquired.ApplyDelta(nodeID, acq)
		}
	}
	it.Touch(nodeID, timestamp)
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Items returns every element currently live in the set.
func (s *ItemSet) Items() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, 0, len(s.elements))
	for _, it := range s.elements {
		out = append(out, it)
	}
	return out
}

// Merge unions the tag sets of other into s, clears pendingRemovals (the
// merged tag state is now authoritative), and reconciles elements: ids that
// now exist get their fields merged in (or adopted wholesale if not yet
// known locally), ids that no longer exist get dropped. Tag-set union is
// commutative, associative and idempotent, so repeated or out-of-order
// merges converge regardless of delivery order.
func (s *ItemSet) Merge(other *ItemSet) {
	other.mu.Lock()
	otherAdds := cloneTagMap(other.addTags)
	otherRemoves := cloneTagMap(other.removeTags)
	otherElements := make(map[string]*Item, len(other.elements))
	for id, it := range other.elements {
		otherElements[id] = it
	}
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{})
	for id, tags := range otherAdds {
		if s.addTags[id] == nil {
			s.addTags[id] = make(map[string]struct{})
		}
		for tag := range tags {
			s.addTags[id][tag] = struct{}{}
		}
		ids[id] = struct{}{}
	}
	for id, tags := range otherRemoves {
		if s.removeTags[id] == nil {
			s.removeTags[id] = make(map[string]struct{})
		}
		for tag := range tags {
			s.removeTags[id][tag] = struct{}{}
		}
		ids[id] = struct{}{}
	}
	for id := range s.addTags {
		ids[id] = struct{}{}
	}
	s.pendingRemovals = make(map[string]struct{})

	for id := range ids {
		if !s.shouldExistLocked(id) {
			delete(s.elements, id)
			continue
		}
		if incoming, ok := otherElements[id]; ok {
			if existing, ok := s.elements[id]; ok {
				existing.MergeFields(incoming)
			} else {
				s.elements[id] = incoming
			}
		}
	}
}

func cloneTagMap(m map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(m))
	for id, tags := range m {
		cp := make(map[string]struct{}, len(tags))
		for tag := range tags {
			cp[tag] = struct{}{}
		}
		out[id] = cp
	}
	return out
}
