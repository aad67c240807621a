package client

import (
	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/crdt"
)

// mergeIncomingList applies an incoming list replica — from a sync pull or
// an SSE event — using the same three-case vector-clock comparison the
// storage node runs in its apply state machine: an incoming clock strictly
// behind the local one is ignored, anything else is merged in. A list whose
// id this client has not already created or loaded is dropped whatever the
// event, honoring the privacy boundary against an implicit catalog fetch.
func (e *Engine) mergeIncomingList(eventName string, incoming crdt.ListSnapshot) {
	e.mu.Lock()
	existing, known := e.lists[incoming.ID]
	if !known {
		e.mu.Unlock()
		return
	}
	cmp := clock.Compare(incoming.VectorClock, existing.VectorClockOf())
	if cmp == clock.Before {
		e.mu.Unlock()
		return
	}
	existing.MergeFields(crdt.ListFromSnapshot(incoming))
	snap := existing.Snapshot()
	e.mu.Unlock()
	_ = e.store.SaveList(snap)
}

// forgetList drops a list and its items locally, mirroring a
// "list-deleted" event from another client sharing the list.
func (e *Engine) forgetList(id string) {
	e.mu.Lock()
	_, known := e.lists[id]
	delete(e.lists, id)
	e.mu.Unlock()
	if !known {
		return
	}
	_ = e.store.DeleteList(id)
}

// mergeIncomingItem applies an incoming item replica the same way, scoping
// which sub-CRDTs get merged to what the event name says actually changed:
// a toggle only ever touched acquired, a quantity update both counters, a
// rename only the name register. An unknown item is adopted wholesale on
// "item-added" (the usual path for another client's concurrent add to a
// shared list) and otherwise ignored.
func (e *Engine) mergeIncomingItem(eventName string, incoming crdt.ItemSnapshot) {
	e.mu.RLock()
	_, listKnown := e.lists[incoming.ListID]
	e.mu.RUnlock()
	if !listKnown {
		return
	}

	existing, ok := e.items.Get(incoming.ID)
	if !ok {
		if eventName != "item-added" {
			return
		}
		e.items.Add(crdt.ItemFromSnapshot(incoming), e.id)
		if it, ok := e.items.Get(incoming.ID); ok {
			_ = e.store.SaveItem(it.Snapshot())
		}
		return
	}

	cmp := clock.Compare(incoming.VectorClock, existing.VectorClockOf())
	if cmp == clock.Before {
		return
	}

	other := crdt.ItemFromSnapshot(incoming)
	switch eventName {
	case "item-toggled":
		existing.MergeAcquired(other)
	case "item-quantity-updated":
		existing.MergeQuantity(other)
	case "item-name-updated":
		existing.MergeName(other)
	default:
		existing.MergeFields(other)
	}
	_ = e.store.SaveItem(existing.Snapshot())
}

// forgetItem drops an item locally, mirroring an "item-removed" event.
func (e *Engine) forgetItem(id string) {
	if _, ok := e.items.Get(id); !ok {
		return
	}
	e.items.Remove(id, e.id)
	_ = e.store.DeleteItem(id)
}
