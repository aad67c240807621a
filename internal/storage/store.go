// Package storage implements the local durable store (C5): transactional,
// key-addressable persistence for Lists, Items, pending operations (client
// side), hints (node side) and a small metadata bag, backed by SQLite.
package storage

import (
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
)

// Store is the durable persistence abstraction shared by storage nodes and
// clients. Nodes use the List/Item/Hint surface; clients additionally use
// the PendingOp surface over the same List/Item tables.
type Store interface {
	SaveList(list crdt.ListSnapshot) error
	GetList(id string) (crdt.ListSnapshot, bool, error)
	ListLists() ([]crdt.ListSnapshot, error)
	// DeleteList atomically removes the list row and every item row whose
	// listId matches it.
	DeleteList(id string) error

	SaveItem(item crdt.ItemSnapshot) error
	GetItem(id string) (crdt.ItemSnapshot, bool, error)
	ListItems() ([]crdt.ItemSnapshot, error)
	ListItemsByList(listID string) ([]crdt.ItemSnapshot, error)
	DeleteItem(id string) error

	// SavePendingOp inserts a new, unsynced pending operation.
	SavePendingOp(op model.PendingOp) error
	// PendingOps returns every unsynced operation as a consistent
	// snapshot, ordered by ascending timestamp.
	PendingOps() ([]model.PendingOp, error)
	// MarkSynced flags an operation as acknowledged by the server without
	// deleting it, so a crash before ClearSynced only wastes a resend.
	MarkSynced(id string) error
	// ClearSynced deletes every operation already marked synced.
	ClearSynced() error

	SaveHint(h model.Hint) error
	HintsFor(targetNodeID string) ([]model.Hint, error)
	DeleteHint(id string) error

	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error

	Close() error
}
