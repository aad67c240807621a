// Package model holds the data shapes shared across package boundaries: the
// client's pending-operation queue entry, a node's hinted-handoff entry, and
// the inter-node wire envelope. None of these carry CRDT merge behavior
// themselves — that lives in internal/crdt — they are the plain records
// that get persisted or sent over the wire.
package model

import "github.com/knirvcorp/shoplist/internal/crdt"

// OpType enumerates the client mutation kinds that flow through the
// pending-operation queue and the inter-node envelope.
type OpType string

const (
	OpCreateList     OpType = "CREATE_LIST"
	OpDeleteList     OpType = "DELETE_LIST"
	OpAddItem        OpType = "ADD_ITEM"
	OpUpdateName     OpType = "UPDATE_NAME"
	OpUpdateQuantity OpType = "UPDATE_QUANTITY"
	OpToggleCheck    OpType = "TOGGLE_CHECK"
	OpRemoveItem     OpType = "REMOVE_ITEM"
)

// PendingOp is a client-only durable record of a not-yet-acknowledged
// mutation. Data is an opaque JSON payload holding what the op's HTTP call
// needs: a list or item snapshot, or a bare list or item id.
type PendingOp struct {
	ID        string `json:"id"`
	Type      OpType `json:"type"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Synced    bool   `json:"synced"`
}

// Hint is a node-only durable record of a replica write that could not be
// delivered at acknowledgment time, awaiting redelivery by the
// hinted-handoff flush loop.
type Hint struct {
	ID           string      `json:"id"`
	TargetNodeID string      `json:"targetNodeId"`
	Operation    EnvelopeMsg `json:"operation"`
	QueuedAt     int64       `json:"queuedAt"`
}

// MessageType enumerates the inter-node envelope kinds (§6 "Inter-node
// messages").
type MessageType string

const (
	MsgRead            MessageType = "READ"
	MsgCreateList      MessageType = "CREATE_LIST"
	MsgAddItem         MessageType = "ADD_ITEM"
	MsgUpdateItem      MessageType = "UPDATE_ITEM"
	MsgUpdateQuantity  MessageType = "UPDATE_QUANTITY"
	MsgUpdateName      MessageType = "UPDATE_NAME"
	MsgToggleCheck     MessageType = "TOGGLE_CHECK"
	MsgRemoveItem      MessageType = "REMOVE_ITEM"
	MsgDeleteList      MessageType = "DELETE_LIST"
	MsgBroadcast       MessageType = "BROADCAST"
)

// DataType distinguishes which entity a READ envelope targets.
type DataType string

const (
	DataList DataType = "list"
	DataItem DataType = "item"
)

// EnvelopeMsg is the JSON body exchanged over the node request channel
// (C7) and replayed, unmodified, as a Hint's payload. Fields are a
// superset union of every message kind in §6; unused fields are omitted on
// the wire via `omitempty`.
type EnvelopeMsg struct {
	Type MessageType `json:"type"`

	// READ
	Key      string   `json:"key,omitempty"`
	DataType DataType `json:"dataType,omitempty"`

	// CREATE_LIST / DELETE_LIST
	List   *crdt.ListSnapshot `json:"list,omitempty"`
	ListID string              `json:"listId,omitempty"`

	// ADD_ITEM / UPDATE_* / TOGGLE_CHECK / REMOVE_ITEM
	Item   *crdt.ItemSnapshot `json:"item,omitempty"`
	ItemID string              `json:"itemId,omitempty"`

	// BROADCAST
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// EnvelopeReply is the JSON response to an EnvelopeMsg.
type EnvelopeReply struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)
