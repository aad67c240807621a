package node

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knirvcorp/shoplist/internal/model"
)

// handleRPC implements the internal node request channel's one endpoint
// (C7/C9): every inter-node envelope — READ, the replication message kinds,
// and the gossip handler's replays — arrives here and is dispatched through
// the same vector-clock-aware apply logic client writes use (§4.9's gossip
// handler requirement). It never re-dispatches the write through the quorum
// coordinator: the sender already owns that fan-out, and replaying it here
// would loop. (The apply logic's bootstrap-on-miss step may still issue a
// quorum read.)
func (n *Node) handleRPC(c *gin.Context) {
	var msg model.EnvelopeMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, model.EnvelopeReply{Status: model.StatusError, Error: err.Error()})
		return
	}
	ctx := c.Request.Context()

	switch msg.Type {
	case model.MsgRead:
		data, found := n.localRead(msg.DataType, msg.Key)
		if !found {
			c.JSON(http.StatusOK, model.EnvelopeReply{Status: model.StatusOK})
			return
		}
		c.JSON(http.StatusOK, model.EnvelopeReply{Status: model.StatusOK, Data: data})

	case model.MsgCreateList:
		if msg.List == nil {
			c.JSON(http.StatusBadRequest, model.EnvelopeReply{Status: model.StatusError, Error: "missing list"})
			return
		}
		result, err := n.applyListWrite(ctx, *msg.List)
		n.replyApplied(c, err, result)

	case model.MsgUpdateItem, model.MsgAddItem, model.MsgUpdateQuantity, model.MsgUpdateName, model.MsgToggleCheck:
		if msg.Item == nil {
			c.JSON(http.StatusBadRequest, model.EnvelopeReply{Status: model.StatusError, Error: "missing item"})
			return
		}
		result, err := n.applyItemWrite(ctx, *msg.Item)
		n.replyApplied(c, err, result)

	case model.MsgDeleteList:
		err := n.applyDeleteList(msg.ListID)
		n.replyApplied(c, err, gin.H{"id": msg.ListID})

	case model.MsgRemoveItem:
		err := n.applyRemoveItem(msg.ItemID)
		n.replyApplied(c, err, gin.H{"id": msg.ItemID})

	default:
		c.JSON(http.StatusBadRequest, model.EnvelopeReply{Status: model.StatusError, Error: "unsupported message type"})
	}
}

func (n *Node) replyApplied(c *gin.Context, err error, data any) {
	if err != nil {
		c.JSON(http.StatusOK, model.EnvelopeReply{Status: model.StatusError, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.EnvelopeReply{Status: model.StatusOK, Data: data})
}
