package node

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
)

// recordHints persists one Hint per replica that did not acknowledge msg,
// for later redelivery by the flush loop.
func (n *Node) recordHints(failed []string, msg model.EnvelopeMsg) {
	for _, target := range failed {
		h := model.Hint{
			ID:           uuid.NewString(),
			TargetNodeID: target,
			Operation:    msg,
			QueuedAt:     crdt.NowMillis(),
		}
		if err := n.store.SaveHint(h); err != nil {
			n.log.Error("save hint", zap.String("target", target), zap.Error(err))
			continue
		}
		n.metrics.HintedHandoffQueued.Inc()
	}
}

// flushHints drains every target's hint queue in FIFO order, aborting that
// target's drain on the first failed redelivery (§4.9's hinted-handoff
// contract).
func (n *Node) flushHints() {
	n.hintMu.Lock()
	defer n.hintMu.Unlock()

	for target := range n.addr {
		if target == n.id {
			continue
		}
		hints, err := n.store.HintsFor(target)
		if err != nil {
			n.log.Error("list hints", zap.String("target", target), zap.Error(err))
			continue
		}
		if len(hints) == 0 {
			continue
		}

		peer := n.peers.Peer(n.addrOf(target))
		for _, h := range hints {
			ctx, cancel := context.WithTimeout(context.Background(), config.ReplicaCallTimeout)
			_, err := peer.Send(ctx, h.Operation)
			cancel()
			if err != nil {
				break
			}
			if err := n.store.DeleteHint(h.ID); err != nil {
				n.log.Error("delete flushed hint", zap.String("target", target), zap.Error(err))
				break
			}
			n.metrics.HintedHandoffFlushed.Inc()
			n.metrics.HintedHandoffQueued.Dec()
		}
	}
}

// broadcast sends a change event to the cluster coordinator for SSE
// fan-out, best-effort and off the request's critical path: a subscriber
// missing one event is acceptable, blocking a write acknowledgment on the
// coordinator's availability is not.
func (n *Node) broadcast(event string, data any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.ReplicaCallTimeout)
		defer cancel()
		if _, err := n.coordinator.Send(ctx, model.EnvelopeMsg{Type: model.MsgBroadcast, Event: event, Data: data}); err != nil {
			n.log.Warn("broadcast to coordinator failed", zap.String("event", event), zap.Error(err))
		}
	}()
}
