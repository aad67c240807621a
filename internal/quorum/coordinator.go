// Package quorum implements the quorum coordinator (C8): fan-out of a
// write or read to a key's preference list, collecting acknowledgments
// until the configured W or R threshold is met, and reconciling divergent
// read responses using vector-clock comparison with an LWW tiebreak.
package quorum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/clock"
	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/crdt"
	"github.com/knirvcorp/shoplist/internal/model"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/ring"
	"github.com/knirvcorp/shoplist/internal/tracing"
	"github.com/knirvcorp/shoplist/internal/transport"
)

// LocalReadFunc serves a READ locally, without going through the network
// channel, when the coordinator's own node is in the preference list.
type LocalReadFunc func(dataType model.DataType, key string) (data any, found bool)

// Coordinator dispatches writes and reads across a key's preference list.
type Coordinator struct {
	selfID    string
	ring      *ring.Ring
	peers     *transport.Registry
	addrOf    func(nodeID string) string
	localRead LocalReadFunc
	metrics   *monitoring.Metrics
	log       *zap.Logger

	N, R, W int
}

// New builds a Coordinator. It logs a warning (but does not refuse to
// start) if R+W<=N, per §4.8's degraded-consistency edge case.
func New(selfID string, r *ring.Ring, peers *transport.Registry, addrOf func(string) string, localRead LocalReadFunc, metrics *monitoring.Metrics, log *zap.Logger, n, rQuorum, w int) *Coordinator {
	c := &Coordinator{
		selfID:    selfID,
		ring:      r,
		peers:     peers,
		addrOf:    addrOf,
		localRead: localRead,
		metrics:   metrics,
		log:       log,
		N:         n,
		R:         rQuorum,
		W:         w,
	}
	if rQuorum+w <= n {
		log.Warn("quorum configuration does not guarantee strong consistency", zap.Int("N", n), zap.Int("R", rQuorum), zap.Int("W", w))
	}
	return c
}

// WriteResult reports which remote replicas acknowledged a write and which
// did not, so the caller can place the latter on its hinted-handoff queue.
type WriteResult struct {
	Succeeded []string
	Failed    []string
	Met       bool
}

// Write dispatches msg to every remote replica in key's preference list in
// parallel and counts acknowledgments. The local apply is assumed to have
// already happened and always counts as one success.
func (c *Coordinator) Write(ctx context.Context, key string, msg model.EnvelopeMsg) (WriteResult, error) {
	start := time.Now()
	c.metrics.QuorumWrites.Inc()
	ctx, span := tracing.StartSpan(ctx, "quorum.write")
	defer span.End()
	defer func() { c.metrics.QuorumWriteDuration.Observe(time.Since(start).Seconds()) }()

	prefs := c.ring.PreferenceList(key, c.N)
	remotes := c.remotesOf(prefs)

	type outcome struct {
		node string
		err  error
	}
	results := make(chan outcome, len(remotes))
	for _, node := range remotes {
		go func(node string) {
			_, err := c.peers.Peer(c.addrOf(node)).Send(ctx, msg)
			results <- outcome{node, err}
		}(node)
	}

	successes := 1 // local apply already counted
	var succeeded, failed []string
	for i := 0; i < len(remotes); i++ {
		o := <-results
		if o.err == nil {
			successes++
			succeeded = append(succeeded, o.node)
		} else {
			if errors.Is(o.err, transport.ErrTimeout) {
				c.metrics.ReplicaCallTimeouts.Inc()
			}
			failed = append(failed, o.node)
		}
	}

	met := successes >= c.W
	if !met {
		c.metrics.QuorumWriteFailures.Inc()
		return WriteResult{Succeeded: succeeded, Failed: failed, Met: false}, fmt.Errorf("quorum write failed: %d/%d acks", successes, c.W)
	}
	return WriteResult{Succeeded: succeeded, Failed: failed, Met: true}, nil
}

// ReadResult is the reconciled winner of a quorum read, tagged with which
// concrete type it decoded to.
type ReadResult struct {
	List *crdt.ListSnapshot
	Item *crdt.ItemSnapshot
}

// Read dispatches a READ for key to every replica in its preference list
// in parallel, waits for at least R valid responses (or the replica
// timeout to elapse), and reconciles them by vector-clock comparison.
func (c *Coordinator) Read(ctx context.Context, dataType model.DataType, key string) (ReadResult, error) {
	start := time.Now()
	c.metrics.QuorumReads.Inc()
	ctx, span := tracing.StartSpan(ctx, "quorum.read")
	defer span.End()
	defer func() { c.metrics.QuorumReadDuration.Observe(time.Since(start).Seconds()) }()

	prefs := c.ring.PreferenceList(key, c.N)

	type response struct {
		data any
		ok   bool
	}
	results := make(chan response, len(prefs))

	var wg sync.WaitGroup
	for _, node := range prefs {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			if node == c.selfID {
				data, found := c.localRead(dataType, key)
				results <- response{data: data, ok: found}
				return
			}
			reply, err := c.peers.Peer(c.addrOf(node)).Send(ctx, model.EnvelopeMsg{Type: model.MsgRead, Key: key, DataType: dataType})
			if err != nil {
				results <- response{ok: false}
				return
			}
			data, ok := decodeReadReply(dataType, reply.Data)
			results <- response{data: data, ok: ok}
		}(node)
	}
	go func() { wg.Wait(); close(results) }()

	var valid []any
	timeout := time.After(config.ReplicaCallTimeout)
collect:
	for len(valid) < c.R {
		select {
		case r, open := <-results:
			if !open {
				break collect
			}
			if r.ok {
				valid = append(valid, r.data)
			}
		case <-timeout:
			break collect
		}
	}

	if len(valid) < c.R {
		c.metrics.QuorumReadFailures.Inc()
		return ReadResult{}, fmt.Errorf("quorum read failed: %d/%d responses", len(valid), c.R)
	}

	return reconcile(dataType, valid), nil
}

// remotesOf returns prefs with selfID removed.
func (c *Coordinator) remotesOf(prefs []string) []string {
	out := make([]string, 0, len(prefs))
	for _, n := range prefs {
		if n != c.selfID {
			out = append(out, n)
		}
	}
	return out
}

func decodeReadReply(dataType model.DataType, data any) (any, bool) {
	if data == nil {
		return nil, false
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	switch dataType {
	case model.DataList:
		var l crdt.ListSnapshot
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, false
		}
		return l, true
	case model.DataItem:
		var it crdt.ItemSnapshot
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, false
		}
		return it, true
	default:
		return nil, false
	}
}

// versioned is satisfied by both crdt.ListSnapshot and crdt.ItemSnapshot.
type versioned interface {
	ClockOf() clock.VectorClock
	UpdatedAt() int64
}

// reconcile implements §4.8 step 3: candidate starts as the first
// response; each further response that strictly postdates the candidate
// replaces it; concurrent pairs are broken by the greater lastUpdated.
func reconcile(dataType model.DataType, valid []any) ReadResult {
	candidate := valid[0].(versioned)
	for _, v := range valid[1:] {
		next := v.(versioned)
		switch clock.Compare(candidate.ClockOf(), next.ClockOf()) {
		case clock.Before:
			candidate = next
		case clock.Concurrent:
			if next.UpdatedAt() > candidate.UpdatedAt() {
				candidate = next
			}
		}
	}

	switch dataType {
	case model.DataList:
		l := candidate.(crdt.ListSnapshot)
		return ReadResult{List: &l}
	case model.DataItem:
		it := candidate.(crdt.ItemSnapshot)
		return ReadResult{Item: &it}
	default:
		return ReadResult{}
	}
}
