package crdt

import "sync"

// PNCounter is a positive-negative counter CRDT: two grow-only per-node
// tallies whose difference is the counter's value. Increment/Decrement only
// ever grow their node's own bucket, so merge (per-node max) is
// commutative, associative and idempotent.
type PNCounter struct {
	mu       sync.RWMutex
	positive map[string]int64
	negative map[string]int64
}

// NewPNCounter returns a zeroed counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{
		positive: make(map[string]int64),
		negative: make(map[string]int64),
	}
}

// Increment adds delta to nodeID's positive tally. A negative delta is
// applied as a Decrement of its magnitude.
func (c *PNCounter) Increment(nodeID string, delta int64) {
	if delta < 0 {
		c.Decrement(nodeID, -delta)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positive[nodeID] += delta
}

// Decrement adds delta to nodeID's negative tally. A negative delta is
// applied as an Increment of its magnitude.
func (c *PNCounter) Decrement(nodeID string, delta int64) {
	if delta < 0 {
		c.Increment(nodeID, -delta)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negative[nodeID] += delta
}

// Value returns sum(positive) - sum(negative). The result may be negative
// if deltas were applied inconsistently with the non-negative UI contract;
// the counter itself never assumes quantity/acquired stay non-negative.
func (c *PNCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, v := range c.positive {
		total += v
	}
	for _, v := range c.negative {
		total -= v
	}
	return total
}

// ApplyDelta computes the signed delta between the counter's current value
// and target, then applies it as an Increment or Decrement on nodeID. This
// is how callers set a counter to a target value (e.g. a client-supplied
// quantity) without ever assigning a raw value onto the CRDT state.
func (c *PNCounter) ApplyDelta(nodeID string, target int64) {
	delta := target - c.Value()
	if delta > 0 {
		c.Increment(nodeID, delta)
	} else if delta < 0 {
		c.Decrement(nodeID, -delta)
	}
}

// Merge takes the per-node max of both the positive and negative maps.
func (c *PNCounter) Merge(other *PNCounter) {
	other.mu.RLock()
	otherPos := cloneInt64Map(other.positive)
	otherNeg := cloneInt64Map(other.negative)
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for node, v := range otherPos {
		if v > c.positive[node] {
			c.positive[node] = v
		}
	}
	for node, v := range otherNeg {
		if v > c.negative[node] {
			c.negative[node] = v
		}
	}
}

// Clone returns an independent deep copy.
func (c *PNCounter) Clone() *PNCounter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &PNCounter{
		positive: cloneInt64Map(c.positive),
		negative: cloneInt64Map(c.negative),
	}
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
