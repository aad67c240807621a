package crdt

import "testing"

func TestPNCounterIncrementDecrement(t *testing.T) {
	c := NewPNCounter()
	c.Increment("node-a", 5)
	c.Increment("node-b", 2)
	c.Decrement("node-a", 1)

	if got := c.Value(); got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
}

func TestPNCounterApplyDeltaSetsTarget(t *testing.T) {
	c := NewPNCounter()
	c.ApplyDelta("node-a", 4)
	if got := c.Value(); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}

	c.ApplyDelta("node-a", 1)
	if got := c.Value(); got != 1 {
		t.Fatalf("got %d, want 1 after shrinking target", got)
	}

	c.ApplyDelta("node-a", 1)
	if got := c.Value(); got != 1 {
		t.Fatalf("reapplying same target must be a no-op, got %d", got)
	}
}

func TestPNCounterMergeIsCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewPNCounter()
	a.Increment("node-a", 3)

	b := NewPNCounter()
	b.Increment("node-b", 5)
	b.Decrement("node-b", 2)

	c := NewPNCounter()
	c.Increment("node-c", 7)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)
	if ab.Value() != ba.Value() {
		t.Fatalf("merge not commutative: %d vs %d", ab.Value(), ba.Value())
	}

	abc1 := a.Clone()
	abc1.Merge(b)
	abc1.Merge(c)

	abc2 := a.Clone()
	bc := b.Clone()
	bc.Merge(c)
	abc2.Merge(bc)
	if abc1.Value() != abc2.Value() {
		t.Fatalf("merge not associative: %d vs %d", abc1.Value(), abc2.Value())
	}

	before := ab.Clone()
	ab.Merge(b)
	if before.Value() != ab.Value() {
		t.Fatalf("merge not idempotent: %d vs %d", before.Value(), ab.Value())
	}
}

func TestPNCounterNegativeDeltaRoutesToOtherBucket(t *testing.T) {
	c := NewPNCounter()
	c.Increment("node-a", -3)
	if got := c.Value(); got != -3 {
		t.Fatalf("negative Increment should act as Decrement, got %d", got)
	}

	c2 := NewPNCounter()
	c2.Decrement("node-a", -3)
	if got := c2.Value(); got != 3 {
		t.Fatalf("negative Decrement should act as Increment, got %d", got)
	}
}
