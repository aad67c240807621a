package ring

import "testing"

func fiveNodes() *Ring {
	r := New()
	for _, n := range []string{"node-1", "node-2", "node-3", "node-4", "node-5"} {
		r.AddNode(n)
	}
	return r
}

func TestPreferenceListReturnsNDistinctNodes(t *testing.T) {
	r := fiveNodes()
	prefs := r.PreferenceList("list-42", 3)
	if len(prefs) != 3 {
		t.Fatalf("got %d nodes, want 3", len(prefs))
	}
	seen := make(map[string]bool)
	for _, n := range prefs {
		if seen[n] {
			t.Fatalf("duplicate node %s in preference list", n)
		}
		seen[n] = true
	}
}

func TestPreferenceListDeterministic(t *testing.T) {
	r := fiveNodes()
	a := r.PreferenceList("same-key", 3)
	b := r.PreferenceList("same-key", 3)
	if len(a) != len(b) {
		t.Fatalf("length mismatch between calls")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("preference list not deterministic: %v vs %v", a, b)
		}
	}
}

func TestPreferenceListFewerNodesThanN(t *testing.T) {
	r := New()
	r.AddNode("solo")
	prefs := r.PreferenceList("key", 3)
	if len(prefs) != 1 {
		t.Fatalf("got %d nodes, want 1 (only node on the ring)", len(prefs))
	}
}

func TestAddingNodeReassignsBoundedFractionOfKeys(t *testing.T) {
	r := New()
	for _, n := range []string{"node-1", "node-2", "node-3"} {
		r.AddNode(n)
	}

	const numKeys = 10000
	before := make(map[int]string, numKeys)
	for i := 0; i < numKeys; i++ {
		key := keyFor(i)
		before[i] = r.PreferenceList(key, 1)[0]
	}

	r.AddNode("node-4")

	reassigned := 0
	for i := 0; i < numKeys; i++ {
		key := keyFor(i)
		after := r.PreferenceList(key, 1)[0]
		if after != before[i] {
			reassigned++
		}
	}

	fraction := float64(reassigned) / float64(numKeys)
	if fraction > 0.5 {
		t.Fatalf("reassigned fraction %.3f exceeds 50%% bound for a 3->4 node change", fraction)
	}
}

func keyFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[(i*31+j*17)%len(letters)]
	}
	return string(b) + string(rune('a'+i%26))
}
