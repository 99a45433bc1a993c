package lru_test

import (
	"testing"

	"github.com/vanenet/portmapd/internal/lru"
)

func TestPeekOldestReflectsMinimumTimestamp(t *testing.T) {
	t.Parallel()

	idx := lru.New[string, int]()
	idx.Insert("a", 1, 30)
	idx.Insert("b", 2, 10)
	idx.Insert("c", 3, 20)

	key, value, ok := idx.PeekOldest()
	if !ok || key != "b" || value != 2 {
		t.Fatalf("PeekOldest() = (%q, %d, %v), want (\"b\", 2, true)", key, value, ok)
	}
}

func TestUpdateReorders(t *testing.T) {
	t.Parallel()

	idx := lru.New[string, int]()
	idx.Insert("a", 1, 10)
	idx.Insert("b", 2, 20)

	idx.Update("a", 30) // "a" is now the most recently active

	key, _, ok := idx.PeekOldest()
	if !ok || key != "b" {
		t.Fatalf("PeekOldest() after Update = %q, want \"b\"", key)
	}
}

func TestEvictOlderThanBoundAndOrder(t *testing.T) {
	t.Parallel()

	idx := lru.New[int, struct{}]()
	for i, ts := range []int64{10, 20, 30, 40, 50} {
		idx.Insert(i, struct{}{}, ts)
	}

	const now = 100
	const timeout = 65 // cutoff = 35: keys with ts 10 and 20 and 30 qualify

	evicted := idx.EvictOlderThan(now, timeout, 2)
	if len(evicted) != 2 {
		t.Fatalf("EvictOlderThan bound not respected: got %d, want 2", len(evicted))
	}
	if evicted[0] != 0 || evicted[1] != 1 {
		t.Fatalf("EvictOlderThan order = %v, want ascending by last-active [0 1]", evicted)
	}
	if idx.Len() != 3 {
		t.Fatalf("Len() after partial eviction = %d, want 3", idx.Len())
	}

	// Second sweep picks up the remaining qualifying entry (key 2, ts 30).
	evicted = idx.EvictOlderThan(now, timeout, 10)
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Fatalf("second EvictOlderThan = %v, want [2]", evicted)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() after second sweep = %d, want 2", idx.Len())
	}
}

func TestEraseRemovesEntry(t *testing.T) {
	t.Parallel()

	idx := lru.New[string, int]()
	idx.Insert("a", 1, 1)
	idx.Erase("a")

	if idx.Len() != 0 {
		t.Fatalf("Len() after Erase = %d, want 0", idx.Len())
	}
	if _, _, ok := idx.PeekOldest(); ok {
		t.Fatalf("PeekOldest() succeeded on empty index")
	}
}

func TestEvictOlderThanZeroMaxIsNoop(t *testing.T) {
	t.Parallel()

	idx := lru.New[string, int]()
	idx.Insert("a", 1, 1)

	if got := idx.EvictOlderThan(1000, 1, 0); got != nil {
		t.Fatalf("EvictOlderThan with maxEntries=0 returned %v, want nil", got)
	}
}
