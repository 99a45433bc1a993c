// Package lru implements the generic LRU index of spec.md section 4.2: an
// ordered structure over a key type tracking last-active timestamps, with
// amortized update-on-activity and bounded eviction of the oldest entries
// older than a timeout.
//
// Standard library only (container/list + map), not a third-party
// dependency: no library in the retrieval pack provides exactly the
// "ordered by timestamp, evict-older-than-N, generic key" contract spec.md
// requires. hashicorp/golang-lru/v2 (present only as an indirect
// golangci-lint tool dependency in the teacher's go.mod, never imported by
// its production code) implements capacity-bounded caches with eviction
// callbacks, not timestamp-threshold eviction — adopting it would mean
// reimplementing this logic on top of it for no benefit, so this is
// documented in DESIGN.md as a standard-library-justified component.
package lru

import "container/list"

// Index is an ordered {key -> value} map with a last-active timestamp per
// entry, ordered oldest-to-newest. A doubly linked list gives O(1)
// PeekOldest (front) and places an inserted or updated entry by scanning
// back from the newest entry, which is O(1) when its timestamp is the
// newest (the usual case for activity stamps), matching
// the externally observable ordering spec.md section 4.2 requires without
// needing the BTreeMap the spec describes as one possible implementation.
type Index[K comparable, V any] struct {
	order    *list.List // front = oldest, back = newest
	elements map[K]*list.Element
}

type node[K comparable, V any] struct {
	key   K
	value V
	ts    int64
}

// New constructs an empty Index.
func New[K comparable, V any]() *Index[K, V] {
	return &Index[K, V]{
		order:    list.New(),
		elements: make(map[K]*list.Element),
	}
}

// Insert adds key with value at timestamp ts. If key already exists its
// value and timestamp are replaced. Either way the entry is placed in
// timestamp order.
func (idx *Index[K, V]) Insert(key K, value V, ts int64) {
	if el, ok := idx.elements[key]; ok {
		el.Value.(*node[K, V]).value = value
		el.Value.(*node[K, V]).ts = ts
		idx.place(el)
		return
	}
	el := idx.order.PushBack(&node[K, V]{key: key, value: value, ts: ts})
	idx.elements[key] = el
	idx.place(el)
}

// Update stamps key's activity at ts and moves it to its timestamp-ordered
// position. A no-op if key is not present.
func (idx *Index[K, V]) Update(key K, ts int64) {
	el, ok := idx.elements[key]
	if !ok {
		return
	}
	el.Value.(*node[K, V]).ts = ts
	idx.place(el)
}

// place moves el right after the newest other entry whose timestamp is not
// greater than el's, or to the front if there is none.
func (idx *Index[K, V]) place(el *list.Element) {
	ts := el.Value.(*node[K, V]).ts
	for mark := idx.order.Back(); mark != nil; mark = mark.Prev() {
		if mark != el && mark.Value.(*node[K, V]).ts <= ts {
			idx.order.MoveAfter(el, mark)
			return
		}
	}
	idx.order.MoveToFront(el)
}

// Erase removes key from the index.
func (idx *Index[K, V]) Erase(key K) {
	el, ok := idx.elements[key]
	if !ok {
		return
	}
	idx.order.Remove(el)
	delete(idx.elements, key)
}

// Get returns key's stored value without affecting its position.
func (idx *Index[K, V]) Get(key K) (value V, ok bool) {
	el, ok := idx.elements[key]
	if !ok {
		return value, false
	}
	return el.Value.(*node[K, V]).value, true
}

// Len returns the number of entries currently indexed.
func (idx *Index[K, V]) Len() int {
	return idx.order.Len()
}

// PeekOldest returns the entry with the minimum last-active timestamp
// (spec.md section 8, invariant 7), or ok=false if the index is empty.
func (idx *Index[K, V]) PeekOldest() (key K, value V, ok bool) {
	front := idx.order.Front()
	if front == nil {
		return key, value, false
	}
	n := front.Value.(*node[K, V])
	return n.key, n.value, true
}

// EvictOlderThan removes up to max entries whose last-active timestamp is
// older than now-timeout (i.e. ts < now-timeout), in ascending order of
// last-active time, and returns the evicted keys in that order. This is
// the shared bounded-eviction primitive behind spec.md section 4.5.
func (idx *Index[K, V]) EvictOlderThan(now, timeout int64, maxEntries int) []K {
	if maxEntries <= 0 {
		return nil
	}

	cutoff := now - timeout
	evicted := make([]K, 0, maxEntries)

	for el := idx.order.Front(); el != nil && len(evicted) < maxEntries; {
		n := el.Value.(*node[K, V])
		if n.ts >= cutoff {
			break // list is ordered oldest-first; nothing further qualifies
		}
		next := el.Next()
		idx.order.Remove(el)
		delete(idx.elements, n.key)
		evicted = append(evicted, n.key)
		el = next
	}

	return evicted
}
