// Package handle implements the descriptor registry of spec.md section
// 4.1: the bidirectional mapping between an opaque, monotonically
// increasing, never-reused 64-bit Handle and the underlying OS socket
// descriptor (an int file descriptor on the Unix-only platform this
// implementation targets, per spec.md section 9's "Windows support" note).
//
// Grounded on the teacher's SourcePortAllocator (internal/netio/rawsock_linux.go):
// a mutex-guarded map with allocate/release semantics, extended here to a
// bidirectional fd<->handle map with the many-readers/one-writer discipline
// spec.md section 5 requires.
package handle

import "sync"

// Handle is an opaque 64-bit identifier for a registered OS descriptor.
// Two handles are equal iff they refer to the same registered descriptor
// instance; a Handle is never reused (spec.md section 3).
type Handle uint64

// Activity records the creation and last-active timestamps of a
// registered descriptor (spec.md section 3's Descriptor Registry entry).
type Activity struct {
	Created    int64 // caller-supplied timestamp (the daemon passes unix seconds)
	LastActive int64 // same clock as Created, updated via UpdateActive
}

// Registry is the sole authority over whether a Handle is live: once
// Close(handle) has removed an entry, no further operation on that handle
// succeeds (spec.md section 3's registry invariant).
//
// Concurrency: RWMutex admits many concurrent ToRaw/Exists readers while
// Create/Close/GetOrCreate are serialized, matching spec.md section 4.1.
type Registry struct {
	mu       sync.RWMutex
	next     uint64
	byHandle map[Handle]entry
	byRaw    map[int]Handle
}

type entry struct {
	raw      int
	activity Activity
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byHandle: make(map[Handle]entry),
		byRaw:    make(map[int]Handle),
	}
}

// Create allocates a new handle for raw and installs both directional maps
// and a fresh activity record. Never returns a handle already in use.
func (r *Registry) Create(raw int, now int64) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createLocked(raw, now)
}

func (r *Registry) createLocked(raw int, now int64) Handle {
	r.next++
	h := Handle(r.next)
	r.byHandle[h] = entry{raw: raw, activity: Activity{Created: now, LastActive: now}}
	r.byRaw[raw] = h
	return h
}

// GetOrCreate returns the existing handle for raw if one is already
// registered (idempotent for listener descriptors reused across many
// sessions), otherwise it creates one.
func (r *Registry) GetOrCreate(raw int, now int64) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byRaw[raw]; ok {
		return h
	}
	return r.createLocked(raw, now)
}

// ToRaw returns the OS descriptor for handle iff it is still live.
func (r *Registry) ToRaw(h Handle) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byHandle[h]
	if !ok {
		return 0, false
	}
	return e.raw, true
}

// Exists reports whether handle is currently live.
func (r *Registry) Exists(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byHandle[h]
	return ok
}

// Close removes both maps and the activity record for handle atomically
// and returns the raw descriptor so the caller can issue the OS close.
// Idempotent under concurrent callers: only one sees a non-zero ok.
func (r *Registry) Close(h Handle) (raw int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.byHandle[h]
	if !exists {
		return 0, false
	}
	delete(r.byHandle, h)
	delete(r.byRaw, e.raw)
	return e.raw, true
}

// UpdateActive stamps handle's last-active time. A no-op for a handle that
// has since been closed.
func (r *Registry) UpdateActive(h Handle, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		return
	}
	e.activity.LastActive = now
	r.byHandle[h] = e
}

// ActivityOf returns a copy of handle's activity record, or false if the
// handle is not live.
func (r *Registry) ActivityOf(h Handle) (Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byHandle[h]
	return e.activity, ok
}

// Len returns the number of currently live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byHandle)
}

// Handles returns a snapshot of every currently live handle, used by the
// event loop's shutdown path to close every remaining descriptor
// (spec.md section 4.6: "On shutdown: close every known descriptor").
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.byHandle))
	for h := range r.byHandle {
		out = append(out, h)
	}
	return out
}
