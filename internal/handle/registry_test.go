package handle_test

import (
	"testing"

	"github.com/vanenet/portmapd/internal/handle"
)

func TestRegistryCreateNeverReuses(t *testing.T) {
	t.Parallel()

	r := handle.NewRegistry()

	h1 := r.Create(10, 1)
	h2 := r.Create(10, 2) // same raw fd, different registration (e.g. reused fd number)

	if h1 == h2 {
		t.Fatalf("Create returned the same handle twice: %d", h1)
	}
}

func TestRegistryToRawLiveness(t *testing.T) {
	t.Parallel()

	r := handle.NewRegistry()
	h := r.Create(5, 100)

	raw, ok := r.ToRaw(h)
	if !ok || raw != 5 {
		t.Fatalf("ToRaw() = (%d, %v), want (5, true)", raw, ok)
	}

	if !r.Exists(h) {
		t.Fatalf("Exists() = false for live handle")
	}

	gotRaw, ok := r.Close(h)
	if !ok || gotRaw != 5 {
		t.Fatalf("Close() = (%d, %v), want (5, true)", gotRaw, ok)
	}

	// Invariant 1 (spec.md section 8): ToRaw is Some iff Exists is true.
	if _, ok := r.ToRaw(h); ok {
		t.Fatalf("ToRaw() succeeded after Close()")
	}
	if r.Exists(h) {
		t.Fatalf("Exists() true after Close()")
	}
}

func TestRegistryCloseIdempotent(t *testing.T) {
	t.Parallel()

	r := handle.NewRegistry()
	h := r.Create(7, 1)

	if _, ok := r.Close(h); !ok {
		t.Fatalf("first Close() should succeed")
	}
	if _, ok := r.Close(h); ok {
		t.Fatalf("second Close() should report not-found")
	}
}

func TestRegistryGetOrCreateIdempotentForListeners(t *testing.T) {
	t.Parallel()

	r := handle.NewRegistry()
	h1 := r.GetOrCreate(3, 1)
	h2 := r.GetOrCreate(3, 2)

	if h1 != h2 {
		t.Fatalf("GetOrCreate not idempotent: %d != %d", h1, h2)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryUpdateActiveOnClosedHandleNoop(t *testing.T) {
	t.Parallel()

	r := handle.NewRegistry()
	h := r.Create(1, 1)
	r.Close(h)

	// Must not panic.
	r.UpdateActive(h, 2)

	if _, ok := r.ActivityOf(h); ok {
		t.Fatalf("ActivityOf() succeeded after Close()")
	}
}
