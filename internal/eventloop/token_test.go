package eventloop_test

import (
	"testing"

	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
)

func TestTokenMapAssignIsIdempotentPerHandle(t *testing.T) {
	t.Parallel()

	m := eventloop.NewTokenMap()
	h := handle.Handle(7)

	t1 := m.Assign(h)
	t2 := m.Assign(h)
	if t1 != t2 {
		t.Fatalf("Assign not idempotent: %d != %d", t1, t2)
	}
}

func TestTokenMapResolvesBothDirections(t *testing.T) {
	t.Parallel()

	m := eventloop.NewTokenMap()
	h := handle.Handle(42)
	tok := m.Assign(h)

	gotH, ok := m.Handle(tok)
	if !ok || gotH != h {
		t.Fatalf("Handle(%d) = (%d, %v), want (%d, true)", tok, gotH, ok, h)
	}

	gotTok, ok := m.TokenFor(h)
	if !ok || gotTok != tok {
		t.Fatalf("TokenFor(%d) = (%d, %v), want (%d, true)", h, gotTok, ok, tok)
	}
}

func TestTokenMapRemoveClearsBothDirections(t *testing.T) {
	t.Parallel()

	m := eventloop.NewTokenMap()
	h := handle.Handle(1)
	tok := m.Assign(h)

	m.Remove(h)

	if _, ok := m.Handle(tok); ok {
		t.Fatalf("Handle() succeeded after Remove")
	}
	if _, ok := m.TokenFor(h); ok {
		t.Fatalf("TokenFor() succeeded after Remove")
	}
}

func TestTokenMapAssignsDistinctTokensForDistinctHandles(t *testing.T) {
	t.Parallel()

	m := eventloop.NewTokenMap()
	t1 := m.Assign(handle.Handle(1))
	t2 := m.Assign(handle.Handle(2))

	if t1 == t2 {
		t.Fatalf("distinct handles received the same token: %d", t1)
	}
}
