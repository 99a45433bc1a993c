package eventloop_test

import (
	"testing"

	"github.com/vanenet/portmapd/internal/eventloop"
)

func TestTimerFiresOnceDuePassed(t *testing.T) {
	t.Parallel()

	tm := eventloop.NewTimer()
	var fired []int64
	tm.Register(0, 10, func(now int64) { fired = append(fired, now) })

	tm.RunDue(5) // not due yet
	if len(fired) != 0 {
		t.Fatalf("fired before due: %v", fired)
	}

	tm.RunDue(10)
	if len(fired) != 1 || fired[0] != 10 {
		t.Fatalf("fired = %v, want [10]", fired)
	}

	tm.RunDue(19)
	if len(fired) != 1 {
		t.Fatalf("fired early reinsertion: %v", fired)
	}

	tm.RunDue(20)
	if len(fired) != 2 || fired[1] != 20 {
		t.Fatalf("fired = %v, want [10 20]", fired)
	}
}

func TestTimerRunsEarliestDueFirst(t *testing.T) {
	t.Parallel()

	tm := eventloop.NewTimer()
	var order []string
	tm.Register(0, 100, func(int64) { order = append(order, "slow") })
	tm.Register(0, 6, func(int64) { order = append(order, "fast") })

	tm.RunDue(6)
	if len(order) != 1 || order[0] != "fast" {
		t.Fatalf("order = %v, want [fast]", order)
	}

	tm.RunDue(100)
	if len(order) < 2 || order[len(order)-1] != "slow" {
		t.Fatalf("order = %v, want slow to fire last once due=100 is reached", order)
	}
}
