//go:build linux

package eventloop_test

import (
	"os"
	"testing"

	"github.com/vanenet/portmapd/internal/eventloop"
)

func TestPollerReportsReadableOnPipeWrite(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := eventloop.NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	const token = eventloop.Token(1)
	if err := p.Add(int(r.Fd()), token, eventloop.Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	events, err := p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].Token != token || !events[0].Readable {
		t.Fatalf("Wait() = %+v, want one readable event for token %d", events, token)
	}

	if err := p.Remove(int(r.Fd())); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestPollerWaitTimesOutWithNoEvents(t *testing.T) {
	t.Parallel()

	p, err := eventloop.NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if err := p.Add(int(r.Fd()), eventloop.Token(2), eventloop.Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	events, err := p.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Wait() = %+v, want no events", events)
	}
}
