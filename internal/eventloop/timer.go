// Timer implements the min-ordered due-instant queue of spec.md section
// 4.9: callbacks fire once their due instant has passed, driven entirely
// by the single-threaded loop's own notion of "now" rather than by
// per-callback goroutines or time.Timer/time.Ticker, since nothing in
// this design may block or run concurrently with the loop.
//
// Standard library only (container/heap): none of the pack's examples
// carry a scheduling library that fits a cooperative, poll-driven timer
// wheel: go-systemd's timer units and gRPC's internal backoff timers both
// assume a goroutine-per-timer model this single-threaded loop rejects by
// design.
package eventloop

import "container/heap"

// TimerFunc is a periodic callback. It receives the current tick instant
// (epoch seconds).
type TimerFunc func(now int64)

type timerEntry struct {
	due      int64
	interval int64
	fn       TimerFunc
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].due < h[j].due }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// Timer is the min-ordered {due_instant -> callback} queue.
type Timer struct {
	entries timerHeap
}

// NewTimer constructs an empty timer queue.
func NewTimer() *Timer {
	t := &Timer{}
	heap.Init(&t.entries)
	return t
}

// Register schedules fn to run every interval seconds, first firing at
// now+interval.
func (t *Timer) Register(now, interval int64, fn TimerFunc) {
	heap.Push(&t.entries, &timerEntry{due: now + interval, interval: interval, fn: fn})
}

// RunDue pops and executes every entry whose due instant has passed,
// reinserting each at now+interval (spec.md section 4.9).
func (t *Timer) RunDue(now int64) {
	for t.entries.Len() > 0 && t.entries[0].due <= now {
		entry := heap.Pop(&t.entries).(*timerEntry)
		entry.fn(now)
		entry.due = now + entry.interval
		heap.Push(&t.entries, entry)
	}
}
