//go:build linux

// Package loop implements the main event loop of spec.md section 4.6: it
// owns the listener registrations and drives the poller/timer/eviction
// tick that dispatches into the TCP and UDP handlers. It is a separate
// package from internal/eventloop and internal/handler because it depends
// on both (handler already depends on eventloop, so the driver cannot live
// in either without a cycle).
//
// Grounded on the teacher's cmd/gobfd/main.go run loop, which polls a
// context's Done channel alongside a ticker inside one goroutine; the
// shape here is the same "poll, dispatch, periodic maintenance, check
// shutdown flag" cycle, adapted from context cancellation to the
// signalwatch.Watcher flag spec.md section 5 requires for a cooperative,
// non-context-aware core.
package loop

import (
	"fmt"
	"time"

	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/handler"
	"github.com/vanenet/portmapd/internal/rawsock"
)

// Runner reports whether the loop should keep iterating. Satisfied by
// *signalwatch.Watcher.
type Runner interface {
	Running() bool
}

// Config bundles everything the loop needs to start: the shared handler
// dependencies, the stateless TCP/UDP handlers, the optional listeners
// (nil when a protocol is disabled), the shutdown flag, and the eviction
// tick interval (spec.md section 4.6's timer_interval, default 400ms).
type Config struct {
	Deps          *handler.Deps
	TCP           *handler.TCPHandler
	UDP           *handler.UDPHandler
	TCPListener   *rawsock.Listener
	UDPListener   *rawsock.Listener
	Running       Runner
	ClearInterval time.Duration
}

// Loop is the single-threaded forwarding core.
type Loop struct {
	deps *handler.Deps
	tcp  *handler.TCPHandler
	udp  *handler.UDPHandler

	tcpListener *rawsock.Listener
	udpListener *rawsock.Listener
	tcpListenerH handle.Handle
	udpListenerH handle.Handle
	tcpToken     eventloop.Token
	udpToken     eventloop.Token

	timer         *eventloop.Timer
	clearInterval time.Duration
	lastClear     time.Time

	running Runner
}

// New constructs a Loop, registering whichever listeners are configured
// with the poller and scheduling the mandatory 10s stats dump (spec.md
// section 4.9).
func New(cfg Config) (*Loop, error) {
	if cfg.TCPListener == nil && cfg.UDPListener == nil {
		return nil, fmt.Errorf("loop: at least one of TCPListener/UDPListener must be configured")
	}
	clearInterval := cfg.ClearInterval
	if clearInterval <= 0 {
		clearInterval = 400 * time.Millisecond
	}

	l := &Loop{
		deps:          cfg.Deps,
		tcp:           cfg.TCP,
		udp:           cfg.UDP,
		tcpListener:   cfg.TCPListener,
		udpListener:   cfg.UDPListener,
		timer:         eventloop.NewTimer(),
		clearInterval: clearInterval,
		running:       cfg.Running,
		lastClear:     time.Now(),
	}

	now := cfg.Deps.Now()
	if cfg.TCPListener != nil {
		l.tcpListenerH = cfg.Deps.Registry.Create(cfg.TCPListener.FD, now)
		l.tcpToken = cfg.Deps.Tokens.Assign(l.tcpListenerH)
		if err := cfg.Deps.Poller.Add(cfg.TCPListener.FD, l.tcpToken, eventloop.Readable); err != nil {
			return nil, fmt.Errorf("register tcp listener: %w", err)
		}
	}
	if cfg.UDPListener != nil {
		l.udpListenerH = cfg.Deps.Registry.Create(cfg.UDPListener.FD, now)
		l.udpToken = cfg.Deps.Tokens.Assign(l.udpListenerH)
		if err := cfg.Deps.Poller.Add(cfg.UDPListener.FD, l.udpToken, eventloop.Readable); err != nil {
			return nil, fmt.Errorf("register udp listener: %w", err)
		}
	}

	l.timer.Register(now, 10, func(now int64) {
		if l.deps.Stats == nil {
			return
		}
		l.deps.Logger().Info(l.deps.Stats.Snapshot().Line())
	})

	return l, nil
}

// Run executes the main tick of spec.md section 4.6 until the Runner
// reports the loop should stop, then tears down every known descriptor.
func (l *Loop) Run() error {
	for l.running.Running() {
		now := l.deps.Now()
		l.timer.RunDue(now)

		events, err := l.deps.Poller.Wait(1000)
		if err != nil {
			return fmt.Errorf("poller wait: %w", err)
		}

		for _, ev := range events {
			l.dispatch(ev)
		}

		if time.Since(l.lastClear) >= l.clearInterval {
			l.lastClear = time.Now()
			l.sweep(now)
		}
	}

	l.shutdown()
	return nil
}

func (l *Loop) dispatch(ev eventloop.Event) {
	if l.tcpListener != nil && ev.Token == l.tcpToken {
		if ev.Readable {
			l.tcp.Accept(l.tcpListener.FD)
		}
		return
	}
	if l.udpListener != nil && ev.Token == l.udpToken {
		if ev.Readable {
			l.udp.OnDatagram(l.udpListener.FD)
		}
		return
	}

	h, ok := l.deps.Tokens.Handle(ev.Token)
	if !ok || !l.deps.Registry.Exists(h) {
		return
	}

	if sess, ok := l.deps.UDP.GetByRemote(h); ok {
		if ev.Readable {
			raw, ok := l.deps.Registry.ToRaw(sess.Remote)
			if ok {
				l.udp.OnResponse(raw, sess.Remote)
			}
		}
		return
	}

	if ev.Readable {
		l.tcp.Readable(h)
	}
	if ev.Writable {
		l.tcp.Writable(h)
	}
}

// sweep runs the bounded eviction tick of spec.md section 4.5 over both
// tables and tears down whatever it evicts.
func (l *Loop) sweep(now int64) {
	for _, conn := range l.deps.TCP.ClearInactive(now) {
		l.deps.Logger().Info("inactive connection cleared", "client", conn.ClientAddr)
		l.closeHandle(conn.Local)
		l.closeHandle(conn.Remote)
	}
	for _, remoteH := range l.deps.UDP.ClearInactive(now) {
		l.deps.Logger().Info("inactive udp session cleared")
		l.closeHandle(remoteH)
	}
}

func (l *Loop) closeHandle(h handle.Handle) {
	raw, ok := l.deps.Registry.ToRaw(h)
	if !ok {
		return
	}
	_ = l.deps.Poller.Remove(raw)
	l.deps.Tokens.Remove(h)
	l.deps.Registry.Close(h)
	_ = rawsock.Close(raw)
}

// shutdown closes every known descriptor and deregisters the listeners
// (spec.md section 4.6: "On shutdown: close every known descriptor,
// deregister listeners").
func (l *Loop) shutdown() {
	for _, h := range l.deps.Registry.Handles() {
		l.closeHandle(h)
	}
}
