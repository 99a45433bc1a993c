// Package selftest implements the fixed, fast in-process suite that
// --run-test executes: address parse/format and v4-mapped encode/decode
// round-trips, plus the registry/table invariants, all without opening a
// real socket. It is the Go equivalent of original_source's run_test
// branch, expressed as ordinary Go functions invoked from main rather
// than by shelling out to `go test`.
//
// Grounded on the teacher's internal/bfd state-machine tests for the
// shape of "build a tiny fixture, assert an invariant, report" checks,
// collapsed here into a PASS/FAIL reporter instead of *testing.T since
// this runs inside the compiled binary, not under `go test`.
package selftest

import (
	"fmt"
	"log/slog"

	"github.com/vanenet/portmapd/internal/conntable"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/lru"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/stats"
)

// Check is a single named assertion.
type Check struct {
	Name string
	Err  error
}

// Report collects the outcome of every check the suite ran.
type Report struct {
	Checks []Check
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if c.Err != nil {
			return false
		}
	}
	return true
}

// Run executes the full suite, logging PASS/FAIL per check, and returns
// the report.
func Run(logger *slog.Logger) Report {
	var r Report
	for _, c := range []struct {
		name string
		fn   func() error
	}{
		{"address round-trip", checkAddressRoundTrip},
		{"v4-mapped encode/decode", checkV4Mapped},
		{"descriptor registry invariants", checkRegistry},
		{"lru eviction order", checkLRU},
		{"tcp connection table", checkTCPTable},
		{"udp session table", checkUDPTable},
	} {
		err := c.fn()
		r.Checks = append(r.Checks, Check{Name: c.name, Err: err})
		if err != nil {
			logger.Error("FAIL", "check", c.name, "error", err)
		} else {
			logger.Info("PASS", "check", c.name)
		}
	}
	return r
}

func checkAddressRoundTrip() error {
	for _, s := range []string{"127.0.0.1:8080", "[::1]:8080", "[2001:db8::1]:443"} {
		addr, err := netaddr.Parse(s)
		if err != nil {
			return fmt.Errorf("parse %q: %w", s, err)
		}
		if addr.String() == "" {
			return fmt.Errorf("parse %q: empty String()", s)
		}
		if _, err := netaddr.Parse(addr.String()); err != nil {
			return fmt.Errorf("round-trip %q via %q: %w", s, addr.String(), err)
		}
	}
	return nil
}

func checkV4Mapped() error {
	v4, err := netaddr.Parse("192.0.2.1:9000")
	if err != nil {
		return err
	}
	mapped, ok := netaddr.ToV4Mapped(v4)
	if !ok {
		return fmt.Errorf("ToV4Mapped(%v) failed", v4)
	}
	if mapped.Family() != netaddr.FamilyV4 {
		return fmt.Errorf("ToV4Mapped(%v).Family() = %v, want logical v4 family", v4, mapped.Family())
	}
	back, ok := netaddr.FromV4Mapped(mapped)
	if !ok {
		return fmt.Errorf("FromV4Mapped(%v) failed", mapped)
	}
	if back.AddrPort().Addr() != v4.AddrPort().Addr() {
		return fmt.Errorf("FromV4Mapped round-trip = %v, want %v", back, v4)
	}
	return nil
}

func checkRegistry() error {
	reg := handle.NewRegistry()
	h := reg.Create(42, 1000)
	if raw, ok := reg.ToRaw(h); !ok || raw != 42 {
		return fmt.Errorf("ToRaw after Create = (%d, %v), want (42, true)", raw, ok)
	}
	if !reg.Exists(h) {
		return fmt.Errorf("Exists() = false immediately after Create")
	}
	h2 := reg.Create(43, 1000)
	if h2 == h {
		return fmt.Errorf("Create returned a reused handle %d", h)
	}
	if raw, ok := reg.Close(h); !ok || raw != 42 {
		return fmt.Errorf("Close(h) = (%d, %v), want (42, true)", raw, ok)
	}
	if reg.Exists(h) {
		return fmt.Errorf("Exists() = true after Close")
	}
	if _, ok := reg.Close(h); ok {
		return fmt.Errorf("second Close(h) succeeded, want idempotent false")
	}
	return nil
}

func checkLRU() error {
	idx := lru.New[string, int]()
	idx.Insert("a", 1, 10)
	idx.Insert("b", 2, 20)
	idx.Insert("c", 3, 30)

	key, _, ok := idx.PeekOldest()
	if !ok || key != "a" {
		return fmt.Errorf("PeekOldest() = (%q, %v), want (\"a\", true)", key, ok)
	}

	idx.Update("a", 40)
	key, _, ok = idx.PeekOldest()
	if !ok || key != "b" {
		return fmt.Errorf("PeekOldest() after Update(a) = (%q, %v), want (\"b\", true)", key, ok)
	}

	evicted := idx.EvictOlderThan(100, 90, 10)
	if len(evicted) != 0 {
		return fmt.Errorf("EvictOlderThan with nothing past timeout evicted %d entries", len(evicted))
	}
	evicted = idx.EvictOlderThan(100, 5, 10)
	if len(evicted) != 3 {
		return fmt.Errorf("EvictOlderThan evicted %d entries, want 3", len(evicted))
	}
	return nil
}

func checkTCPTable() error {
	table := conntable.NewTCPTable(conntable.EvictionPolicy{Disabled: true}, stats.New(nil))
	localH := handle.Handle(1)
	remoteH := handle.Handle(2)
	conn := table.NewConnection(localH, remoteH, "203.0.113.1:1234", 1000, 4096, false)
	if conn.Local != localH || conn.Remote != remoteH {
		return fmt.Errorf("NewConnection record mismatch: local=%d remote=%d", conn.Local, conn.Remote)
	}
	if got, ok := table.GetByAny(remoteH); !ok || got.Local != localH {
		return fmt.Errorf("GetByAny(remoteH) = (%v, %v), want the connection by local=%d", got, ok, localH)
	}
	if table.Len() != 1 {
		return fmt.Errorf("Len() = %d, want 1", table.Len())
	}
	if _, ok := table.Remove(localH); !ok {
		return fmt.Errorf("Remove(localH) = false, want true")
	}
	if table.Len() != 0 {
		return fmt.Errorf("Len() after Remove = %d, want 0", table.Len())
	}
	return nil
}

func checkUDPTable() error {
	table := conntable.NewUDPTable(conntable.EvictionPolicy{Disabled: true}, stats.New(nil))
	client, err := netaddr.Parse("198.51.100.1:5000")
	if err != nil {
		return err
	}
	remoteH := handle.Handle(7)
	listenerH := handle.Handle(8)
	sess := table.NewSession(client, remoteH, listenerH, 1000)
	if sess.Remote != remoteH || sess.Listener != listenerH {
		return fmt.Errorf("NewSession record mismatch: remote=%d listener=%d", sess.Remote, sess.Listener)
	}
	if got, ok := table.GetByRemote(remoteH); !ok || !got.ClientAddr.Equal(client) {
		return fmt.Errorf("GetByRemote(remoteH) = (%v, %v), want session for %v", got, ok, client)
	}
	if _, ok := table.Remove(client); !ok {
		return fmt.Errorf("Remove(client) = false, want true")
	}
	if table.Len() != 0 {
		return fmt.Errorf("Len() after Remove = %d, want 0", table.Len())
	}
	return nil
}
