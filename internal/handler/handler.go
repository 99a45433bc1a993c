//go:build linux

// Package handler implements the TCP and UDP event callbacks of spec.md
// sections 4.7 and 4.8: accept, readable, writable, on_datagram, and
// on_response. Both handlers are stateless objects configured once at
// startup (remote endpoint, buffer size, translation mode,
// bind-interface) that the event loop in internal/loop dispatches
// into, mutating only the shared tables/registry/poller passed in via
// Deps.
//
// Grounded on the teacher's internal/bfd state-machine package
// (internal/bfd, deleted after this package absorbed its role): the same
// "stateless handler operating on a shared Manager" split the teacher
// uses for BFD session state transitions, applied here to TCP/UDP flow
// state transitions instead.
package handler

import (
	"fmt"
	"log/slog"

	"github.com/vanenet/portmapd/internal/conntable"
	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/rawsock"
	"github.com/vanenet/portmapd/internal/stats"
)

// TranslationMode mirrors config.TranslationMode without importing the
// config package (which would create an import cycle through main's
// wiring); cmd/portmapd converts config.TranslationMode to this type at
// startup.
type TranslationMode int

const (
	Normal TranslationMode = iota
	V4toV6
	V6toV4
)

// Deps bundles the shared, loop-owned state both handlers read and
// mutate. The event loop constructs one Deps and shares it between the
// TCP and UDP handlers; nothing outside the loop goroutine ever touches
// it (spec.md section 5's single-writer discipline).
type Deps struct {
	Registry *handle.Registry
	Poller   *eventloop.Poller
	Tokens   *eventloop.TokenMap
	TCP      *conntable.TCPTable
	UDP      *conntable.UDPTable
	Stats    *stats.Counters
	Log      *slog.Logger
	Now      func() int64
}

func (d *Deps) Logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// register assigns a token to h and adds its raw fd to the poller under
// the given interest mask, satisfying the registration contract of
// spec.md section 4.6.
func (d *Deps) register(raw int, h handle.Handle, mask eventloop.EventMask) error {
	token := d.Tokens.Assign(h)
	if err := d.Poller.Add(raw, token, mask); err != nil {
		return fmt.Errorf("poller add fd=%d handle=%d: %w", raw, h, err)
	}
	return nil
}

// rearm changes h's poller interest mask without touching the token map.
func (d *Deps) rearm(h handle.Handle, mask eventloop.EventMask) {
	raw, ok := d.Registry.ToRaw(h)
	if !ok {
		return
	}
	token, ok := d.Tokens.TokenFor(h)
	if !ok {
		return
	}
	_ = d.Poller.Modify(raw, token, mask)
}

// deregister removes h from the poller and token map and closes its
// underlying OS descriptor. Poller deregistration always precedes the
// close() syscall (spec.md section 5, resource discipline).
func (d *Deps) deregister(h handle.Handle) {
	raw, ok := d.Registry.ToRaw(h)
	if !ok {
		return
	}
	_ = d.Poller.Remove(raw)
	d.Tokens.Remove(h)
	d.Registry.Close(h)
	_ = rawsock.Close(raw)
}

// translateTarget computes the connect family and address of spec.md
// section 4.7 step 4: Normal forwards the remote as-is; V4toV6 maps it to
// a v4-mapped v6 address; V6toV4 extracts an embedded v4. If the mapping
// is not possible, the original remote is used unchanged.
func translateTarget(remote netaddr.Address, mode TranslationMode) netaddr.Address {
	switch mode {
	case V4toV6:
		if mapped, ok := netaddr.ToV4Mapped(remote); ok {
			return mapped
		}
	case V6toV4:
		if v4, ok := netaddr.FromV4Mapped(remote); ok {
			return v4
		}
	}
	return remote
}
