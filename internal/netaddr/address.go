// Package netaddr implements the tagged-union listen/remote/client address
// type used throughout the forwarder core, plus the IPv4<->IPv6 translation
// helpers required by the V4toV6 and V6toV4 forwarding modes.
//
// The type is a thin wrapper around netip.AddrPort: netip already encodes
// the IPv4/IPv6 distinction, the v6 zone (scope id), and byte-level
// equality/hashing, so there is no need to hand-roll the octet arrays
// spec.md describes in the abstract.
package netaddr

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Family identifies the address family of an Address.
type Family uint8

const (
	// FamilyV4 is IPv4.
	FamilyV4 Family = iota
	// FamilyV6 is IPv6.
	FamilyV6
)

// String implements fmt.Stringer.
func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// ErrInvalidAddress indicates a listen/remote address string could not be
// parsed in either "a.b.c.d:port" or "[v6]:port" form.
var ErrInvalidAddress = errors.New("invalid address")

// Address is the tagged union of spec.md section 3: an IPv4 or IPv6
// address, port, and (for IPv6) a scope/zone identifier.
type Address struct {
	ap netip.AddrPort
}

// FromAddrPort wraps an existing netip.AddrPort.
func FromAddrPort(ap netip.AddrPort) Address {
	return Address{ap: ap}
}

// AddrPort returns the underlying netip.AddrPort.
func (a Address) AddrPort() netip.AddrPort {
	return a.ap
}

// IsValid reports whether the address carries a valid IP and is not the
// zero value.
func (a Address) IsValid() bool {
	return a.ap.IsValid()
}

// Family reports whether the address is IPv4 or IPv6 (a v4-mapped v6
// address is reported as v4, matching netip.Addr.Is4In6/Unmap semantics).
func (a Address) Family() Family {
	if a.ap.Addr().Is4() || a.ap.Addr().Is4In6() {
		return FamilyV4
	}
	return FamilyV6
}

// Port returns the port component.
func (a Address) Port() uint16 {
	return a.ap.Port()
}

// Zone returns the IPv6 scope/zone identifier, or "" for IPv4 or an
// unzoned IPv6 address.
func (a Address) Zone() string {
	return a.ap.Addr().Zone()
}

// String formats the address back to "a.b.c.d:port" or "[v6]:port" form.
// Parse(a.String()) == a for every valid Address (spec.md section 8,
// round-trip law 8).
func (a Address) String() string {
	return a.ap.String()
}

// Equal reports whether two addresses refer to the same wire endpoint:
// same IP bytes (after un-mapping v4-in-v6), same port, and same zone.
// This matches spec.md section 3's equality requirement so that the same
// wire endpoint always maps to one UDP session.
func (a Address) Equal(b Address) bool {
	aa, ba := a.ap.Addr().Unmap(), b.ap.Addr().Unmap()
	return aa == ba && a.ap.Port() == b.ap.Port() && a.ap.Addr().Zone() == b.ap.Addr().Zone()
}

// Parse accepts "a.b.c.d:port", "[v6]:port", or "*:port" (the IPv4
// unspecified-address listen shorthand carried over from original_source's
// address parser; SPEC_FULL.md section C.5).
func Parse(s string) (Address, error) {
	if host, portStr, ok := strings.Cut(s, "*:"); ok && host == "" {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Address{}, fmt.Errorf("parse port in %q: %w: %w", s, ErrInvalidAddress, err)
		}
		return Address{ap: netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("split %q: %w: %w", s, ErrInvalidAddress, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("parse port in %q: %w: %w", s, ErrInvalidAddress, err)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, fmt.Errorf("parse host in %q: %w: %w", s, ErrInvalidAddress, err)
	}

	return Address{ap: netip.AddrPortFrom(addr, uint16(port))}, nil
}

// ToV4Mapped returns the v4-mapped v6 form ("::ffff:a.b.c.d") of a, used by
// the V4toV6 forwarding mode to compute the outbound connect address.
// Returns ok=false if a is not a valid IPv4 address.
func ToV4Mapped(a Address) (mapped Address, ok bool) {
	addr := a.ap.Addr()
	if !addr.Is4() {
		return Address{}, false
	}
	v4in6 := netip.AddrFrom16(addr.As16())
	return Address{ap: netip.AddrPortFrom(v4in6, a.ap.Port())}, true
}

// FromV4Mapped extracts the embedded IPv4 address from a v4-mapped IPv6
// address, used by the V6toV4 forwarding mode. Returns ok=false when a is
// not in v4-mapped form (round-trip law 9 in spec.md section 8).
func FromV4Mapped(a Address) (v4 Address, ok bool) {
	addr := a.ap.Addr()
	if !addr.Is4In6() {
		return Address{}, false
	}
	return Address{ap: netip.AddrPortFrom(addr.Unmap(), a.ap.Port())}, true
}

// WithPort returns a copy of a with the port replaced.
func (a Address) WithPort(port uint16) Address {
	return Address{ap: netip.AddrPortFrom(a.ap.Addr(), port)}
}
