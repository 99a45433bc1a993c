//go:build linux

// Package rawsock wraps the raw, non-blocking socket syscalls the
// forwarding core issues directly (spec.md section 6's listener and
// per-flow socket option tables): creation, binding, non-blocking
// accept/connect, and the buffer/TCP_NODELAY/SO_BINDTODEVICE/PMTUD-DO
// option sets.
//
// Grounded on the teacher's internal/netio/rawsock_linux.go, which
// configures sockets via golang.org/x/sys/unix.SetsockoptInt/String
// inside a syscall.RawConn.Control callback. This package issues the same
// calls but against sockets it creates itself with unix.Socket, since the
// forwarder (unlike the teacher's BFD listener) needs the raw descriptor
// for non-blocking accept/connect/recv/send under direct epoll control,
// not a net.Conn wrapper.
package rawsock

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/vanenet/portmapd/internal/netaddr"
)

// ErrWouldBlock is returned by non-blocking operations that have no data
// or completion available yet (EAGAIN/EWOULDBLOCK).
var ErrWouldBlock = unix.EAGAIN

// ErrInProgress indicates a non-blocking connect is still in flight.
var ErrInProgress = unix.EINPROGRESS

// sockaddrFor builds a unix.Sockaddr for a using the wire family of a's
// own address bytes: a v4-mapped v6 address (as produced by
// netaddr.ToV4Mapped for the V4toV6 forwarding mode) yields an
// AF_INET6 sockaddr even though netaddr.Address.Family reports it as v4
// for translation-logic purposes. Connect/Bind callers that need a
// specific wire family for a translated address pass an address already
// shaped that way by the caller (handler package), not by this function.
func sockaddrFor(a netaddr.Address) (unix.Sockaddr, error) {
	ap := a.AddrPort()
	addr := ap.Addr()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, nil
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}, nil
}

// domainFor returns AF_INET or AF_INET6 for the given address family.
func domainFor(fam netaddr.Family) int {
	if fam == netaddr.FamilyV6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// WireDomain returns the socket domain a connect/bind to addr actually
// requires, based on addr's literal byte representation rather than its
// logical netaddr.Family: a v4-mapped v6 address (netaddr.ToV4Mapped's
// output, used by the V4toV6 forwarding mode) requires AF_INET6, even
// though Address.Family classifies it as v4 for translation-mode logic
// (spec.md section 4.7: "Compute the connect family... V4toV6 uses v6").
func WireDomain(addr netaddr.Address) int {
	if addr.AddrPort().Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// Listener is a bound, listening, non-blocking socket descriptor.
type Listener struct {
	FD int
}

// NewTCPListener creates a TCP listener on addr with the socket options
// spec.md section 6 requires: SO_REUSEADDR, SO_REUSEPORT (Linux),
// SO_SNDBUF/SO_RCVBUF, non-blocking, backlog 512.
func NewTCPListener(addr netaddr.Address, bufBytes int) (*Listener, error) {
	fd, err := unix.Socket(domainFor(addr.Family()), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := prepareListenerSocket(fd, addr, bufBytes); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 512); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Listener{FD: fd}, nil
}

// NewUDPListener creates a UDP listener socket on addr with the same
// reuse/buffer options as the TCP listener (minus listen()).
func NewUDPListener(addr netaddr.Address, bufBytes int) (*Listener, error) {
	fd, err := unix.Socket(domainFor(addr.Family()), unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := prepareListenerSocket(fd, addr, bufBytes); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Listener{FD: fd}, nil
}

func prepareListenerSocket(fd int, addr netaddr.Address, bufBytes int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("set SO_REUSEPORT: %w", err)
	}
	if err := SetBuffers(fd, bufBytes); err != nil {
		return err
	}
	sa, err := sockaddrFor(addr)
	if err != nil {
		return fmt.Errorf("build sockaddr for %s: %w", addr, err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	return nil
}

// Accept performs a non-blocking accept4. It returns ErrWouldBlock when
// no connection is pending (spec.md section 4.7 accept step 1).
func Accept(listenerFD int) (fd int, peer netip.AddrPort, err error) {
	nfd, sa, err := unix.Accept4(listenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return nfd, addrPortFromSockaddr(sa), nil
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(s.Addr), uint16(s.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(s.Addr), uint16(s.Port))
	default:
		return netip.AddrPort{}
	}
}

// NewOutboundSocket creates a non-blocking outbound socket in the given
// domain (unix.AF_INET or unix.AF_INET6, see WireDomain) and protocol
// (unix.SOCK_STREAM or unix.SOCK_DGRAM).
func NewOutboundSocket(domain, sockType int) (int, error) {
	fd, err := unix.Socket(domain, sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("socket: %w", err)
	}
	return fd, nil
}

// Connect issues a non-blocking connect. A nil error with inProgress=true
// means the connect is underway (spec.md section 4.7 step 6, EINPROGRESS);
// a nil error with inProgress=false means it completed synchronously.
func Connect(fd int, addr netaddr.Address) (inProgress bool, err error) {
	sa, err := sockaddrFor(addr)
	if err != nil {
		return false, fmt.Errorf("build sockaddr for %s: %w", addr, err)
	}
	err = unix.Connect(fd, sa)
	if err == nil {
		return false, nil
	}
	if err == unix.EINPROGRESS {
		return true, nil
	}
	return false, err
}

// SOError reads and clears SO_ERROR, used to detect non-blocking connect
// completion (spec.md section 4.7 readable/writable step 2).
func SOError(fd int) (int, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, fmt.Errorf("get SO_ERROR: %w", err)
	}
	return errno, nil
}

// SetBuffers sets SO_SNDBUF and SO_RCVBUF.
func SetBuffers(fd, bytes int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes); err != nil {
		return fmt.Errorf("set SO_SNDBUF: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes); err != nil {
		return fmt.Errorf("set SO_RCVBUF: %w", err)
	}
	return nil
}

// SetNoDelay sets TCP_NODELAY (spec.md section 6, per-flow socket
// options).
func SetNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("set TCP_NODELAY: %w", err)
	}
	return nil
}

// SetBindToDevice binds the socket to a named interface (Linux only, per
// spec.md section 6).
func SetBindToDevice(fd int, iface string) error {
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface); err != nil {
		return fmt.Errorf("set SO_BINDTODEVICE(%s): %w", iface, err)
	}
	return nil
}

// SetPMTUDDo enables "always discover path MTU" (disables fragmentation)
// for the given family, best-effort on v6 (spec.md section 6/4.8).
func SetPMTUDDo(fd int, fam netaddr.Family) error {
	if fam == netaddr.FamilyV6 {
		// Best-effort: some kernels/paths don't support IPV6_MTU_DISCOVER
		// on a socket that hasn't connected yet; a failure here is not
		// fatal to the session.
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DO)
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); err != nil {
		return fmt.Errorf("set IP_MTU_DISCOVER: %w", err)
	}
	return nil
}

// Recv reads into buf. io.EOF-equivalent is signaled by n==0, err==nil.
func Recv(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// Send writes buf, returning the number of bytes actually written.
func Send(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// RecvFrom reads a single datagram, returning its source address.
func RecvFrom(fd int, buf []byte) (int, netip.AddrPort, error) {
	n, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addrPortFromSockaddr(sa), nil
}

// SendTo writes a single datagram to addr.
func SendTo(fd int, buf []byte, addr netaddr.Address) error {
	sa, err := sockaddrFor(addr)
	if err != nil {
		return fmt.Errorf("build sockaddr for %s: %w", addr, err)
	}
	return unix.Sendto(fd, buf, 0, sa)
}

// Close closes fd, ignoring EBADF (already closed).
func Close(fd int) error {
	if err := unix.Close(fd); err != nil && err != unix.EBADF {
		return fmt.Errorf("close fd %d: %w", fd, err)
	}
	return nil
}
