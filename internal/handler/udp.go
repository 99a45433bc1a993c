//go:build linux

package handler

import (
	"golang.org/x/sys/unix"

	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/rawsock"
)

// maxDatagramSize is the largest UDP payload the forwarder will relay;
// anything larger is dropped (spec.md section 4.8).
const maxDatagramSize = 65534

// UDPHandler implements spec.md section 4.8. Like TCPHandler it holds no
// per-flow state; everything lives in the Deps' UDPTable.
type UDPHandler struct {
	deps           *Deps
	remote         netaddr.Address
	bufBytes       int
	translation    TranslationMode
	bindIface      string
	fragment       bool
	maxConnections int
}

// NewUDPHandler constructs a UDPHandler for the given remote endpoint and
// forwarding configuration. fragment, when true, applies PMTUD-DO to
// every outbound session socket (the -d fragment-mode flag).
func NewUDPHandler(deps *Deps, remote netaddr.Address, bufBytes int, translation TranslationMode, bindIface string, fragment bool, maxConnections int) *UDPHandler {
	return &UDPHandler{
		deps:           deps,
		remote:         remote,
		bufBytes:       bufBytes,
		translation:    translation,
		bindIface:      bindIface,
		fragment:       fragment,
		maxConnections: maxConnections,
	}
}

// OnDatagram implements spec.md section 4.8's on_datagram(): a datagram
// arrived on the listening socket from a client address. It finds or
// creates that client's session and forwards the payload to the remote
// endpoint.
func (u *UDPHandler) OnDatagram(listenerFD int) {
	buf := make([]byte, 65535+1)
	n, peer, err := rawsock.RecvFrom(listenerFD, buf)
	if err != nil {
		if err == rawsock.ErrWouldBlock {
			return
		}
		u.deps.Logger().Warn("udp recvfrom failed", "error", err)
		return
	}
	if n > maxDatagramSize {
		u.deps.Logger().Warn("udp datagram too large, dropped", "size", n)
		return
	}
	payload := buf[:n]

	clientAddr := netaddr.FromAddrPort(peer)
	now := u.deps.Now()

	sess, ok := u.deps.UDP.GetByClient(clientAddr)
	if !ok {
		if u.deps.UDP.Len() >= u.maxConnections {
			u.deps.Logger().Warn("udp session limit reached, dropping datagram", "limit", u.maxConnections)
			return
		}

		listenerH := u.deps.Registry.GetOrCreate(listenerFD, now)

		target := translateTarget(u.remote, u.translation)
		domain := rawsock.WireDomain(target)

		outFD, err := rawsock.NewOutboundSocket(domain, unix.SOCK_DGRAM)
		if err != nil {
			u.deps.Logger().Warn("create outbound udp socket failed", "error", err)
			return
		}
		if u.bindIface != "" {
			if err := rawsock.SetBindToDevice(outFD, u.bindIface); err != nil {
				u.deps.Logger().Warn("bind outbound udp to interface failed", "iface", u.bindIface, "error", err)
			}
		}
		if err := rawsock.SetBuffers(outFD, u.bufBytes); err != nil {
			u.deps.Logger().Warn("set outbound udp buffers failed", "error", err)
		}
		if u.fragment {
			_ = rawsock.SetPMTUDDo(outFD, target.Family())
		}
		if _, err := rawsock.Connect(outFD, target); err != nil {
			u.deps.Logger().Warn("connect outbound udp socket failed", "remote", target, "error", err)
			rawsock.Close(outFD)
			return
		}

		remoteH := u.deps.Registry.Create(outFD, now)
		if err := u.deps.register(outFD, remoteH, eventloop.Readable); err != nil {
			u.deps.Logger().Warn("register outbound udp failed", "error", err)
		}

		sess = u.deps.UDP.NewSession(clientAddr, remoteH, listenerH, now)
		u.deps.Logger().Info("udp session created", "client", clientAddr, "remote", target)
	}

	remoteRaw, ok := u.deps.Registry.ToRaw(sess.Remote)
	if !ok {
		u.deps.UDP.Remove(sess.ClientAddr)
		return
	}
	if _, err := rawsock.Send(remoteRaw, payload); err != nil && err != rawsock.ErrWouldBlock {
		u.deps.Logger().Warn("send to remote udp failed", "error", err)
		return
	}

	u.deps.UDP.Touch(sess.ClientAddr, now)
	if u.deps.Stats != nil {
		u.deps.Stats.AddUDPRx(uint64(n))
		u.deps.Stats.AddUDPTx(uint64(n))
	}
}

// OnResponse implements spec.md section 4.8's on_response(): a datagram
// arrived on a session's outbound socket and must be relayed back to the
// originating client address through the shared listener socket.
func (u *UDPHandler) OnResponse(remoteFD int, remoteH handle.Handle) {
	sess, ok := u.deps.UDP.GetByRemote(remoteH)
	if !ok {
		return
	}

	buf := make([]byte, 65535+1)
	n, _, err := rawsock.RecvFrom(remoteFD, buf)
	if err != nil {
		if err == rawsock.ErrWouldBlock {
			return
		}
		u.deps.Logger().Warn("udp recvfrom (response) failed", "error", err)
		return
	}
	if n > maxDatagramSize {
		u.deps.Logger().Warn("udp response too large, dropped", "size", n)
		return
	}

	listenerRaw, ok := u.deps.Registry.ToRaw(sess.Listener)
	if !ok {
		return
	}
	if err := rawsock.SendTo(listenerRaw, buf[:n], sess.ClientAddr); err != nil {
		u.deps.Logger().Warn("sendto client failed", "client", sess.ClientAddr, "error", err)
		return
	}

	now := u.deps.Now()
	u.deps.UDP.Touch(sess.ClientAddr, now)
	if u.deps.Stats != nil {
		u.deps.Stats.AddUDPRx(uint64(n))
		u.deps.Stats.AddUDPTx(uint64(n))
	}
}

// CloseSession tears down a session's outbound socket and poller
// registration; called by the eviction sweep in the event loop.
func (u *UDPHandler) CloseSession(remoteH handle.Handle) {
	u.deps.deregister(remoteH)
}
