//go:build linux

package handler

import (
	"golang.org/x/sys/unix"

	"github.com/vanenet/portmapd/internal/conntable"
	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/rawsock"
)

// TCPHandler implements spec.md section 4.7. It is configured once at
// startup and never holds per-flow state of its own; all flow state
// lives in the conntable.TCPTable a Deps points at.
type TCPHandler struct {
	deps           *Deps
	remote         netaddr.Address
	bufBytes       int
	translation    TranslationMode
	bindIface      string
	maxConnections int
}

// NewTCPHandler constructs a TCPHandler for the given remote endpoint and
// forwarding configuration.
func NewTCPHandler(deps *Deps, remote netaddr.Address, bufBytes int, translation TranslationMode, bindIface string, maxConnections int) *TCPHandler {
	return &TCPHandler{
		deps:           deps,
		remote:         remote,
		bufBytes:       bufBytes,
		translation:    translation,
		bindIface:      bindIface,
		maxConnections: maxConnections,
	}
}

// Accept implements spec.md section 4.7's accept().
func (t *TCPHandler) Accept(listenerFD int) {
	inFD, peer, err := rawsock.Accept(listenerFD)
	if err != nil {
		if err == rawsock.ErrWouldBlock {
			return
		}
		t.deps.Logger().Warn("tcp accept failed", "error", err)
		return
	}

	if t.deps.TCP.Len() >= t.maxConnections {
		t.deps.Logger().Warn("tcp connection limit reached, dropping inbound", "limit", t.maxConnections)
		rawsock.Close(inFD)
		return
	}

	if err := rawsock.SetBuffers(inFD, t.bufBytes); err != nil {
		t.deps.Logger().Warn("set inbound buffers failed", "error", err)
	}
	if err := rawsock.SetNoDelay(inFD); err != nil {
		t.deps.Logger().Warn("set inbound TCP_NODELAY failed", "error", err)
	}

	target := translateTarget(t.remote, t.translation)
	domain := rawsock.WireDomain(target)

	outFD, err := rawsock.NewOutboundSocket(domain, unix.SOCK_STREAM)
	if err != nil {
		t.deps.Logger().Warn("create outbound socket failed", "error", err)
		rawsock.Close(inFD)
		return
	}
	if t.bindIface != "" {
		if err := rawsock.SetBindToDevice(outFD, t.bindIface); err != nil {
			t.deps.Logger().Warn("bind outbound to interface failed", "iface", t.bindIface, "error", err)
		}
	}
	if err := rawsock.SetBuffers(outFD, t.bufBytes); err != nil {
		t.deps.Logger().Warn("set outbound buffers failed", "error", err)
	}

	remoteConnecting, err := rawsock.Connect(outFD, target)
	if err != nil {
		t.deps.Logger().Warn("outbound connect failed", "remote", target, "error", err)
		rawsock.Close(inFD)
		rawsock.Close(outFD)
		return
	}

	now := t.deps.Now()
	localH := t.deps.Registry.Create(inFD, now)
	remoteH := t.deps.Registry.Create(outFD, now)

	if err := t.deps.register(inFD, localH, eventloop.Readable); err != nil {
		t.deps.Logger().Warn("register inbound failed", "error", err)
	}
	outMask := eventloop.Readable
	if remoteConnecting {
		outMask |= eventloop.Writable
	}
	if err := t.deps.register(outFD, remoteH, outMask); err != nil {
		t.deps.Logger().Warn("register outbound failed", "error", err)
	}

	clientAddr := netaddr.FromAddrPort(peer)
	t.deps.TCP.NewConnection(localH, remoteH, clientAddr.String(), now, t.bufBytes, remoteConnecting)
	t.deps.Logger().Info("tcp connection accepted", "client", clientAddr, "remote", target)
}

// checkConnectCompletion handles the connect-completion branch shared by
// readable() step 2 and writable() step 1. It returns true if conn was
// (or still is) in the connecting state, meaning the caller must not
// continue with normal read/write handling this round.
func (t *TCPHandler) checkConnectCompletion(conn *conntable.TCPConnection) (handled bool) {
	if !conn.RemoteConnecting {
		return false
	}

	raw, ok := t.deps.Registry.ToRaw(conn.Remote)
	if !ok {
		t.closeConnection(conn)
		return true
	}

	errno, err := rawsock.SOError(raw)
	if err != nil || errno != 0 {
		t.deps.Logger().Warn("outbound connect failed", "client", conn.ClientAddr, "errno", errno)
		t.closeConnection(conn)
		return true
	}

	t.deps.TCP.SetConnected(conn.Local)
	conn.RemoteConnecting = false
	t.deps.rearm(conn.Remote, eventloop.Readable)

	// Synthesize a local-side readable pass so payload the client already
	// sent while the connect was in flight gets forwarded promptly.
	t.Readable(conn.Local)
	return true
}

// Readable implements spec.md section 4.7's readable(handle).
func (t *TCPHandler) Readable(h handle.Handle) {
	conn, ok := t.deps.TCP.GetByAny(h)
	if !ok {
		return
	}

	isLocal := h == conn.Local
	if !isLocal && t.checkConnectCompletion(conn) {
		return
	}
	if isLocal && conn.RemoteConnecting {
		return
	}

	t.drain(conn, isLocal)
}

// Writable implements spec.md section 4.7's writable(handle).
func (t *TCPHandler) Writable(h handle.Handle) {
	conn, ok := t.deps.TCP.GetByAny(h)
	if !ok {
		return
	}

	if conn.RemoteConnecting {
		t.checkConnectCompletion(conn)
		return
	}

	isLocal := h == conn.Local
	t.flush(conn, isLocal)
}

// drain implements spec.md section 4.7 readable() step 4: repeatedly
// forward bytes from the reading side to its peer until no more progress
// is possible.
func (t *TCPHandler) drain(conn *conntable.TCPConnection, fromLocal bool) {
	fromRaw, ok := t.deps.Registry.ToRaw(sideHandle(conn, fromLocal))
	if !ok {
		return
	}
	toRaw, ok := t.deps.Registry.ToRaw(sideHandle(conn, !fromLocal))
	if !ok {
		return
	}
	buf := sideBuffer(conn, fromLocal)

	// Never read more than the flow buffer can hold, so a partial send
	// can always be buffered without overflowing it.
	tmp := make([]byte, min(64*1024, len(buf.Data)))
	for {
		if buf.Pending > 0 {
			n, err := rawsock.Send(toRaw, buf.Pend())
			if n > 0 {
				buf.Advance(n)
				t.accountTx(fromLocal, uint64(n))
			}
			if err != nil {
				if err == rawsock.ErrWouldBlock {
					break
				}
				t.closeConnection(conn)
				return
			}
			continue
		}

		n, err := rawsock.Recv(fromRaw, tmp)
		if err != nil {
			if err == rawsock.ErrWouldBlock {
				break
			}
			t.closeConnection(conn)
			return
		}
		if n == 0 {
			t.closeConnection(conn)
			return
		}
		t.accountRx(fromLocal, uint64(n))

		sent, sendErr := rawsock.Send(toRaw, tmp[:n])
		if sendErr != nil && sendErr != rawsock.ErrWouldBlock {
			t.closeConnection(conn)
			return
		}
		if sent > 0 {
			t.accountTx(fromLocal, uint64(sent))
		}
		if sent < n {
			buf.Fill(tmp[sent:n])
		}
	}

	if buf.Pending > 0 {
		t.deps.rearm(sideHandle(conn, !fromLocal), eventloop.Readable|eventloop.Writable)
	}
	t.deps.TCP.Touch(conn.Local, t.deps.Now())
}

// flush implements spec.md section 4.7 writable() step 2: drain the
// buffer destined for the now-writable side.
func (t *TCPHandler) flush(conn *conntable.TCPConnection, toLocal bool) {
	toRaw, ok := t.deps.Registry.ToRaw(sideHandle(conn, toLocal))
	if !ok {
		return
	}
	buf := sideBuffer(conn, !toLocal)

	for buf.Pending > 0 {
		n, err := rawsock.Send(toRaw, buf.Pend())
		if n > 0 {
			buf.Advance(n)
			t.accountTx(!toLocal, uint64(n))
		}
		if err != nil {
			if err == rawsock.ErrWouldBlock {
				break
			}
			t.closeConnection(conn)
			return
		}
	}

	if buf.Pending == 0 {
		t.deps.rearm(sideHandle(conn, toLocal), eventloop.Readable)
	} else {
		t.deps.rearm(sideHandle(conn, toLocal), eventloop.Readable|eventloop.Writable)
	}
	t.deps.TCP.Touch(conn.Local, t.deps.Now())
}

// closeConnection implements spec.md section 4.7's close_connection().
func (t *TCPHandler) closeConnection(conn *conntable.TCPConnection) {
	t.deps.deregister(conn.Local)
	t.deps.deregister(conn.Remote)
	t.deps.TCP.Remove(conn.Local)
	t.deps.Logger().Info("tcp connection closed", "client", conn.ClientAddr)
}

// accountRx/accountTx attribute forwarded bytes: bytes read from the
// local side and bytes written to the local side are both counted
// against the TCP counters (they are the only counters this forwarder
// tracks per protocol, not per direction of a single socket).
func (t *TCPHandler) accountRx(fromLocal bool, n uint64) {
	if t.deps.Stats == nil {
		return
	}
	if fromLocal {
		t.deps.Stats.AddTCPRx(n)
	} else {
		t.deps.Stats.AddTCPTx(n)
	}
}

func (t *TCPHandler) accountTx(fromLocal bool, n uint64) {
	if t.deps.Stats == nil {
		return
	}
	if fromLocal {
		t.deps.Stats.AddTCPTx(n)
	} else {
		t.deps.Stats.AddTCPRx(n)
	}
}

func sideHandle(conn *conntable.TCPConnection, local bool) handle.Handle {
	if local {
		return conn.Local
	}
	return conn.Remote
}

// sideBuffer returns the buffer holding bytes read from the given side
// and awaiting delivery to its peer.
func sideBuffer(conn *conntable.TCPConnection, fromLocal bool) *conntable.FlowBuffer {
	if fromLocal {
		return &conn.ToRemote
	}
	return &conn.ToLocal
}
