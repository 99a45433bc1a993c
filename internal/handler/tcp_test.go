//go:build linux

package handler_test

import (
	"log/slog"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vanenet/portmapd/internal/conntable"
	"github.com/vanenet/portmapd/internal/eventloop"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/handler"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/rawsock"
	"github.com/vanenet/portmapd/internal/stats"
)

func newTestDeps(t *testing.T) (*handler.Deps, *eventloop.Poller) {
	t.Helper()
	poller, err := eventloop.NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	t.Cleanup(func() { poller.Close() })

	now := time.Now().Unix()
	return &handler.Deps{
		Registry: handle.NewRegistry(),
		Poller:   poller,
		Tokens:   eventloop.NewTokenMap(),
		TCP:      conntable.NewTCPTable(conntable.EvictionPolicy{Disabled: true}, stats.New(nil)),
		UDP:      conntable.NewUDPTable(conntable.EvictionPolicy{Disabled: true}, stats.New(nil)),
		Stats:    stats.New(nil),
		Log:      slog.Default(),
		Now:      func() int64 { return now },
	}, poller
}

func listenerPort(t *testing.T, fd int) string {
	t.Helper()
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	return strconv.Itoa(sa.(*unix.SockaddrInet4).Port)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

// TestTCPHandlerAcceptForwardsTraffic exercises the full accept -> forward
// -> close cycle against two real loopback listeners: one the handler
// accepts inbound connections on, one standing in for the remote service it
// forwards to.
func TestTCPHandlerAcceptForwardsTraffic(t *testing.T) {
	t.Parallel()

	deps, _ := newTestDeps(t)

	remoteListenAddr, _ := netaddr.Parse("127.0.0.1:0")
	remoteListener, err := rawsock.NewTCPListener(remoteListenAddr, 64*1024)
	if err != nil {
		t.Fatalf("NewTCPListener(remote): %v", err)
	}
	defer rawsock.Close(remoteListener.FD)
	remoteAddr, _ := netaddr.Parse("127.0.0.1:" + listenerPort(t, remoteListener.FD))

	frontListenAddr, _ := netaddr.Parse("127.0.0.1:0")
	frontListener, err := rawsock.NewTCPListener(frontListenAddr, 64*1024)
	if err != nil {
		t.Fatalf("NewTCPListener(front): %v", err)
	}
	defer rawsock.Close(frontListener.FD)
	frontAddr, _ := netaddr.Parse("127.0.0.1:" + listenerPort(t, frontListener.FD))

	th := handler.NewTCPHandler(deps, remoteAddr, 64*1024, handler.Normal, "", 1024)

	clientDomain := rawsock.WireDomain(frontAddr)
	clientFD, err := rawsock.NewOutboundSocket(clientDomain, unix.SOCK_STREAM)
	if err != nil {
		t.Fatalf("NewOutboundSocket(client): %v", err)
	}
	defer rawsock.Close(clientFD)
	if _, err := rawsock.Connect(clientFD, frontAddr); err != nil {
		t.Fatalf("client Connect: %v", err)
	}

	waitFor(t, func() bool {
		th.Accept(frontListener.FD)
		return deps.TCP.Len() == 1
	})

	var serverSideFD int
	waitFor(t, func() bool {
		fd, _, acceptErr := rawsock.Accept(remoteListener.FD)
		if acceptErr == nil {
			serverSideFD = fd
			return true
		}
		return false
	})
	defer rawsock.Close(serverSideFD)

	msg := []byte("hello from client")
	if _, err := rawsock.Send(clientFD, msg); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	// The handler's registry is fresh for this test, so the accepted
	// connection's local/remote handles are the first two it allocates.
	localH := handle.Handle(1)
	remoteH := handle.Handle(2)
	var conn *conntable.TCPConnection
	waitFor(t, func() bool {
		var ok bool
		conn, ok = deps.TCP.GetByAny(localH)
		return ok && conn.Remote == remoteH
	})

	waitFor(t, func() bool {
		th.Readable(conn.Local)
		buf := make([]byte, 64)
		n, rerr := rawsock.Recv(serverSideFD, buf)
		if rerr == nil && n > 0 {
			if string(buf[:n]) != string(msg) {
				t.Fatalf("server received %q, want %q", buf[:n], msg)
			}
			return true
		}
		return false
	})

	reply := []byte("hello from server")
	if _, err := rawsock.Send(serverSideFD, reply); err != nil {
		t.Fatalf("server Send: %v", err)
	}

	waitFor(t, func() bool {
		th.Readable(conn.Remote)
		buf := make([]byte, 64)
		n, rerr := rawsock.Recv(clientFD, buf)
		if rerr == nil && n > 0 {
			if string(buf[:n]) != string(reply) {
				t.Fatalf("client received %q, want %q", buf[:n], reply)
			}
			return true
		}
		return false
	})

	rawsock.Close(clientFD)
	waitFor(t, func() bool {
		th.Readable(conn.Local)
		_, ok := deps.TCP.GetByAny(conn.Local)
		return !ok
	})
}

