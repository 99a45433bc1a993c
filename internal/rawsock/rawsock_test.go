//go:build linux

package rawsock_test

import (
	"net/netip"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/rawsock"
)

func TestTCPListenerAcceptRoundTrip(t *testing.T) {
	t.Parallel()

	listenAddr, err := netaddr.Parse("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	l, err := rawsock.NewTCPListener(listenAddr, 64*1024)
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	defer rawsock.Close(l.FD)

	sa, err := unix.Getsockname(l.FD)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port
	dial, _ := netaddr.Parse("127.0.0.1:" + strconv.Itoa(port))

	domain := rawsock.WireDomain(dial)
	cfd, err := rawsock.NewOutboundSocket(domain, unix.SOCK_STREAM)
	if err != nil {
		t.Fatalf("NewOutboundSocket: %v", err)
	}
	defer rawsock.Close(cfd)

	if _, err := rawsock.Connect(cfd, dial); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var afd int
	var acceptErr error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		afd, _, acceptErr = rawsock.Accept(l.FD)
		if acceptErr == nil {
			break
		}
		if acceptErr == rawsock.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		t.Fatalf("Accept: %v", acceptErr)
	}
	if acceptErr != nil {
		t.Fatalf("Accept timed out: %v", acceptErr)
	}
	defer rawsock.Close(afd)

	if err := rawsock.SetNoDelay(afd); err != nil {
		t.Fatalf("SetNoDelay: %v", err)
	}

	msg := []byte("hello")
	if _, err := rawsock.Send(cfd, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 16)
	var n int
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err = rawsock.Recv(afd, buf)
		if err == nil {
			break
		}
		if err == rawsock.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Recv() = %q, want %q", buf[:n], "hello")
	}
}

func TestUDPSendRecv(t *testing.T) {
	t.Parallel()

	listenAddr, _ := netaddr.Parse("127.0.0.1:0")
	l, err := rawsock.NewUDPListener(listenAddr, 64*1024)
	if err != nil {
		t.Fatalf("NewUDPListener: %v", err)
	}
	defer rawsock.Close(l.FD)

	sa, err := unix.Getsockname(l.FD)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port
	dst, _ := netaddr.Parse("127.0.0.1:" + strconv.Itoa(port))

	cfd, err := rawsock.NewOutboundSocket(unix.AF_INET, unix.SOCK_DGRAM)
	if err != nil {
		t.Fatalf("NewOutboundSocket: %v", err)
	}
	defer rawsock.Close(cfd)

	if err := rawsock.SendTo(cfd, []byte("ping"), dst); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, 16)
	var n int
	var from netip.AddrPort
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, from, err = rawsock.RecvFrom(l.FD, buf)
		if err == nil {
			break
		}
		if err == rawsock.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		t.Fatalf("RecvFrom: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("RecvFrom() = %q, want %q", buf[:n], "ping")
	}
	if !from.IsValid() {
		t.Fatalf("RecvFrom() returned invalid source address")
	}
}
