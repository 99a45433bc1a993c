package stats_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vanenet/portmapd/internal/stats"
)

func TestCountersAccumulate(t *testing.T) {
	t.Parallel()

	c := stats.New(nil)
	c.AddTCPRx(100)
	c.AddTCPRx(50)
	c.AddTCPTx(10)
	c.AddUDPRx(5)
	c.AddUDPTx(7)
	c.IncTCP()
	c.IncTCP()
	c.DecTCP()
	c.IncUDP()

	snap := c.Snapshot()
	if snap.TCPRx != 150 {
		t.Errorf("TCPRx = %d, want 150", snap.TCPRx)
	}
	if snap.TCPTx != 10 {
		t.Errorf("TCPTx = %d, want 10", snap.TCPTx)
	}
	if snap.UDPRx != 5 || snap.UDPTx != 7 {
		t.Errorf("UDP counters = (%d, %d), want (5, 7)", snap.UDPRx, snap.UDPTx)
	}
	if snap.TCPPop != 1 {
		t.Errorf("TCPPop = %d, want 1", snap.TCPPop)
	}
	if snap.UDPPop != 1 {
		t.Errorf("UDPPop = %d, want 1", snap.UDPPop)
	}
}

func TestSnapshotLineFormatsHumanBytes(t *testing.T) {
	t.Parallel()

	c := stats.New(nil)
	c.AddTCPRx(2048)
	c.AddTCPTx(500)
	c.IncUDP()

	line := c.Snapshot().Line()
	want := "[stats] TCP: 2.00KB/500B, UDP: 0B/0B, conn: TCP=0, UDP=1"
	if line != want {
		t.Errorf("Line() = %q, want %q", line, want)
	}
}

func TestNewRegistersWithProvidedRegisterer(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := stats.New(reg)
	c.AddTCPRx(1)

	mf, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(mf) == 0 {
		t.Fatalf("Gather() returned no metric families, want at least bytes_total")
	}
}

func TestNewWithNilRegistererDoesNotPanic(t *testing.T) {
	t.Parallel()

	c := stats.New(nil)
	c.AddTCPRx(1)
	c.AddTCPTx(1)
	c.AddUDPRx(1)
	c.AddUDPTx(1)
	c.IncTCP()
	c.DecTCP()
	c.IncUDP()
	c.DecUDP()
}
