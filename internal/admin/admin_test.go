package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vanenet/portmapd/internal/admin"
	"github.com/vanenet/portmapd/internal/conntable"
	"github.com/vanenet/portmapd/internal/handle"
	"github.com/vanenet/portmapd/internal/netaddr"
	"github.com/vanenet/portmapd/internal/stats"
)

func TestMuxServesConnectionsSessionsStatsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters := stats.New(reg)
	tcpTable := conntable.NewTCPTable(conntable.EvictionPolicy{Disabled: true}, counters)
	udpTable := conntable.NewUDPTable(conntable.EvictionPolicy{Disabled: true}, counters)

	tcpTable.NewConnection(handle.Handle(1), handle.Handle(2), "203.0.113.5:4321", 1000, 4096, false)
	client, err := netaddr.Parse("198.51.100.9:5000")
	if err != nil {
		t.Fatalf("netaddr.Parse: %v", err)
	}
	udpTable.NewSession(client, handle.Handle(3), handle.Handle(4), 1000)
	counters.AddTCPRx(128)

	mux := admin.NewMux(admin.Deps{
		Registry: handle.NewRegistry(),
		TCP:      tcpTable,
		UDP:      udpTable,
		Stats:    counters,
	}, reg)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var conns []struct {
		ClientAddr string `json:"client_addr"`
	}
	getJSON(t, srv.URL+"/api/connections", &conns)
	if len(conns) != 1 || conns[0].ClientAddr != "203.0.113.5:4321" {
		t.Fatalf("/api/connections = %+v, want one entry for 203.0.113.5:4321", conns)
	}

	var sessions []struct {
		ClientAddr string `json:"client_addr"`
	}
	getJSON(t, srv.URL+"/api/sessions", &sessions)
	if len(sessions) != 1 {
		t.Fatalf("/api/sessions = %+v, want one entry", sessions)
	}

	var snap stats.Snapshot
	getJSON(t, srv.URL+"/api/stats", &snap)
	if snap.TCPRx != 128 {
		t.Fatalf("/api/stats TCPRx = %d, want 128", snap.TCPRx)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want 200", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
