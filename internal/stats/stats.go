// Package stats implements the traffic-statistics counters of spec.md
// section 3: four monotonically non-decreasing 64-bit byte counters
// (tcp/udp x rx/tx) and two tcp/udp current-population gauges, plus the
// periodic human-formatted stats line of spec.md section 6 and an optional
// Prometheus surface (SPEC_FULL.md section B) for operational
// introspection.
//
// Grounded on the teacher's internal/metrics/collector.go (Prometheus
// CounterVec/GaugeVec wiring pattern) and spec.md section 9's "Global
// singletons" note: the counters are plain atomics so no lock is needed on
// the hot path. There is no package-level instance: the daemon builds one
// Counters with New at startup and passes it to every component.
package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters holds the six spec.md section 3 traffic counters plus the
// Prometheus metric vectors that mirror them for the admin server's
// /metrics endpoint.
type Counters struct {
	tcpRx, tcpTx atomic.Uint64
	udpRx, udpTx atomic.Uint64
	tcpPop, udpPop atomic.Int64

	promBytes *prometheus.CounterVec
	promPop   *prometheus.GaugeVec
}

const (
	namespace = "portmapd"

	labelProto    = "proto"
	labelProtoTCP = "tcp"
	labelProtoUDP = "udp"

	labelDirection = "direction"
	labelDirRX     = "rx"
	labelDirTX     = "tx"
)

// New constructs a Counters instance and, if reg is non-nil, registers its
// Prometheus vectors against it (mirrors bfdmetrics.NewCollector's
// nil-registerer convention).
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		promBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total bytes forwarded, by protocol and direction.",
		}, []string{labelProto, labelDirection}),
		promPop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_flows",
			Help:      "Currently active flows, by protocol.",
		}, []string{labelProto}),
	}

	if reg != nil {
		reg.MustRegister(c.promBytes, c.promPop)
	}

	return c
}

// AddTCPRx records n bytes received on the TCP side of a flow.
func (c *Counters) AddTCPRx(n uint64) {
	c.tcpRx.Add(n)
	if c.promBytes != nil {
		c.promBytes.WithLabelValues(labelProtoTCP, labelDirRX).Add(float64(n))
	}
}

// AddTCPTx records n bytes transmitted on the TCP side of a flow.
func (c *Counters) AddTCPTx(n uint64) {
	c.tcpTx.Add(n)
	if c.promBytes != nil {
		c.promBytes.WithLabelValues(labelProtoTCP, labelDirTX).Add(float64(n))
	}
}

// AddUDPRx records n bytes received on the UDP side of a flow.
func (c *Counters) AddUDPRx(n uint64) {
	c.udpRx.Add(n)
	if c.promBytes != nil {
		c.promBytes.WithLabelValues(labelProtoUDP, labelDirRX).Add(float64(n))
	}
}

// AddUDPTx records n bytes transmitted on the UDP side of a flow.
func (c *Counters) AddUDPTx(n uint64) {
	c.udpTx.Add(n)
	if c.promBytes != nil {
		c.promBytes.WithLabelValues(labelProtoUDP, labelDirTX).Add(float64(n))
	}
}

// IncTCP increments the TCP current-population gauge.
func (c *Counters) IncTCP() {
	c.tcpPop.Add(1)
	if c.promPop != nil {
		c.promPop.WithLabelValues(labelProtoTCP).Inc()
	}
}

// DecTCP decrements the TCP current-population gauge.
func (c *Counters) DecTCP() {
	c.tcpPop.Add(-1)
	if c.promPop != nil {
		c.promPop.WithLabelValues(labelProtoTCP).Dec()
	}
}

// IncUDP increments the UDP current-population gauge.
func (c *Counters) IncUDP() {
	c.udpPop.Add(1)
	if c.promPop != nil {
		c.promPop.WithLabelValues(labelProtoUDP).Inc()
	}
}

// DecUDP decrements the UDP current-population gauge.
func (c *Counters) DecUDP() {
	c.udpPop.Add(-1)
	if c.promPop != nil {
		c.promPop.WithLabelValues(labelProtoUDP).Dec()
	}
}

// Snapshot is a point-in-time read of all six counters.
type Snapshot struct {
	TCPRx, TCPTx uint64
	UDPRx, UDPTx uint64
	TCPPop, UDPPop int64
}

// Snapshot atomically reads (individually; the six fields need not be
// mutually consistent, matching the "no lock needed" design note of
// spec.md section 9) all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TCPRx:  c.tcpRx.Load(),
		TCPTx:  c.tcpTx.Load(),
		UDPRx:  c.udpRx.Load(),
		UDPTx:  c.udpTx.Load(),
		TCPPop: c.tcpPop.Load(),
		UDPPop: c.udpPop.Load(),
	}
}

// Line renders the snapshot as the spec.md section 6 stats line:
// "[stats] TCP: RX/TX, UDP: RX/TX, conn: TCP=N, UDP=M".
func (s Snapshot) Line() string {
	return fmt.Sprintf(
		"[stats] TCP: %s/%s, UDP: %s/%s, conn: TCP=%d, UDP=%d",
		humanBytes(s.TCPRx), humanBytes(s.TCPTx),
		humanBytes(s.UDPRx), humanBytes(s.UDPTx),
		s.TCPPop, s.UDPPop,
	)
}

// humanBytes formats n bytes using B/KB/MB/GB units (spec.md section 6).
func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit && exp < 2; v /= unit {
		div *= unit
		exp++
	}
	units := [...]string{"KB", "MB", "GB"}
	return fmt.Sprintf("%.2f%s", float64(n)/float64(div), units[exp])
}
