// Package metrics exposes the engine's running state to Prometheus: a
// handful of process-wide counters via promauto package-level collectors
// (grounded on m-lab-tcp-info/metrics), and a custom Collector that walks
// the live socket table on every scrape to emit per-connection gauges
// (grounded on runZeroInc-conniver/pkg/exporter's Describe/Collect over a
// connection map).
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SegmentsSent counts every segment handed to the transport, data or
	// control, first transmission or retransmission.
	SegmentsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toytcp_segments_sent_total",
		Help: "Total number of TCP segments written to the transport.",
	})

	// SegmentsReceived counts every segment that passed checksum
	// verification, regardless of whether a socket existed for it.
	SegmentsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toytcp_segments_received_total",
		Help: "Total number of TCP segments read off the transport and checksum-verified.",
	})

	// Retransmits counts segments resent by the timer worker after their
	// RTO expired.
	Retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toytcp_retransmits_total",
		Help: "Total number of segments retransmitted after their RTO expired.",
	})

	// HandshakesCompleted counts successful three-way handshakes, active
	// and passive combined.
	HandshakesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toytcp_handshakes_completed_total",
		Help: "Total number of connections that reached ESTABLISHED.",
	})

	// ConnectionsClosed counts connections removed from the socket table,
	// whether by a clean four-way close or by retransmission-limit abort.
	ConnectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toytcp_connections_closed_total",
		Help: "Total number of connections removed from the socket table.",
	})
)

// ConnStat is a point-in-time snapshot of one connection, as much as the
// engine is willing to expose without handing out its internal Socket
// type. Kept deliberately dependency-free so this package never needs to
// import tcpstack.
type ConnStat struct {
	ID              string
	Status          string
	SRTTSeconds     float64
	RTOSeconds      float64
	SendWindow      float64
	RecvWindow      float64
	UnackedSegments float64
}

// StatsSource is implemented by an engine willing to be scraped.
type StatsSource interface {
	ConnStats() []ConnStat
}

// Collector is a prometheus.Collector that re-derives every metric from
// StatsSource.ConnStats on each scrape, rather than maintaining its own
// accumulating state (the same live-table-walk shape as
// runZeroInc-conniver's TCPInfoCollector).
type Collector struct {
	source StatsSource

	status     *prometheus.Desc
	srtt       *prometheus.Desc
	rto        *prometheus.Desc
	sendWindow *prometheus.Desc
	recvWindow *prometheus.Desc
	unacked    *prometheus.Desc
}

// NewCollector returns a Collector scraping source. Register it with a
// prometheus.Registry (or prometheus.MustRegister for the default one).
func NewCollector(source StatsSource) *Collector {
	labels := []string{"conn", "status"}
	return &Collector{
		source:     source,
		status:     prometheus.NewDesc("toytcp_connection_info", "Always 1; labels carry the connection's identity and status.", labels, nil),
		srtt:       prometheus.NewDesc("toytcp_connection_srtt_seconds", "Smoothed round-trip time estimate.", labels, nil),
		rto:        prometheus.NewDesc("toytcp_connection_rto_seconds", "Current retransmission timeout.", labels, nil),
		sendWindow: prometheus.NewDesc("toytcp_connection_send_window_bytes", "Most recently advertised peer receive window.", labels, nil),
		recvWindow: prometheus.NewDesc("toytcp_connection_recv_window_bytes", "Window this side is currently advertising.", labels, nil),
		unacked:    prometheus.NewDesc("toytcp_connection_unacked_segments", "Entries in the retransmission queue awaiting ack.", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.status
	ch <- c.srtt
	ch <- c.rto
	ch <- c.sendWindow
	ch <- c.recvWindow
	ch <- c.unacked
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, stat := range c.source.ConnStats() {
		labels := []string{stat.ID, stat.Status}
		ch <- mustConst(c.status, 1, labels)
		ch <- mustConst(c.srtt, stat.SRTTSeconds, labels)
		ch <- mustConst(c.rto, stat.RTOSeconds, labels)
		ch <- mustConst(c.sendWindow, stat.SendWindow, labels)
		ch <- mustConst(c.recvWindow, stat.RecvWindow, labels)
		ch <- mustConst(c.unacked, stat.UnackedSegments, labels)
	}
}

func mustConst(desc *prometheus.Desc, value float64, labels []string) prometheus.Metric {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	if err != nil {
		// Only reachable if a Desc/label-count mismatch slipped in above.
		panic(fmt.Sprintf("metrics: %v", err))
	}
	return m
}
