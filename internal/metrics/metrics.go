// Package metrics adapts the teacher repo's TCPInfoCollector
// (pkg/exporter/exporter.go) into a Prometheus collector for the
// benchmarking client: request counters, an in-flight gauge, the
// percentile snapshot as gauges, and — opportunistically — per-connection
// TCP_INFO gauges, gated the same way internal/transport gates sampling.
//
// This is a DOMAIN STACK addition (SPEC_FULL.md §4.6/§6): disabled by
// default, enabled only when TBENCH_METRICS_ADDR is set.
package metrics

import (
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simeonmiteff/tbench-client/internal/tcpinfo"
)

// Source is the subset of clientcore.Core metrics needs: the request
// counters. Percentiles come from the separate function passed to New.
// It is defined here, not imported from
// clientcore, so internal/metrics has no dependency on clientcore's
// concrete type.
type Source interface {
	StartedReqs() uint64
	InFlightLen() int
}

type connEntry struct {
	conn   net.Conn
	labels prometheus.Labels
}

// Collector implements prometheus.Collector, grounded on the teacher's
// TCPInfoCollector (pkg/exporter/exporter.go): a registered connection set
// sampled on every /metrics scrape, generalised here to also publish the
// client's own request counters and latency gauges, not just tcp_info.
type Collector struct {
	source Source

	startedReqs *prometheus.Desc
	inFlight    *prometheus.Desc
	p50ms       *prometheus.Desc
	p95ms       *prometheus.Desc
	p99ms       *prometheus.Desc
	rttMs       *prometheus.Desc
	retransmits *prometheus.Desc

	percentiles func() (p50, p95, p99 float64, ok bool)

	mu    sync.Mutex
	conns map[string]connEntry
}

// New constructs a Collector. percentiles should return the client's
// latest percentile snapshot without clearing it (a read-only peek,
// distinct from clientcore.Core.Snapshot's clear-on-read contract).
func New(source Source, percentiles func() (p50, p95, p99 float64, ok bool)) *Collector {
	return &Collector{
		source:      source,
		percentiles: percentiles,
		conns:       make(map[string]connEntry),
		startedReqs: prometheus.NewDesc("tbench_client_started_requests_total", "Total requests started by this client.", nil, nil),
		inFlight:    prometheus.NewDesc("tbench_client_in_flight_requests", "Requests awaiting a response.", nil, nil),
		p50ms:       prometheus.NewDesc("tbench_client_latency_ms", "Sojourn latency quantile, in milliseconds.", nil, prometheus.Labels{"quantile": "0.5"}),
		p95ms:       prometheus.NewDesc("tbench_client_latency_ms", "Sojourn latency quantile, in milliseconds.", nil, prometheus.Labels{"quantile": "0.95"}),
		p99ms:       prometheus.NewDesc("tbench_client_latency_ms", "Sojourn latency quantile, in milliseconds.", nil, prometheus.Labels{"quantile": "0.99"}),
		rttMs:       prometheus.NewDesc("tbench_client_tcp_rtt_ms", "Kernel-reported smoothed RTT, per connection.", []string{"session"}, nil),
		retransmits: prometheus.NewDesc("tbench_client_tcp_retransmits", "Kernel-reported retransmit count, per connection.", []string{"session"}, nil),
	}
}

// AddConn registers conn for opportunistic tcp_info sampling on scrape,
// labelled by sessionID (mirrors TCPInfoCollector.Add's connectionLabels
// idiom, specialised to one label).
func (c *Collector) AddConn(sessionID string, conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[sessionID] = connEntry{conn: conn, labels: prometheus.Labels{"session": sessionID}}
}

// RemoveConn unregisters a connection, mirroring TCPInfoCollector.Remove.
func (c *Collector) RemoveConn(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, sessionID)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.startedReqs
	descs <- c.inFlight
	descs <- c.p50ms
	descs <- c.p95ms
	descs <- c.p99ms
	descs <- c.rttMs
	descs <- c.retransmits
}

// Collect implements prometheus.Collector, matching the teacher's
// Collect-time sampling strategy: metrics are computed at scrape time,
// not cached between scrapes.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(c.startedReqs, prometheus.CounterValue, float64(c.source.StartedReqs()))
	metrics <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(c.source.InFlightLen()))

	if p50, p95, p99, ok := c.percentiles(); ok {
		metrics <- prometheus.MustNewConstMetric(c.p50ms, prometheus.GaugeValue, p50)
		metrics <- prometheus.MustNewConstMetric(c.p95ms, prometheus.GaugeValue, p95)
		metrics <- prometheus.MustNewConstMetric(c.p99ms, prometheus.GaugeValue, p99)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for session, entry := range c.conns {
		info, err := tcpinfo.Sample(entry.conn)
		if err != nil {
			continue
		}
		metrics <- prometheus.MustNewConstMetric(c.rttMs, prometheus.GaugeValue, float64(info.RTT.Microseconds())/1000.0, session)
		metrics <- prometheus.MustNewConstMetric(c.retransmits, prometheus.GaugeValue, float64(info.Retransmits), session)
	}
}
