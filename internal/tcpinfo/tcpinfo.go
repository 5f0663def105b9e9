// Package tcpinfo samples kernel TCP_INFO for a live connection. It is a
// DOMAIN STACK addition (SPEC_FULL.md §4.6): purely observational, never
// part of the wire protocol or the client's retry/fatal policy.
//
// It is grounded on the teacher repo's pkg/linux/tcpinfo.go (raw struct
// unpacking via getsockopt) and pkg/tcpinfo/tcpinfo.go (the platform-neutral
// Info type), trimmed to the handful of fields this client's Prometheus
// exporter actually surfaces (SPEC_FULL.md's non-goal: "this repo does not
// attempt full tcp_info field coverage across platforms").
package tcpinfo

import (
	"errors"
	"net"
	"time"
)

// ErrUnsupported is returned when TCP_INFO sampling isn't available on the
// current platform or kernel.
var ErrUnsupported = errors.New("tcpinfo: TCP_INFO sampling not supported on this platform")

// Info is the platform-neutral subset of tcp_info this client cares about,
// matching the field selection the teacher's exporter publishes as
// Prometheus gauges (pkg/exporter/exporter.go via prom-metrics-gen).
type Info struct {
	State       string        `json:"state"`
	RTT         time.Duration `json:"rtt"`
	RTTVar      time.Duration `json:"rttVar"`
	Retransmits uint8         `json:"retransmits"`
}

// ToMap renders Info as a JSON-friendly map, matching the teacher's
// wrap.go Conn.ToMap idiom of flattening structured stats for logging.
func (i *Info) ToMap() map[string]any {
	return map[string]any{
		"state":       i.State,
		"rtt":         i.RTT.String(),
		"rttVar":      i.RTTVar.String(),
		"retransmits": i.Retransmits,
	}
}

// Sample returns current tcp_info for conn, if conn is a *net.TCPConn and
// the platform supports it.
func Sample(conn net.Conn) (*Info, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, ErrUnsupported
	}
	return sampleTCPConn(tc)
}
