//go:build !linux

package tcpinfo

import "net"

// Supported always reports false off Linux: getsockopt(TCP_INFO) is a
// Linux-specific facility (SPEC_FULL.md §1 non-goal: no BSD/Darwin
// tcp_info translation).
func Supported() bool {
	return false
}

func sampleTCPConn(_ *net.TCPConn) (*Info, error) {
	return nil, ErrUnsupported
}
