//go:build linux

package tcpinfo

import (
	"fmt"
	"net"
	"time"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// minKernelVersion is the oldest kernel tcp_info is defined for (matching
// pkg/linux/tcpinfo.go's ErrKernelTooOld gate).
var minKernelVersion = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}

var kernelSupportsTCPInfo bool

func init() {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		// Matches the teacher's pkg/linux/init.go posture: failure to
		// probe the kernel disables the feature rather than failing the
		// whole program, since TCP_INFO sampling is observational only.
		kernelSupportsTCPInfo = false
		return
	}
	kernelSupportsTCPInfo = kernel.CompareKernelVersion(*v, minKernelVersion) >= 0
}

// Supported reports whether this process can sample TCP_INFO.
func Supported() bool {
	return kernelSupportsTCPInfo
}

var tcpStates = map[uint8]string{
	1:  "ESTABLISHED",
	2:  "SYN_SENT",
	3:  "SYN_RECV",
	4:  "FIN_WAIT1",
	5:  "FIN_WAIT2",
	6:  "TIME_WAIT",
	7:  "CLOSE",
	8:  "CLOSE_WAIT",
	9:  "LAST_ACK",
	10: "LISTEN",
	11: "CLOSING",
}

func sampleTCPConn(tc *net.TCPConn) (*Info, error) {
	if !kernelSupportsTCPInfo {
		return nil, ErrUnsupported
	}

	fd := netfd.GetFdFromConn(tc)
	raw, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, fmt.Errorf("tcpinfo: getsockopt(TCP_INFO): %w", err)
	}

	state, ok := tcpStates[raw.State]
	if !ok {
		state = fmt.Sprintf("UNKNOWN(%d)", raw.State)
	}

	return &Info{
		State:       state,
		RTT:         time.Duration(raw.Rtt) * time.Microsecond,
		RTTVar:      time.Duration(raw.Rttvar) * time.Microsecond,
		Retransmits: raw.Retransmits,
	}, nil
}
