package tcpinfo

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestSampleRejectsNonTCPConn(t *testing.T) {
	r, w := net.Pipe()
	defer r.Close()
	defer w.Close()

	if _, err := Sample(w); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Sample(net.Pipe) error = %v, want ErrUnsupported", err)
	}
}

func TestInfoToMap(t *testing.T) {
	i := &Info{
		State:       "ESTABLISHED",
		RTT:         2 * time.Millisecond,
		RTTVar:      500 * time.Microsecond,
		Retransmits: 1,
	}
	m := i.ToMap()
	if m["state"] != "ESTABLISHED" {
		t.Errorf("state = %v, want ESTABLISHED", m["state"])
	}
	if m["retransmits"] != uint8(1) {
		t.Errorf("retransmits = %v, want 1", m["retransmits"])
	}
}
