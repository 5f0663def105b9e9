//go:build !linux

package control

import (
	"context"
	"fmt"
)

// OpenSysVQueue is unavailable off Linux; use NewInProcessQueue instead
// (SPEC_FULL.md §4.7: the OS-backed queue is gated to linux).
func OpenSysVQueue(path string, projectID byte) (*SysVQueue, error) {
	return nil, fmt.Errorf("control: System V message queues are only supported on linux")
}

// SysVQueue is declared here only so OpenSysVQueue's signature type-checks
// off Linux; it is never constructed on this platform.
type SysVQueue struct{}

func (*SysVQueue) Send(tag int64, payload []byte) error {
	return fmt.Errorf("control: unsupported")
}

func (*SysVQueue) Recv(ctx context.Context) (int64, []byte, error) {
	return 0, nil, fmt.Errorf("control: unsupported")
}
