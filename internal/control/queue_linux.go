//go:build linux

package control

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// maxMsgBytes bounds a System V message queue payload; the control queue
// only ever carries CmdGetLat (no payload) or CmdPutLat (24 bytes), so
// this is generous headroom, not a protocol limit.
const maxMsgBytes = 256

// sysvMessage is the on-wire layout msgsnd(2)/msgrcv(2) expect: a
// platform `long mtype` (8 bytes on amd64/arm64) followed by the message
// body, exactly as original_source/harness/msgq.cpp packs its messages.
type sysvMessage struct {
	mtype int64
	data  [maxMsgBytes]byte
}

// SysVQueue is a Queue backed by a real System V message queue, addressed
// the same way original_source/harness/msgq.cpp does: ftok(path,
// projectID) derives the key, msgget attaches or creates the queue. The
// three syscalls have no portable wrapper in golang.org/x/sys/unix, so
// this invokes them directly via unix.Syscall/Syscall6 against the
// SYS_MSGGET/SYS_MSGSND/SYS_MSGRCV numbers, the same layer msgq.cpp itself
// sits on top of.
type SysVQueue struct {
	id uintptr
}

// OpenSysVQueue attaches to (creating if necessary) the message queue keyed
// by (path, projectID), mirroring msgq.cpp's MsgQueue constructor.
func OpenSysVQueue(path string, projectID byte) (*SysVQueue, error) {
	key, err := ftok(path, projectID)
	if err != nil {
		return nil, fmt.Errorf("control: ftok(%s, %d): %w", path, projectID, err)
	}

	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(0o666|unix.IPC_CREAT), 0)
	if errno != 0 {
		return nil, fmt.Errorf("control: msgget: %w", errno)
	}
	return &SysVQueue{id: id}, nil
}

// Send enqueues a message with the given tag and payload.
func (q *SysVQueue) Send(tag int64, payload []byte) error {
	if len(payload) > maxMsgBytes {
		return fmt.Errorf("control: payload of %d bytes exceeds maxMsgBytes %d", len(payload), maxMsgBytes)
	}
	var msg sysvMessage
	msg.mtype = tag
	copy(msg.data[:], payload)

	_, _, errno := unix.Syscall6(unix.SYS_MSGSND, q.id, uintptr(unsafe.Pointer(&msg)), uintptr(len(payload)), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("control: msgsnd: %w", errno)
	}
	return nil
}

// Recv blocks until a message is available. ctx cancellation is best
// effort: msgrcv(2) is a blocking syscall with no cancellation hook, so a
// cancelled ctx only takes effect between messages, matching the
// underlying System V primitive's posture (no equivalent of Go channel
// select on a msgrcv).
func (q *SysVQueue) Recv(ctx context.Context) (int64, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	var msg sysvMessage
	n, _, errno := unix.Syscall6(unix.SYS_MSGRCV, q.id, uintptr(unsafe.Pointer(&msg)), uintptr(maxMsgBytes), 0, 0, 0)
	if errno != 0 {
		return 0, nil, fmt.Errorf("control: msgrcv: %w", errno)
	}

	payload := make([]byte, int(n))
	copy(payload, msg.data[:int(n)])
	return msg.mtype, payload, nil
}

// ftok mirrors glibc's ftok(3) key-derivation algorithm, exactly as
// original_source/harness/msgq.cpp relies on for its (path, project-id)
// addressing: the low 16 bits of the inode, the low 8 bits of the device
// number, and the project id packed into a single 32-bit key.
func ftok(path string, projectID byte) (int32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	key := uint32(st.Ino&0xffff) | (uint32(st.Dev&0xff) << 16) | (uint32(projectID) << 24)
	return int32(key), nil
}
