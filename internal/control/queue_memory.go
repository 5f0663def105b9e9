package control

import "context"

// message is one entry on an InProcessQueue.
type message struct {
	tag     int64
	payload []byte
}

// InProcessQueue is a Queue backed by a buffered Go channel instead of a
// kernel IPC object. It is the default on platforms without System V
// message queues and the implementation used by internal/control's own
// tests, matching the pack's convention of keeping OS-specific IPC behind
// a small interface (SysVQueue on linux).
type InProcessQueue struct {
	ch chan message
}

// NewInProcessQueue constructs a Queue with room for capacity
// not-yet-received messages.
func NewInProcessQueue(capacity int) *InProcessQueue {
	return &InProcessQueue{ch: make(chan message, capacity)}
}

// Send enqueues a message with the given tag and payload.
func (q *InProcessQueue) Send(tag int64, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	q.ch <- message{tag: tag, payload: cp}
	return nil
}

// Recv blocks until a message is available or ctx is done.
func (q *InProcessQueue) Recv(ctx context.Context) (int64, []byte, error) {
	select {
	case m := <-q.ch:
		return m.tag, m.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}
