// Package control implements the two dumper/control-surface variants named
// in spec.md §4.7: a periodic sleep-print-clear dumper, and a request-reply
// dumper addressed over a System V-style message queue, selected at
// runtime by internal/config's TBENCH_CONTROL_MODE (a supplemented knob;
// see SPEC_FULL.md's SUPPLEMENTED FEATURES).
//
// It is grounded on original_source/harness/msgq.cpp's ftok-keyed message
// queue abstraction and the teacher repo's leveled logrus usage throughout
// pkg/exporter for periodic reporting.
package control

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RunPeriodicDumper sleeps for interval, then snapshots and logs
// p50/p95/p99, repeating until ctx is done (spec.md §4.7, "Periodic").
// If no samples were recorded since the last snapshot, it logs a
// zero-count line and takes no other action.
func RunPeriodicDumper(ctx context.Context, interval time.Duration, log logrus.FieldLogger, snapshot func() (p50, p95, p99 float64, ok bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p50, p95, p99, ok := snapshot()
			if !ok {
				log.Info("control: periodic dumper: no samples in this interval")
				continue
			}
			log.WithFields(logrus.Fields{
				"p50ms": p50,
				"p95ms": p95,
				"p99ms": p99,
			}).Info("control: periodic latency snapshot")
		}
	}
}

// Command tags used over the control queue, matching
// original_source/harness/msgq.cpp's reserved values exactly.
const (
	CmdFinish int64 = 1
	CmdPutLat int64 = 2
	CmdGetLat int64 = 3
)

// Queue abstracts the System V-style message queue msgq.cpp builds around
// ftok/msgget/msgsnd/msgrcv, so internal/control can be tested without a
// real kernel IPC object and so a non-Linux build can substitute an
// in-process stand-in.
type Queue interface {
	// Recv blocks until a message is available and returns its tag and
	// payload.
	Recv(ctx context.Context) (tag int64, payload []byte, err error)
	// Send enqueues a message with the given tag and payload.
	Send(tag int64, payload []byte) error
}

// latPayloadLen is the fixed-layout CMD_PUT_LAT payload: three float64
// latencies (p50, p95, p99), little-endian, matching the inline
// fixed-layout reply spec.md §4.7 describes.
const latPayloadLen = 3 * 8

// EncodeLatencies packs p50/p95/p99 into the fixed CMD_PUT_LAT payload
// layout.
func EncodeLatencies(p50, p95, p99 float64) []byte {
	buf := make([]byte, latPayloadLen)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(p50))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p95))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(p99))
	return buf
}

// DecodeLatencies is the inverse of EncodeLatencies.
func DecodeLatencies(buf []byte) (p50, p95, p99 float64, err error) {
	if len(buf) != latPayloadLen {
		return 0, 0, 0, fmt.Errorf("control: latency payload is %d bytes, want %d", len(buf), latPayloadLen)
	}
	p50 = math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
	p95 = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	p99 = math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24]))
	return p50, p95, p99, nil
}

// RunQueueDumper implements the "Request-reply" dumper variant (spec.md
// §4.7): receive a CMD_GET_LAT message, poll (every second) until the
// latency snapshot is non-empty, reply CMD_PUT_LAT with the encoded
// latencies, then clear. Any other tag or a queue error is fatal — the
// control queue is a dedicated channel and a malformed message on it is a
// protocol error (spec.md §7 class 5).
func RunQueueDumper(ctx context.Context, q Queue, log logrus.FieldLogger, snapshot func() (p50, p95, p99 float64, ok bool)) {
	for {
		tag, _, err := q.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Fatal("control: queue dumper: Recv failed")
		}
		if tag != CmdGetLat {
			log.WithField("tag", tag).Fatal("control: queue dumper: unexpected message tag")
		}

		var p50, p95, p99 float64
		for {
			var ok bool
			p50, p95, p99, ok = snapshot()
			if ok {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}

		if err := q.Send(CmdPutLat, EncodeLatencies(p50, p95, p99)); err != nil {
			log.WithError(err).Fatal("control: queue dumper: Send failed")
		}
	}
}
