// Package workers implements the sender/receiver/dispatch loops named in
// spec.md §4.5: open-loop (2·nthreads goroutines) and closed-loop
// (nthreads fused goroutines), plus the optional workload-schedule driver.
//
// It is grounded on the teacher repo's cmd/exporter_example2 accept-loop
// idiom (one goroutine per concern, logged with a per-connection xid),
// generalised here to the client's sender/receiver/dispatch contract.
package workers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/tbench-client/internal/clientcore"
	"github.com/simeonmiteff/tbench-client/internal/transport"
	"github.com/simeonmiteff/tbench-client/internal/wire"
)

// Runner bundles the dependencies every worker goroutine needs: the
// coordinator, the wire connection, and where to persist the log on exit.
type Runner struct {
	Core     *clientcore.Core
	Conn     *transport.Conn
	DumpPath string
	Log      logrus.FieldLogger
}

// dispatch applies one response to core per spec.md §4.5's dispatch table.
// It returns true if resp was a FINISH control message, signalling the
// caller to terminate. An unrecognised tag is a protocol error (spec.md §7
// class 3) and is fatal.
func dispatch(core *clientcore.Core, resp *wire.Response, log logrus.FieldLogger) (finished bool) {
	switch resp.Tag {
	case wire.TagResponse:
		core.FiniReq(clientcore.Response{ID: resp.ID, SvcNs: resp.SvcNs})
	case wire.TagROIBegin:
		core.StartRoi()
	case wire.TagFinish:
		return true
	default:
		log.WithField("tag", resp.Tag).Fatal("workers: unrecognised response tag (protocol error)")
	}
	return false
}

// terminate persists the binary log and exits the process, matching
// spec.md §4.5 ("a transport error ... terminates the whole process after
// persisting the binary log") and §7 class 2/3.
func terminate(r *Runner, status int, cause error) {
	if cause != nil {
		r.Log.WithError(cause).Error("workers: terminating process")
	}
	if err := r.Core.DumpBinary(r.DumpPath); err != nil {
		r.Log.WithError(err).Error("workers: failed to persist binary log")
	}
	os.Exit(status)
}

// RunOpenLoop starts nthreads senders and nthreads receivers, per spec.md
// §4.5. Senders only call StartReq+Send; receivers only call Recv+dispatch.
// It blocks until a FINISH tag or a transport error terminates the process
// via os.Exit — RunOpenLoop itself never returns under normal operation.
func RunOpenLoop(ctx context.Context, r *Runner, nthreads int) {
	var wg sync.WaitGroup
	wg.Add(nthreads)
	for i := 0; i < nthreads; i++ {
		go func(id int) {
			defer wg.Done()
			runSender(ctx, r)
		}(i)
	}

	var recvWg sync.WaitGroup
	recvWg.Add(nthreads)
	for i := 0; i < nthreads; i++ {
		go func(id int) {
			defer recvWg.Done()
			runReceiver(ctx, r)
		}(i)
	}

	wg.Wait()
	recvWg.Wait()
}

func runSender(ctx context.Context, r *Runner) {
	for {
		req := r.Core.StartReq(ctx)
		if err := r.Conn.Send(&wire.Request{ID: req.ID, Payload: req.Payload}); err != nil {
			terminate(r, 0, fmt.Errorf("workers: sender: %w", err))
			return
		}
	}
}

func runReceiver(ctx context.Context, r *Runner) {
	for {
		resp, err := r.Conn.Recv()
		if err != nil {
			terminate(r, 0, fmt.Errorf("workers: receiver: %w", err))
			return
		}
		if dispatch(r.Core, resp, r.Log) {
			terminate(r, 0, nil)
			return
		}
	}
}

// RunClosedLoop starts nthreads fused sender/receiver goroutines, per
// spec.md §4.5: each issues the next request only after the previous reply
// arrives. It blocks until FINISH or a transport error, same exit contract
// as RunOpenLoop.
func RunClosedLoop(ctx context.Context, r *Runner, nthreads int) {
	var wg sync.WaitGroup
	wg.Add(nthreads)
	for i := 0; i < nthreads; i++ {
		go func(id int) {
			defer wg.Done()
			runFused(ctx, r)
		}(i)
	}
	wg.Wait()
}

func runFused(ctx context.Context, r *Runner) {
	for {
		req := r.Core.StartReq(ctx)
		if err := r.Conn.Send(&wire.Request{ID: req.ID, Payload: req.Payload}); err != nil {
			terminate(r, 0, fmt.Errorf("workers: fused sender: %w", err))
			return
		}
		resp, err := r.Conn.Recv()
		if err != nil {
			terminate(r, 0, fmt.Errorf("workers: fused receiver: %w", err))
			return
		}
		if dispatch(r.Core, resp, r.Log) {
			terminate(r, 0, nil)
			return
		}
	}
}

// ScheduleLine is one parsed "qps,seconds" entry from a workload-schedule
// file (spec.md §4.7).
type ScheduleLine struct {
	QPS     float64
	Seconds int
}

// ParseScheduleFile reads and parses a workload-schedule file at path,
// ignoring blank lines and lines beginning with '#' (spec.md §4.7).
func ParseScheduleFile(path string) ([]ScheduleLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("workers: open schedule file: %w", err)
	}
	defer f.Close()

	var lines []ScheduleLine
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("workers: schedule file line %d: expected \"qps,seconds\", got %q", lineNo, text)
		}
		qps, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("workers: schedule file line %d: bad qps: %w", lineNo, err)
		}
		secs, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("workers: schedule file line %d: bad seconds: %w", lineNo, err)
		}
		lines = append(lines, ScheduleLine{QPS: qps, Seconds: secs})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("workers: scan schedule file: %w", err)
	}
	return lines, nil
}

// RunScheduleDriver walks a parsed workload schedule, calling UpdateQps
// then sleeping for the given duration between entries. On completion
// (EOF in the original text-file model) it persists the binary log and
// terminates the process (spec.md §4.7, SUPPLEMENTED FEATURES #2).
func RunScheduleDriver(ctx context.Context, core *clientcore.Core, dumpPath string, log logrus.FieldLogger, schedule []ScheduleLine) {
scheduleLoop:
	for _, line := range schedule {
		if err := core.UpdateQps(ctx, line.QPS); err != nil {
			log.WithError(err).Error("workers: schedule driver: UpdateQps failed")
			break
		}
		select {
		case <-ctx.Done():
			break scheduleLoop
		case <-time.After(time.Duration(line.Seconds) * time.Second):
		}
	}

	if err := core.DumpBinary(dumpPath); err != nil {
		log.WithError(err).Error("workers: schedule driver: failed to persist binary log")
	}
	os.Exit(0)
}
