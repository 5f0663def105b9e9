package workers

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/tbench-client/internal/arrival"
	"github.com/simeonmiteff/tbench-client/internal/clientcore"
	"github.com/simeonmiteff/tbench-client/internal/wire"
)

// fakeClock is a deterministic clock, copied in spirit from
// internal/clientcore's test double.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(_ context.Context, targetNs int64) {
	c.mu.Lock()
	if targetNs > c.now {
		c.now = targetNs
	}
	c.mu.Unlock()
}

func newTestCore() *clientcore.Core {
	fc := &fakeClock{}
	return clientcore.New(clientcore.Config{
		Clock:   fc,
		BodyGen: func(buf []byte) int { return copy(buf, []byte("x")) },
		Factory: func(startNs int64) arrival.Dist {
			return arrival.NewClosed(1000, startNs)
		},
		NThreads:   1,
		ClosedLoop: true,
	})
}

func TestDispatchResponseRecordsFiniReq(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	req := core.StartReq(ctx)
	finished := dispatch(core, &wire.Response{Tag: wire.TagResponse, ID: req.ID, SvcNs: 10}, logrus.StandardLogger())
	if finished {
		t.Fatal("dispatch(RESPONSE) reported finished")
	}
	if core.InFlightLen() != 0 {
		t.Errorf("InFlightLen = %d, want 0 after FiniReq", core.InFlightLen())
	}
}

func TestDispatchROIBeginTransitionsPhase(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()
	core.StartReq(ctx) // INIT -> WARMUP

	finished := dispatch(core, &wire.Response{Tag: wire.TagROIBegin}, logrus.StandardLogger())
	if finished {
		t.Fatal("dispatch(ROI_BEGIN) reported finished")
	}
	if core.Phase() != clientcore.PhaseROI {
		t.Errorf("Phase = %v, want ROI", core.Phase())
	}
}

func TestDispatchFinishReportsFinished(t *testing.T) {
	core := newTestCore()
	if !dispatch(core, &wire.Response{Tag: wire.TagFinish}, logrus.StandardLogger()) {
		t.Fatal("dispatch(FINISH) did not report finished")
	}
}

func TestParseScheduleFileSkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.txt")
	content := "# ramp up\n500,2\n\n2000,2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lines, err := ParseScheduleFile(path)
	if err != nil {
		t.Fatalf("ParseScheduleFile: %v", err)
	}
	want := []ScheduleLine{{QPS: 500, Seconds: 2}, {QPS: 2000, Seconds: 2}}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestParseScheduleFileRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.txt")
	if err := os.WriteFile(path, []byte("not-a-valid-line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ParseScheduleFile(path); err == nil {
		t.Fatal("expected an error for a malformed schedule line")
	}
}
