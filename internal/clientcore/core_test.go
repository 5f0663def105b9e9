package clientcore

import (
	"context"
	"sync"
	"testing"

	"github.com/simeonmiteff/tbench-client/internal/arrival"
)

// fakeClock is a deterministic, manually-advanced clock for tests.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(ctx context.Context, targetNs int64) {
	c.mu.Lock()
	if targetNs > c.now {
		c.now = targetNs
	}
	c.mu.Unlock()
}

func (c *fakeClock) set(ns int64) {
	c.mu.Lock()
	c.now = ns
	c.mu.Unlock()
}

func newTestCore(nthreads int, closedLoop bool) (*Core, *fakeClock) {
	fc := &fakeClock{}
	core := New(Config{
		Clock: fc,
		BodyGen: func(buf []byte) int {
			return copy(buf, []byte("payload"))
		},
		Factory: func(startNs int64) arrival.Dist {
			return arrival.NewClosed(1000, startNs)
		},
		NThreads:   nthreads,
		ClosedLoop: closedLoop,
	})
	return core, fc
}

func TestStartReqAllocatesContiguousIDs(t *testing.T) {
	core, _ := newTestCore(1, true)
	ctx := context.Background()

	ids := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		req := core.StartReq(ctx)
		if ids[req.ID] {
			t.Fatalf("duplicate ID %d", req.ID)
		}
		ids[req.ID] = true
	}
	if core.StartedReqs() != 100 {
		t.Errorf("StartedReqs = %d, want 100", core.StartedReqs())
	}
	for i := uint64(0); i < 100; i++ {
		if !ids[i] {
			t.Errorf("missing ID %d in contiguous range", i)
		}
	}
}

func TestFiniReqOutsideRoiRecordsNothing(t *testing.T) {
	core, fc := newTestCore(1, true)
	ctx := context.Background()

	req := core.StartReq(ctx)
	fc.set(req.GenNs + 500)
	core.FiniReq(Response{ID: req.ID, SvcNs: 100})

	if _, ok := core.Snapshot(); ok {
		t.Error("expected no samples recorded outside ROI")
	}
}

func TestFiniReqDuringRoiRecordsSample(t *testing.T) {
	core, fc := newTestCore(1, true)
	ctx := context.Background()

	// First StartReq transitions INIT->WARMUP.
	req := core.StartReq(ctx)
	core.FiniReq(Response{ID: req.ID, SvcNs: 50})
	core.StartRoi()

	req2 := core.StartReq(ctx)
	fc.set(req2.GenNs + 300)
	core.FiniReq(Response{ID: req2.ID, SvcNs: 100})

	p, ok := core.Snapshot()
	if !ok {
		t.Fatal("expected a recorded sample")
	}
	// sojourn=300ns, svc=100ns; percentiles use sojourn only -> 0.0003ms at p50/p95/p99 alike (single sample).
	if p.P50 <= 0 {
		t.Errorf("P50 = %v, want > 0", p.P50)
	}
}

func TestUpdateQpsBlocksUntilDistReady(t *testing.T) {
	core, fc := newTestCore(1, true)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- core.UpdateQps(ctx, 500)
	}()

	// The goroutine may already be polling while dist does not exist yet.
	core.StartReq(ctx) // initialises dist and transitions to WARMUP
	fc.set(fc.NowNs())

	if err := <-done; err != nil {
		t.Fatalf("UpdateQps: %v", err)
	}
}

func TestUpdateQpsRejectsNonPositive(t *testing.T) {
	core, _ := newTestCore(1, true)
	if err := core.UpdateQps(context.Background(), 0); err == nil {
		t.Fatal("expected error for qps=0")
	}
}

func TestInFlightLenTracksOutstandingRequests(t *testing.T) {
	core, _ := newTestCore(1, true)
	ctx := context.Background()

	req := core.StartReq(ctx)
	if got := core.InFlightLen(); got != 1 {
		t.Errorf("InFlightLen = %d, want 1", got)
	}
	core.FiniReq(Response{ID: req.ID, SvcNs: 1})
	if got := core.InFlightLen(); got != 0 {
		t.Errorf("InFlightLen after FiniReq = %d, want 0", got)
	}
}
