// Package clientcore implements the RequestTable and ClientCore named in
// spec.md §4.3: the phase state machine, the startup barrier, request ID
// allocation, and the queue/service/sojourn decomposition on response
// arrival.
package clientcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/tbench-client/internal/arrival"
	"github.com/simeonmiteff/tbench-client/internal/clock"
	"github.com/simeonmiteff/tbench-client/internal/latency"
)

// Phase is the client's monotonic lifecycle stage (spec.md §3).
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseWarmup
	PhaseROI
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseWarmup:
		return "WARMUP"
	case PhaseROI:
		return "ROI"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// Request is an in-flight unit tracked by the RequestTable (spec.md §3).
type Request struct {
	ID      uint64
	GenNs   int64
	Payload []byte
}

// Response is what the caller passes to FiniReq once a reply has arrived
// off the wire.
type Response struct {
	ID    uint64
	SvcNs int64
}

// BodyGenFunc fills buf with a request body and returns its length. It is
// the external request-body generator named in spec.md §1 as out of scope;
// ClientCore invokes it with its lock released, per the design note in
// spec.md §9 ("an implementation may hoist the body generation outside the
// lock provided ID allocation and genNs assignment remain atomic with
// respect to each other").
type BodyGenFunc func(buf []byte) int

// MaxReqBytes bounds the payload BodyGenFunc may produce (spec.md §3).
const MaxReqBytes = 4096

// ArrivalFactory builds the ArrivalDist exactly once, under Core's lock,
// the first time a worker reaches the second startup barrier. It receives
// the current monotonic time as the distribution's start anchor.
type ArrivalFactory func(startNs int64) arrival.Dist

// Core is the coordinator described in spec.md §4.3: it owns the
// RequestTable, the Phase, the ArrivalDist, and the three sample vectors
// behind a single exclusive lock, released across blocking operations
// (spec.md §5).
type Core struct {
	clock   clock.Clock
	bodyGen BodyGenFunc
	factory ArrivalFactory

	minSleepNs int64
	closedLoop bool

	nthreads int
	barrier1 *barrier
	barrier2 *barrier

	mu          sync.Mutex
	phase       Phase
	dist        arrival.Dist
	startedReqs uint64
	inFlight    map[uint64]*Request
	accum       latency.Accumulator

	log logrus.FieldLogger
}

// Config bundles Core's construction-time parameters.
type Config struct {
	Clock       clock.Clock
	BodyGen     BodyGenFunc
	Factory     ArrivalFactory
	NThreads    int
	ClosedLoop  bool
	MinSleepNs  int64
	Log         logrus.FieldLogger
}

// New constructs a Core in PhaseInit, sized for NThreads workers.
func New(cfg Config) *Core {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Core{
		clock:      cfg.Clock,
		bodyGen:    cfg.BodyGen,
		factory:    cfg.Factory,
		nthreads:   cfg.NThreads,
		closedLoop: cfg.ClosedLoop,
		minSleepNs: cfg.MinSleepNs,
		barrier1:   newBarrier(cfg.NThreads),
		barrier2:   newBarrier(cfg.NThreads),
		phase:      PhaseInit,
		inFlight:   make(map[uint64]*Request),
		log:        log,
	}
}

// Phase returns the current lifecycle phase.
func (c *Core) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// StartReq allocates and times a new request, per spec.md §4.3. The first
// call from each worker blocks at the startup barrier; the first worker
// past it initialises the ArrivalDist and transitions INIT→WARMUP, then
// all workers proceed past a second barrier. Every call (including the
// first) then allocates an ID, fills a payload, computes genNs, inserts
// into the table, and sleeps until genNs before returning.
func (c *Core) StartReq(ctx context.Context) *Request {
	c.mu.Lock()
	if c.phase == PhaseInit {
		c.mu.Unlock()

		c.barrier1.wait() // all workers have started up

		c.mu.Lock()
		if c.dist == nil {
			startNs := c.clock.NowNs()
			c.dist = c.factory(startNs)
			c.phase = PhaseWarmup
			c.log.WithField("startNs", startNs).Info("clientcore: ArrivalDist initialised, phase=WARMUP")
		}
		c.mu.Unlock()

		c.barrier2.wait() // ArrivalDist is now visible to every worker
		c.mu.Lock()
	}

	payload := make([]byte, MaxReqBytes)
	c.mu.Unlock()
	// The body generator runs with the lock released (spec.md §9); only ID
	// allocation and genNs assignment need to be atomic with each other.
	n := c.bodyGen(payload)
	payload = payload[:n]

	c.mu.Lock()
	id := c.startedReqs
	c.startedReqs++

	curNs := c.clock.NowNs()
	genNs := c.dist.NextArrivalNs(curNs)

	req := &Request{ID: id, GenNs: genNs, Payload: payload}
	c.inFlight[id] = req
	c.mu.Unlock()

	if curNs < genNs {
		target := genNs
		if c.closedLoop && c.minSleepNs > 0 {
			if alt := curNs + c.minSleepNs; alt > target {
				target = alt
			}
		}
		c.clock.SleepUntil(ctx, target)
	}

	return req
}

// FiniReq looks up the request by ID and, if currently in ROI, records its
// latency sample. Absence from the table is a protocol error and is fatal
// (spec.md §4.3, §7 class 3).
func (c *Core) FiniReq(resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.inFlight[resp.ID]
	if !ok {
		c.log.WithField("id", resp.ID).Fatal("clientcore: response ID absent from RequestTable (protocol desync)")
	}

	if c.phase == PhaseROI {
		now := c.clock.NowNs()
		if now > req.GenNs {
			sojourn := now - req.GenNs
			if resp.SvcNs > sojourn {
				c.log.WithFields(logrus.Fields{
					"id": resp.ID, "svcNs": resp.SvcNs, "sojournNs": sojourn,
				}).Fatal("clientcore: svcNs exceeds sojournNs (protocol error)")
			}
			queue := sojourn - resp.SvcNs
			c.accum.Append(latency.Sample{QueueNs: queue, SvcNs: resp.SvcNs, SojournNs: sojourn})
		}
	}

	delete(c.inFlight, resp.ID)
}

// StartRoi transitions WARMUP→ROI and clears the sample vectors. Calling
// outside WARMUP, or calling twice, is fatal (spec.md §4.3, §5).
func (c *Core) StartRoi() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseWarmup {
		c.log.WithField("phase", c.phase).Fatal("clientcore: StartRoi called outside WARMUP")
	}
	c.phase = PhaseROI
	c.accum.Clear()
}

// UpdateQps blocks (polling) until the ArrivalDist exists, then rewrites
// its rate (spec.md §4.3). qps must be > 0.
func (c *Core) UpdateQps(ctx context.Context, qps float64) error {
	if qps <= 0 {
		return fmt.Errorf("clientcore: UpdateQps requires qps > 0, got %v", qps)
	}

	for {
		c.mu.Lock()
		d := c.dist
		c.mu.Unlock()
		if d != nil {
			// The open-loop distribution has no interval to rewrite; it
			// takes the new rate through Rebuild instead.
			if e, ok := d.(*arrival.Exponential); ok {
				e.Rebuild(qps / 1e9)
				return nil
			}
			intervalNs := int64(1e9 / qps)
			return d.UpdateInterval(intervalNs)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Snapshot returns the current percentile summary and clears the
// accumulator, matching the dumper's "snapshot then clear" contract
// (spec.md §4.7).
func (c *Core) Snapshot() (latency.Percentiles, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.accum.SnapshotPercentiles()
	if ok {
		c.accum.Clear()
	}
	return p, ok
}

// DumpBinary persists the accumulator's raw samples to path (spec.md §4.4,
// §6). Unlike Snapshot, it does not clear — it is called once at process
// termination.
func (c *Core) DumpBinary(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accum.DumpBinary(path)
}

// StartedReqs returns the total number of IDs allocated so far.
func (c *Core) StartedReqs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedReqs
}

// InFlightLen returns the number of requests awaiting a response; exported
// for the optional Prometheus gauge (internal/metrics).
func (c *Core) InFlightLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}
