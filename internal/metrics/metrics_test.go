package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	started  uint64
	inFlight int
}

func (f fakeSource) StartedReqs() uint64 { return f.started }
func (f fakeSource) InFlightLen() int    { return f.inFlight }

func TestCollectorExposesCounters(t *testing.T) {
	c := New(fakeSource{started: 42, inFlight: 3}, func() (float64, float64, float64, bool) {
		return 1.5, 2.5, 3.5, true
	})

	count := testutil.CollectAndCount(c)
	if count == 0 {
		t.Fatal("expected at least one metric")
	}
}

func TestCollectorSkipsLatencyGaugesWhenEmpty(t *testing.T) {
	c := New(fakeSource{}, func() (float64, float64, float64, bool) {
		return 0, 0, 0, false
	})

	count := testutil.CollectAndCount(c)
	// startedReqs + inFlight only, no latency/tcp gauges.
	if count != 2 {
		t.Errorf("CollectAndCount = %d, want 2", count)
	}
}
