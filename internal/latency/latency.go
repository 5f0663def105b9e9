// Package latency implements the LatencyAccumulator named in spec.md §4.4:
// three parallel sample vectors, on-demand percentile computation, and a
// raw binary dump format.
package latency

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// Sample is a single (queue, service, sojourn) triple. queue + svc ==
// sojourn must hold for every appended sample (spec.md §3).
type Sample struct {
	QueueNs   int64
	SvcNs     int64
	SojournNs int64
}

// Percentiles holds the p50/p95/p99 sojourn latency in milliseconds.
type Percentiles struct {
	P50 float64
	P95 float64
	P99 float64
}

// Accumulator holds three equal-length sequences of nanosecond samples.
// It is not safe for concurrent use by itself — ClientCore serialises
// access to it under its own lock (spec.md §4.3, §5).
type Accumulator struct {
	queueNs   []int64
	svcNs     []int64
	sojournNs []int64
}

// Append pushes one sample onto all three sequences.
func (a *Accumulator) Append(s Sample) {
	a.queueNs = append(a.queueNs, s.QueueNs)
	a.svcNs = append(a.svcNs, s.SvcNs)
	a.sojournNs = append(a.sojournNs, s.SojournNs)
}

// Len reports the number of recorded samples.
func (a *Accumulator) Len() int {
	return len(a.sojournNs)
}

// Clear empties all three sequences.
func (a *Accumulator) Clear() {
	a.queueNs = a.queueNs[:0]
	a.svcNs = a.svcNs[:0]
	a.sojournNs = a.sojournNs[:0]
}

// SnapshotPercentiles sorts a copy of the sojourn vector ascending and
// reports p50/p95/p99 in milliseconds, per the index formula
// ⌊N·p/100⌋ (spec.md §4.4, §8). ok is false when no samples are recorded.
func (a *Accumulator) SnapshotPercentiles() (p Percentiles, ok bool) {
	n := len(a.sojournNs)
	if n == 0 {
		return Percentiles{}, false
	}

	sorted := make([]int64, n)
	copy(sorted, a.sojournNs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := func(pct int) int64 {
		return sorted[n*pct/100]
	}

	const nsPerMs = 1e6
	return Percentiles{
		P50: float64(idx(50)) / nsPerMs,
		P95: float64(idx(95)) / nsPerMs,
		P99: float64(idx(99)) / nsPerMs,
	}, true
}

// DumpBinary writes, for each recorded sample in insertion order, the
// triple (queueNs, svcNs, sojournNs) as three consecutive little-endian
// uint64s — 24 bytes per record, no header, no footer (spec.md §4.4, §6).
func (a *Accumulator) DumpBinary(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("latency: creating %s: %w", path, err)
	}
	defer f.Close()

	n := len(a.sojournNs)
	buf := make([]byte, 24*n)
	for r := 0; r < n; r++ {
		off := r * 24
		binary.LittleEndian.PutUint64(buf[off:], uint64(a.queueNs[r]))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(a.svcNs[r]))
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(a.sojournNs[r]))
	}

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("latency: writing %s: %w", path, err)
	}
	return f.Sync()
}

// LoadBinary reads back a file written by DumpBinary, in insertion order.
// Used by tests verifying the round-trip law (spec.md §8) and is not
// needed by the production client itself.
func LoadBinary(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("latency: reading %s: %w", path, err)
	}
	if len(data)%24 != 0 {
		return nil, fmt.Errorf("latency: %s has size %d, not a multiple of 24", path, len(data))
	}

	n := len(data) / 24
	samples := make([]Sample, n)
	for r := 0; r < n; r++ {
		off := r * 24
		samples[r] = Sample{
			QueueNs:   int64(binary.LittleEndian.Uint64(data[off:])),
			SvcNs:     int64(binary.LittleEndian.Uint64(data[off+8:])),
			SojournNs: int64(binary.LittleEndian.Uint64(data[off+16:])),
		}
	}
	return samples, nil
}
