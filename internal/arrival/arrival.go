// Package arrival implements the two arrival-process generators named in
// spec.md §4.1: an open-loop exponential (Poisson) process and a
// closed-loop fixed-interval process. Both satisfy the Dist interface so
// ClientCore can treat them polymorphically, per spec.md §9's "tagged
// variant" note.
package arrival

import (
	"errors"
	"math"
	"math/rand"
	"sync"
)

// ErrUnsupported is returned by UpdateInterval on distributions that don't
// support a live rate change in the reference design (the open-loop
// exponential distribution). Exponential.Rebuild is the documented
// escape hatch (spec.md §9 open question).
var ErrUnsupported = errors.New("arrival: UpdateInterval not supported by this distribution")

// Dist produces a non-decreasing sequence of emission timestamps in
// nanoseconds.
type Dist interface {
	// NextArrivalNs returns the next timestamp at which a request should be
	// emitted. nowNs is required by the closed-loop variant and ignored by
	// the open-loop variant.
	NextArrivalNs(nowNs int64) int64
	// UpdateInterval rewrites the distribution's rate in place; the next
	// call to NextArrivalNs uses the new rate.
	UpdateInterval(ns int64) error
}

// Closed is the closed-loop fixed-interval distribution (spec.md §4.1).
// Calling nextArrivalNs without "now" is a programming error in the
// reference design; in Go, NextArrivalNs always requires nowNs, so that
// misuse class doesn't exist here.
type Closed struct {
	mu       sync.Mutex
	interval int64
	curNs    int64
}

// NewClosed constructs a closed-loop distribution with the given fixed
// interval, anchored at startNs.
func NewClosed(intervalNs int64, startNs int64) *Closed {
	return &Closed{interval: intervalNs, curNs: startNs}
}

// NextArrivalNs advances curNs by the interval; if the result lies in the
// past relative to now, it clamps to now rather than accumulating a
// backlog of missed deadlines (spec.md §3 invariants, §4.1).
func (c *Closed) NextArrivalNs(nowNs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.curNs += c.interval
	if c.curNs < nowNs {
		c.curNs = nowNs
		return nowNs
	}
	return c.curNs
}

// UpdateInterval rewrites the interval used by subsequent calls to
// NextArrivalNs.
func (c *Closed) UpdateInterval(ns int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = ns
	return nil
}

// Exponential is the open-loop Poisson-arrival distribution (spec.md
// §4.1). It is independent of wall time: arrivals may fall arbitrarily far
// behind if the server is slow, since NextArrivalNs never looks at "now".
type Exponential struct {
	mu     sync.Mutex
	rng    *rand.Rand
	lambda float64 // requests per nanosecond
	curNs  int64
}

// NewExponential constructs an open-loop distribution with rate
// lambdaPerNs requests/ns, seeded deterministically from seed, anchored at
// startNs.
func NewExponential(lambdaPerNs float64, seed int64, startNs int64) *Exponential {
	return &Exponential{
		rng:    rand.New(rand.NewSource(seed)),
		lambda: lambdaPerNs,
		curNs:  startNs,
	}
}

// NextArrivalNs draws an exponentially distributed inter-arrival delta and
// advances curNs by it. nowNs is ignored, matching the reference design.
func (e *Exponential) NextArrivalNs(int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	delta := e.rng.ExpFloat64() / e.lambda
	e.curNs += int64(math.Round(delta))
	return e.curNs
}

// UpdateInterval is not supported by the reference open-loop design
// (dist.h's updateInterval asserts false); use Rebuild instead.
func (e *Exponential) UpdateInterval(int64) error {
	return ErrUnsupported
}

// Rebuild replaces this distribution's rate with a new lambda, continuing
// from the current timestamp. It is the rate-update path spec.md §9
// suggests implementations provide for the open-loop case, since
// UpdateInterval is unsupported there.
func (e *Exponential) Rebuild(lambdaPerNs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lambda = lambdaPerNs
}
