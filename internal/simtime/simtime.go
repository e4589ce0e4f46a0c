// Package simtime provides mission time: sols and millisols of a simulated Mars day.
package simtime

import (
	"fmt"
	"math"
	"sync"

	"github.com/talgya/mars-colony/internal/simerr"
)

// MillisolsPerSol is the length of one sol.
const MillisolsPerSol = 1000.0

// SimTime is a point in mission time. Millisol is always in [0, 1000).
type SimTime struct {
	Sol      uint64  `json:"sol"`
	Millisol float64 `json:"millisol"`
}

// Advance returns t moved forward by delta millisols. Rollover past the end of
// a sol increments Sol by one per full sol crossed and wraps Millisol.
// A zero, negative, or non-finite delta is rejected with ErrInvalidArgument.
func Advance(t SimTime, delta float64) (SimTime, error) {
	if !(delta > 0) || math.IsInf(delta, 0) {
		return t, fmt.Errorf("advance by %v millisols: %w", delta, simerr.ErrInvalidArgument)
	}

	total := t.Millisol + delta
	sols := math.Floor(total / MillisolsPerSol)
	ms := total - sols*MillisolsPerSol
	// Float rounding can land exactly on the boundary.
	if ms >= MillisolsPerSol {
		ms -= MillisolsPerSol
		sols++
	}
	if ms < 0 {
		ms = 0
	}

	// 2^64 is exactly representable; anything at or above it cannot convert.
	if sols >= math.Exp2(64) || uint64(sols) > math.MaxUint64-t.Sol {
		return t, fmt.Errorf("advance by %v millisols overflows the sol counter: %w", delta, simerr.ErrInvalidArgument)
	}
	return SimTime{Sol: t.Sol + uint64(sols), Millisol: ms}, nil
}

// Compare orders by sol, then millisol. It returns -1, 0 or +1.
func (t SimTime) Compare(o SimTime) int {
	switch {
	case t.Sol < o.Sol:
		return -1
	case t.Sol > o.Sol:
		return 1
	case t.Millisol < o.Millisol:
		return -1
	case t.Millisol > o.Millisol:
		return 1
	}
	return 0
}

// Before reports whether t is strictly earlier than o.
func (t SimTime) Before(o SimTime) bool { return t.Compare(o) < 0 }

// MillisolInt is the millisol of day truncated to an integer, as stamped on activities.
func (t SimTime) MillisolInt() int {
	return int(t.Millisol)
}

// Total returns the time as a count of millisols since sol 0.
func (t SimTime) Total() float64 {
	return float64(t.Sol)*MillisolsPerSol + t.Millisol
}

// String renders the time as "Sol 12 0345.250".
func (t SimTime) String() string {
	return fmt.Sprintf("Sol %d %08.3f", t.Sol, t.Millisol)
}

// Clock holds the current mission time for one world. It is advanced only by
// the tick loop and may be read from any goroutine.
type Clock struct {
	mu  sync.RWMutex
	now SimTime
}

// NewClock creates a clock starting at the given time.
func NewClock(start SimTime) *Clock {
	return &Clock{now: start}
}

// Now returns the current time.
func (c *Clock) Now() SimTime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward and returns the new time.
func (c *Clock) Advance(delta float64) (SimTime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Advance(c.now, delta)
	if err != nil {
		return c.now, err
	}
	c.now = next
	return next, nil
}

// Set replaces the current time. Used when restoring a saved world.
func (c *Clock) Set(t SimTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
