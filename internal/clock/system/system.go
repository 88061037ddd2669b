// Package system provides clocks for stamping crawl runs and stored records.
package system

import (
	"sync"
	"time"
)

// Clock implements crawler.Clock using the wall clock in UTC.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a manually advanced clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock stopped at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

// Now returns the stored time.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
