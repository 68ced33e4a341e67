// Package events latches asynchronous control requests for consumption
// by the poll loop. Producers (the signal adapter, the config watcher)
// set flags at any time; the loop drains them exactly once at the start
// of each tick, so no request is observed twice or interleaves
// mid-evaluation.
package events

import (
	"sync"

	"github.com/sweeney/waterfuse/internal/logic"
)

// Batch is one tick's worth of drained requests.
type Batch struct {
	// Reset is non-nil if a reset was requested, with its reason.
	Reset *logic.ResetReason
	// Reload is true if a config reload was requested.
	Reload bool
	// Stats is true if a stats dump was requested.
	Stats bool
	// ForceTrip is true if an administrative trip was requested.
	ForceTrip bool
}

// Source is a set of one-shot latches. Safe for concurrent producers;
// Drain is called only by the poll loop.
type Source struct {
	mu        sync.Mutex
	reset     *logic.ResetReason
	reload    bool
	stats     bool
	forceTrip bool
}

// NewSource creates an empty latch set.
func NewSource() *Source {
	return &Source{}
}

// RequestReset latches a reset request. A later request overwrites the
// reason of an unconsumed earlier one.
func (s *Source) RequestReset(reason logic.ResetReason) {
	s.mu.Lock()
	r := reason
	s.reset = &r
	s.mu.Unlock()
}

// RequestReload latches a config reload request.
func (s *Source) RequestReload() {
	s.mu.Lock()
	s.reload = true
	s.mu.Unlock()
}

// RequestStats latches a stats dump request.
func (s *Source) RequestStats() {
	s.mu.Lock()
	s.stats = true
	s.mu.Unlock()
}

// RequestForceTrip latches an administrative trip request.
func (s *Source) RequestForceTrip() {
	s.mu.Lock()
	s.forceTrip = true
	s.mu.Unlock()
}

// Drain returns all latched requests and clears them in one critical
// section.
func (s *Source) Drain() Batch {
	s.mu.Lock()
	b := Batch{
		Reset:     s.reset,
		Reload:    s.reload,
		Stats:     s.stats,
		ForceTrip: s.forceTrip,
	}
	s.reset = nil
	s.reload = false
	s.stats = false
	s.forceTrip = false
	s.mu.Unlock()
	return b
}
