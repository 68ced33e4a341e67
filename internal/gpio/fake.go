package gpio

import (
	"sync"
	"sync/atomic"
)

// FakeCounter is a test double whose total can be advanced by the
// test, concurrently if desired.
type FakeCounter struct {
	total atomic.Uint64

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeCounter creates a FakeCounter starting at the given total.
func NewFakeCounter(start uint64) *FakeCounter {
	c := &FakeCounter{}
	c.total.Store(start)
	return c
}

// Pulse adds n pulses, standing in for the edge interrupt.
func (c *FakeCounter) Pulse(n uint64) {
	c.total.Add(n)
}

// Set forces the total to v, for wraparound tests.
func (c *FakeCounter) Set(v uint64) {
	c.total.Store(v)
}

// Read returns the current total.
func (c *FakeCounter) Read() uint64 {
	return c.total.Load()
}

// Close marks the counter as closed.
func (c *FakeCounter) Close() error {
	c.Closed = true
	return nil
}

// FakeRelay records open/close commands.
type FakeRelay struct {
	// IsOpen is the current commanded position.
	IsOpen bool

	// Opens and Closes count commands, including redundant ones.
	Opens  int
	Closes int

	// OpenErr and CloseErr, if set, are returned by the respective calls.
	OpenErr  error
	CloseErr error

	// Released tracks if Release was called.
	Released bool
}

// NewFakeRelay creates a relay in the open (flow allowed) position.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{IsOpen: true}
}

// Open records an open command.
func (r *FakeRelay) Open() error {
	r.Opens++
	if r.OpenErr != nil {
		return r.OpenErr
	}
	r.IsOpen = true
	return nil
}

// Close records a close command.
func (r *FakeRelay) Close() error {
	r.Closes++
	if r.CloseErr != nil {
		return r.CloseErr
	}
	r.IsOpen = false
	return nil
}

// Release marks the relay as released.
func (r *FakeRelay) Release() error {
	r.Released = true
	return nil
}

// FakeButton returns a scripted pressed level. Safe for the test to
// flip the level while the loop under test is polling it.
type FakeButton struct {
	mu   sync.Mutex
	down bool

	// Err, if set, is returned by Pressed.
	Err error

	// Closed tracks if Close was called.
	Closed bool
}

// SetDown scripts the level returned by Pressed.
func (b *FakeButton) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// Pressed returns the scripted level.
func (b *FakeButton) Pressed() (bool, error) {
	if b.Err != nil {
		return false, b.Err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down, nil
}

// Close marks the button as closed.
func (b *FakeButton) Close() error {
	b.Closed = true
	return nil
}
