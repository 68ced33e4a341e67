// Package gpio provides the hardware boundary with abstraction for
// testing: a pulse counter fed by a rising-edge interrupt, a relay
// output, and a pulled-up reset button. The real implementation uses
// the Linux GPIO character device; fakes allow testing without
// hardware.
package gpio

// PulseCounter exposes the cumulative pulse total. Incrementing
// happens internally on the edge-event context and is never exposed;
// session accounting is entirely the monitor's job via delta tracking.
type PulseCounter interface {
	// Read returns the current total. Safe to call concurrently with
	// pulse delivery; callable from the poll loop only.
	Read() uint64

	// Close releases the underlying line.
	Close() error
}

// Relay drives the pump/valve cutoff output. Open allows flow, Close
// cuts it. Calls are idempotent at the physical layer.
type Relay interface {
	Open() error
	Close() error

	// Release frees the underlying line without changing its state.
	Release() error
}

// Button reads the manual reset button, level-sensed.
type Button interface {
	// Pressed returns true while the button is held (active low).
	Pressed() (bool, error)

	Close() error
}

// Pin definitions (BCM numbering).
const (
	DefaultPinFlow   = 17 // flow meter pulse input
	DefaultPinRelay  = 18 // pump power relay output
	DefaultPinButton = 27 // manual reset button, pull-up
)
