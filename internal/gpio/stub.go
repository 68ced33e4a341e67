//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealCounter is not available on non-Linux platforms.
type RealCounter struct{}

// NewRealCounter returns an error on non-Linux platforms.
func NewRealCounter(pin int) (*RealCounter, error) { return nil, errUnsupported }

func (c *RealCounter) Read() uint64 { return 0 }
func (c *RealCounter) Close() error { return nil }

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(pin int) (*RealRelay, error) { return nil, errUnsupported }

func (r *RealRelay) Open() error    { return errUnsupported }
func (r *RealRelay) Close() error   { return errUnsupported }
func (r *RealRelay) Release() error { return nil }

// RealButton is not available on non-Linux platforms.
type RealButton struct{}

// NewRealButton returns an error on non-Linux platforms.
func NewRealButton(pin int) (*RealButton, error) { return nil, errUnsupported }

func (b *RealButton) Pressed() (bool, error) { return false, errUnsupported }
func (b *RealButton) Close() error           { return nil }
