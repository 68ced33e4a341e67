//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

const chipName = "gpiochip0"

// RealCounter counts rising edges on the flow meter pin. The edge
// handler runs on the gpiocdev event goroutine and does nothing but an
// atomic increment, so it never blocks event delivery.
type RealCounter struct {
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	total atomic.Uint64
}

// NewRealCounter requests the flow meter pin with rising-edge event
// delivery. Failure here is fatal to the caller: monitoring without
// pulse interrupts is meaningless.
func NewRealCounter(pin int) (*RealCounter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	c := &RealCounter{chip: chip}
	line, err := chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(c.handleEdge))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request flow pin %d: %w", pin, err)
	}
	c.line = line
	return c, nil
}

// handleEdge runs on the event-delivery goroutine. Must not block and
// must not allocate.
func (c *RealCounter) handleEdge(gpiocdev.LineEvent) {
	c.total.Add(1)
}

// Read returns the cumulative pulse total.
func (c *RealCounter) Read() uint64 {
	return c.total.Load()
}

// Close releases the flow pin and chip.
func (c *RealCounter) Close() error {
	var errs []error
	if c.line != nil {
		if err := c.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close flow pin: %w", err))
		}
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealRelay drives the pump relay output. The line is requested
// already high: power stays on through process restarts unless the
// monitor decides otherwise.
type RealRelay struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealRelay requests the relay pin as an output driven high.
func NewRealRelay(pin int) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}
	return &RealRelay{chip: chip, line: line}, nil
}

// Open drives the relay high, allowing flow.
func (r *RealRelay) Open() error {
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("set relay high: %w", err)
	}
	return nil
}

// Close drives the relay low, cutting power.
func (r *RealRelay) Close() error {
	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("set relay low: %w", err)
	}
	return nil
}

// Release frees the line without changing the output value, so the
// relay holds its last commanded state across a restart.
func (r *RealRelay) Release() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}

// RealButton reads the manual reset button through an internal
// pull-up; pressing it pulls the line to ground.
type RealButton struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealButton requests the button pin as an input with pull-up.
func NewRealButton(pin int) (*RealButton, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pin, err)
	}
	return &RealButton{chip: chip, line: line}, nil
}

// Pressed returns true while the button is held. Active low.
func (b *RealButton) Pressed() (bool, error) {
	v, err := b.line.Value()
	if err != nil {
		return false, fmt.Errorf("read button pin: %w", err)
	}
	return v == 0, nil
}

// Close releases the button pin and chip.
func (b *RealButton) Close() error {
	var errs []error
	if b.line != nil {
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
