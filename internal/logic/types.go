// Package logic contains pure business logic for flow monitoring.
// This package has NO hardware or OS dependencies (no GPIO, no files,
// no time.Sleep). Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the monitor's current phase.
type State string

const (
	// StateIdle means no flow has been observed recently.
	StateIdle State = "IDLE"
	// StateCounting means a flow session is in progress.
	StateCounting State = "COUNTING"
	// StateTriggered means the relay has been closed and stays closed
	// until an explicit reset.
	StateTriggered State = "TRIGGERED"
)

// TripReason records why the relay was closed.
type TripReason string

const (
	TripVolume   TripReason = "volume"
	TripDuration TripReason = "time"
	TripForced   TripReason = "forced"
)

// ResetReason records who asked for the relay to be reopened.
type ResetReason string

const (
	ResetButton   ResetReason = "button"
	ResetOperator ResetReason = "operator"
)

// Status record phases.
const (
	PhaseStarted = "started"
	PhaseStopped = "stopped"
)

// StatusRecord is the single durable status of the fuse. It is
// overwritten in full on every transition, never appended.
type StatusRecord struct {
	Phase  string
	Reason string
}

// Thresholds is the active policy snapshot. A reload swaps the whole
// value; past ticks are never re-evaluated under new thresholds.
type Thresholds struct {
	// PulsesPerLitre calibrates the flow meter.
	PulsesPerLitre int
	// MaxLitres is the session volume above which the relay trips.
	MaxLitres int
	// MaxDuration is the session length above which the relay trips.
	MaxDuration time.Duration
	// IdleTimeout is the quiescent period after which a session is
	// abandoned without tripping.
	IdleTimeout time.Duration
}

// Session tracks the current flow session.
type Session struct {
	// FirstPulse is when the session's first pulse was observed.
	FirstPulse time.Time
	// LastPulse is when a pulse was last observed.
	LastPulse time.Time
	// LastObserved is the raw counter value at the previous tick, so
	// new pulses are always a well-defined unsigned delta.
	LastObserved uint64
	// Pulses accumulated since the session began.
	Pulses uint64
}

// Input is a single tick's view of the outside world, gathered by the
// run loop before calling Tick.
type Input struct {
	Now time.Time
	// Total is the cumulative pulse counter value.
	Total uint64
	// ButtonPressed is the level-sensed reset button, checked while
	// triggered.
	ButtonPressed bool
	// Reset is a latched reset request, nil if none.
	Reset *ResetReason
	// Reload carries freshly loaded thresholds, nil if no reload was
	// requested this tick.
	Reload *Thresholds
	// StatsRequested asks for a stats dump without altering state.
	StatsRequested bool
	// ForceTrip closes the relay regardless of state or thresholds.
	ForceTrip bool
}

// Stats is a point-in-time summary emitted on request.
type Stats struct {
	State          State
	SessionPulses  uint64
	Litres         int
	SinceFirst     time.Duration
	SinceLastPulse time.Duration
}

// Relay abstracts the physical cutoff output. Open allows flow, Close
// cuts it. Both are idempotent.
type Relay interface {
	Open() error
	Close() error
}

// StatusWriter persists the current StatusRecord, best-effort.
type StatusWriter interface {
	WriteStatus(rec StatusRecord) error
}
