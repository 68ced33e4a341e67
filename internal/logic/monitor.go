package logic

import (
	"time"

	"github.com/rs/zerolog"
)

// Monitor is the flow-monitoring state machine. It is single-threaded:
// Tick must be called from one goroutine on a fixed cadence and is
// never invoked concurrently with itself.
type Monitor struct {
	cfg     Thresholds
	relay   Relay
	sink    StatusWriter
	log     zerolog.Logger
	state   State
	session Session
}

// NewMonitor creates a monitor in the Idle state. The caller is
// responsible for opening the relay before the first tick.
func NewMonitor(cfg Thresholds, relay Relay, sink StatusWriter, log zerolog.Logger, start time.Time) *Monitor {
	return &Monitor{
		cfg:   cfg,
		relay: relay,
		sink:  sink,
		log:   log,
		state: StateIdle,
		session: Session{
			FirstPulse: start,
			LastPulse:  start,
		},
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	return m.state
}

// Thresholds returns the active policy snapshot.
func (m *Monitor) Thresholds() Thresholds {
	return m.cfg
}

// Stats returns a point-in-time summary of the session.
func (m *Monitor) Stats(now time.Time) Stats {
	return Stats{
		State:          m.state,
		SessionPulses:  m.session.Pulses,
		Litres:         m.litres(),
		SinceFirst:     now.Sub(m.session.FirstPulse),
		SinceLastPulse: now.Sub(m.session.LastPulse),
	}
}

// Tick evaluates one poll interval. Order matters: counter delta first,
// then reload, then reset (which preempts all other evaluation), then
// the per-state transition, then the administrative stats/force-trip
// requests.
func (m *Monitor) Tick(in Input) {
	// Unsigned subtraction keeps the delta well-defined across a
	// counter wrap.
	newPulses := in.Total - m.session.LastObserved
	m.session.LastObserved = in.Total

	if in.Reload != nil {
		m.cfg = *in.Reload
		m.log.Info().
			Int("clicks_per_litre", m.cfg.PulsesPerLitre).
			Int("max_litres", m.cfg.MaxLitres).
			Dur("max_duration", m.cfg.MaxDuration).
			Dur("idle_timeout", m.cfg.IdleTimeout).
			Msg("thresholds reloaded")
	}

	m.log.Trace().
		Uint64("total", in.Total).
		Uint64("new", newPulses).
		Uint64("session", m.session.Pulses).
		Str("state", string(m.state)).
		Msg("tick")

	reset := in.Reset
	if m.state == StateTriggered && in.ButtonPressed {
		// Physical button wins over a latched operator request.
		r := ResetButton
		reset = &r
	}

	switch {
	case reset != nil:
		m.reset(*reset, in.Now)

	case m.state == StateIdle:
		if newPulses > 0 {
			m.state = StateCounting
			m.session.FirstPulse = in.Now
			m.session.LastPulse = in.Now
			m.session.Pulses += newPulses
			m.log.Debug().Uint64("pulses", newPulses).Msg("flow started, counting")
		}

	case m.state == StateCounting:
		if newPulses == 0 {
			if in.Now.Sub(m.session.LastPulse) > m.cfg.IdleTimeout {
				// Quiet session: back to Idle without tripping. The
				// relay is not touched.
				m.state = StateIdle
				m.session.Pulses = 0
				m.session.FirstPulse = in.Now
				m.session.LastPulse = in.Now
				m.log.Debug().Msg("flow ceased, session abandoned")
			}
		} else {
			m.session.LastPulse = in.Now
			m.session.Pulses += newPulses
			litres := m.litres()
			elapsed := m.session.LastPulse.Sub(m.session.FirstPulse)

			var reason TripReason
			if litres > m.cfg.MaxLitres {
				reason = TripVolume
			}
			if elapsed > m.cfg.MaxDuration {
				// Duration overwrites volume when both trip on the
				// same tick.
				reason = TripDuration
			}
			if reason != "" {
				m.trip(reason, litres, elapsed)
			}
		}

	case m.state == StateTriggered:
		// Sticky: no threshold evaluation until a reset.
	}

	if in.StatsRequested {
		s := m.Stats(in.Now)
		m.log.Info().
			Str("state", string(s.State)).
			Uint64("session_pulses", s.SessionPulses).
			Int("litres", s.Litres).
			Dur("since_first_pulse", s.SinceFirst).
			Dur("since_last_pulse", s.SinceLastPulse).
			Msg("stats")
	}

	if in.ForceTrip {
		m.forceTrip()
	}
}

func (m *Monitor) litres() int {
	if m.cfg.PulsesPerLitre <= 0 {
		return 0
	}
	return int(m.session.Pulses / uint64(m.cfg.PulsesPerLitre))
}

// reset returns to Idle with the session cleared and the relay open.
func (m *Monitor) reset(reason ResetReason, now time.Time) {
	m.state = StateIdle
	m.session.Pulses = 0
	m.session.FirstPulse = now
	m.session.LastPulse = now

	if err := m.relay.Open(); err != nil {
		m.log.Error().Err(err).Msg("open relay")
	}
	m.writeStatus(StatusRecord{Phase: PhaseStarted, Reason: string(reason)})
	m.log.Info().Str("reason", string(reason)).Msg("pump on after reset")
}

func (m *Monitor) trip(reason TripReason, litres int, elapsed time.Duration) {
	m.state = StateTriggered
	if err := m.relay.Close(); err != nil {
		m.log.Error().Err(err).Msg("close relay")
	}
	m.writeStatus(StatusRecord{Phase: PhaseStopped, Reason: string(reason)})
	m.log.Info().
		Str("reason", string(reason)).
		Int("litres", litres).
		Dur("elapsed", elapsed).
		Uint64("session_pulses", m.session.Pulses).
		Msg("pump off")
}

// forceTrip closes the relay regardless of state or thresholds.
func (m *Monitor) forceTrip() {
	m.state = StateTriggered
	if err := m.relay.Close(); err != nil {
		m.log.Error().Err(err).Msg("close relay")
	}
	m.writeStatus(StatusRecord{Phase: PhaseStopped, Reason: string(TripForced)})
	m.log.Info().Str("reason", string(TripForced)).Msg("pump off")
}

func (m *Monitor) writeStatus(rec StatusRecord) {
	if m.sink == nil {
		return
	}
	if err := m.sink.WriteStatus(rec); err != nil {
		// Best-effort: a failed status write never stops monitoring.
		m.log.Error().Err(err).Msg("write status")
	}
}
