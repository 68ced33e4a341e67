package logic

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeRelay records commanded positions.
type fakeRelay struct {
	open     bool
	opens    int
	closes   int
	openErr  error
	closeErr error
}

func (r *fakeRelay) Open() error {
	r.opens++
	if r.openErr != nil {
		return r.openErr
	}
	r.open = true
	return nil
}

func (r *fakeRelay) Close() error {
	r.closes++
	if r.closeErr != nil {
		return r.closeErr
	}
	r.open = false
	return nil
}

// recordSink collects written status records.
type recordSink struct {
	records []StatusRecord
	err     error
}

func (s *recordSink) WriteStatus(rec StatusRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordSink) last(t *testing.T) StatusRecord {
	t.Helper()
	if len(s.records) == 0 {
		t.Fatal("no status records written")
	}
	return s.records[len(s.records)-1]
}

var testThresholds = Thresholds{
	PulsesPerLitre: 450,
	MaxLitres:      200,
	MaxDuration:    900 * time.Second,
	IdleTimeout:    600 * time.Second,
}

func newTestMonitor(cfg Thresholds) (*Monitor, *fakeRelay, *recordSink, time.Time) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	relay := &fakeRelay{open: true}
	sink := &recordSink{}
	m := NewMonitor(cfg, relay, sink, zerolog.Nop(), start)
	return m, relay, sink, start
}

// tripByVolume drives the monitor into TRIGGERED: one pulse to start
// the session, then a burst on the next tick. Returns the time of the
// trip tick.
func tripByVolume(t *testing.T, m *Monitor, start time.Time) time.Time {
	t.Helper()
	m.Tick(Input{Now: start, Total: 1})
	at := start.Add(time.Second)
	m.Tick(Input{Now: at, Total: 100_000})
	if m.State() != StateTriggered {
		t.Fatalf("expected TRIGGERED, got %s", m.State())
	}
	return at
}

func TestIdleToCountingOnPulse(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	m.Tick(Input{Now: start.Add(time.Second), Total: 0})
	if m.State() != StateIdle {
		t.Errorf("expected IDLE with no pulses, got %s", m.State())
	}

	m.Tick(Input{Now: start.Add(2 * time.Second), Total: 3})
	if m.State() != StateCounting {
		t.Errorf("expected COUNTING after pulses, got %s", m.State())
	}
	if got := m.Stats(start.Add(2 * time.Second)).SessionPulses; got != 3 {
		t.Errorf("expected 3 session pulses, got %d", got)
	}
	if !relay.open {
		t.Error("relay should remain open on Idle -> Counting")
	}
	if len(sink.records) != 0 {
		t.Errorf("no status record expected, got %v", sink.records)
	}
}

func TestLitresFloorDivision(t *testing.T) {
	cases := []struct {
		pulses uint64
		litres int
	}{
		{0, 0},
		{449, 0},
		{450, 1},
		{899, 1},
		{900, 2},
		{90500, 201},
	}
	for _, tc := range cases {
		m, _, _, start := newTestMonitor(testThresholds)
		m.Tick(Input{Now: start.Add(time.Second), Total: tc.pulses})
		if got := m.Stats(start.Add(time.Second)).Litres; got != tc.litres {
			t.Errorf("pulses=%d: expected %d litres, got %d", tc.pulses, tc.litres, got)
		}
	}
}

// Scenario: 90,500 pulses delivered within 10 seconds trips on volume
// (201 litres > 200) long before the duration limit.
func TestVolumeTrip(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	var total uint64
	for i := 1; i <= 10; i++ {
		total += 9050
		m.Tick(Input{Now: start.Add(time.Duration(i) * time.Second), Total: total})
	}

	if m.State() != StateTriggered {
		t.Fatalf("expected TRIGGERED, got %s", m.State())
	}
	if relay.open {
		t.Error("relay should be closed after volume trip")
	}
	rec := sink.last(t)
	if rec.Phase != PhaseStopped || rec.Reason != string(TripVolume) {
		t.Errorf("expected {stopped volume}, got {%s %s}", rec.Phase, rec.Reason)
	}
}

// Scenario: one pulse every 2 seconds stays far below the volume limit
// but trips on duration once the session passes 900 seconds.
func TestDurationTrip(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	var total uint64
	for i := 0; i <= 902; i++ {
		if i%2 == 0 {
			total++
		}
		m.Tick(Input{Now: start.Add(time.Duration(i) * time.Second), Total: total})
		if m.State() == StateTriggered {
			if i <= 900 {
				t.Fatalf("tripped too early at t=%ds", i)
			}
			break
		}
	}

	if m.State() != StateTriggered {
		t.Fatal("expected duration trip")
	}
	if relay.open {
		t.Error("relay should be closed after duration trip")
	}
	rec := sink.last(t)
	if rec.Phase != PhaseStopped || rec.Reason != string(TripDuration) {
		t.Errorf("expected {stopped time}, got {%s %s}", rec.Phase, rec.Reason)
	}
}

// When volume and duration are both exceeded on the same tick, duration
// wins.
func TestTripTieBreakDurationOverVolume(t *testing.T) {
	m, _, sink, start := newTestMonitor(testThresholds)

	// Start a session, then go quiet (but within the idle timeout) and
	// deliver a huge burst after the duration limit has elapsed.
	m.Tick(Input{Now: start, Total: 1})
	quiet := start.Add(599 * time.Second)
	m.Tick(Input{Now: quiet, Total: 1})
	m.Tick(Input{Now: start.Add(901 * time.Second), Total: 200_000})

	if m.State() != StateTriggered {
		t.Fatalf("expected TRIGGERED, got %s", m.State())
	}
	rec := sink.last(t)
	if rec.Reason != string(TripDuration) {
		t.Errorf("tie-break: expected reason %q, got %q", TripDuration, rec.Reason)
	}
}

func TestNoTripAtExactThresholds(t *testing.T) {
	cfg := testThresholds
	cfg.MaxLitres = 2
	cfg.MaxDuration = 10 * time.Second
	m, _, _, start := newTestMonitor(cfg)

	// Exactly 2 litres at exactly 10 seconds elapsed: both limits are
	// strict, so no trip.
	m.Tick(Input{Now: start, Total: 1})
	m.Tick(Input{Now: start.Add(10 * time.Second), Total: 900})

	if m.State() != StateCounting {
		t.Errorf("expected COUNTING at exact thresholds, got %s", m.State())
	}
}

// Scenario: a few pulses then silence returns to Idle after the idle
// timeout without tripping, and the relay never moves.
func TestIdleTimeoutAbandonsSession(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	m.Tick(Input{Now: start, Total: 5})
	if m.State() != StateCounting {
		t.Fatalf("expected COUNTING, got %s", m.State())
	}

	// Quiet for 600s: still counting (strict >).
	m.Tick(Input{Now: start.Add(600 * time.Second), Total: 5})
	if m.State() != StateCounting {
		t.Errorf("expected COUNTING at exactly the idle timeout, got %s", m.State())
	}

	m.Tick(Input{Now: start.Add(601 * time.Second), Total: 5})
	if m.State() != StateIdle {
		t.Errorf("expected IDLE after idle timeout, got %s", m.State())
	}
	if got := m.Stats(start.Add(601 * time.Second)).SessionPulses; got != 0 {
		t.Errorf("session pulses should be zeroed on entry to Idle, got %d", got)
	}
	if !relay.open {
		t.Error("relay must stay open through an idle timeout")
	}
	if relay.closes != 0 {
		t.Errorf("relay close commanded %d times, want 0", relay.closes)
	}
	if len(sink.records) != 0 {
		t.Errorf("no status record expected on timeout, got %v", sink.records)
	}
}

func TestTriggeredIsSticky(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	at := tripByVolume(t, m, start)
	wrote := len(sink.records)

	// Pour more water; nothing may change.
	m.Tick(Input{Now: at.Add(time.Second), Total: 500_000})
	m.Tick(Input{Now: at.Add(2 * time.Second), Total: 900_000})

	if m.State() != StateTriggered {
		t.Errorf("expected TRIGGERED to be sticky, got %s", m.State())
	}
	if relay.open {
		t.Error("relay must stay closed while triggered")
	}
	if len(sink.records) != wrote {
		t.Errorf("no further records expected, got %v", sink.records[wrote:])
	}
	if relay.opens != 0 {
		t.Errorf("relay open commanded %d times, want 0", relay.opens)
	}
}

// Scenario: the reset button reopens the relay on the same tick it is
// observed.
func TestButtonResetWhileTriggered(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	at := tripByVolume(t, m, start)
	resetAt := at.Add(time.Second)
	m.Tick(Input{Now: resetAt, Total: 100_000, ButtonPressed: true})

	if m.State() != StateIdle {
		t.Errorf("expected IDLE after button reset, got %s", m.State())
	}
	if !relay.open {
		t.Error("relay should reopen on the reset tick")
	}
	rec := sink.last(t)
	if rec.Phase != PhaseStarted || rec.Reason != string(ResetButton) {
		t.Errorf("expected {started button}, got {%s %s}", rec.Phase, rec.Reason)
	}
	if got := m.Stats(resetAt).SessionPulses; got != 0 {
		t.Errorf("session pulses should be zeroed on reset, got %d", got)
	}
}

func TestButtonIgnoredUnlessTriggered(t *testing.T) {
	m, _, sink, start := newTestMonitor(testThresholds)

	m.Tick(Input{Now: start, Total: 10, ButtonPressed: true})
	if m.State() != StateCounting {
		t.Errorf("button must not reset outside TRIGGERED, got %s", m.State())
	}
	if len(sink.records) != 0 {
		t.Errorf("no record expected, got %v", sink.records)
	}
}

func TestOperatorResetInAnyState(t *testing.T) {
	op := ResetOperator

	for _, setup := range []struct {
		name string
		prep func(t *testing.T, m *Monitor, start time.Time) uint64
	}{
		{"idle", func(t *testing.T, m *Monitor, start time.Time) uint64 {
			m.Tick(Input{Now: start, Total: 0})
			return 0
		}},
		{"counting", func(t *testing.T, m *Monitor, start time.Time) uint64 {
			m.Tick(Input{Now: start, Total: 10})
			return 10
		}},
		{"triggered", func(t *testing.T, m *Monitor, start time.Time) uint64 {
			tripByVolume(t, m, start)
			return 100_000
		}},
	} {
		m, relay, sink, start := newTestMonitor(testThresholds)
		total := setup.prep(t, m, start)

		m.Tick(Input{Now: start.Add(5 * time.Second), Total: total, Reset: &op})
		if m.State() != StateIdle {
			t.Errorf("%s: expected IDLE after operator reset, got %s", setup.name, m.State())
		}
		if !relay.open {
			t.Errorf("%s: relay should be open after reset", setup.name)
		}
		rec := sink.last(t)
		if rec.Phase != PhaseStarted || rec.Reason != string(ResetOperator) {
			t.Errorf("%s: expected {started operator}, got {%s %s}", setup.name, rec.Phase, rec.Reason)
		}
	}
}

// Reset preempts everything else on its tick: pulses arriving alongside
// the reset are discarded, not counted into the fresh session.
func TestResetPreemptsEvaluation(t *testing.T) {
	m, _, _, start := newTestMonitor(testThresholds)
	op := ResetOperator

	m.Tick(Input{Now: start, Total: 10})
	m.Tick(Input{Now: start.Add(time.Second), Total: 500_000, Reset: &op})

	if m.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", m.State())
	}
	if got := m.Stats(start.Add(time.Second)).SessionPulses; got != 0 {
		t.Errorf("pulses on the reset tick must be discarded, got %d", got)
	}

	// The discarded pulses must not leak into the next delta either.
	m.Tick(Input{Now: start.Add(2 * time.Second), Total: 500_001})
	if got := m.Stats(start.Add(2 * time.Second)).SessionPulses; got != 1 {
		t.Errorf("expected 1 pulse in new session, got %d", got)
	}
}

func TestButtonOverridesOperatorReason(t *testing.T) {
	m, _, sink, start := newTestMonitor(testThresholds)
	op := ResetOperator

	at := tripByVolume(t, m, start)
	m.Tick(Input{Now: at.Add(time.Second), Total: 100_000, Reset: &op, ButtonPressed: true})

	if rec := sink.last(t); rec.Reason != string(ResetButton) {
		t.Errorf("physical button should win the reason, got %q", rec.Reason)
	}
}

func TestReloadAffectsFutureTicksOnly(t *testing.T) {
	m, _, _, start := newTestMonitor(testThresholds)

	// 100 litres into a session, legal under max 200.
	m.Tick(Input{Now: start, Total: 45_000})
	if m.State() != StateCounting {
		t.Fatalf("expected COUNTING, got %s", m.State())
	}

	// Tighten max litres below the already-consumed volume. The reload
	// tick itself delivers no pulses, so nothing is re-evaluated.
	tight := testThresholds
	tight.MaxLitres = 50
	m.Tick(Input{Now: start.Add(time.Second), Total: 45_000, Reload: &tight})
	if m.State() != StateCounting {
		t.Errorf("reload must not retroactively trip, got %s", m.State())
	}

	// The next pulse evaluates under the new snapshot and trips.
	m.Tick(Input{Now: start.Add(2 * time.Second), Total: 45_001})
	if m.State() != StateTriggered {
		t.Errorf("expected trip under reloaded thresholds, got %s", m.State())
	}
}

func TestForceTrip(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	// From Idle, with no pulses at all.
	m.Tick(Input{Now: start, Total: 0, ForceTrip: true})

	if m.State() != StateTriggered {
		t.Errorf("expected TRIGGERED after force trip, got %s", m.State())
	}
	if relay.open {
		t.Error("relay should be closed after force trip")
	}
	rec := sink.last(t)
	if rec.Phase != PhaseStopped || rec.Reason != string(TripForced) {
		t.Errorf("expected {stopped forced}, got {%s %s}", rec.Phase, rec.Reason)
	}
}

func TestStatsRequestDoesNotAlterState(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)

	m.Tick(Input{Now: start, Total: 10})
	before := m.Stats(start)

	m.Tick(Input{Now: start.Add(time.Second), Total: 10, StatsRequested: true})
	after := m.Stats(start.Add(time.Second))

	if after.State != before.State || after.SessionPulses != before.SessionPulses {
		t.Errorf("stats request changed state: before=%+v after=%+v", before, after)
	}
	if relay.closes != 0 || len(sink.records) != 0 {
		t.Error("stats request must not actuate or write status")
	}
}

func TestCounterWraparound(t *testing.T) {
	m, _, _, start := newTestMonitor(testThresholds)

	// Establish a last-observed value near the top of the counter.
	m.Tick(Input{Now: start, Total: math.MaxUint64 - 4})
	if m.State() != StateCounting {
		t.Fatalf("expected COUNTING, got %s", m.State())
	}
	got := m.Stats(start).SessionPulses

	// Counter wraps: 5 more pulses land at 0.
	m.Tick(Input{Now: start.Add(time.Second), Total: 0})
	if delta := m.Stats(start.Add(time.Second)).SessionPulses - got; delta != 5 {
		t.Errorf("expected 5 new pulses across the wrap, got %d", delta)
	}
}

func TestStatusWriteFailureIsNonFatal(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)
	sink.err = errors.New("disk full")

	m.Tick(Input{Now: start, Total: 1})
	m.Tick(Input{Now: start.Add(time.Second), Total: 100_000})

	if m.State() != StateTriggered {
		t.Errorf("trip must proceed despite status write failure, got %s", m.State())
	}
	if relay.open {
		t.Error("relay must close despite status write failure")
	}
}

func TestRelayErrorDoesNotBlockTransition(t *testing.T) {
	m, relay, sink, start := newTestMonitor(testThresholds)
	relay.closeErr = errors.New("gpio gone")

	m.Tick(Input{Now: start, Total: 1})
	m.Tick(Input{Now: start.Add(time.Second), Total: 100_000})

	if m.State() != StateTriggered {
		t.Errorf("expected TRIGGERED despite relay error, got %s", m.State())
	}
	rec := sink.last(t)
	if rec.Phase != PhaseStopped {
		t.Errorf("status record still expected, got %+v", rec)
	}
}
