// Command waterfuse monitors a water flow meter and cuts power to the
// pump relay when a session exceeds the configured volume or duration.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/waterfuse/internal/config"
	"github.com/sweeney/waterfuse/internal/events"
	"github.com/sweeney/waterfuse/internal/gpio"
	"github.com/sweeney/waterfuse/internal/logic"
	"github.com/sweeney/waterfuse/internal/status"
)

const defaultPidFile = "/var/run/waterfuse/waterfuse.pid"

// overrides holds CLI values applied on top of the config file.
// Zero (or -1 for verbosity) means "not given".
type overrides struct {
	maxLitres   int
	clicks      int
	idleSeconds int
	timeMinutes int
	verbosity   int
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "Config file path")
	stateFile := flag.String("state-file", status.DefaultPath, "Status record path")
	pidFile := flag.String("pidfile", defaultPidFile, "Pidfile path (empty to disable)")
	maxLitres := flag.Int("litres", 0, "Override max litres per session")
	clicks := flag.Int("clicks", 0, "Override flow meter pulses per litre")
	idleSeconds := flag.Int("reset", 0, "Override idle timeout (seconds)")
	timeMinutes := flag.Int("time", 0, "Override max session duration (minutes)")
	verbosity := flag.Int("verbosity", -1, "Override log verbosity (0=info, 1=debug, 2+=trace)")
	foreground := flag.Bool("foreground", false, "Log human-readable to the console instead of JSON")
	pinFlow := flag.Int("pin-flow", gpio.DefaultPinFlow, "BCM pin number for the flow meter input")
	pinRelay := flag.Int("pin-relay", gpio.DefaultPinRelay, "BCM pin number for the pump relay output")
	pinButton := flag.Int("pin-button", gpio.DefaultPinButton, "BCM pin number for the reset button input")
	printStatus := flag.Bool("print-status", false, "Print the current status record and exit")

	flag.Parse()

	if *printStatus {
		rec, err := status.Read(*stateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "waterfuse: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\t%s\n", rec.Phase, rec.Reason)
		return
	}

	cfg := config.Load(*configPath)
	applyOverrides(&cfg, overrides{
		maxLitres:   *maxLitres,
		clicks:      *clicks,
		idleSeconds: *idleSeconds,
		timeMinutes: *timeMinutes,
		verbosity:   *verbosity,
	})

	logger := newLogger(cfg.Verbosity, *foreground)
	if err := run(cfg, *configPath, *stateFile, *pidFile, *pinFlow, *pinRelay, *pinButton, logger); err != nil {
		logger.Fatal().Err(err).Msg("fatal")
	}
}

// applyOverrides layers CLI values over the loaded config.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.maxLitres > 0 {
		cfg.Thresholds.MaxLitres = o.maxLitres
	}
	if o.clicks > 0 {
		cfg.Thresholds.PulsesPerLitre = o.clicks
	}
	if o.idleSeconds > 0 {
		cfg.Thresholds.IdleTimeout = time.Duration(o.idleSeconds) * time.Second
	}
	if o.timeMinutes > 0 {
		cfg.Thresholds.MaxDuration = time.Duration(o.timeMinutes) * time.Minute
	}
	if o.verbosity >= 0 {
		cfg.Verbosity = o.verbosity
	}
}

// verbosityLevel maps the config-file verbosity integer onto zerolog.
func verbosityLevel(v int) zerolog.Level {
	switch {
	case v <= 0:
		return zerolog.InfoLevel
	case v == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

func newLogger(verbosity int, foreground bool) zerolog.Logger {
	zerolog.SetGlobalLevel(verbosityLevel(verbosity))
	zerolog.TimeFieldFormat = time.RFC3339
	var out = zerolog.New(os.Stdout)
	if foreground {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return out.With().Timestamp().Str("service", "waterfuse").Logger()
}

func run(cfg config.Config, configPath, stateFile, pidFile string, pinFlow, pinRelay, pinButton int, logger zerolog.Logger) error {
	if pidFile != "" {
		// Unlike the ancestors of this daemon, pidfile trouble is
		// surfaced, not ignored.
		if err := writePidFile(pidFile); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer os.Remove(pidFile)
	}

	// Hardware init. Any failure here is fatal: monitoring without
	// pulses, or actuation in an undefined state, is worse than not
	// running at all.
	counter, err := gpio.NewRealCounter(pinFlow)
	if err != nil {
		return fmt.Errorf("init flow counter: %w", err)
	}
	defer counter.Close()

	relay, err := gpio.NewRealRelay(pinRelay)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Release()

	button, err := gpio.NewRealButton(pinButton)
	if err != nil {
		return fmt.Errorf("init reset button: %w", err)
	}
	defer button.Close()

	if err := relay.Open(); err != nil {
		return fmt.Errorf("open relay: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(stateFile), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	sink := status.NewFileSink(stateFile)
	if err := sink.WriteStatus(logic.StatusRecord{Phase: logic.PhaseStarted, Reason: "startup"}); err != nil {
		logger.Error().Err(err).Msg("write startup status")
	}

	src := events.NewSource()

	// The config file is also watched, so edits reload without a
	// SIGHUP. Watch failure only disables that convenience.
	if w, err := config.Watch(configPath, src.RequestReload, logger.With().Str("component", "config").Logger()); err != nil {
		logger.Warn().Err(err).Msg("config watch disabled")
	} else {
		defer w.Close()
	}

	logger.Info().
		Int("clicks_per_litre", cfg.Thresholds.PulsesPerLitre).
		Int("max_litres", cfg.Thresholds.MaxLitres).
		Dur("max_duration", cfg.Thresholds.MaxDuration).
		Dur("idle_timeout", cfg.Thresholds.IdleTimeout).
		Int("verbosity", cfg.Verbosity).
		Msg("started")

	monitor := logic.NewMonitor(cfg.Thresholds, relay, sink,
		logger.With().Str("component", "monitor").Logger(), time.Now())

	reload := func() logic.Thresholds {
		c := config.Load(configPath)
		zerolog.SetGlobalLevel(verbosityLevel(c.Verbosity))
		return c.Thresholds
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(monitor, counter, button, src, reload, sink, logger, ticker.C, sigCh, time.Now)
}

// runLoop is the cooperative 1 Hz evaluation loop. All monitor state
// mutation happens here; signals and the config watcher only latch
// requests into src for the next tick.
func runLoop(monitor *logic.Monitor, counter gpio.PulseCounter, button gpio.Button, src *events.Source, reload func() logic.Thresholds, sink logic.StatusWriter, logger zerolog.Logger, tick <-chan time.Time, sig <-chan os.Signal, now func() time.Time) error {
	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGHUP:
				src.RequestReload()
			case syscall.SIGUSR1:
				src.RequestReset(logic.ResetOperator)
			case syscall.SIGUSR2:
				src.RequestStats()
			case syscall.SIGCONT:
				src.RequestForceTrip()
			default:
				logger.Info().Str("signal", s.String()).Msg("shutting down")
				if err := sink.WriteStatus(logic.StatusRecord{Phase: logic.PhaseStopped, Reason: "shutdown"}); err != nil {
					logger.Error().Err(err).Msg("write shutdown status")
				}
				return nil
			}

		case <-tick:
			t := now()
			batch := src.Drain()

			pressed, err := button.Pressed()
			if err != nil {
				logger.Error().Err(err).Msg("read reset button")
				pressed = false
			}

			in := logic.Input{
				Now:            t,
				Total:          counter.Read(),
				ButtonPressed:  pressed,
				Reset:          batch.Reset,
				StatsRequested: batch.Stats,
				ForceTrip:      batch.ForceTrip,
			}
			if batch.Reload {
				th := reload()
				in.Reload = &th
			}
			monitor.Tick(in)
		}
	}
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
