// Package config loads threshold policy from a whitespace-delimited
// key/value file. The format is deliberately forgiving: a missing file
// keeps the defaults, malformed lines are skipped, unknown keys are
// ignored. Reload is a full re-parse producing a fresh snapshot.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/waterfuse/internal/logic"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/waterfuse/waterfuse.conf"

// Config is the loaded policy plus daemon verbosity.
type Config struct {
	Thresholds logic.Thresholds
	Verbosity  int
}

// Defaults returns the built-in policy, used when the config file is
// missing or silent on a key.
func Defaults() Config {
	return Config{
		Thresholds: logic.Thresholds{
			PulsesPerLitre: 450,
			MaxLitres:      200,
			MaxDuration:    15 * time.Minute,
			IdleTimeout:    10 * time.Minute,
		},
	}
}

// Load parses the file at path on top of the defaults. A missing or
// unreadable file is not an error; neither is a malformed line.
func Load(path string) Config {
	cfg := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return cfg
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "reset_period":
			if val > 0 {
				cfg.Thresholds.IdleTimeout = time.Duration(val) * time.Second
			}
		case "max_time":
			// Configured in minutes, tracked in seconds.
			if val > 0 {
				cfg.Thresholds.MaxDuration = time.Duration(val) * time.Minute
			}
		case "max_litres":
			if val > 0 {
				cfg.Thresholds.MaxLitres = val
			}
		case "clicks_per_litre":
			if val > 0 {
				cfg.Thresholds.PulsesPerLitre = val
			}
		case "verbosity":
			if val >= 0 {
				cfg.Verbosity = val
			}
		}
	}
	return cfg
}

// parseLine splits "key value" into its parts. Comments, blank lines
// and anything that does not scan as an integer are rejected.
func parseLine(line string) (string, int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
		return "", 0, false
	}
	val, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, false
	}
	return fields[0], val, true
}
