// Package pklog configures the process-wide zerolog logger used by
// pkengine, pktransport, and pkdiag.
package pklog

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "PK_LOG_LEVEL"
	EnvLogTimestamp = "PK_LOG_TIMESTAMP"
	EnvLogNoColor   = "PK_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var (
	configureOnce sync.Once
	root          zerolog.Logger
)

// ConfigureRuntime wires the root logger for a long-running host/device
// process: info level, RFC3339 timestamps, console colors enabled.
func ConfigureRuntime() zerolog.Logger {
	return Configure(ProfileRuntime)
}

// ConfigureTests wires the root logger for `go test` output: debug
// level, no timestamps (keeps `-v` output diffable), no color.
func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest)
}

// Configure builds the root logger exactly once per process; later
// calls (including from other packages' test helpers) return the
// already-configured logger untouched.
func Configure(profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		level, timestamp, noColor := defaults(profile)
		applyEnvOverrides(&level, &timestamp, &noColor)

		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: noColor}
		ctx := zerolog.New(writer).Level(level).With()
		if timestamp {
			ctx = ctx.Timestamp()
		}
		root = ctx.Logger()
	})
	return root
}

func defaults(profile Profile) (level zerolog.Level, timestamp, noColor bool) {
	if profile == ProfileTest {
		return zerolog.DebugLevel, false, true
	}
	return zerolog.InfoLevel, true, false
}

func applyEnvOverrides(level *zerolog.Level, timestamp, noColor *bool) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		*level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		*timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		*noColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
