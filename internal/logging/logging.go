// Package logging configures the process-wide zerolog logger and hands
// out small component-scoped sub-loggers, mirroring the way the
// streamspace sibling service structures its logging package.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Initialize configures it; until then
// it behaves as a disabled logger, same as zerolog's own default.
var Log zerolog.Logger

// Initialize sets the global log level and output format. pretty selects
// a human-readable console writer for local development; otherwise logs
// are newline-delimited JSON suitable for a log aggregator.
func Initialize(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w = os.Stderr
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}
	Log = log.Logger.With().Str("service", "tokens-api").Logger()
}

// GetLogger returns the process-wide logger.
func GetLogger() *zerolog.Logger { return &Log }

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Bootstrap returns the sub-logger for the startup sequence (C3).
func Bootstrap() *zerolog.Logger { return component("bootstrap") }

// Authz returns the sub-logger for the authorization gate (C4).
func Authz() *zerolog.Logger { return component("authz") }

// Tokens returns the sub-logger for claim derivation and signing (C2/C5).
func Tokens() *zerolog.Logger { return component("tokens") }

// Rotation returns the sub-logger for the key-rotation protocol (C6).
func Rotation() *zerolog.Logger { return component("rotation") }

// Audit returns the sub-logger for the administrative audit trail.
func Audit() *zerolog.Logger { return component("audit") }

// Upstream returns the sub-logger for outbound SK/Tenants/site-router calls.
func Upstream() *zerolog.Logger { return component("upstream") }
