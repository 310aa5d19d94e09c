// Package log provides structured logging for the tablet client using
// zerolog. It mirrors the component-logger pattern used across this
// module: a package-level logger configured once via Init, and helper
// constructors that bind request-scoped fields (transaction id, tablet
// id, cell id) for the lifetime of a call.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Construct component loggers from
// it with WithComponent and friends rather than logging through it
// directly.
var Logger zerolog.Logger

// Level names a logging verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger. Call once at process startup.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the owning component
// name (e.g. "mountcache", "commitsession").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTransactionID tags a logger with the owning transaction.
func WithTransactionID(id string) zerolog.Logger {
	return Logger.With().Str("transaction_id", id).Logger()
}

// WithTabletID tags a logger with the tablet a commit session or route
// decision concerns.
func WithTabletID(id string) zerolog.Logger {
	return Logger.With().Str("tablet_id", id).Logger()
}

// WithCellID tags a logger with the participant cell an RPC targets.
func WithCellID(id string) zerolog.Logger {
	return Logger.With().Str("cell_id", id).Logger()
}

func init() {
	// Sensible default so packages that log before Init is called (tests,
	// short-lived CLI invocations) don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}
