// Package observability provides the ambient logging, metrics, and
// tracing carried alongside the transfer protocol.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(component string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("component", component).
		Logger()

	return &Logger{logger: logger}
}

// WithSession adds session_id and role context to the logger.
func (l *Logger) WithSession(sessionID, role string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Str("role", role).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Transition logs a state machine transition.
func (l *Logger) Transition(from, to, event string) {
	l.logger.Debug().Str("from", from).Str("to", to).Str("event", event).Msg("state transition")
}
