// Package logger defines the logging contract used by the simulation
// components. Adapters live in infra/logger.
package logger

// Logger is a leveled printf-style logger. Debugw attaches fields instead of
// formatting them into the message.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
