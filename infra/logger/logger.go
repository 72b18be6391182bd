package logger

import corelogger "github.com/kilianp07/smartzone/core/logger"

// Logger aliases the core contract so callers need a single import.
type Logger = corelogger.Logger

// NopLogger discards everything. Tests use it to keep output quiet.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns the process logger for component.
func New(component string) Logger {
	return NewZerologLogger(component)
}
