package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// SetLevel changes the process-wide minimum level. Empty or unknown names
// select info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// NewZerologLogger writes JSON lines to stdout, or a human readable console
// format when APP_ENV=dev.
func NewZerologLogger(component string) Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("APP_ENV"), "dev") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}
	return NewWithWriter(w, component)
}

// NewWithWriter tags every entry with component and a timestamp.
func NewWithWriter(w io.Writer, component string) Logger {
	return &ZerologLogger{
		log: zerolog.New(w).With().Timestamp().Str("component", component).Logger(),
	}
}

func (l *ZerologLogger) Debugf(format string, args ...any) { l.log.Debug().Msgf(format, args...) }

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) { l.log.Info().Msgf(format, args...) }

func (l *ZerologLogger) Warnf(format string, args ...any) { l.log.Warn().Msgf(format, args...) }

func (l *ZerologLogger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }
