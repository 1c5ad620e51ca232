// Package logging builds the goproxy.Logger used by the whole process.
package logging

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/internal/config"
)

// Zerolog adapts a zerolog.Logger to goproxy.Logger. The session id becomes
// a field instead of a message prefix.
type Zerolog struct {
	log zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{log: l}
}

func (z *Zerolog) Errorf(sessionID int64, format string, values ...any) {
	withSession(z.log.Error(), sessionID).Msgf(format, values...)
}

func (z *Zerolog) Warnf(sessionID int64, format string, values ...any) {
	withSession(z.log.Warn(), sessionID).Msgf(format, values...)
}

func (z *Zerolog) Infof(sessionID int64, format string, values ...any) {
	withSession(z.log.Info(), sessionID).Msgf(format, values...)
}

func (z *Zerolog) Debugf(sessionID int64, format string, values ...any) {
	withSession(z.log.Debug(), sessionID).Msgf(format, values...)
}

func withSession(e *zerolog.Event, sessionID int64) *zerolog.Event {
	if sessionID == 0 {
		return e
	}
	return e.Int64("session", sessionID)
}

func zerologLevel(l goproxy.LoggingLevel) zerolog.Level {
	switch l {
	case goproxy.DEBUG:
		return zerolog.DebugLevel
	case goproxy.WARNING:
		return zerolog.WarnLevel
	case goproxy.ERROR:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger configured by cfg. Output goes to a rotated file when
// cfg.File is set, to fallback otherwise. The closer releases the file.
func New(cfg config.Log, fallback io.Writer) (goproxy.Logger, io.Closer, error) {
	level, err := goproxy.ParseLoggingLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w                = fallback
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = rotated, rotated
	}

	switch cfg.Format {
	case "json":
		zl := zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
		return NewZerolog(zl), closer, nil
	case "text", "":
		return goproxy.NewDefaultLoggerTo(w, level), closer, nil
	}
	_ = closer.Close()
	return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
}
