package goproxy

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/function61/gokit/log/logex"
)

// Logger is implemented by any type that can log the proxy server events.
type Logger interface {
	Errorf(sessionID int64, format string, values ...any)
	Warnf(sessionID int64, format string, values ...any)
	Infof(sessionID int64, format string, values ...any)
	Debugf(sessionID int64, format string, values ...any)
}

// Errorf logs an ERROR message to the logger specified in proxy options.
// It can also be called from a request handler.
//
//	proxy.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
//		if err := check(r); err != nil {
//			ctx.Options.Warnf(ctx, "rejecting %v: %v", r.URL, err)
//		}
//		return r, nil
//	})
func (opt Options) Errorf(ctx *ProxyCtx, format string, values ...any) {
	if opt.Logger == nil {
		return
	}
	opt.Logger.Errorf(ctx.SessionID, format, values...)
}

// Infof logs an INFO message to the logger specified in proxy options.
func (opt Options) Infof(ctx *ProxyCtx, format string, values ...any) {
	if opt.Logger == nil {
		return
	}
	opt.Logger.Infof(ctx.SessionID, format, values...)
}

// Warnf logs a WARNING message to the logger specified in proxy options.
func (opt Options) Warnf(ctx *ProxyCtx, format string, values ...any) {
	if opt.Logger == nil {
		return
	}
	opt.Logger.Warnf(ctx.SessionID, format, values...)
}

// Debugf logs a DEBUG message to the logger specified in proxy options.
func (opt Options) Debugf(ctx *ProxyCtx, format string, values ...any) {
	if opt.Logger == nil {
		return
	}
	opt.Logger.Debugf(ctx.SessionID, format, values...)
}

type LoggingLevel int

const (
	DEBUG LoggingLevel = iota
	INFO
	WARNING
	ERROR
)

// ParseLoggingLevel accepts the level names in any case, "warn" included.
func ParseLoggingLevel(s string) (LoggingLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARNING, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown logging level %q", s)
}

// DefaultLogger writes leveled, session tagged lines through the standard library logger.
type DefaultLogger struct {
	log   *logex.Leveled
	warn  *log.Logger
	level LoggingLevel
}

func NewDefaultLogger(level LoggingLevel) *DefaultLogger {
	return NewDefaultLoggerTo(os.Stderr, level)
}

func NewDefaultLoggerTo(w io.Writer, level LoggingLevel) *DefaultLogger {
	parent := log.New(w, "goproxy ", log.LstdFlags)
	return &DefaultLogger{
		log:   logex.Levels(parent),
		warn:  logex.Prefix(logex.CustomLevelPrefix("WARN"), parent),
		level: level,
	}
}

func (l *DefaultLogger) Errorf(sessionID int64, format string, values ...any) {
	if l.level <= ERROR {
		l.log.Error.Printf(formatSessionID(sessionID, format), values...)
	}
}

func (l *DefaultLogger) Warnf(sessionID int64, format string, values ...any) {
	if l.level <= WARNING {
		l.warn.Printf(formatSessionID(sessionID, format), values...)
	}
}

func (l *DefaultLogger) Infof(sessionID int64, format string, values ...any) {
	if l.level <= INFO {
		l.log.Info.Printf(formatSessionID(sessionID, format), values...)
	}
}

func (l *DefaultLogger) Debugf(sessionID int64, format string, values ...any) {
	if l.level <= DEBUG {
		l.log.Debug.Printf(formatSessionID(sessionID, format), values...)
	}
}

func formatSessionID(sessionID int64, format string) string {
	return "[" + strconv.FormatInt(sessionID&0xFFFF, 10) + "] " + format
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Errorf(int64, string, ...any) {}
func (NopLogger) Warnf(int64, string, ...any)  {}
func (NopLogger) Infof(int64, string, ...any)  {}
func (NopLogger) Debugf(int64, string, ...any) {}
