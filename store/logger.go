package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Windscribe/goproxy-intercept"
)

// GormLogger sends GORM's messages to a goproxy.Logger.
type GormLogger struct {
	Logger   goproxy.Logger
	LogLevel logger.LogLevel
	// SlowThreshold marks queries worth a warning.
	SlowThreshold time.Duration
}

func NewGormLogger(l goproxy.Logger) *GormLogger {
	if l == nil {
		l = goproxy.NopLogger{}
	}
	return &GormLogger{
		Logger:        l,
		LogLevel:      logger.Warn,
		SlowThreshold: time.Second,
	}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Infof(0, "%s", fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warnf(0, "%s", fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Errorf(0, "%s", fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		sql, rows := fc()
		l.Logger.Errorf(0, "SQL failed after %v: %v [rows:%d] %s", elapsed, err, rows, sql)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		sql, rows := fc()
		l.Logger.Warnf(0, "Slow SQL %v [rows:%d] %s", elapsed, rows, sql)
	case l.LogLevel == logger.Info:
		sql, rows := fc()
		l.Logger.Debugf(0, "SQL %v [rows:%d] %s", elapsed, rows, sql)
	}
}
