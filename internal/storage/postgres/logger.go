package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pkt.systems/pslog"
)

// gormLogger routes gorm's statement log into pslog. Statements are traced,
// failures other than "record not found" are warned, slow ones are warned
// with their duration.
type gormLogger struct {
	logger pslog.Logger
	level  gormlogger.LogLevel
	slow   time.Duration
}

func newGormLogger(logger pslog.Logger, slow time.Duration) gormlogger.Interface {
	return &gormLogger{logger: logger, level: gormlogger.Warn, slow: slow}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Info("postgres.gorm", "detail", fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn("postgres.gorm", "detail", fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Error("postgres.gorm", "detail", fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Warn("postgres.query.error", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("postgres.query.slow", "sql", sql, "rows", rows, "elapsed", elapsed, "threshold", l.slow)
	default:
		sql, rows := fc()
		l.logger.Trace("postgres.query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
