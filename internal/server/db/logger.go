package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/looplj/agentpay/internal/log"
)

// Logger routes gorm output through the service logger. SQL text is logged but
// bound values are not, since rows may carry shard ciphertext.
type Logger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewLogger(level gormlogger.LogLevel, slowThreshold time.Duration) *Logger {
	if slowThreshold <= 0 {
		slowThreshold = 500 * time.Millisecond
	}

	return &Logger{level: level, slowThreshold: slowThreshold}
}

func (l *Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	out := *l
	out.level = level

	return &out
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		log.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		log.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		log.Error(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)

	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		log.Error(ctx, "sql error", log.String("sql", sql), log.Int64("rows", rows), log.Duration("elapsed", elapsed), log.Cause(err))
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		log.Warn(ctx, "slow sql", log.String("sql", sql), log.Int64("rows", rows), log.Duration("elapsed", elapsed))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		log.Debug(ctx, "sql", log.String("sql", sql), log.Int64("rows", rows), log.Duration("elapsed", elapsed))
	}
}

// ParamsFilter drops bound values from logged SQL.
func (l *Logger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}
