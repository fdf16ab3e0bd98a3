package storage

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"mockdriver/internal/ctxkeys"
	"mockdriver/internal/logger"
)

// SlowThreshold 超过该耗时的 SQL 记为慢查询
const SlowThreshold = 200 * time.Millisecond

// GormLogger 将 GORM 日志转发到 logger.Logger，附带 traceId
type GormLogger struct {
	log      logger.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger 创建 GormLogger，默认只记录警告及以上
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{log: l, LogLevel: gormlogger.Warn}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

// Info 打印info级别日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.log.Info(msg, l.fields(ctx, "data", data)...)
	}
}

// Warn 打印warn级别日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.log.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

// Error 打印error级别日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.log.Error(msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 打印SQL日志
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fields(ctx,
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds())/1e6,
	)

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error:
		l.log.Err(err, "SQL执行错误", fields...)
	case elapsed > SlowThreshold && l.LogLevel >= gormlogger.Warn:
		l.log.Warn("慢SQL查询", append(fields, "threshold", SlowThreshold.String())...)
	case l.LogLevel == gormlogger.Info:
		l.log.Debug("SQL执行", fields...)
	}
}

func (l *GormLogger) fields(ctx context.Context, kv ...any) []any {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return append([]any{"traceId", id}, kv...)
	}
	return kv
}
