package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"hncrawler/internal/ctxkeys"
	"hncrawler/internal/logger"
	"hncrawler/pkg/model"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const maxLoggedSQL = 160

type recordKey struct{}

// recordInfo 正在读写的页面记录；contentLen 为 -1 表示只读操作
type recordInfo struct {
	url        string
	contentLen int
}

func withRecord(ctx context.Context, rec *model.PageRecord) context.Context {
	return context.WithValue(ctx, recordKey{}, recordInfo{url: rec.URL, contentLen: len(rec.Content)})
}

func withURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, recordKey{}, recordInfo{url: url, contentLen: -1})
}

// sqlLogger 把 GORM 日志转成页面存储日志。
// 按记录输出 op、url、contentLen，页面正文不进入日志；完整 SQL 只在 Info 级别下截断输出。
type sqlLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newSQLLogger(l logger.Logger, debug bool) *sqlLogger {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return &sqlLogger{log: l.With("component", "storage"), level: level, slow: time.Second}
}

func (l *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fields(ctx, "op", statementOp(sql), "rows", rows, "duration", elapsed)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.log.Err(err, "页面记录 SQL 失败", fields...)
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		l.log.Warn("页面记录 SQL 过慢", append(fields, "threshold", l.slow)...)
	case l.level == gormlogger.Info:
		l.log.Debug("页面记录 SQL", append(fields, "sql", shortenSQL(sql))...)
	}
}

func (l *sqlLogger) fields(ctx context.Context, kv ...any) []any {
	fields := []any{"traceId", ctxkeys.TraceID(ctx)}
	if r, ok := ctx.Value(recordKey{}).(recordInfo); ok {
		fields = append(fields, "url", r.url)
		if r.contentLen >= 0 {
			fields = append(fields, "contentLen", r.contentLen)
		}
	}
	return append(fields, kv...)
}

// statementOp 取 SQL 的首个关键字
func statementOp(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t("); i > 0 {
		sql = sql[:i]
	}
	return strings.ToUpper(sql)
}

// shortenSQL 截断 SQL，避免把页面正文写进日志
func shortenSQL(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	return sql[:maxLoggedSQL] + "..."
}
