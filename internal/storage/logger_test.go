package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hncrawler/internal/ctxkeys"
	"hncrawler/internal/logger"
	"hncrawler/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

type entry struct {
	level string
	msg   string
	kv    map[string]any
}

// recorder 记录所有日志条目，With 的字段合并进子条目
type recorder struct {
	mu      *sync.Mutex
	entries *[]entry
	base    []any
}

func newRecorder() *recorder {
	return &recorder{mu: &sync.Mutex{}, entries: &[]entry{}}
}

func (r *recorder) add(level, msg string, kv []any) {
	all := append(append([]any{}, r.base...), kv...)
	m := map[string]any{}
	for i := 0; i+1 < len(all); i += 2 {
		m[all[i].(string)] = all[i+1]
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, entry{level: level, msg: msg, kv: m})
	r.mu.Unlock()
}

func (r *recorder) Debug(msg string, kv ...any) { r.add("debug", msg, kv) }
func (r *recorder) Info(msg string, kv ...any)  { r.add("info", msg, kv) }
func (r *recorder) Warn(msg string, kv ...any)  { r.add("warn", msg, kv) }
func (r *recorder) Error(msg string, kv ...any) { r.add("error", msg, kv) }
func (r *recorder) Err(err error, msg string, kv ...any) {
	r.add("error", msg, append(kv, "error", err))
}
func (r *recorder) With(kv ...any) logger.Logger {
	return &recorder{mu: r.mu, entries: r.entries, base: append(append([]any{}, r.base...), kv...)}
}

func (r *recorder) sql() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entry
	for _, e := range *r.entries {
		if _, ok := e.kv["op"]; ok {
			out = append(out, e)
		}
	}
	return out
}

func TestSQLLogShapedForRecords(t *testing.T) {
	rec := newRecorder()
	s, err := Open(Options{Dsn: filepath.Join(t.TempDir(), "crawler.db"), Debug: true}, rec)
	require.NoError(t, err)
	defer s.Close()

	body := strings.Repeat("<p>secret body</p>", 100)
	ctx, trace := ctxkeys.WithTraceID(context.Background())
	require.NoError(t, s.Upsert(ctx, &model.PageRecord{URL: "https://example.com/a", Title: "a", Content: body}))
	_, err = s.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)

	var insert, count *entry
	for _, e := range rec.sql() {
		e := e
		switch e.kv["op"] {
		case "INSERT":
			insert = &e
		case "SELECT":
			count = &e
		}
	}
	require.NotNil(t, insert)
	assert.Equal(t, "storage", insert.kv["component"])
	assert.Equal(t, trace, insert.kv["traceId"])
	assert.Equal(t, "https://example.com/a", insert.kv["url"])
	assert.Equal(t, len(body), insert.kv["contentLen"])
	if sql, ok := insert.kv["sql"].(string); ok {
		assert.LessOrEqual(t, len(sql), maxLoggedSQL+3)
		assert.NotContains(t, sql, strings.Repeat("<p>secret body</p>", 20))
	}

	require.NotNil(t, count)
	assert.Equal(t, "https://example.com/a", count.kv["url"])
	_, hasLen := count.kv["contentLen"]
	assert.False(t, hasLen, "只读操作不带 contentLen")
}

func TestSQLLogQuietByDefault(t *testing.T) {
	rec := newRecorder()
	s, err := Open(Options{Dsn: filepath.Join(t.TempDir(), "crawler.db")}, rec)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(context.Background(), &model.PageRecord{URL: "https://example.com/b"}))
	assert.Empty(t, rec.sql())
}

func TestSQLLoggerSlowAndMode(t *testing.T) {
	rec := newRecorder()
	l := newSQLLogger(rec, false)

	ctx := withURL(context.Background(), "https://example.com/c")
	l.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT count(*) FROM page_records", 1 }, nil)
	got := rec.sql()
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0].level)
	assert.Equal(t, "SELECT", got[0].kv["op"])

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Len(t, rec.sql(), 1)
}

func TestStatementOp(t *testing.T) {
	assert.Equal(t, "INSERT", statementOp("  insert INTO `page_records` (`url`) VALUES (?)"))
	assert.Equal(t, "SELECT", statementOp("SELECT(1)"))
	assert.Equal(t, "", statementOp(""))
}
