package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"hncrawler/internal/logger"
	"hncrawler/pkg/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageError 存储层 I/O 失败，编排层可跳过当前条目继续
type StorageError struct {
	Op  string
	URL string
	Err error
}

func (e *StorageError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("存储操作 %s 失败: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("存储操作 %s 失败 (url=%s): %v", e.Op, e.URL, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Options 存储配置
type Options struct {
	Dsn    string
	Prefix string
	Debug  bool
}

// Store 页面记录存储，以 URL 为唯一键
type Store struct {
	db    *gorm.DB
	table string
	log   logger.Logger
}

// Open 打开 SQLite 数据库并迁移表结构
func Open(opts Options, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Dsn == "" {
		return nil, &StorageError{Op: "open", Err: errors.New("dsn 为空")}
	}
	if dir := filepath.Dir(opts.Dsn); dir != "." && !isMemory(opts.Dsn) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: err}
		}
	}

	db, err := gorm.Open(sqlite.Open(opts.Dsn), &gorm.Config{Logger: newSQLLogger(l, opts.Debug)})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	// 单连接：同一 URL 的并发写入由 SQLite 串行化，避免 database is locked
	sqlDB.SetMaxOpenConns(1)

	table := opts.Prefix + model.PageRecord{}.TableName()
	if err := db.Table(table).AutoMigrate(&model.PageRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	l.Info("存储已就绪", "dsn", opts.Dsn, "table", table)
	return &Store{db: db, table: table, log: l}, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || filepath.Base(dsn) == ":memory:"
}

// Upsert 按 URL 插入或更新，created_at 保留首次写入时间
func (s *Store) Upsert(ctx context.Context, rec *model.PageRecord) error {
	if rec == nil || rec.URL == "" {
		return &StorageError{Op: "upsert", Err: errors.New("记录缺少 url")}
	}
	err := s.db.WithContext(withRecord(ctx, rec)).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "analysis", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return &StorageError{Op: "upsert", URL: rec.URL, Err: err}
	}
	s.log.Debug("页面记录已写入", "url", rec.URL, "contentLen", len(rec.Content))
	return nil
}

// Exists 判断 URL 是否已有记录
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	var n int64
	if err := s.db.WithContext(withURL(ctx, url)).Table(s.table).Where("url = ?", url).Count(&n).Error; err != nil {
		return false, &StorageError{Op: "exists", URL: url, Err: err}
	}
	return n > 0, nil
}

// Get 读取单条记录，不存在时返回 nil
func (s *Store) Get(ctx context.Context, url string) (*model.PageRecord, error) {
	var rec model.PageRecord
	err := s.db.WithContext(withURL(ctx, url)).Table(s.table).Where("url = ?", url).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", URL: url, Err: err}
	}
	return &rec, nil
}

// Count 返回记录总数
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return sqlDB.Close()
}
