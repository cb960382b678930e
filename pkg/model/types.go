package model

import "time"

type SessionID string
type FrameID string

// PageRecord 持久化的页面记录，URL 唯一
type PageRecord struct {
	URL       string    `gorm:"column:url;primaryKey" json:"url"`
	Title     string    `gorm:"column:title" json:"title"`
	Content   string    `gorm:"column:content" json:"content"`
	Analysis  string    `gorm:"column:analysis" json:"analysis"`
	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName 固定表名
func (PageRecord) TableName() string { return "pages" }

// LifecycleEvent 领域模型：页面生命周期事件
type LifecycleEvent struct {
	FrameID  FrameID
	LoaderID string
	Name     string // load, DOMContentLoaded, networkIdle ...
}

// HistoryEntry 浏览历史条目
type HistoryEntry struct {
	ID    int
	URL   string
	Title string
}
