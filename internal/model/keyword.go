package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 关键词维度表：地区、行为、季节、修饰词。体量小，由管理员种子数据维护，组合生成器只读。

// Location 地区关键词，Population 用于搜索量估算与排序。
type Location struct {
	ID         string    `gorm:"primaryKey;type:text" json:"id"`
	Name       string    `gorm:"type:text;not null;uniqueIndex" json:"name" yaml:"name"`
	Level      string    `gorm:"type:text" json:"level" yaml:"level"`
	Population int       `gorm:"not null;index" json:"population" yaml:"population"`
	IsActive   bool      `gorm:"not null" json:"is_active" yaml:"is_active"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

// Action 行为关键词，例如 “시간표”“노선도”。
type Action struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Verb      string    `gorm:"column:action;type:text;not null;uniqueIndex" json:"verb" yaml:"verb"`
	Priority  int       `gorm:"not null;index" json:"priority" yaml:"priority"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Season 季节关键词。
type Season struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Name      string    `gorm:"type:text;not null;uniqueIndex" json:"name" yaml:"name"`
	IsActive  bool      `gorm:"not null" json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Modifier 修饰词关键词。
type Modifier struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Modifier  string    `gorm:"type:text;not null;uniqueIndex" json:"modifier" yaml:"modifier"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

func (l *Location) BeforeCreate(tx *gorm.DB) error { l.ID = ensureID(l.ID); return nil }
func (a *Action) BeforeCreate(tx *gorm.DB) error   { a.ID = ensureID(a.ID); return nil }
func (s *Season) BeforeCreate(tx *gorm.DB) error   { s.ID = ensureID(s.ID); return nil }
func (m *Modifier) BeforeCreate(tx *gorm.DB) error { m.ID = ensureID(m.ID); return nil }

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
