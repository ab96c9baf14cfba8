package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContentPage 最终发布的长尾文章。Slug 在写入前显式检查唯一性。
type ContentPage struct {
	ID              string                      `gorm:"primaryKey;type:text" json:"id"`
	CombinationID   *string                     `gorm:"type:text;index" json:"combination_id,omitempty"`
	ServiceID       *string                     `gorm:"type:text;index" json:"service_id,omitempty"`
	LocationID      *string                     `gorm:"type:text" json:"location_id,omitempty"`
	Title           string                      `gorm:"type:text;not null" json:"title"`
	Slug            string                      `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	MetaDescription string                      `gorm:"type:text" json:"meta_description"`
	Content         string                      `gorm:"type:text;not null" json:"content"`
	Format          string                      `gorm:"type:text;not null" json:"format"`
	Keywords        datatypes.JSONSlice[string] `json:"keywords"`
	TargetKeyword   string                      `gorm:"type:text" json:"target_keyword"`
	SearchVolume    int                         `gorm:"not null" json:"search_volume"`
	ViewCount       int                         `gorm:"not null" json:"view_count"`
	IsPublished     bool                        `gorm:"not null;index" json:"is_published"`
	PublishedAt     *time.Time                  `json:"published_at,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// 正文格式
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

func (p *ContentPage) BeforeCreate(tx *gorm.DB) error {
	p.ID = ensureID(p.ID)
	return nil
}

// ContentTemplate 按分类划分的模板，占位符 {{location}} {{service}} {{action}} {{season}}。
type ContentTemplate struct {
	ID                  string    `gorm:"primaryKey;type:text" json:"id"`
	Category            string    `gorm:"type:text;not null;uniqueIndex" json:"category" yaml:"category"`
	TitleTemplate       string    `gorm:"type:text;not null" json:"title_template" yaml:"title_template"`
	DescriptionTemplate string    `gorm:"type:text" json:"description_template" yaml:"description_template"`
	ContentTemplate     string    `gorm:"type:text;not null" json:"content_template" yaml:"content_template"`
	CreatedAt           time.Time `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time `json:"updated_at" yaml:"-"`
}

func (t *ContentTemplate) BeforeCreate(tx *gorm.DB) error {
	t.ID = ensureID(t.ID)
	return nil
}
