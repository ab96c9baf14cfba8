package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service 表示一个交通服务（公交线路、地铁线路、设施）。
// - (ServiceNumber, Category) 在 ServiceNumber 非空时唯一，作为采集幂等 upsert 的键
// - SEOKeywords: SEO 关键词列表
// - 内容流水线只读，由采集器批量写入
type Service struct {
	ID              string                      `gorm:"primaryKey;type:text" json:"id"`
	Category        string                      `gorm:"type:text;not null;uniqueIndex:idx_service_number_category,priority:2" json:"category"`
	Name            string                      `gorm:"type:text;not null" json:"name"`
	Slug            string                      `gorm:"type:text;index" json:"slug"`
	ServiceNumber   *string                     `gorm:"type:text;uniqueIndex:idx_service_number_category,priority:1" json:"service_number,omitempty"`
	Description     string                      `gorm:"type:text" json:"description"`
	LongDescription string                      `gorm:"type:text" json:"long_description"`
	OperatingHours  string                      `gorm:"type:text" json:"operating_hours"`
	Address         string                      `gorm:"type:text" json:"address"`
	Phone           string                      `gorm:"type:text" json:"phone"`
	WebsiteURL      string                      `gorm:"type:text" json:"website_url"`
	SEOKeywords     datatypes.JSONSlice[string] `json:"seo_keywords"`
	IsActive        bool                        `gorm:"not null;index" json:"is_active"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// BeforeCreate 为新记录分配 UUID。
func (s *Service) BeforeCreate(tx *gorm.DB) error {
	s.ID = ensureID(s.ID)
	return nil
}

// Number 返回去除空白后的线路号，未设置时为空串。
func (s Service) Number() string {
	if s.ServiceNumber == nil {
		return ""
	}
	return strings.TrimSpace(*s.ServiceNumber)
}

// IsBusLike 判断分类是否属于公交类服务，只有这类服务需要外部核验。
func (s Service) IsBusLike() bool {
	category := strings.ToLower(strings.TrimSpace(s.Category))
	return strings.Contains(category, "bus") || strings.Contains(category, "버스")
}
