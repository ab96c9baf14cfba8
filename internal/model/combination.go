package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CombinationStatus 组合状态机。
// pending → verifying → verified|failed；verified → generating → published|failed。
type CombinationStatus string

const (
	CombinationPending    CombinationStatus = "pending"
	CombinationVerifying  CombinationStatus = "verifying"
	CombinationVerified   CombinationStatus = "verified"
	CombinationFailed     CombinationStatus = "failed"
	CombinationGenerating CombinationStatus = "generating"
	CombinationPublished  CombinationStatus = "published"
)

// Combination 是长尾内容候选：一个服务 + 地区 + 行为 (+ 季节/修饰词)。
// GeneratedSlug 全局唯一；只追加不删除，状态由核验器与内容合成器推进。
type Combination struct {
	ID                    string                      `gorm:"primaryKey;type:text" json:"id"`
	ServiceID             string                      `gorm:"type:text;not null;index" json:"service_id"`
	LocationID            string                      `gorm:"type:text;not null" json:"location_id"`
	ActionID              string                      `gorm:"type:text;not null" json:"action_id"`
	SeasonID              *string                     `gorm:"type:text" json:"season_id,omitempty"`
	ModifierID            *string                     `gorm:"type:text" json:"modifier_id,omitempty"`
	GeneratedTitle        string                      `gorm:"type:text;not null" json:"generated_title"`
	GeneratedSlug         string                      `gorm:"type:text;not null;uniqueIndex" json:"generated_slug"`
	SearchVolume          int                         `gorm:"not null;index" json:"search_volume"`
	Competition           string                      `gorm:"type:text" json:"competition"`
	Status                CombinationStatus           `gorm:"type:text;not null;index" json:"status"`
	DataVerified          bool                        `gorm:"not null;index" json:"data_verified"`
	IsPublished           bool                        `gorm:"not null;index" json:"is_published"`
	VerificationErrors    datatypes.JSONSlice[string] `json:"verification_errors"`
	VerificationCheckedAt *time.Time                  `gorm:"index" json:"verification_checked_at,omitempty"`
	PublishedAt           *time.Time                  `json:"published_at,omitempty"`
	CreatedAt             time.Time                   `json:"created_at"`
	UpdatedAt             time.Time                   `json:"updated_at"`

	Service *Service `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
}

func (c *Combination) BeforeCreate(tx *gorm.DB) error {
	c.ID = ensureID(c.ID)
	if c.Status == "" {
		c.Status = CombinationPending
	}
	return nil
}

// CanPublish 只有核验通过的组合才允许进入 generating/published。
func (c Combination) CanPublish() bool {
	return c.DataVerified
}

// VerificationLog 每次核验都会写一条审计记录，无论结果如何。
type VerificationLog struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	ValidationType   string                      `gorm:"type:text;not null" json:"validation_type"`
	SourceType       string                      `gorm:"type:text;not null" json:"source_type"`
	SourceID         string                      `gorm:"type:text;not null;index" json:"source_id"`
	IsValid          bool                        `gorm:"not null" json:"is_valid"`
	ValidationErrors datatypes.JSONSlice[string] `json:"validation_errors"`
	APIResponse      datatypes.JSONMap           `json:"api_response"`
	CreatedAt        time.Time                   `json:"created_at"`
}
