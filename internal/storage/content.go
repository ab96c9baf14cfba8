package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bustime/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrCombinationNotVerified 组合未通过核验，不允许发布。
var ErrCombinationNotVerified = errors.New("combination not verified")

// ContentQuery 内容页分页参数。
type ContentQuery struct {
	Page     int
	PageSize int
}

// ContentSlugExists 判断内容页 slug 是否已存在。
func (s *Store) ContentSlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.ContentPage{}).
		Where("slug = ?", slug).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check content slug: %w", err)
	}
	return count > 0, nil
}

// PublishContent 在同一事务中写入内容页并把组合标记为 published。
// 组合必须已核验，否则整体回滚并返回 ErrCombinationNotVerified。
func (s *Store) PublishContent(ctx context.Context, page *model.ContentPage, combinationID string, at time.Time) error {
	page.IsPublished = true
	page.PublishedAt = &at
	if page.Keywords == nil {
		page.Keywords = datatypes.JSONSlice[string]{}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(page).Error; err != nil {
			return fmt.Errorf("insert content page: %w", err)
		}
		res := tx.Model(&model.Combination{}).
			Where("id = ? AND data_verified = ?", combinationID, true).
			Updates(map[string]any{
				"status":       model.CombinationPublished,
				"is_published": true,
				"published_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("update combination %s: %w", combinationID, res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrCombinationNotVerified
		}
		return nil
	})
}

// ListContentPages 返回已发布内容页（按发布时间倒序）以及总数。
func (s *Store) ListContentPages(ctx context.Context, q ContentQuery) ([]model.ContentPage, int64, error) {
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	published := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.ContentPage{}).Where("is_published = ?", true)
	}

	var total int64
	if err := published().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count content pages: %w", err)
	}

	var pages []model.ContentPage
	if err := published().Order("published_at DESC").Order("created_at DESC").
		Limit(q.PageSize).Offset((q.Page - 1) * q.PageSize).
		Find(&pages).Error; err != nil {
		return nil, 0, fmt.Errorf("list content pages: %w", err)
	}
	return pages, total, nil
}

// GetContentPageBySlug 读取已发布页面并累加浏览数。
func (s *Store) GetContentPageBySlug(ctx context.Context, slug string) (*model.ContentPage, error) {
	var page model.ContentPage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ContentPage{}).
			Where("slug = ? AND is_published = ?", slug, true).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("increment view count: %w", res.Error)
		}
		if err := tx.First(&page, "slug = ? AND is_published = ?", slug, true).Error; err != nil {
			return notFound(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get content page %s: %w", slug, err)
	}
	return &page, nil
}
