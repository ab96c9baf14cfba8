package storage

import (
	"context"
	"fmt"
	"time"

	"bustime/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CombinationQuery 待核验组合的筛选条件。IDs 非空时忽略 Limit。
type CombinationQuery struct {
	IDs   []string
	Limit int
}

// VerificationOutcome 一次核验的结果，与审计记录在同一事务写入。
type VerificationOutcome struct {
	CombinationID  string
	ValidationType string
	SourceType     string
	Valid          bool
	Errors         []string
	Evidence       map[string]any
}

// CombinationSlugExists 判断 slug 是否已被任何组合占用。
func (s *Store) CombinationSlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Combination{}).
		Where("generated_slug = ?", slug).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check combination slug: %w", err)
	}
	return count > 0, nil
}

// InsertCombinations 批量写入组合，slug 冲突的行被忽略，返回实际写入行数。
func (s *Store) InsertCombinations(ctx context.Context, combos []model.Combination) (int, error) {
	if len(combos) == 0 {
		return 0, nil
	}
	for i := range combos {
		if combos[i].VerificationErrors == nil {
			combos[i].VerificationErrors = datatypes.JSONSlice[string]{}
		}
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "generated_slug"}},
		DoNothing: true,
	}).CreateInBatches(&combos, 100)
	if tx.Error != nil {
		return 0, fmt.Errorf("insert combinations: %w", tx.Error)
	}
	return int(tx.RowsAffected), nil
}

// ListUnverifiedCombinations 选取 data_verified=false 且未被认领的组合，附带服务信息。
func (s *Store) ListUnverifiedCombinations(ctx context.Context, q CombinationQuery) ([]model.Combination, error) {
	var combos []model.Combination
	query := s.db.WithContext(ctx).Preload("Service").
		Where("data_verified = ? AND verification_checked_at IS NULL", false).
		Order("search_volume DESC").Order("created_at ASC")
	if len(q.IDs) > 0 {
		query = query.Where("id IN ?", q.IDs)
	} else if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if err := query.Find(&combos).Error; err != nil {
		return nil, fmt.Errorf("list unverified combinations: %w", err)
	}
	return combos, nil
}

// ClaimCombination 原子认领：仅当组合仍未核验且未打戳时置为 verifying。
// 返回 false 表示已被其他批次认领。
func (s *Store) ClaimCombination(ctx context.Context, id string, at time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&model.Combination{}).
		Where("id = ? AND data_verified = ? AND verification_checked_at IS NULL", id, false).
		Updates(map[string]any{
			"status":                  model.CombinationVerifying,
			"verification_checked_at": at,
			"updated_at":              at,
		})
	if tx.Error != nil {
		return false, fmt.Errorf("claim combination %s: %w", id, tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// RecordVerification 写入审计记录并更新组合终态。核验通过时组合的 verification_errors 为 NULL。
func (s *Store) RecordVerification(ctx context.Context, out VerificationOutcome) error {
	errs := datatypes.JSONSlice[string]{}
	if len(out.Errors) > 0 {
		errs = datatypes.JSONSlice[string](out.Errors)
	}
	status := model.CombinationFailed
	var comboErrs any = errs
	if out.Valid {
		status = model.CombinationVerified
		comboErrs = gorm.Expr("NULL")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := model.VerificationLog{
			ValidationType:   out.ValidationType,
			SourceType:       out.SourceType,
			SourceID:         out.CombinationID,
			IsValid:          out.Valid,
			ValidationErrors: errs,
			APIResponse:      datatypes.JSONMap(out.Evidence),
		}
		if entry.APIResponse == nil {
			entry.APIResponse = datatypes.JSONMap{}
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert verification log: %w", err)
		}
		if err := tx.Model(&model.Combination{}).Where("id = ?", out.CombinationID).
			Updates(map[string]any{
				"data_verified":       out.Valid,
				"status":              status,
				"verification_errors": comboErrs,
			}).Error; err != nil {
			return fmt.Errorf("update combination %s: %w", out.CombinationID, err)
		}
		return nil
	})
}

// ListVerificationLogs 返回某个组合的审计记录，最新在前。
func (s *Store) ListVerificationLogs(ctx context.Context, combinationID string) ([]model.VerificationLog, error) {
	var logs []model.VerificationLog
	if err := s.db.WithContext(ctx).Where("source_id = ?", combinationID).
		Order("id DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list verification logs: %w", err)
	}
	return logs, nil
}

// ListPublishableCombinations 返回已核验且未发布的组合，按搜索量倒序。
func (s *Store) ListPublishableCombinations(ctx context.Context, limit int) ([]model.Combination, error) {
	var combos []model.Combination
	query := s.db.WithContext(ctx).
		Where("status = ? AND is_published = ? AND data_verified = ?", model.CombinationVerified, false, true).
		Order("search_volume DESC").Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&combos).Error; err != nil {
		return nil, fmt.Errorf("list publishable combinations: %w", err)
	}
	return combos, nil
}

// GetCombination 根据 ID 获取组合。
func (s *Store) GetCombination(ctx context.Context, id string) (*model.Combination, error) {
	var combo model.Combination
	if err := s.db.WithContext(ctx).First(&combo, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get combination: %w", notFound(err))
	}
	return &combo, nil
}

// MarkCombinationGenerating 仅对已核验组合生效，返回是否成功切换。
func (s *Store) MarkCombinationGenerating(ctx context.Context, id string) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&model.Combination{}).
		Where("id = ? AND status = ? AND data_verified = ?", id, model.CombinationVerified, true).
		Update("status", model.CombinationGenerating)
	if tx.Error != nil {
		return false, fmt.Errorf("mark combination generating: %w", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// MarkCombinationFailed 将组合置为 failed。
func (s *Store) MarkCombinationFailed(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Model(&model.Combination{}).
		Where("id = ?", id).
		Update("status", model.CombinationFailed).Error; err != nil {
		return fmt.Errorf("mark combination failed: %w", err)
	}
	return nil
}

// MarkCombinationPublished 在不新建页面的情况下标记发布（slug 已存在时使用）。
// 未核验的组合不会被修改。
func (s *Store) MarkCombinationPublished(ctx context.Context, id string, at time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&model.Combination{}).
		Where("id = ? AND data_verified = ?", id, true).
		Updates(map[string]any{
			"status":       model.CombinationPublished,
			"is_published": true,
			"published_at": at,
		})
	if tx.Error != nil {
		return false, fmt.Errorf("mark combination published: %w", tx.Error)
	}
	return tx.RowsAffected == 1, nil
}

// CombinationStatusCounts 按状态统计组合数量。
func (s *Store) CombinationStatusCounts(ctx context.Context) (map[string]int, error) {
	type row struct {
		Status string
		Total  int
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&model.Combination{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count combinations: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
