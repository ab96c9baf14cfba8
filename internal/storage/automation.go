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

// CreateAutomationLog 追加一条编排执行日志。
func (s *Store) CreateAutomationLog(ctx context.Context, entry *model.AutomationLog) error {
	if entry.Steps == nil {
		entry.Steps = datatypes.JSONSlice[model.StepRecord]{}
	}
	if entry.Errors == nil {
		entry.Errors = datatypes.JSONSlice[string]{}
	}
	if entry.AnomalyDetails == nil {
		entry.AnomalyDetails = datatypes.JSONMap{}
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert automation log: %w", err)
	}
	return nil
}

// ListAutomationLogs 返回最近的执行日志。
func (s *Store) ListAutomationLogs(ctx context.Context, limit int) ([]model.AutomationLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []model.AutomationLog
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list automation logs: %w", err)
	}
	return logs, nil
}

// EnsureSchedule 按名称写入调度定义；已存在时只更新 cron、函数与描述，保留启用状态和计数。
func (s *Store) EnsureSchedule(ctx context.Context, sched model.AutomationSchedule) error {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"function_name", "cron_expression", "description", "updated_at"}),
	}).Create(&sched)
	if tx.Error != nil {
		return fmt.Errorf("ensure schedule %s: %w", sched.Name, tx.Error)
	}
	return nil
}

// ListSchedules 返回全部调度定义。
func (s *Store) ListSchedules(ctx context.Context) ([]model.AutomationSchedule, error) {
	var schedules []model.AutomationSchedule
	if err := s.db.WithContext(ctx).Order("schedule_name ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// RecordScheduleRun 记录一次调度执行的结果与下次执行时间。
func (s *Store) RecordScheduleRun(ctx context.Context, id string, ranAt time.Time, succeeded bool, status string, next *time.Time) error {
	updates := map[string]any{
		"run_count":   gorm.Expr("run_count + ?", 1),
		"last_run_at": ranAt,
		"last_status": status,
		"next_run_at": next,
		"updated_at":  ranAt,
	}
	if succeeded {
		updates["success_count"] = gorm.Expr("success_count + ?", 1)
	} else {
		updates["failure_count"] = gorm.Expr("failure_count + ?", 1)
	}
	if err := s.db.WithContext(ctx).Model(&model.AutomationSchedule{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("record schedule run: %w", err)
	}
	return nil
}

// TouchSchedule 更新指定函数所有调度的 last_run_at。
func (s *Store) TouchSchedule(ctx context.Context, functionName string, at time.Time) error {
	if err := s.db.WithContext(ctx).Model(&model.AutomationSchedule{}).
		Where("function_name = ?", functionName).
		Updates(map[string]any{"last_run_at": at, "updated_at": at}).Error; err != nil {
		return fmt.Errorf("touch schedule %s: %w", functionName, err)
	}
	return nil
}

// SetScheduleEnabled 切换调度启用状态并返回更新后的记录。
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*model.AutomationSchedule, error) {
	res := s.db.WithContext(ctx).Model(&model.AutomationSchedule{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return nil, fmt.Errorf("set schedule enabled: %w", res.Error)
	}
	var sched model.AutomationSchedule
	if err := s.db.WithContext(ctx).First(&sched, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get schedule: %w", notFound(err))
	}
	return &sched, nil
}
