package storage

import (
	"context"
	"fmt"
	"time"

	"bustime/internal/model"

	"gorm.io/gorm"
)

// EnqueueAlert 写入告警队列。
func (s *Store) EnqueueAlert(ctx context.Context, alert *model.Alert) error {
	if alert.Priority == "" {
		alert.Priority = model.PriorityNormal
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	return nil
}

// ListPendingAlerts 返回未发送且尝试次数未超限的告警，先入先出。
func (s *Store) ListPendingAlerts(ctx context.Context, maxAttempts, limit int) ([]model.Alert, error) {
	query := s.db.WithContext(ctx).Where("sent = ?", false)
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var alerts []model.Alert
	if err := query.Order("id ASC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("list pending alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertSent 标记告警已发送。
func (s *Store) MarkAlertSent(ctx context.Context, id uint, at time.Time) error {
	if err := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sent":          true,
			"sent_at":       at,
			"attempts":      gorm.Expr("attempts + ?", 1),
			"error_message": "",
		}).Error; err != nil {
		return fmt.Errorf("mark alert sent: %w", err)
	}
	return nil
}

// MarkAlertFailed 记录一次失败的投递。
func (s *Store) MarkAlertFailed(ctx context.Context, id uint, reason string) error {
	if err := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":      gorm.Expr("attempts + ?", 1),
			"error_message": reason,
		}).Error; err != nil {
		return fmt.Errorf("mark alert failed: %w", err)
	}
	return nil
}
