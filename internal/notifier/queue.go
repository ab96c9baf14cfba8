// Package notifier 负责运维告警：先写入告警队列，再通过 SMTP 或 Resend 投递。
package notifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"bustime/internal/metrics"
	"bustime/internal/model"
)

// QueueStore 告警队列依赖的存储接口。
type QueueStore interface {
	EnqueueAlert(ctx context.Context, alert *model.Alert) error
	ListPendingAlerts(ctx context.Context, maxAttempts, limit int) ([]model.Alert, error)
	MarkAlertSent(ctx context.Context, id uint, at time.Time) error
	MarkAlertFailed(ctx context.Context, id uint, reason string) error
}

// QueueConfig 告警队列配置。
type QueueConfig struct {
	Recipient   string `yaml:"recipient" json:"recipient"`
	MaxAttempts int    `yaml:"max_attempts" json:"max_attempts"`
	BatchSize   int    `yaml:"batch_size" json:"batch_size"`
}

// QueueSink 持久化告警并尝试立即投递；失败的留在队列中由 Dispatch 重试。
type QueueSink struct {
	store  QueueStore
	sender EmailSender
	cfg    QueueConfig
	now    func() time.Time
	logger *log.Logger
}

// NewQueueSink 创建告警队列。sender 为 nil 时告警只记录日志并保留在队列中。
func NewQueueSink(store QueueStore, sender EmailSender, cfg QueueConfig, logger *log.Logger) *QueueSink {
	if cfg.Recipient == "" {
		cfg.Recipient = "admin@bustime.site"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[alert] ", log.LstdFlags)
	}
	return &QueueSink{store: store, sender: sender, cfg: cfg, now: time.Now, logger: logger}
}

// Notify 写入告警并尝试投递。投递失败不返回错误，只有落库失败才返回。
func (q *QueueSink) Notify(ctx context.Context, subject, body string, priority model.AlertPriority) error {
	alert := &model.Alert{
		Recipient: q.cfg.Recipient,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
	}
	if err := q.store.EnqueueAlert(ctx, alert); err != nil {
		metrics.RecordAlert("error")
		return fmt.Errorf("queue alert: %w", err)
	}
	metrics.RecordAlert("queued")

	if q.sender == nil {
		q.logger.Printf("no sender configured, alert %d queued: %s", alert.ID, subject)
		return nil
	}
	q.deliver(ctx, *alert)
	return nil
}

// Dispatch 重试未送达的告警，返回本轮成功发送的数量。
func (q *QueueSink) Dispatch(ctx context.Context) (int, error) {
	if q.sender == nil {
		return 0, nil
	}
	pending, err := q.store.ListPendingAlerts(ctx, q.cfg.MaxAttempts, q.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending alerts: %w", err)
	}
	sent := 0
	for _, alert := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if q.deliver(ctx, alert) {
			sent++
		}
	}
	if len(pending) > 0 {
		q.logger.Printf("dispatch: pending=%d sent=%d", len(pending), sent)
	}
	return sent, nil
}

func (q *QueueSink) deliver(ctx context.Context, alert model.Alert) bool {
	msg := EmailMessage{
		To:      []string{alert.Recipient},
		Subject: alert.Subject,
		Body:    alert.Body,
	}
	if err := q.sender.Send(ctx, msg); err != nil {
		q.logger.Printf("send alert %d failed (attempt %d): %v", alert.ID, alert.Attempts+1, err)
		metrics.RecordAlert("failed")
		if markErr := q.store.MarkAlertFailed(ctx, alert.ID, err.Error()); markErr != nil {
			q.logger.Printf("mark alert %d failed: %v", alert.ID, markErr)
		}
		return false
	}
	metrics.RecordAlert("sent")
	if err := q.store.MarkAlertSent(ctx, alert.ID, q.now()); err != nil {
		q.logger.Printf("mark alert %d sent: %v", alert.ID, err)
	}
	return true
}
