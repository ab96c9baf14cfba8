package notifier

import (
	"context"
	"log"
	"os"

	"bustime/internal/model"
)

// LogNotifier 只把告警写入日志，不落库也不投递，适合本地开发或关闭告警时使用。
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier 创建日志通知器，未提供 logger 时默认输出到标准输出。
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[alert] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

// Notify 打印告警标题与正文。
func (n LogNotifier) Notify(ctx context.Context, subject, body string, priority model.AlertPriority) error {
	if subject == "" {
		return nil
	}
	n.logger.Printf("[%s] %s\n%s", priority, subject, body)
	return nil
}
