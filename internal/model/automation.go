package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunStatus 编排执行的整体结果。
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// StepRecord 单个步骤的持久化形式。
type StepRecord struct {
	Step      string         `json:"step"`
	Success   bool           `json:"success"`
	Counts    map[string]int `json:"counts,omitempty"`
	Message   string         `json:"message,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AutomationLog 每次编排调用恰好一条，致命失败时同样写入。只追加。
type AutomationLog struct {
	ID              uint                            `gorm:"primaryKey" json:"id"`
	LogType         string                          `gorm:"type:text;not null;index" json:"log_type"`
	Trigger         string                          `gorm:"type:text" json:"trigger"`
	Status          RunStatus                       `gorm:"type:text;not null;index" json:"status"`
	Steps           datatypes.JSONSlice[StepRecord] `json:"steps"`
	Errors          datatypes.JSONSlice[string]     `json:"errors"`
	TotalPublished  int                             `gorm:"not null" json:"total_published"`
	AnomalyDetected bool                            `gorm:"not null;index" json:"anomaly_detected"`
	AnomalyDetails  datatypes.JSONMap               `json:"anomaly_details"`
	StartedAt       time.Time                       `json:"started_at"`
	FinishedAt      time.Time                       `json:"finished_at"`
	CreatedAt       time.Time                       `json:"created_at"`
}

// AutomationSchedule 自动化调度定义（与公交时刻表无关）。
type AutomationSchedule struct {
	ID             string     `gorm:"primaryKey;type:text" json:"id"`
	Name           string     `gorm:"column:schedule_name;type:text;not null;uniqueIndex" json:"schedule_name"`
	FunctionName   string     `gorm:"type:text;not null;index" json:"function_name"`
	CronExpression string     `gorm:"type:text;not null" json:"cron_expression"`
	Description    string     `gorm:"type:text" json:"description"`
	Enabled        bool       `gorm:"not null" json:"is_enabled"`
	RunCount       int        `gorm:"not null" json:"run_count"`
	SuccessCount   int        `gorm:"not null" json:"success_count"`
	FailureCount   int        `gorm:"not null" json:"failure_count"`
	LastStatus     string     `gorm:"type:text" json:"last_status"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (s *AutomationSchedule) BeforeCreate(tx *gorm.DB) error {
	s.ID = ensureID(s.ID)
	return nil
}

// AlertPriority 告警优先级。
type AlertPriority string

const (
	PriorityNormal   AlertPriority = "normal"
	PriorityHigh     AlertPriority = "high"
	PriorityCritical AlertPriority = "critical"
)

// Alert 运维告警队列，先落库再投递，失败的由调度器重试。
type Alert struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	Recipient    string        `gorm:"type:text;not null" json:"recipient"`
	Subject      string        `gorm:"type:text;not null" json:"subject"`
	Body         string        `gorm:"type:text" json:"body"`
	Priority     AlertPriority `gorm:"type:text;not null" json:"priority"`
	Sent         bool          `gorm:"not null;index" json:"sent"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	Attempts     int           `gorm:"not null" json:"attempts"`
	ErrorMessage string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
