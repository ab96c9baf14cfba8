// Package orchestrator 串联核验与发布，汇总执行结果、检测异常并写入自动化日志。
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"bustime/internal/metrics"
	"bustime/internal/model"
	"bustime/internal/synthesizer"
	"bustime/internal/verifier"

	"gorm.io/datatypes"
)

// ErrRunInProgress 同一进程内已有编排在执行。
var ErrRunInProgress = errors.New("automation run already in progress")

// 步骤名称
const (
	StepVerify  = "verify-transport-data"
	StepPublish = "generate-gpt-content"
)

// Trigger 触发来源。
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerCron     Trigger = "cron"
	TriggerSchedule Trigger = "schedule"
)

// Verifier 核验步骤。
type Verifier interface {
	Verify(ctx context.Context, req verifier.Request) (verifier.Result, error)
}

// Publisher 发布步骤。
type Publisher interface {
	Publish(ctx context.Context, limit int) (synthesizer.Result, error)
}

// Store 编排依赖的存储接口。
type Store interface {
	Ping(ctx context.Context) error
	CreateAutomationLog(ctx context.Context, entry *model.AutomationLog) error
	TouchSchedule(ctx context.Context, functionName string, at time.Time) error
}

// Notifier 告警出口。
type Notifier interface {
	Notify(ctx context.Context, subject, body string, priority model.AlertPriority) error
}

// Config 编排参数。
type Config struct {
	VerifyBatchSize   int     `yaml:"verify_batch_size" json:"verify_batch_size"`
	PublishLimit      int     `yaml:"publish_limit" json:"publish_limit"`
	ExpectedPublished int     `yaml:"expected_published" json:"expected_published"`
	AnomalyThreshold  float64 `yaml:"anomaly_threshold" json:"anomaly_threshold"`
	LogType           string  `yaml:"log_type" json:"log_type"`
	FunctionName      string  `yaml:"function_name" json:"function_name"`
}

// StepError 步骤级失败。Kind 为 error、panic 或 timeout。
type StepError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (e *StepError) Error() string { return e.Kind + ": " + e.Detail }

// StepResult 单个步骤的结果。
type StepResult struct {
	Name    string
	Success bool
	Counts  map[string]int
	Message string
	Items   []string
	Err     *StepError
}

// Summary 运行汇总。
type Summary struct {
	TotalSteps       int  `json:"total_steps"`
	SuccessfulSteps  int  `json:"successful_steps"`
	FailedSteps      int  `json:"failed_steps"`
	ContentPublished int  `json:"content_published"`
	AnomalyDetected  bool `json:"anomaly_detected"`
}

// Report 一次编排的完整输出。
type Report struct {
	Success      bool                `json:"success"`
	Summary      Summary             `json:"summary"`
	ExecutionLog model.AutomationLog `json:"execution_log"`
	Message      string              `json:"message"`
}

// Orchestrator 编排器，同一实例同时只允许一次运行。
type Orchestrator struct {
	verifier  Verifier
	publisher Publisher
	store     Store
	notifier  Notifier
	cfg       Config
	running   atomic.Bool
	now       func() time.Time
	logger    *log.Logger
}

// New 创建编排器。
func New(v Verifier, p Publisher, store Store, notifier Notifier, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.VerifyBatchSize <= 0 {
		cfg.VerifyBatchSize = 50
	}
	if cfg.PublishLimit <= 0 {
		cfg.PublishLimit = 10
	}
	if cfg.ExpectedPublished <= 0 {
		cfg.ExpectedPublished = 10
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 0.7
	}
	if cfg.LogType == "" {
		cfg.LogType = "daily_automation"
	}
	if cfg.FunctionName == "" {
		cfg.FunctionName = "auto-content-orchestrator"
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[orchestrator] ", log.LstdFlags)
	}
	return &Orchestrator{
		verifier:  v,
		publisher: p,
		store:     store,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Running 报告当前是否有编排在执行。
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Run 执行一次完整的核验与发布。步骤失败不会中断运行；
// 只有致命错误（存储不可达、日志无法写入、panic）才返回 error，此时仍会写入 failed 日志并告警。
// 日志、调度时间与告警不受 ctx 取消影响。
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	started := o.now()
	o.logger.Printf("run start: trigger=%s", trigger)

	report, err := o.run(ctx, trigger, started)
	if err != nil {
		return o.fail(context.WithoutCancel(ctx), trigger, started, err)
	}

	metrics.RecordRun(string(report.ExecutionLog.Status), o.now().Sub(started).Seconds())
	o.logger.Printf("run done: status=%s published=%d anomaly=%t", report.ExecutionLog.Status, report.Summary.ContentPublished, report.Summary.AnomalyDetected)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, trigger Trigger, started time.Time) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := o.store.Ping(ctx); err != nil {
		return Report{}, fmt.Errorf("datastore unreachable: %w", err)
	}

	bookkeeping := context.WithoutCancel(ctx)
	verify := o.verifyStep(ctx)
	publish, published := o.publishStep(ctx)
	steps := []StepResult{verify, publish}

	entry := model.AutomationLog{
		LogType:        o.cfg.LogType,
		Trigger:        string(trigger),
		Steps:          datatypes.JSONSlice[model.StepRecord]{},
		Errors:         datatypes.JSONSlice[string]{},
		TotalPublished: published,
		AnomalyDetails: datatypes.JSONMap{},
		StartedAt:      started,
	}
	summary := Summary{TotalSteps: len(steps), ContentPublished: published}
	for _, step := range steps {
		entry.Steps = append(entry.Steps, step.record(o.now()))
		if step.Err != nil {
			summary.FailedSteps++
			entry.Errors = append(entry.Errors, fmt.Sprintf("%s: %s", step.Name, step.Err.Detail))
			continue
		}
		summary.SuccessfulSteps++
		for _, item := range step.Items {
			entry.Errors = append(entry.Errors, fmt.Sprintf("%s: %s", step.Name, item))
		}
	}

	deviation := Deviation(published, o.cfg.ExpectedPublished)
	outlier := DetectAnomaly(published, o.cfg.ExpectedPublished, o.cfg.AnomalyThreshold)
	if outlier {
		o.alert(bookkeeping, subjectAnomaly, fmt.Sprintf("예상과 다른 수치가 감지되었습니다.\n\n발행된 콘텐츠: %d개\n예상 콘텐츠: %d개\n편차율: %.1f%%\n\n시간: %s",
			published, o.cfg.ExpectedPublished, deviation*100, koreanTime(o.now())), model.PriorityHigh)
	}

	summary.AnomalyDetected = outlier || published == 0 || len(entry.Errors) > 0
	entry.AnomalyDetected = summary.AnomalyDetected
	if summary.AnomalyDetected {
		entry.AnomalyDetails = datatypes.JSONMap{
			"published": published,
			"expected":  o.cfg.ExpectedPublished,
			"deviation": deviation,
			"errors":    []string(entry.Errors),
		}
	}
	entry.Status = model.RunSuccess
	if len(entry.Errors) > 0 {
		entry.Status = model.RunPartialSuccess
	}
	entry.FinishedAt = o.now()

	if publish.Err == nil {
		o.alertPublishOutcome(bookkeeping, publish, published, entry)
	}

	if err := o.store.CreateAutomationLog(bookkeeping, &entry); err != nil {
		return Report{}, fmt.Errorf("write automation log: %w", err)
	}
	o.touchSchedule(bookkeeping)

	return Report{
		Success:      true,
		Summary:      summary,
		ExecutionLog: entry,
		Message:      fmt.Sprintf("✅ 자동화 완료! %d개 팩트 기반 콘텐츠 발행됨", published),
	}, nil
}

func (o *Orchestrator) verifyStep(ctx context.Context) StepResult {
	step := StepResult{Name: StepVerify}
	var res verifier.Result
	step.Err = guard(ctx, func() error {
		var err error
		res, err = o.verifier.Verify(ctx, verifier.Request{BatchSize: o.cfg.VerifyBatchSize})
		return err
	})
	if step.Err != nil {
		o.logger.Printf("step %s failed: %v", StepVerify, step.Err)
		o.alert(context.WithoutCancel(ctx), subjectVerifyFailed, fmt.Sprintf("데이터 검증 단계에서 오류가 발생했습니다.\n\n오류: %s\n\n시간: %s",
			step.Err.Detail, koreanTime(o.now())), model.PriorityHigh)
		return step
	}
	step.Success = true
	step.Counts = map[string]int{"total": res.Total, "verified": res.Verified, "failed": res.Failed, "skipped": res.Skipped}
	step.Message = fmt.Sprintf("%d개 조합 검증 완료 (%d개 성공, %d개 실패)", res.Total, res.Verified, res.Failed)
	return step
}

func (o *Orchestrator) publishStep(ctx context.Context) (StepResult, int) {
	step := StepResult{Name: StepPublish}
	var res synthesizer.Result
	step.Err = guard(ctx, func() error {
		var err error
		res, err = o.publisher.Publish(ctx, o.cfg.PublishLimit)
		return err
	})
	if step.Err != nil {
		o.logger.Printf("step %s failed: %v", StepPublish, step.Err)
		o.alert(context.WithoutCancel(ctx), subjectPublishFailed, fmt.Sprintf("GPT 콘텐츠 생성 단계에서 오류가 발생했습니다.\n\n오류: %s\n\n시간: %s",
			step.Err.Detail, koreanTime(o.now())), model.PriorityHigh)
		return step, 0
	}
	step.Success = true
	step.Counts = map[string]int{
		"attempted":         res.Attempted,
		"published":         res.Published,
		"already_published": res.AlreadyPublished,
		"errors":            len(res.Errors),
	}
	for _, e := range res.Errors {
		step.Items = append(step.Items, fmt.Sprintf("combination=%s: %s", e.CombinationID, e.Error))
	}
	if len(step.Items) > 0 {
		o.logger.Printf("step %s: %d of %d combinations failed", StepPublish, len(step.Items), res.Attempted)
	}
	if res.Attempted == 0 {
		step.Message = "발행할 검증된 조합이 없습니다."
	} else {
		step.Message = fmt.Sprintf("%d개의 콘텐츠가 발행되었습니다", res.Published)
	}
	return step, res.Published
}

func (o *Orchestrator) alertPublishOutcome(ctx context.Context, publish StepResult, published int, entry model.AutomationLog) {
	if len(publish.Items) > 0 {
		o.alert(ctx, subjectPartialPublish, fmt.Sprintf("%d개 조합 중 %d개의 콘텐츠 생성에 실패했습니다.\n\n발행된 콘텐츠: %d개\n\n실패 목록:\n- %s\n\n시간: %s",
			publish.Counts["attempted"], len(publish.Items), published, strings.Join(publish.Items, "\n- "), koreanTime(o.now())), model.PriorityHigh)
	}
	if published == 0 {
		raw, _ := json.MarshalIndent(entry, "", "  ")
		o.alert(ctx, subjectZeroPublished, fmt.Sprintf("콘텐츠가 하나도 생성되지 않았습니다.\n\n원인:\n- 검증된 데이터가 없을 수 있음\n- GPT API 오류\n- 데이터베이스 연결 문제\n\n로그:\n%s\n\n시간: %s",
			raw, koreanTime(o.now())), model.PriorityHigh)
		return
	}
	o.alert(ctx, subjectPublished, fmt.Sprintf("%d개의 팩트 기반 SEO 콘텐츠가 생성되었습니다.\n\n실제 데이터 + GPT로 자연스러운 장문 콘텐츠 제작\n\n시간: %s",
		published, koreanTime(o.now())), model.PriorityNormal)
}

// fail 处理致命错误：写 failed 日志、告警、更新调度时间，然后把错误返回给调用方。
func (o *Orchestrator) fail(ctx context.Context, trigger Trigger, started time.Time, cause error) (Report, error) {
	o.logger.Printf("fatal: %v", cause)
	o.alert(ctx, subjectFatal, fmt.Sprintf("%s에서 치명적 오류 발생\n\n오류: %s\n\n시간: %s",
		o.cfg.FunctionName, cause, koreanTime(o.now())), model.PriorityCritical)

	entry := model.AutomationLog{
		LogType:         o.cfg.LogType,
		Trigger:         string(trigger),
		Status:          model.RunFailed,
		Steps:           datatypes.JSONSlice[model.StepRecord]{},
		Errors:          datatypes.JSONSlice[string]{cause.Error()},
		AnomalyDetected: true,
		AnomalyDetails:  datatypes.JSONMap{"fatal_error": true, "message": cause.Error()},
		StartedAt:       started,
		FinishedAt:      o.now(),
	}
	if err := o.store.CreateAutomationLog(ctx, &entry); err != nil {
		o.logger.Printf("write failed automation log: %v", err)
	}
	o.touchSchedule(ctx)
	metrics.RecordRun(string(model.RunFailed), o.now().Sub(started).Seconds())

	return Report{
		Success:      false,
		Summary:      Summary{AnomalyDetected: true},
		ExecutionLog: entry,
		Message:      cause.Error(),
	}, fmt.Errorf("automation run: %w", cause)
}

func (o *Orchestrator) touchSchedule(ctx context.Context) {
	if err := o.store.TouchSchedule(ctx, o.cfg.FunctionName, o.now()); err != nil {
		o.logger.Printf("touch schedule %s: %v", o.cfg.FunctionName, err)
	}
}

func (o *Orchestrator) alert(ctx context.Context, subject, body string, priority model.AlertPriority) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, subject, body, priority); err != nil {
		o.logger.Printf("queue alert %q: %v", subject, err)
	}
}

// guard 执行步骤并把 error 或 panic 转换为 StepError。
func guard(ctx context.Context, fn func() error) (stepErr *StepError) {
	defer func() {
		if r := recover(); r != nil {
			stepErr = &StepError{Kind: "panic", Detail: fmt.Sprint(r)}
		}
	}()
	if err := fn(); err != nil {
		kind := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = "timeout"
		}
		return &StepError{Kind: kind, Detail: err.Error()}
	}
	return nil
}

func (s StepResult) record(at time.Time) model.StepRecord {
	rec := model.StepRecord{
		Step:      s.Name,
		Success:   s.Success,
		Counts:    s.Counts,
		Message:   s.Message,
		Errors:    s.Items,
		Timestamp: at,
	}
	if s.Err != nil {
		rec.ErrorKind = s.Err.Kind
		rec.Error = s.Err.Detail
	}
	return rec
}
