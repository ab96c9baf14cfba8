// Package scheduler 按数据库中的调度定义周期性执行自动化任务，并重试未送达的告警。
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"bustime/internal/model"

	"golang.org/x/sync/errgroup"
)

// Config 调度配置。
type Config struct {
	Tick             string `yaml:"tick" json:"tick"`
	Timeout          string `yaml:"timeout" json:"timeout"`
	DispatchInterval string `yaml:"dispatch_interval" json:"dispatch_interval"`
	Timezone         string `yaml:"timezone" json:"timezone"`
}

// Job 一个可调度的任务，返回简短的状态描述。
type Job func(ctx context.Context) (string, error)

// Store 调度依赖的存储接口。
type Store interface {
	ListSchedules(ctx context.Context) ([]model.AutomationSchedule, error)
	RecordScheduleRun(ctx context.Context, id string, ranAt time.Time, succeeded bool, status string, next *time.Time) error
}

// Dispatcher 重试未送达的告警。
type Dispatcher interface {
	Dispatch(ctx context.Context) (int, error)
}

// Scheduler 每个 tick 检查到期的调度并执行对应任务。
type Scheduler struct {
	store         Store
	jobs          map[string]Job
	dispatcher    Dispatcher
	tick          time.Duration
	timeout       time.Duration
	dispatchEvery time.Duration
	loc           *time.Location
	running       map[string]*atomic.Bool
	wg            sync.WaitGroup
	newTicker     func(time.Duration) ticker
	now           func() time.Time
	logger        *log.Logger
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewScheduler 创建 Scheduler。jobs 以 function_name 为键；dispatcher 可为空。
func NewScheduler(s Store, jobs map[string]Job, d Dispatcher, cfg Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags)
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			logger.Printf("unknown timezone %q, using UTC", cfg.Timezone)
		}
	}
	running := make(map[string]*atomic.Bool, len(jobs))
	for name := range jobs {
		running[name] = &atomic.Bool{}
	}

	return &Scheduler{
		store:         s,
		jobs:          jobs,
		dispatcher:    d,
		tick:          parseDuration(cfg.Tick, time.Minute),
		timeout:       parseDuration(cfg.Timeout, 30*time.Minute),
		dispatchEvery: parseDuration(cfg.DispatchInterval, time.Minute),
		loc:           loc,
		running:       running,
		newTicker:     defaultTicker,
		now:           time.Now,
		logger:        logger,
	}
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return fallback
}

// Start 启动调度循环与告警重试循环，直到上下文取消；退出前等待在途任务结束。
func (s *Scheduler) Start(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("scheduler missing store")
	}
	defer s.wg.Wait()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tick := s.newTicker(s.tick)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick.C():
				if _, err := s.RunDue(ctx, s.now()); err != nil {
					s.logger.Printf("run due schedules: %v", err)
				}
			}
		}
	})

	if s.dispatcher != nil {
		g.Go(func() error {
			tick := s.newTicker(s.dispatchEvery)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-tick.C():
					if _, err := s.dispatcher.Dispatch(ctx); err != nil {
						s.logger.Printf("dispatch alerts: %v", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// RunDue 启动在 at 所在分钟到期的已启用调度，返回启动的任务数。
// 任务在后台执行，同一任务上一轮未结束时跳过。
func (s *Scheduler) RunDue(ctx context.Context, at time.Time) (int, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	at = at.In(s.loc).Truncate(time.Minute)

	started := 0
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		cron, err := parseCronSpec(sched.CronExpression)
		if err != nil {
			s.logger.Printf("schedule %s: invalid cron %q: %v", sched.Name, sched.CronExpression, err)
			continue
		}
		if !cron.matches(at) {
			continue
		}
		job, ok := s.jobs[sched.FunctionName]
		if !ok {
			s.logger.Printf("schedule %s: no job registered for %s", sched.Name, sched.FunctionName)
			continue
		}
		guard := s.running[sched.FunctionName]
		if !guard.CompareAndSwap(false, true) {
			s.logger.Printf("schedule %s: %s still running, skipped", sched.Name, sched.FunctionName)
			continue
		}

		started++
		s.wg.Add(1)
		go func(sched model.AutomationSchedule, cron *cronSchedule) {
			defer s.wg.Done()
			defer guard.Store(false)
			s.execute(ctx, sched, cron, job, at)
		}(sched, cron)
	}
	return started, nil
}

// Wait 等待后台任务结束。
func (s *Scheduler) Wait() { s.wg.Wait() }

// RunOnce 立即执行指定任务，不记录调度统计。
func (s *Scheduler) RunOnce(ctx context.Context, functionName string) (string, error) {
	job, ok := s.jobs[functionName]
	if !ok {
		return "", fmt.Errorf("unknown job %s", functionName)
	}
	guard := s.running[functionName]
	if !guard.CompareAndSwap(false, true) {
		return "", fmt.Errorf("job %s already running", functionName)
	}
	defer guard.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return job(ctx)
}

func (s *Scheduler) execute(ctx context.Context, sched model.AutomationSchedule, cron *cronSchedule, job Job, due time.Time) {
	ranAt := s.now()
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	status, err := job(runCtx)
	cancel()

	succeeded := err == nil
	if err != nil {
		status = "failed: " + err.Error()
		s.logger.Printf("schedule %s (%s) failed: %v", sched.Name, sched.FunctionName, err)
	} else {
		s.logger.Printf("schedule %s (%s) done: %s", sched.Name, sched.FunctionName, status)
	}

	var next *time.Time
	if n, err := cron.next(due); err == nil {
		next = &n
	}
	// 任务可能因 ctx 取消而结束，统计仍需写入
	if err := s.store.RecordScheduleRun(context.WithoutCancel(ctx), sched.ID, ranAt, succeeded, status, next); err != nil {
		s.logger.Printf("record schedule run %s: %v", sched.Name, err)
	}
}

func defaultTicker(d time.Duration) ticker {
	t := time.NewTicker(d)
	return tickerWrapper{t}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }
