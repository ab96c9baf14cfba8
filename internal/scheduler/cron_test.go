package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bustime/internal/model"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestParseCronField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		expr     string
		min, max int
		want     []int
	}{
		{"*/15", 0, 59, []int{0, 15, 30, 45}},
		{"1-5", 0, 6, []int{1, 2, 3, 4, 5}},
		{"0-20/10", 0, 59, []int{0, 10, 20}},
		{"5/20", 0, 59, []int{5, 25, 45}},
		{"1,3,22", 0, 23, []int{1, 3, 22}},
	}
	for _, c := range cases {
		got, err := parseCronField(c.expr, c.min, c.max)
		if err != nil {
			t.Fatalf("parseCronField(%q) error: %v", c.expr, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("parseCronField(%q) = %v, want %v", c.expr, got, c.want)
		}
		for _, v := range c.want {
			if _, ok := got[v]; !ok {
				t.Fatalf("parseCronField(%q) missing %d", c.expr, v)
			}
		}
	}

	for _, bad := range []string{"", "60", "5-1", "*/0", "a-b", "1-99"} {
		if _, err := parseCronField(bad, 0, 59); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 7, 8, 59, 30, 0, time.UTC) // Friday
	next, err := NextRun("0 9 * * *", base)
	if err != nil {
		t.Fatalf("NextRun error: %v", err)
	}
	if !next.Equal(time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %v", next)
	}

	// 周日可写作 7
	next, err = NextRun("30 6 * * 7", base)
	if err != nil {
		t.Fatalf("NextRun error: %v", err)
	}
	if !next.Equal(time.Date(2025, 3, 9, 6, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected sunday run %v", next)
	}

	// 日与周同时受限时取并集：下一个 15 号或周一
	next, err = NextRun("0 0 15 * 1", base)
	if err != nil {
		t.Fatalf("NextRun error: %v", err)
	}
	if !next.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected dom/dow run %v", next)
	}

	if err := ValidateCron("* * *"); err == nil {
		t.Fatalf("expected error for short spec")
	}
}

func TestRunDueExecutesMatchingSchedules(t *testing.T) {
	t.Parallel()

	store := &stubStore{schedules: []model.AutomationSchedule{
		{ID: "1", Name: "daily", FunctionName: "orchestrate", CronExpression: "0 9 * * *", Enabled: true},
		{ID: "2", Name: "off", FunctionName: "orchestrate", CronExpression: "* * * * *", Enabled: false},
		{ID: "3", Name: "hourly", FunctionName: "generate", CronExpression: "0 * * * *", Enabled: true},
		{ID: "4", Name: "broken", FunctionName: "generate", CronExpression: "nope", Enabled: true},
		{ID: "5", Name: "orphan", FunctionName: "missing", CronExpression: "0 9 * * *", Enabled: true},
	}}
	var orchestrated, generated atomic.Int32
	jobs := map[string]Job{
		"orchestrate": func(ctx context.Context) (string, error) { orchestrated.Add(1); return "published 10", nil },
		"generate":    func(ctx context.Context) (string, error) { generated.Add(1); return "", errors.New("db locked") },
	}
	sched := NewScheduler(store, jobs, nil, Config{}, quietLogger())

	started, err := sched.RunDue(context.Background(), time.Date(2025, 3, 7, 9, 0, 12, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunDue error: %v", err)
	}
	sched.Wait()

	if started != 2 || orchestrated.Load() != 1 || generated.Load() != 1 {
		t.Fatalf("unexpected runs: started=%d orchestrated=%d generated=%d", started, orchestrated.Load(), generated.Load())
	}
	runs := store.recorded()
	if len(runs) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(runs))
	}
	for _, r := range runs {
		switch r.id {
		case "1":
			if !r.succeeded || r.status != "published 10" || r.next == nil || !r.next.Equal(time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)) {
				t.Fatalf("unexpected daily record: %+v", r)
			}
		case "3":
			if r.succeeded || r.status != "failed: db locked" {
				t.Fatalf("unexpected hourly record: %+v", r)
			}
		default:
			t.Fatalf("unexpected schedule recorded: %s", r.id)
		}
	}
}

func TestRunDueSkipsJobStillRunning(t *testing.T) {
	t.Parallel()

	store := &stubStore{schedules: []model.AutomationSchedule{
		{ID: "1", Name: "every-minute", FunctionName: "slow", CronExpression: "* * * * *", Enabled: true},
	}}
	release := make(chan struct{})
	var calls atomic.Int32
	jobs := map[string]Job{"slow": func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "ok", nil
	}}
	sched := NewScheduler(store, jobs, nil, Config{}, quietLogger())

	now := time.Now()
	if n, _ := sched.RunDue(context.Background(), now); n != 1 {
		t.Fatalf("expected first run to start, got %d", n)
	}
	if n, _ := sched.RunDue(context.Background(), now.Add(time.Minute)); n != 0 {
		t.Fatalf("expected overlapping run to be skipped, got %d", n)
	}
	close(release)
	sched.Wait()
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	jobs := map[string]Job{"collect-seoul-buses": func(ctx context.Context) (string, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected a deadline on the job context")
		}
		return "collected 3", nil
	}}
	sched := NewScheduler(&stubStore{}, jobs, nil, Config{Timeout: "5s"}, quietLogger())

	status, err := sched.RunOnce(context.Background(), "collect-seoul-buses")
	if err != nil || status != "collected 3" {
		t.Fatalf("RunOnce: %q %v", status, err)
	}
	if _, err := sched.RunOnce(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestStartTicksAndDispatches(t *testing.T) {
	t.Parallel()

	store := &stubStore{schedules: []model.AutomationSchedule{
		{ID: "1", Name: "always", FunctionName: "job", CronExpression: "* * * * *", Enabled: true},
	}}
	var calls atomic.Int32
	jobs := map[string]Job{"job": func(ctx context.Context) (string, error) { calls.Add(1); return "ok", nil }}
	dispatcher := &stubDispatcher{}

	sched := NewScheduler(store, jobs, dispatcher, Config{}, quietLogger())
	sched.newTicker = func(d time.Duration) ticker {
		st := &stubTicker{ch: make(chan time.Time, 1)}
		st.ch <- time.Now()
		return st
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 || dispatcher.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("scheduler did not tick: job=%d dispatch=%d", calls.Load(), dispatcher.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(store.recorded()) != 1 {
		t.Fatalf("expected the run to be recorded before Start returned")
	}
}

// --- stubs ---

type recordedRun struct {
	id        string
	succeeded bool
	status    string
	next      *time.Time
}

type stubStore struct {
	mu        sync.Mutex
	schedules []model.AutomationSchedule
	runs      []recordedRun
}

func (s *stubStore) ListSchedules(ctx context.Context) ([]model.AutomationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AutomationSchedule(nil), s.schedules...), nil
}

func (s *stubStore) RecordScheduleRun(ctx context.Context, id string, ranAt time.Time, succeeded bool, status string, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, recordedRun{id: id, succeeded: succeeded, status: status, next: next})
	return nil
}

func (s *stubStore) recorded() []recordedRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRun(nil), s.runs...)
}

type stubDispatcher struct {
	calls atomic.Int32
}

func (d *stubDispatcher) Dispatch(ctx context.Context) (int, error) {
	d.calls.Add(1)
	return 0, nil
}

type stubTicker struct {
	ch chan time.Time
}

func (s *stubTicker) C() <-chan time.Time { return s.ch }
func (s *stubTicker) Stop()               {}
