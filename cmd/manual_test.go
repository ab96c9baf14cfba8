package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bustime/internal/auth"
	"bustime/internal/collector"
	"bustime/internal/orchestrator"
	"bustime/internal/storage"
)

func TestRunOnceManual(t *testing.T) {
	t.Parallel()

	stub := &stubOrchestrator{report: orchestrator.Report{Success: true, Summary: orchestrator.Summary{ContentPublished: 3}}}
	builds, cleanups := 0, 0

	report, err := runOnceManual(context.Background(), AppConfig{}, func(AppConfig) (appDeps, func(), error) {
		builds++
		return appDeps{orch: stub}, func() { cleanups++ }, nil
	})
	if err != nil {
		t.Fatalf("runOnceManual error: %v", err)
	}
	if report.Summary.ContentPublished != 3 {
		t.Fatalf("expected 3 published, got %d", report.Summary.ContentPublished)
	}
	if builds != 1 || cleanups != 1 {
		t.Fatalf("expected one build and one cleanup, got %d/%d", builds, cleanups)
	}
	if stub.calls != 1 || stub.trigger != orchestrator.TriggerManual {
		t.Fatalf("unexpected orchestrator calls: %d %q", stub.calls, stub.trigger)
	}
}

func TestRunOnceManualBuilderError(t *testing.T) {
	t.Parallel()

	_, err := runOnceManual(context.Background(), AppConfig{}, func(AppConfig) (appDeps, func(), error) {
		return appDeps{}, func() {}, errors.New("build fail")
	})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestGenerateCommand(t *testing.T) {
	gen := &stubGenerator{created: 12}
	out, err := execute(t, func(AppConfig) (appDeps, func(), error) {
		return appDeps{gen: gen}, func() {}, nil
	}, "generate", "--limit", "30")
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if gen.limit != 30 || !strings.Contains(out, "12개의 롱테일 키워드 조합이 생성되었습니다.") {
		t.Fatalf("unexpected output %q (limit %d)", out, gen.limit)
	}
}

func TestCollectCommand(t *testing.T) {
	coll := &stubCollector{res: collector.Result{Fetched: 5, Collected: 4, Created: 4}}
	out, err := execute(t, func(AppConfig) (appDeps, func(), error) {
		return appDeps{collector: coll}, func() {}, nil
	}, "collect")
	if err != nil {
		t.Fatalf("collect error: %v", err)
	}
	if !strings.Contains(out, `"collected": 4`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSeedCommand(t *testing.T) {
	file := filepath.Join(t.TempDir(), "seed.yaml")
	seed := `locations:
  - name: 강남구
    level: district
    population: 530000
    is_active: true
actions:
  - verb: 시간표
    priority: 1
templates:
  - category: 서울 버스
    title_template: "{{location}} {{service}} {{action}}"
    content_template: "{{service}} 안내"
`
	if err := os.WriteFile(file, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seeder := &stubSeeder{}
	out, err := execute(t, func(AppConfig) (appDeps, func(), error) {
		return appDeps{seeder: seeder}, func() {}, nil
	}, "seed", "--file", file)
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if len(seeder.data.Locations) != 1 || seeder.data.Locations[0].Population != 530000 || !seeder.data.Locations[0].IsActive {
		t.Fatalf("unexpected locations: %+v", seeder.data.Locations)
	}
	if len(seeder.data.Templates) != 1 || seeder.data.Templates[0].TitleTemplate != "{{location}} {{service}} {{action}}" {
		t.Fatalf("unexpected templates: %+v", seeder.data.Templates)
	}
	if !strings.Contains(out, "seeded 3 new rows") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestIssueTokenCommand(t *testing.T) {
	t.Setenv(sessionSecretEnv, "issue-secret")

	out, err := execute(t, nil, "issue-token", "--admin", "admin-7", "--username", "ops")
	if err != nil {
		t.Fatalf("issue-token error: %v", err)
	}
	claims, err := auth.New(auth.Config{SessionSecret: "issue-secret"}).VerifySession(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.Subject != "admin-7" || claims.Username != "ops" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

// execute 在临时目录中用空配置运行命令，避免读取工作目录下的 config.yaml。
func execute(t *testing.T, build appBuilder, args ...string) (string, error) {
	t.Helper()
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("server:\n  addr: \":0\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	root := newRootCmd(build)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// --- stubs ---

type stubOrchestrator struct {
	report  orchestrator.Report
	trigger orchestrator.Trigger
	calls   int
}

func (s *stubOrchestrator) Run(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Report, error) {
	s.calls++
	s.trigger = trigger
	return s.report, nil
}

type stubGenerator struct {
	created int
	limit   int
}

func (s *stubGenerator) Generate(ctx context.Context, limit int) (int, error) {
	s.limit = limit
	return s.created, nil
}

type stubCollector struct {
	res collector.Result
}

func (s *stubCollector) Collect(ctx context.Context) (collector.Result, error) {
	return s.res, nil
}

type stubSeeder struct {
	data storage.SeedData
}

func (s *stubSeeder) Seed(ctx context.Context, data storage.SeedData) (int, error) {
	s.data = data
	return len(data.Locations) + len(data.Actions) + len(data.Templates), nil
}
