package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"bustime/internal/api"
	"bustime/internal/auth"
	"bustime/internal/collector"
	"bustime/internal/generator"
	"bustime/internal/model"
	"bustime/internal/notifier"
	"bustime/internal/orchestrator"
	"bustime/internal/scheduler"
	"bustime/internal/source"
	"bustime/internal/storage"
	"bustime/internal/synthesizer"
	"bustime/internal/transit"
	"bustime/internal/verifier"
)

const (
	jobOrchestrator = "auto-content-orchestrator"
	jobGenerate     = "generate-longtail-keywords"
	jobCollect      = "collect-seoul-buses"

	seoulRouteSource = "seoul_bus_route"
)

type orchestratorRunner interface {
	Run(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Report, error)
}

type combinationGenerator interface {
	Generate(ctx context.Context, limit int) (int, error)
}

type routeCollector interface {
	Collect(ctx context.Context) (collector.Result, error)
}

type schedulerRunner interface {
	Start(ctx context.Context) error
}

type seeder interface {
	Seed(ctx context.Context, data storage.SeedData) (int, error)
}

// appDeps 组装完成的组件。
type appDeps struct {
	orch      orchestratorRunner
	gen       combinationGenerator
	collector routeCollector
	sched     schedulerRunner
	seeder    seeder
	handler   http.Handler
}

type appBuilder func(AppConfig) (appDeps, func(), error)

func newLogger(component string) *log.Logger {
	return log.New(os.Stdout, "["+component+"] ", log.LstdFlags)
}

// buildApp 打开数据库并按配置装配全部组件，返回的 cleanup 负责关闭数据库。
func buildApp(cfg AppConfig) (appDeps, func(), error) {
	store, err := storage.NewStore(cfg.Database)
	if err != nil {
		return appDeps{}, func() {}, fmt.Errorf("init store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	sources := source.Default()
	if cfg.Sources.File != "" {
		data, err := os.ReadFile(cfg.Sources.File)
		if err != nil {
			cleanup()
			return appDeps{}, func() {}, fmt.Errorf("read sources %s: %w", cfg.Sources.File, err)
		}
		if sources, err = source.Load(data); err != nil {
			cleanup()
			return appDeps{}, func() {}, fmt.Errorf("load sources: %w", err)
		}
	}
	seoul, ok := sources.Get(seoulRouteSource)
	if !ok {
		cleanup()
		return appDeps{}, func() {}, fmt.Errorf("source %s not configured", seoulRouteSource)
	}
	busClient := transit.NewSeoulBusClient(seoul, cfg.Transit, nil)

	alerts := buildNotifier(cfg, store)

	gen := generator.New(store, cfg.Generator, newLogger("generator"))
	ver := verifier.New(store, busClient, alerts, cfg.Verifier, newLogger("verifier"))
	synth := synthesizer.New(store, buildStrategy(cfg.Synthesizer, store), cfg.Synthesizer, newLogger("synthesizer"))
	orch := orchestrator.New(ver, synth, store, alerts, cfg.Orchestrator, newLogger("orchestrator"))
	coll := collector.NewSeoulCollector(busClient, store, cfg.Collector, newLogger("collector"))

	ctx := context.Background()
	for _, s := range cfg.Schedules {
		if err := store.EnsureSchedule(ctx, s.toModel()); err != nil {
			cleanup()
			return appDeps{}, func() {}, err
		}
	}

	jobs := map[string]scheduler.Job{
		jobOrchestrator: func(ctx context.Context) (string, error) {
			report, err := orch.Run(ctx, orchestrator.TriggerSchedule)
			if err != nil {
				return "", err
			}
			return report.Message, nil
		},
		jobGenerate: func(ctx context.Context) (string, error) {
			n, err := gen.Generate(ctx, 0)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("generated %d", n), nil
		},
		jobCollect: func(ctx context.Context) (string, error) {
			res, err := coll.Collect(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("collected %d (created %d, updated %d)", res.Collected, res.Created, res.Updated), nil
		},
	}
	var dispatcher scheduler.Dispatcher
	if sink, ok := alerts.(*notifier.QueueSink); ok {
		dispatcher = sink
	}
	sched := scheduler.NewScheduler(store, jobs, dispatcher, cfg.Scheduler, newLogger("scheduler"))

	handler := api.NewHandler(api.Deps{
		Store:          store,
		Orchestrator:   orch,
		Verifier:       ver,
		Publisher:      synth,
		Generator:      gen,
		Auth:           auth.New(cfg.Auth),
		Sources:        sources,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         newLogger("api"),
	})

	log.Printf("content strategy=%s alerts=%t", synth.StrategyName(), dispatcher != nil)
	return appDeps{
		orch:      orch,
		gen:       gen,
		collector: coll,
		sched:     sched,
		seeder:    store,
		handler:   handler,
	}, cleanup, nil
}

type alertNotifier interface {
	Notify(ctx context.Context, subject, body string, priority model.AlertPriority) error
}

// buildNotifier 告警关闭时只写日志；开启时持久化到队列，Resend 优先于 SMTP。
func buildNotifier(cfg AppConfig, store *storage.Store) alertNotifier {
	if !cfg.Alerts.Enabled {
		return notifier.NewLogNotifier(newLogger("alert"))
	}
	var sender notifier.EmailSender
	switch {
	case cfg.Resend.APIKey != "":
		sender = notifier.NewResendClient(cfg.Resend, nil)
	case cfg.Email.Host != "":
		sender = notifier.NewSMTPClient(cfg.Email)
	default:
		log.Printf("alert sender disabled: missing resend api key and smtp host")
	}
	return notifier.NewQueueSink(store, sender, cfg.Alerts.Queue, newLogger("alert"))
}

// buildStrategy 未指定策略时，有 API key 用生成式，否则用模板。
func buildStrategy(cfg synthesizer.Config, templates synthesizer.TemplateStore) synthesizer.Strategy {
	name := strings.ToLower(strings.TrimSpace(cfg.Strategy))
	if name == "" {
		name = "template"
		if cfg.Chat.APIKey != "" {
			name = "generative"
		}
	}
	if name == "generative" {
		return synthesizer.NewGenerativeStrategy(synthesizer.NewChatClient(cfg.Chat, nil), cfg.MinContentChars)
	}
	return synthesizer.NewTemplateStrategy(templates)
}
