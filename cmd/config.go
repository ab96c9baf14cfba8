package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"bustime/internal/auth"
	"bustime/internal/collector"
	"bustime/internal/generator"
	"bustime/internal/model"
	"bustime/internal/notifier"
	"bustime/internal/orchestrator"
	"bustime/internal/scheduler"
	"bustime/internal/storage"
	"bustime/internal/synthesizer"
	"bustime/internal/transit"
	"bustime/internal/verifier"
)

const (
	databaseDSNEnv   = "DATABASE_DSN"
	openAIKeyEnv     = "OPENAI_API_KEY"
	seoulBusKeyEnv   = "SEOUL_BUS_API_KEY"
	sessionSecretEnv = "ADMIN_SESSION_SECRET"
	cronSecretEnv    = "CRON_SECRET"
	resendKeyEnv     = "RESEND_API_KEY"
	smtpPasswordEnv  = "SMTP_PASSWORD"
	configFileEnv    = "CONFIG_FILE"
)

// AppConfig 应用配置。
type AppConfig struct {
	Server       ServerConfig          `yaml:"server"`
	Database     storage.Config        `yaml:"database"`
	Sources      SourcesConfig         `yaml:"sources"`
	Transit      transit.Config        `yaml:"transit"`
	Collector    collector.Config      `yaml:"collector"`
	Generator    generator.Config      `yaml:"generator"`
	Verifier     verifier.Config       `yaml:"verifier"`
	Synthesizer  synthesizer.Config    `yaml:"synthesizer"`
	Orchestrator orchestrator.Config   `yaml:"orchestrator"`
	Scheduler    scheduler.Config      `yaml:"scheduler"`
	Schedules    []ScheduleConfig      `yaml:"schedules"`
	Auth         auth.Config           `yaml:"auth"`
	Alerts       AlertsConfig          `yaml:"alerts"`
	Email        notifier.EmailConfig  `yaml:"email"`
	Resend       notifier.ResendConfig `yaml:"resend"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SourcesConfig File 为空时使用内置数据源目录。
type SourcesConfig struct {
	File string `yaml:"file"`
}

// AlertsConfig Enabled 为 false 时告警只写日志。
type AlertsConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Queue   notifier.QueueConfig `yaml:"queue"`
}

// ScheduleConfig 启动时写入 automation_schedule 的调度定义。
type ScheduleConfig struct {
	Name        string `yaml:"name"`
	Function    string `yaml:"function"`
	Cron        string `yaml:"cron"`
	Enabled     *bool  `yaml:"enabled"`
	Description string `yaml:"description"`
}

func defaultSchedules() []ScheduleConfig {
	return []ScheduleConfig{
		{Name: "daily-content-automation", Function: jobOrchestrator, Cron: "0 2 * * *", Description: "팩트 검증 후 콘텐츠 자동 발행"},
		{Name: "weekly-longtail-keywords", Function: jobGenerate, Cron: "0 1 * * 1", Description: "롱테일 키워드 조합 생성"},
		{Name: "weekly-seoul-bus-collect", Function: jobCollect, Cron: "0 0 * * 0", Description: "서울 버스 노선 수집"},
	}
}

func (s ScheduleConfig) toModel() model.AutomationSchedule {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return model.AutomationSchedule{
		Name:           s.Name,
		FunctionName:   s.Function,
		CronExpression: s.Cron,
		Enabled:        enabled,
		Description:    s.Description,
	}
}

// loadConfig 读取 YAML 配置并应用环境变量。未显式指定且默认文件不存在时只使用环境变量。
func loadConfig(path string) (AppConfig, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(configFileEnv)
		explicit = path != ""
	}
	if path == "" {
		path = "config.yaml"
	}

	var cfg AppConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if len(cfg.Schedules) == 0 {
		cfg.Schedules = defaultSchedules()
	}
	for _, s := range cfg.Schedules {
		if err := scheduler.ValidateCron(s.Cron); err != nil {
			return AppConfig{}, fmt.Errorf("schedule %s: %w", s.Name, err)
		}
	}
	return cfg, nil
}

func (c *AppConfig) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.Synthesizer.Chat.APIKey = v
	}
	if v := os.Getenv(seoulBusKeyEnv); v != "" {
		c.Transit.ServiceKey = v
	}
	if v := os.Getenv(sessionSecretEnv); v != "" {
		c.Auth.SessionSecret = v
	}
	if v := os.Getenv(cronSecretEnv); v != "" {
		c.Auth.CronSecret = v
	}
	if v := os.Getenv(resendKeyEnv); v != "" {
		c.Resend.APIKey = v
	}
	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Email.Password = v
	}
}
