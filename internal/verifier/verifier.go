// Package verifier 用外部交通数据核验长尾组合背后的事实。
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"bustime/internal/metrics"
	"bustime/internal/model"
	"bustime/internal/storage"
	"bustime/internal/transit"

	"golang.org/x/time/rate"
)

// 核验失败原因
const (
	ErrMsgRouteNotFound  = "노선 정보가 존재하지 않습니다"
	ErrMsgInvalidFormat  = "API 응답 형식이 올바르지 않습니다"
	ErrMsgServiceMissing = "서비스 정보가 존재하지 않습니다"
)

// Store 核验器依赖的存储接口。
type Store interface {
	ListUnverifiedCombinations(ctx context.Context, q storage.CombinationQuery) ([]model.Combination, error)
	ClaimCombination(ctx context.Context, id string, at time.Time) (bool, error)
	RecordVerification(ctx context.Context, out storage.VerificationOutcome) error
}

// RouteLookup 外部线路查询。
type RouteLookup interface {
	LookupRoute(ctx context.Context, number string) (*transit.Route, error)
}

// Notifier 运维告警出口。
type Notifier interface {
	Notify(ctx context.Context, subject, body string, priority model.AlertPriority) error
}

// Config 核验参数。
type Config struct {
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	Delay             time.Duration `yaml:"delay" json:"delay"`
	FailureAlertRatio float64       `yaml:"failure_alert_ratio" json:"failure_alert_ratio"`
	ValidationType    string        `yaml:"validation_type" json:"validation_type"`
	SourceType        string        `yaml:"source_type" json:"source_type"`
}

// Request 核验请求。CombinationIDs 非空时只核验这些组合。
type Request struct {
	CombinationIDs []string `json:"combinationIds"`
	BatchSize      int      `json:"batchSize"`
}

// ItemError 单个组合的核验失败。
type ItemError struct {
	CombinationID string   `json:"combination_id"`
	Service       string   `json:"service"`
	Errors        []string `json:"errors"`
}

// Result 一批核验的汇总。
type Result struct {
	Total    int         `json:"total"`
	Verified int         `json:"verified"`
	Failed   int         `json:"failed"`
	Skipped  int         `json:"skipped"`
	Errors   []ItemError `json:"errors"`
}

// Verifier 事实核验器。
type Verifier struct {
	store    Store
	routes   RouteLookup
	notifier Notifier
	cfg      Config
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *log.Logger
}

// New 创建核验器。notifier 可为空。
func New(store Store, routes RouteLookup, notifier Notifier, cfg Config, logger *log.Logger) *Verifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 200 * time.Millisecond
	}
	if cfg.FailureAlertRatio <= 0 {
		cfg.FailureAlertRatio = 0.5
	}
	if cfg.ValidationType == "" {
		cfg.ValidationType = "bus_route"
	}
	if cfg.SourceType == "" {
		cfg.SourceType = "longtail_combination"
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[verifier] ", log.LstdFlags)
	}
	return &Verifier{
		store:    store,
		routes:   routes,
		notifier: notifier,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.Delay), 1),
		now:      time.Now,
		logger:   logger,
	}
}

// Verify 认领并核验一批组合。外部调用失败只影响单个组合；存储失败会中止整批并返回错误。
// 已认领的组合总会写入终态，ctx 取消时记为失败后再中止。
func (v *Verifier) Verify(ctx context.Context, req Request) (Result, error) {
	res := Result{Errors: []ItemError{}}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = v.cfg.BatchSize
	}
	combos, err := v.store.ListUnverifiedCombinations(ctx, storage.CombinationQuery{
		IDs:   req.CombinationIDs,
		Limit: batchSize,
	})
	if err != nil {
		return res, fmt.Errorf("list unverified combinations: %w", err)
	}
	if len(combos) == 0 {
		v.logger.Printf("no combinations to verify")
		return res, nil
	}

	res.Total = len(combos)
	v.logger.Printf("verify start: total=%d", res.Total)

	for _, combo := range combos {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("verify interrupted: %w", err)
		}
		claimed, err := v.store.ClaimCombination(ctx, combo.ID, v.now())
		if err != nil {
			return res, fmt.Errorf("claim combination: %w", err)
		}
		if !claimed {
			res.Skipped++
			continue
		}

		out := v.check(ctx, combo.Service)
		out.CombinationID = combo.ID
		out.ValidationType = v.cfg.ValidationType
		out.SourceType = v.cfg.SourceType
		if err := v.store.RecordVerification(context.WithoutCancel(ctx), out); err != nil {
			return res, fmt.Errorf("record verification: %w", err)
		}
		metrics.RecordVerification(out.Valid)

		if out.Valid {
			res.Verified++
			continue
		}
		res.Failed++
		name := ""
		if combo.Service != nil {
			name = combo.Service.Name
		}
		res.Errors = append(res.Errors, ItemError{
			CombinationID: combo.ID,
			Service:       name,
			Errors:        out.Errors,
		})
	}

	v.logger.Printf("verify done: verified=%d failed=%d skipped=%d", res.Verified, res.Failed, res.Skipped)

	if float64(res.Failed) > float64(res.Total)*v.cfg.FailureAlertRatio {
		v.alert(context.WithoutCancel(ctx), res)
	}
	return res, nil
}

func (v *Verifier) check(ctx context.Context, svc *model.Service) storage.VerificationOutcome {
	if svc == nil {
		return storage.VerificationOutcome{
			Errors:   []string{ErrMsgServiceMissing},
			Evidence: map[string]any{"status": "missing_service"},
		}
	}
	number := svc.Number()
	if number == "" || !svc.IsBusLike() {
		return storage.VerificationOutcome{
			Valid:    true,
			Evidence: map[string]any{"status": "not_applicable", "category": svc.Category},
		}
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return failure(err)
	}
	route, err := v.routes.LookupRoute(ctx, number)
	switch {
	case errors.Is(err, transit.ErrSchemaMismatch):
		return storage.VerificationOutcome{
			Errors:   []string{ErrMsgInvalidFormat},
			Evidence: map[string]any{"status": "invalid_format", "detail": err.Error()},
		}
	case err != nil:
		return failure(err)
	case route == nil:
		return storage.VerificationOutcome{
			Errors:   []string{ErrMsgRouteNotFound},
			Evidence: map[string]any{"status": "not_found", "number": number},
		}
	}
	return storage.VerificationOutcome{
		Valid: true,
		Evidence: map[string]any{
			"status":    "valid",
			"routeName": route.Name,
			"routeId":   route.ID,
		},
	}
}

func failure(err error) storage.VerificationOutcome {
	return storage.VerificationOutcome{
		Errors:   []string{fmt.Sprintf("API 호출 실패: %v", err)},
		Evidence: map[string]any{"status": "error", "error": err.Error()},
	}
}

func (v *Verifier) alert(ctx context.Context, res Result) {
	if v.notifier == nil {
		return
	}
	details, err := json.MarshalIndent(map[string]any{
		"message":   fmt.Sprintf("검증 실패율이 %.0f%%를 초과했습니다", v.cfg.FailureAlertRatio*100),
		"results":   res,
		"timestamp": v.now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		v.logger.Printf("marshal alert details: %v", err)
		return
	}
	body := "데이터 검증 중 문제가 발견되었습니다.\n\n" + string(details)
	if err := v.notifier.Notify(ctx, "⚠️ [bustime.site] 데이터 검증 경고", body, model.PriorityHigh); err != nil {
		v.logger.Printf("queue validation alert: %v", err)
	}
}
