// Package generator 生成 服务 × 地区 × 行为 (× 季节) 的长尾组合。
package generator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"bustime/internal/metrics"
	"bustime/internal/model"
)

// Store 组合生成器依赖的存储接口。
type Store interface {
	ListActiveServices(ctx context.Context, limit int) ([]model.Service, error)
	ListLocations(ctx context.Context, limit int) ([]model.Location, error)
	ListActions(ctx context.Context, limit int) ([]model.Action, error)
	ListSeasons(ctx context.Context, limit int) ([]model.Season, error)
	CombinationSlugExists(ctx context.Context, slug string) (bool, error)
	InsertCombinations(ctx context.Context, combos []model.Combination) (int, error)
}

// Config 生成参数。
type Config struct {
	DefaultLimit  int    `yaml:"default_limit" json:"default_limit"`
	ServiceLimit  int    `yaml:"service_limit" json:"service_limit"`
	LocationLimit int    `yaml:"location_limit" json:"location_limit"`
	ActionLimit   int    `yaml:"action_limit" json:"action_limit"`
	SeasonLimit   int    `yaml:"season_limit" json:"season_limit"`
	BaseDivisor   int    `yaml:"base_divisor" json:"base_divisor"`
	SeasonDivisor int    `yaml:"season_divisor" json:"season_divisor"`
	SeasonBaseCap int    `yaml:"season_base_cap" json:"season_base_cap"`
	Competition   string `yaml:"competition" json:"competition"`
}

// Generator 组合生成器。
type Generator struct {
	store  Store
	cfg    Config
	logger *log.Logger
}

// candidate 附带生成季节组合所需的原始实体。
type candidate struct {
	combo    model.Combination
	service  model.Service
	location model.Location
	action   model.Action
}

// New 创建生成器。
func New(store Store, cfg Config, logger *log.Logger) *Generator {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.ServiceLimit <= 0 {
		cfg.ServiceLimit = 10
	}
	if cfg.LocationLimit <= 0 {
		cfg.LocationLimit = 20
	}
	if cfg.ActionLimit <= 0 {
		cfg.ActionLimit = 10
	}
	if cfg.SeasonLimit <= 0 {
		cfg.SeasonLimit = 10
	}
	if cfg.BaseDivisor <= 0 {
		cfg.BaseDivisor = 1000
	}
	if cfg.SeasonDivisor <= 0 {
		cfg.SeasonDivisor = 1500
	}
	if cfg.SeasonBaseCap <= 0 {
		cfg.SeasonBaseCap = 10
	}
	if cfg.Competition == "" {
		cfg.Competition = "low"
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[generator] ", log.LstdFlags)
	}
	return &Generator{store: store, cfg: cfg, logger: logger}
}

// Generate 生成至多 limit 个新组合，返回实际写入数量。
// limit<=0 时使用默认值。已存在的 slug 与缺少名称的记录会被跳过。
func (g *Generator) Generate(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = g.cfg.DefaultLimit
	}

	services, err := g.store.ListActiveServices(ctx, g.cfg.ServiceLimit)
	if err != nil {
		return 0, fmt.Errorf("load services: %w", err)
	}
	locations, err := g.store.ListLocations(ctx, g.cfg.LocationLimit)
	if err != nil {
		return 0, fmt.Errorf("load locations: %w", err)
	}
	actions, err := g.store.ListActions(ctx, g.cfg.ActionLimit)
	if err != nil {
		return 0, fmt.Errorf("load actions: %w", err)
	}
	seasons, err := g.store.ListSeasons(ctx, g.cfg.SeasonLimit)
	if err != nil {
		return 0, fmt.Errorf("load seasons: %w", err)
	}

	seen := make(map[string]struct{})
	candidates := make([]candidate, 0, limit)

	// 返回 true 表示加入候选
	accept := func(title string) (string, bool, error) {
		slug := model.Slugify(title)
		if slug == "" {
			return "", false, nil
		}
		if _, dup := seen[slug]; dup {
			return slug, false, nil
		}
		exists, err := g.store.CombinationSlugExists(ctx, slug)
		if err != nil {
			return "", false, fmt.Errorf("check slug %s: %w", slug, err)
		}
		seen[slug] = struct{}{}
		return slug, !exists, nil
	}

	for _, svc := range services {
		if len(candidates) >= limit {
			break
		}
		svcName := strings.TrimSpace(svc.Name)
		if svcName == "" {
			continue
		}
		for _, loc := range locations {
			if len(candidates) >= limit {
				break
			}
			locName := strings.TrimSpace(loc.Name)
			if locName == "" {
				continue
			}
			for _, act := range actions {
				if len(candidates) >= limit {
					break
				}
				verb := strings.TrimSpace(act.Verb)
				if verb == "" {
					continue
				}

				title := strings.Join([]string{locName, svcName, verb}, " ")
				slug, ok, err := accept(title)
				if err != nil {
					return 0, err
				}
				if !ok {
					continue
				}
				candidates = append(candidates, candidate{
					combo: model.Combination{
						ServiceID:      svc.ID,
						LocationID:     loc.ID,
						ActionID:       act.ID,
						GeneratedTitle: title,
						GeneratedSlug:  slug,
						SearchVolume:   loc.Population / g.cfg.BaseDivisor,
						Competition:    g.cfg.Competition,
						Status:         model.CombinationPending,
					},
					service:  svc,
					location: loc,
					action:   act,
				})
			}
		}
	}

	// 季节组合只叠加在本轮前 SeasonBaseCap 个基础组合上
	if len(candidates) < limit && len(seasons) > 0 && len(candidates) > 0 {
		baseCount := min(g.cfg.SeasonBaseCap, len(candidates))
		for i := 0; i < baseCount && len(candidates) < limit; i++ {
			base := candidates[i]
			season := seasons[i%len(seasons)]
			seasonName := strings.TrimSpace(season.Name)
			if seasonName == "" {
				continue
			}

			title := strings.Join([]string{seasonName, base.combo.GeneratedTitle}, " ")
			slug, ok, err := accept(title)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			seasonID := season.ID
			candidates = append(candidates, candidate{
				combo: model.Combination{
					ServiceID:      base.service.ID,
					LocationID:     base.location.ID,
					ActionID:       base.action.ID,
					SeasonID:       &seasonID,
					GeneratedTitle: title,
					GeneratedSlug:  slug,
					SearchVolume:   base.location.Population / g.cfg.SeasonDivisor,
					Competition:    g.cfg.Competition,
					Status:         model.CombinationPending,
				},
				service:  base.service,
				location: base.location,
				action:   base.action,
			})
		}
	}

	if len(candidates) == 0 {
		g.logger.Printf("no new combinations: services=%d locations=%d actions=%d", len(services), len(locations), len(actions))
		return 0, nil
	}

	combos := make([]model.Combination, 0, len(candidates))
	for _, c := range candidates {
		combos = append(combos, c.combo)
	}
	inserted, err := g.store.InsertCombinations(ctx, combos)
	if err != nil {
		return 0, fmt.Errorf("insert combinations: %w", err)
	}
	metrics.RecordGenerated(inserted)
	g.logger.Printf("generated combinations: candidates=%d inserted=%d limit=%d", len(candidates), inserted, limit)
	return inserted, nil
}
