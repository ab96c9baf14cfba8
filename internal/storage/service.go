package storage

import (
	"context"
	"fmt"

	"bustime/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult 表示批量写入结果。
type UpsertResult struct {
	Created int
	Updated int
}

// SeedData 关键词维度与模板的种子数据。
type SeedData struct {
	Locations []model.Location        `yaml:"locations"`
	Actions   []model.Action          `yaml:"actions"`
	Seasons   []model.Season          `yaml:"seasons"`
	Modifiers []model.Modifier        `yaml:"modifiers"`
	Templates []model.ContentTemplate `yaml:"templates"`
}

// UpsertServices 按 (service_number, category) 去重写入服务，已存在则更新描述字段。
func (s *Store) UpsertServices(ctx context.Context, services []model.Service) (UpsertResult, error) {
	res := UpsertResult{}
	if len(services) == 0 {
		return res, nil
	}

	byCategory := make(map[string][]string)
	for _, svc := range services {
		if n := svc.Number(); n != "" {
			byCategory[svc.Category] = append(byCategory[svc.Category], n)
		}
	}

	existing := make(map[string]struct{})
	for category, numbers := range byCategory {
		var rows []string
		if err := s.db.WithContext(ctx).Model(&model.Service{}).
			Where("category = ? AND service_number IN ?", category, numbers).
			Pluck("service_number", &rows).Error; err != nil {
			return res, fmt.Errorf("query existing services: %w", err)
		}
		for _, n := range rows {
			existing[category+"|"+n] = struct{}{}
		}
	}

	for _, svc := range services {
		key := svc.Category + "|" + svc.Number()
		if _, ok := existing[key]; ok && svc.Number() != "" {
			res.Updated++
			continue
		}
		res.Created++
		if svc.Number() != "" {
			existing[key] = struct{}{}
		}
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_number"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"slug",
			"description",
			"long_description",
			"operating_hours",
			"address",
			"phone",
			"website_url",
			"seo_keywords",
			"is_active",
			"updated_at",
		}),
	}).Create(&services)
	if tx.Error != nil {
		return res, fmt.Errorf("upsert services: %w", tx.Error)
	}
	return res, nil
}

// ListActiveServices 返回启用的服务。
func (s *Store) ListActiveServices(ctx context.Context, limit int) ([]model.Service, error) {
	var services []model.Service
	query := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&services).Error; err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// ListLocations 返回启用地区，按人口倒序。
func (s *Store) ListLocations(ctx context.Context, limit int) ([]model.Location, error) {
	var locations []model.Location
	query := s.db.WithContext(ctx).Where("is_active = ?", true).Order("population DESC").Order("name ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locations, nil
}

// ListActions 返回行为关键词，按优先级倒序。
func (s *Store) ListActions(ctx context.Context, limit int) ([]model.Action, error) {
	var actions []model.Action
	query := s.db.WithContext(ctx).Order("priority DESC").Order("action ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// ListSeasons 返回启用的季节关键词。
func (s *Store) ListSeasons(ctx context.Context, limit int) ([]model.Season, error) {
	var seasons []model.Season
	query := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&seasons).Error; err != nil {
		return nil, fmt.Errorf("list seasons: %w", err)
	}
	return seasons, nil
}

// GetService 根据 ID 获取服务，不存在时返回 sql.ErrNoRows。
func (s *Store) GetService(ctx context.Context, id string) (*model.Service, error) {
	var svc model.Service
	if err := s.db.WithContext(ctx).First(&svc, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get service: %w", notFound(err))
	}
	return &svc, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	var loc model.Location
	if err := s.db.WithContext(ctx).First(&loc, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get location: %w", notFound(err))
	}
	return &loc, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*model.Action, error) {
	var action model.Action
	if err := s.db.WithContext(ctx).First(&action, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get action: %w", notFound(err))
	}
	return &action, nil
}

func (s *Store) GetSeason(ctx context.Context, id string) (*model.Season, error) {
	var season model.Season
	if err := s.db.WithContext(ctx).First(&season, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get season: %w", notFound(err))
	}
	return &season, nil
}

// GetTemplate 返回分类对应的内容模板。
func (s *Store) GetTemplate(ctx context.Context, category string) (*model.ContentTemplate, error) {
	var tpl model.ContentTemplate
	if err := s.db.WithContext(ctx).First(&tpl, "category = ?", category).Error; err != nil {
		return nil, fmt.Errorf("get template: %w", notFound(err))
	}
	return &tpl, nil
}

// Seed 按自然键写入缺失的关键词与模板，重复执行不会产生重复行。
func (s *Store) Seed(ctx context.Context, data SeedData) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range data.Locations {
			n, err := firstOrCreate(tx, &data.Locations[i], "name = ?", data.Locations[i].Name)
			if err != nil {
				return fmt.Errorf("seed location %s: %w", data.Locations[i].Name, err)
			}
			created += n
		}
		for i := range data.Actions {
			n, err := firstOrCreate(tx, &data.Actions[i], "action = ?", data.Actions[i].Verb)
			if err != nil {
				return fmt.Errorf("seed action %s: %w", data.Actions[i].Verb, err)
			}
			created += n
		}
		for i := range data.Seasons {
			n, err := firstOrCreate(tx, &data.Seasons[i], "name = ?", data.Seasons[i].Name)
			if err != nil {
				return fmt.Errorf("seed season %s: %w", data.Seasons[i].Name, err)
			}
			created += n
		}
		for i := range data.Modifiers {
			n, err := firstOrCreate(tx, &data.Modifiers[i], "modifier = ?", data.Modifiers[i].Modifier)
			if err != nil {
				return fmt.Errorf("seed modifier %s: %w", data.Modifiers[i].Modifier, err)
			}
			created += n
		}
		for i := range data.Templates {
			n, err := firstOrCreate(tx, &data.Templates[i], "category = ?", data.Templates[i].Category)
			if err != nil {
				return fmt.Errorf("seed template %s: %w", data.Templates[i].Category, err)
			}
			created += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// firstOrCreate 自然键不存在时才写入，返回新增行数。
func firstOrCreate(tx *gorm.DB, dest any, query string, arg any) (int, error) {
	var count int64
	if err := tx.Model(dest).Where(query, arg).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	if err := tx.Create(dest).Error; err != nil {
		return 0, err
	}
	return 1, nil
}
