// Package synthesizer 把已核验的组合转换为内容页并发布。
package synthesizer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"bustime/internal/metrics"
	"bustime/internal/model"

	"golang.org/x/sync/errgroup"
)

// Store 内容合成依赖的存储接口。
type Store interface {
	ListPublishableCombinations(ctx context.Context, limit int) ([]model.Combination, error)
	GetService(ctx context.Context, id string) (*model.Service, error)
	GetLocation(ctx context.Context, id string) (*model.Location, error)
	GetAction(ctx context.Context, id string) (*model.Action, error)
	GetSeason(ctx context.Context, id string) (*model.Season, error)
	ContentSlugExists(ctx context.Context, slug string) (bool, error)
	MarkCombinationGenerating(ctx context.Context, id string) (bool, error)
	MarkCombinationFailed(ctx context.Context, id string) error
	MarkCombinationPublished(ctx context.Context, id string, at time.Time) (bool, error)
	PublishContent(ctx context.Context, page *model.ContentPage, combinationID string, at time.Time) error
}

// Config 合成参数。Strategy 为 template、generative 或留空（有 API key 时用 generative）。
type Config struct {
	DefaultLimit    int        `yaml:"default_limit" json:"default_limit"`
	Strategy        string     `yaml:"strategy" json:"strategy"`
	MinContentChars int        `yaml:"min_content_chars" json:"min_content_chars"`
	Chat            ChatConfig `yaml:"chat" json:"chat"`
}

// Item 一条成功发布的记录。
type Item struct {
	CombinationID string `json:"combination_id"`
	Slug          string `json:"slug"`
	Title         string `json:"title"`
}

// ItemError 单个组合的失败原因。
type ItemError struct {
	CombinationID string `json:"combination_id"`
	Error         string `json:"error"`
}

// Result 一批发布的汇总。Attempted 为 0 表示没有可发布的组合。
type Result struct {
	Attempted        int         `json:"attempted"`
	Published        int         `json:"published"`
	AlreadyPublished int         `json:"already_published"`
	Skipped          int         `json:"skipped"`
	Items            []Item      `json:"items"`
	Errors           []ItemError `json:"errors"`
}

// Synthesizer 内容合成器。
type Synthesizer struct {
	store    Store
	strategy Strategy
	cfg      Config
	now      func() time.Time
	logger   *log.Logger
}

// New 创建合成器。
func New(store Store, strategy Strategy, cfg Config, logger *log.Logger) *Synthesizer {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[synthesizer] ", log.LstdFlags)
	}
	return &Synthesizer{store: store, strategy: strategy, cfg: cfg, now: time.Now, logger: logger}
}

// StrategyName 返回当前策略名称。
func (s *Synthesizer) StrategyName() string { return s.strategy.Name() }

// Publish 按搜索量倒序发布至多 limit 个已核验组合。
// 单个组合失败只记录到 Errors，不会中断整批；只有读取候选失败才返回 error。
func (s *Synthesizer) Publish(ctx context.Context, limit int) (Result, error) {
	res := Result{Items: []Item{}, Errors: []ItemError{}}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}

	combos, err := s.store.ListPublishableCombinations(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list publishable combinations: %w", err)
	}
	if len(combos) == 0 {
		s.logger.Printf("no verified combinations to publish")
		return res, nil
	}

	res.Attempted = len(combos)
	s.logger.Printf("publish start: strategy=%s combinations=%d", s.strategy.Name(), len(combos))

	for _, combo := range combos {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("publish interrupted: %w", err)
		}
		item, done, err := s.publishOne(ctx, combo)
		switch {
		case err != nil:
			s.logger.Printf("combination=%s failed: %v", combo.ID, err)
			if markErr := s.store.MarkCombinationFailed(context.WithoutCancel(ctx), combo.ID); markErr != nil {
				s.logger.Printf("combination=%s mark failed: %v", combo.ID, markErr)
			}
			res.Errors = append(res.Errors, ItemError{CombinationID: combo.ID, Error: err.Error()})
		case done == outcomeAlreadyPublished:
			res.AlreadyPublished++
		case done == outcomeSkipped:
			res.Skipped++
		default:
			res.Published++
			res.Items = append(res.Items, item)
		}
	}

	metrics.RecordPublished(res.Published)
	s.logger.Printf("publish done: published=%d already=%d skipped=%d errors=%d", res.Published, res.AlreadyPublished, res.Skipped, len(res.Errors))
	return res, nil
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeAlreadyPublished
	outcomeSkipped
)

func (s *Synthesizer) publishOne(ctx context.Context, combo model.Combination) (Item, outcome, error) {
	if !combo.CanPublish() {
		return Item{}, outcomeSkipped, nil
	}

	slug := combo.GeneratedSlug
	exists, err := s.store.ContentSlugExists(ctx, slug)
	if err != nil {
		return Item{}, 0, fmt.Errorf("check content slug: %w", err)
	}
	if exists {
		if _, err := s.store.MarkCombinationPublished(ctx, combo.ID, s.now()); err != nil {
			return Item{}, 0, err
		}
		s.logger.Printf("combination=%s slug=%s already published", combo.ID, slug)
		return Item{}, outcomeAlreadyPublished, nil
	}

	claimed, err := s.store.MarkCombinationGenerating(ctx, combo.ID)
	if err != nil {
		return Item{}, 0, err
	}
	if !claimed {
		return Item{}, outcomeSkipped, nil
	}

	entities, err := s.resolve(ctx, combo)
	if err != nil {
		return Item{}, 0, fmt.Errorf("resolve entities: %w", err)
	}

	draft, err := s.strategy.Compose(ctx, entities)
	if err != nil {
		return Item{}, 0, fmt.Errorf("compose %s: %w", s.strategy.Name(), err)
	}

	page := &model.ContentPage{
		CombinationID:   &combo.ID,
		ServiceID:       &entities.Service.ID,
		LocationID:      &entities.Location.ID,
		Title:           draft.Title,
		Slug:            slug,
		MetaDescription: draft.MetaDescription,
		Content:         draft.Content,
		Format:          draft.Format,
		Keywords:        draft.Keywords,
		TargetKeyword:   draft.TargetKeyword,
		SearchVolume:    combo.SearchVolume,
	}
	if err := s.store.PublishContent(ctx, page, combo.ID, s.now()); err != nil {
		return Item{}, 0, err
	}

	s.logger.Printf("published: combination=%s slug=%s", combo.ID, slug)
	return Item{CombinationID: combo.ID, Slug: slug, Title: draft.Title}, outcomePublished, nil
}

// resolve 并行读取组合引用的实体，任一缺失即失败。
func (s *Synthesizer) resolve(ctx context.Context, combo model.Combination) (Entities, error) {
	e := Entities{Combination: combo}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc, err := s.store.GetService(gctx, combo.ServiceID)
		e.Service = svc
		return err
	})
	g.Go(func() error {
		loc, err := s.store.GetLocation(gctx, combo.LocationID)
		e.Location = loc
		return err
	})
	g.Go(func() error {
		act, err := s.store.GetAction(gctx, combo.ActionID)
		e.Action = act
		return err
	})
	if combo.SeasonID != nil && *combo.SeasonID != "" {
		g.Go(func() error {
			season, err := s.store.GetSeason(gctx, *combo.SeasonID)
			e.Season = season
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Entities{}, err
	}
	return e, nil
}
