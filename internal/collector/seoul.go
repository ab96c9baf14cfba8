// Package collector 从外部交通 API 采集线路并写入服务表。
package collector

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"bustime/internal/model"
	"bustime/internal/storage"
	"bustime/internal/transit"
)

// RouteSearcher 线路搜索接口。
type RouteSearcher interface {
	SearchRoutes(ctx context.Context, query string) ([]transit.Route, error)
}

// Store 采集器依赖的存储接口。
type Store interface {
	UpsertServices(ctx context.Context, services []model.Service) (storage.UpsertResult, error)
}

// Config 采集配置。
type Config struct {
	Category  string `yaml:"category" json:"category"`
	MaxRoutes int    `yaml:"max_routes" json:"max_routes"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// Result 一次采集的统计。
type Result struct {
	Fetched   int `json:"fetched"`
	Collected int `json:"collected"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
}

var routeTypeNames = map[string]string{
	"1": "공항",
	"2": "마을",
	"3": "간선",
	"4": "지선",
	"5": "순환",
	"6": "광역",
	"7": "인천",
	"0": "기타",
}

// SeoulCollector 采集首尔公交线路。
type SeoulCollector struct {
	routes RouteSearcher
	store  Store
	cfg    Config
	logger *log.Logger
}

// NewSeoulCollector 创建采集器。
func NewSeoulCollector(routes RouteSearcher, store Store, cfg Config, logger *log.Logger) *SeoulCollector {
	if cfg.Category == "" {
		cfg.Category = "서울 버스"
	}
	if cfg.MaxRoutes <= 0 {
		cfg.MaxRoutes = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[collector] ", log.LstdFlags)
	}
	return &SeoulCollector{routes: routes, store: store, cfg: cfg, logger: logger}
}

// Collect 拉取线路列表并按 batch_size 分批 upsert。
func (c *SeoulCollector) Collect(ctx context.Context) (Result, error) {
	var res Result

	routes, err := c.routes.SearchRoutes(ctx, "")
	if err != nil {
		return res, fmt.Errorf("search routes: %w", err)
	}
	res.Fetched = len(routes)
	if len(routes) > c.cfg.MaxRoutes {
		routes = routes[:c.cfg.MaxRoutes]
	}
	c.logger.Printf("collect start: fetched=%d limit=%d category=%s", res.Fetched, c.cfg.MaxRoutes, c.cfg.Category)

	batch := make([]model.Service, 0, c.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		up, err := c.store.UpsertServices(ctx, batch)
		if err != nil {
			return fmt.Errorf("upsert services: %w", err)
		}
		res.Created += up.Created
		res.Updated += up.Updated
		c.logger.Printf("saved batch: size=%d total=%d", len(batch), res.Collected)
		batch = batch[:0]
		return nil
	}

	for _, route := range routes {
		if route.Name == "" {
			continue
		}
		batch = append(batch, c.toService(route))
		res.Collected++
		if len(batch) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	c.logger.Printf("collect done: collected=%d created=%d updated=%d", res.Collected, res.Created, res.Updated)
	return res, nil
}

func (c *SeoulCollector) toService(route transit.Route) model.Service {
	routeType, ok := routeTypeNames[route.Type]
	if !ok {
		routeType = "일반"
	}
	first := orDefault(route.FirstBus, "05:00")
	last := orDefault(route.LastBus, "23:30")
	interval, err := strconv.Atoi(strings.TrimSpace(route.Term))
	if err != nil || interval <= 0 {
		interval = 10
	}

	number := route.Name
	return model.Service{
		Category:        c.cfg.Category,
		Name:            fmt.Sprintf("서울 %s번 버스", number),
		Slug:            model.Slugify(fmt.Sprintf("서울 %s번 버스", number)),
		ServiceNumber:   &number,
		Description:     fmt.Sprintf("%s에서 %s까지 운행하는 %s버스", route.StartStation, route.EndStation, routeType),
		LongDescription: routeGuide(route, routeType, first, last, interval),
		OperatingHours:  fmt.Sprintf("첫차 %s / 막차 %s", first, last),
		Address:         "서울특별시",
		Phone:           "1330",
		WebsiteURL:      "https://bus.go.kr",
		SEOKeywords:     []string{"서울", number, "버스", "시간표", "노선도", routeType},
		IsActive:        true,
	}
}

func routeGuide(route transit.Route, routeType, first, last string, interval int) string {
	length := orDefault(route.Length, "정보 없음")
	var b strings.Builder
	fmt.Fprintf(&b, "# 서울 %s번 버스 안내\n\n", route.Name)
	fmt.Fprintf(&b, "서울 %s번 버스는 %s에서 %s까지 운행하는 %s버스입니다.\n\n", route.Name, route.StartStation, route.EndStation, routeType)
	b.WriteString("## 기본 정보\n\n")
	fmt.Fprintf(&b, "- **노선 번호**: %s\n", route.Name)
	fmt.Fprintf(&b, "- **노선 유형**: %s버스\n", routeType)
	fmt.Fprintf(&b, "- **운행 구간**: %s ↔ %s\n", route.StartStation, route.EndStation)
	fmt.Fprintf(&b, "- **노선 길이**: %s\n", length)
	fmt.Fprintf(&b, "- **첫차 시간**: %s\n", first)
	fmt.Fprintf(&b, "- **막차 시간**: %s\n", last)
	fmt.Fprintf(&b, "- **배차 간격**: 평균 %d분\n\n", interval)
	b.WriteString("## 운행 시간\n\n")
	fmt.Fprintf(&b, "- **평일**: %s ~ %s\n", first, last)
	fmt.Fprintf(&b, "- **배차 간격**: 평일 %d분 / 주말 %d분\n\n", interval, interval+5)
	b.WriteString("## 실시간 정보 확인\n\n")
	b.WriteString("- [서울시 버스정보시스템](https://bus.go.kr)\n")
	return b.String()
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
