// Package source 维护外部交通数据源目录，供采集器和核验器查询端点。
package source

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultCatalog []byte

// 数据源分类
const (
	CategoryCityBus           = "city_bus"
	CategoryCityBusPosition   = "city_bus_pos"
	CategoryExpressBus        = "express_bus"
	CategoryExpressBusArrival = "express_bus_arrival"
	CategoryIntercityBus      = "intercity_bus"
	CategoryAirportBus        = "airport_bus"
	CategoryTrain             = "train"
	CategoryBusLane           = "bus_lane"
)

// SeoulBusRoute 是核验与采集默认使用的数据源 key。
const SeoulBusRoute = "seoul_bus_route"

// Source 单个外部数据源。
type Source struct {
	Key           string            `yaml:"key" json:"key"`
	Provider      string            `yaml:"provider" json:"provider"`
	Region        string            `yaml:"region" json:"region"`
	Category      string            `yaml:"category" json:"category"`
	Endpoint      string            `yaml:"endpoint" json:"endpoint"`
	Format        string            `yaml:"format" json:"format"`
	DefaultParams map[string]string `yaml:"default_params,omitempty" json:"default_params,omitempty"`
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	Description   string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// Registry 只读目录，按 key 保持插入顺序。
type Registry struct {
	order   []string
	sources map[string]Source
}

type catalogFile struct {
	Sources []Source `yaml:"sources"`
}

// Default 返回内置目录。内置 YAML 无法解析属于构建错误，直接 panic。
func Default() *Registry {
	reg, err := Load(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("source: invalid embedded catalog: %v", err))
	}
	return reg
}

// Load 解析 YAML 目录并校验每个条目。
func Load(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source catalog: %w", err)
	}

	reg := &Registry{sources: make(map[string]Source, len(file.Sources))}
	for i, src := range file.Sources {
		src.Key = strings.TrimSpace(src.Key)
		src.Format = strings.ToLower(strings.TrimSpace(src.Format))
		if err := validate(src); err != nil {
			return nil, fmt.Errorf("source #%d: %w", i, err)
		}
		if _, dup := reg.sources[src.Key]; dup {
			return nil, fmt.Errorf("duplicate source key %q", src.Key)
		}
		reg.order = append(reg.order, src.Key)
		reg.sources[src.Key] = src
	}
	return reg, nil
}

func validate(src Source) error {
	if src.Key == "" {
		return fmt.Errorf("key required")
	}
	if strings.TrimSpace(src.Endpoint) == "" {
		return fmt.Errorf("%s: endpoint required", src.Key)
	}
	if _, err := url.ParseRequestURI(src.Endpoint); err != nil {
		return fmt.Errorf("%s: invalid endpoint: %w", src.Key, err)
	}
	switch src.Format {
	case "xml", "json":
	default:
		return fmt.Errorf("%s: unsupported format %q", src.Key, src.Format)
	}
	return nil
}

// Get 按 key 查询数据源。
func (r *Registry) Get(key string) (Source, bool) {
	src, ok := r.sources[key]
	return src, ok
}

// All 返回全部数据源（含未启用）。
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.sources[key])
	}
	return out
}

// Enabled 返回启用的数据源。
func (r *Registry) Enabled() []Source {
	return r.filter(func(s Source) bool { return true })
}

// ByCategory 返回指定分类下启用的数据源。
func (r *Registry) ByCategory(category string) []Source {
	return r.filter(func(s Source) bool { return s.Category == category })
}

// ByRegion 返回指定地区下启用的数据源。
func (r *Registry) ByRegion(region string) []Source {
	return r.filter(func(s Source) bool { return s.Region == region })
}

// Regions 返回启用数据源覆盖的地区，已排序。
func (r *Registry) Regions() []string {
	seen := make(map[string]struct{})
	var regions []string
	for _, src := range r.Enabled() {
		if _, ok := seen[src.Region]; ok {
			continue
		}
		seen[src.Region] = struct{}{}
		regions = append(regions, src.Region)
	}
	sort.Strings(regions)
	return regions
}

func (r *Registry) filter(keep func(Source) bool) []Source {
	var out []Source
	for _, key := range r.order {
		src := r.sources[key]
		if src.Enabled && keep(src) {
			out = append(out, src)
		}
	}
	return out
}

// BuildURL 拼接请求地址：serviceKey、默认参数，最后是调用方参数。
func (s Source) BuildURL(serviceKey string, params map[string]string) (string, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %s: %w", s.Key, err)
	}
	q := u.Query()
	if serviceKey != "" {
		q.Set("serviceKey", serviceKey)
	}
	for k, v := range s.DefaultParams {
		q.Set(k, v)
	}
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// MaskKey 把 URL 中的 serviceKey 替换掉，用于日志输出。
func MaskKey(rawURL, serviceKey string) string {
	if serviceKey == "" {
		return rawURL
	}
	masked := strings.ReplaceAll(rawURL, url.QueryEscape(serviceKey), "***MASKED***")
	return strings.ReplaceAll(masked, serviceKey, "***MASKED***")
}
