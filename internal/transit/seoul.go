// Package transit 封装外部交通 API 的查询与响应解码。
package transit

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"bustime/internal/source"
)

// ErrSchemaMismatch 响应结构与预期不符。调用方应按失败处理，不得继续读取字段。
var ErrSchemaMismatch = errors.New("transit: response schema mismatch")

// 首尔公交 API 的 headerCd
const (
	headerOK       = "0"
	headerNoResult = "4"
)

// UpstreamError 上游返回了非成功的业务码。
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %s: %s", e.Code, e.Message)
}

// Config 交通 API 配置。
type Config struct {
	ServiceKey string        `yaml:"service_key" json:"service_key"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	// MaxBodyBytes 限制读取的响应体大小。
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// Route 公交线路。
type Route struct {
	ID           string `json:"route_id"`
	Name         string `json:"route_name"`
	Type         string `json:"route_type"`
	StartStation string `json:"start_station"`
	EndStation   string `json:"end_station"`
	FirstBus     string `json:"first_bus"`
	LastBus      string `json:"last_bus"`
	Term         string `json:"term"`
	Length       string `json:"length"`
}

// serviceResult 对应 getBusRouteList 的 XML 根元素。
type serviceResult struct {
	XMLName   xml.Name   `xml:"ServiceResult"`
	MsgHeader *msgHeader `xml:"msgHeader"`
	MsgBody   *msgBody   `xml:"msgBody"`
}

type msgHeader struct {
	HeaderCd  string `xml:"headerCd"`
	HeaderMsg string `xml:"headerMsg"`
	ItemCount int    `xml:"itemCount"`
}

type msgBody struct {
	ItemList []routeItem `xml:"itemList"`
}

type routeItem struct {
	BusRouteID  string `xml:"busRouteId"`
	BusRouteNm  string `xml:"busRouteNm"`
	RouteType   string `xml:"routeType"`
	StStationNm string `xml:"stStationNm"`
	EdStationNm string `xml:"edStationNm"`
	FirstBusTm  string `xml:"firstBusTm"`
	LastBusTm   string `xml:"lastBusTm"`
	Term        string `xml:"term"`
	Length      string `xml:"length"`
}

// SeoulBusClient 查询首尔公交线路列表。
type SeoulBusClient struct {
	endpoint   source.Source
	serviceKey string
	client     *http.Client
	maxBody    int64
	logger     *log.Logger
}

// NewSeoulBusClient 根据数据源目录条目创建客户端。client 为空时使用带超时的默认客户端。
func NewSeoulBusClient(src source.Source, cfg Config, client *http.Client) *SeoulBusClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SeoulBusClient{
		endpoint:   src,
		serviceKey: cfg.ServiceKey,
		client:     client,
		maxBody:    cfg.MaxBodyBytes,
		logger:     log.New(os.Stdout, "[transit] ", log.LstdFlags),
	}
}

// SearchRoutes 按关键字搜索线路，空关键字返回全部线路。
func (c *SeoulBusClient) SearchRoutes(ctx context.Context, query string) ([]Route, error) {
	reqURL, err := c.endpoint.BuildURL(c.serviceKey, map[string]string{"strSrch": query})
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	c.logf("search routes: source=%s url=%s", c.endpoint.Key, source.MaskKey(reqURL, c.serviceKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	routes, err := decodeRouteList(body)
	if err != nil {
		return nil, err
	}
	c.logf("search routes: query=%q routes=%d", query, len(routes))
	return routes, nil
}

// LookupRoute 返回线路号完全匹配的线路，找不到时返回 nil, nil。
func (c *SeoulBusClient) LookupRoute(ctx context.Context, number string) (*Route, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, nil
	}
	routes, err := c.SearchRoutes(ctx, number)
	if err != nil {
		return nil, err
	}
	for i := range routes {
		if routes[i].Name == number {
			return &routes[i], nil
		}
	}
	return nil, nil
}

func decodeRouteList(body []byte) ([]Route, error) {
	var result serviceResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if result.MsgHeader == nil {
		return nil, fmt.Errorf("%w: missing msgHeader", ErrSchemaMismatch)
	}

	switch strings.TrimSpace(result.MsgHeader.HeaderCd) {
	case headerOK:
	case headerNoResult:
		return []Route{}, nil
	default:
		return nil, &UpstreamError{
			Code:    strings.TrimSpace(result.MsgHeader.HeaderCd),
			Message: strings.TrimSpace(result.MsgHeader.HeaderMsg),
		}
	}

	if result.MsgBody == nil {
		return nil, fmt.Errorf("%w: missing msgBody", ErrSchemaMismatch)
	}

	routes := make([]Route, 0, len(result.MsgBody.ItemList))
	for _, item := range result.MsgBody.ItemList {
		name := strings.TrimSpace(item.BusRouteNm)
		if name == "" {
			return nil, fmt.Errorf("%w: item without busRouteNm", ErrSchemaMismatch)
		}
		routes = append(routes, Route{
			ID:           strings.TrimSpace(item.BusRouteID),
			Name:         name,
			Type:         strings.TrimSpace(item.RouteType),
			StartStation: strings.TrimSpace(item.StStationNm),
			EndStation:   strings.TrimSpace(item.EdStationNm),
			FirstBus:     FormatBusTime(item.FirstBusTm),
			LastBus:      FormatBusTime(item.LastBusTm),
			Term:         strings.TrimSpace(item.Term),
			Length:       strings.TrimSpace(item.Length),
		})
	}
	return routes, nil
}

// FormatBusTime 把 yyyyMMddHHmmss 格式的时间转成 HH:MM，其它格式原样返回。
func FormatBusTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) == 14 && isDigits(raw) {
		return raw[8:10] + ":" + raw[10:12]
	}
	return raw
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *SeoulBusClient) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
