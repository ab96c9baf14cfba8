package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"bustime/internal/auth"
	"bustime/internal/model"
	"bustime/internal/orchestrator"
	"bustime/internal/source"
	"bustime/internal/storage"
	"bustime/internal/synthesizer"
	"bustime/internal/verifier"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store 读侧与管理接口依赖的存储。
type Store interface {
	Ping(ctx context.Context) error
	ListContentPages(ctx context.Context, q storage.ContentQuery) ([]model.ContentPage, int64, error)
	GetContentPageBySlug(ctx context.Context, slug string) (*model.ContentPage, error)
	ListAutomationLogs(ctx context.Context, limit int) ([]model.AutomationLog, error)
	ListSchedules(ctx context.Context) ([]model.AutomationSchedule, error)
	SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*model.AutomationSchedule, error)
	CombinationStatusCounts(ctx context.Context) (map[string]int, error)
}

// Orchestrator 触发一次自动化运行。
type Orchestrator interface {
	Run(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Report, error)
}

// Verifier 核验入口。
type Verifier interface {
	Verify(ctx context.Context, req verifier.Request) (verifier.Result, error)
}

// Publisher 发布入口。
type Publisher interface {
	Publish(ctx context.Context, limit int) (synthesizer.Result, error)
}

// Generator 组合生成入口。
type Generator interface {
	Generate(ctx context.Context, limit int) (int, error)
}

// Authenticator 校验会话令牌与 cron 密钥。
type Authenticator interface {
	VerifySession(raw string) (*auth.Claims, error)
	VerifyCron(raw string) error
}

// Deps 汇总 Handler 依赖。Sources 为空时使用内置目录。
type Deps struct {
	Store          Store
	Orchestrator   Orchestrator
	Verifier       Verifier
	Publisher      Publisher
	Generator      Generator
	Auth           Authenticator
	Sources        *source.Registry
	AllowedOrigins []string
	Logger         *log.Logger
}

type server struct {
	Deps
}

// NewHandler 构造 HTTP 路由。
func NewHandler(deps Deps) http.Handler {
	if deps.Sources == nil {
		deps.Sources = source.Default()
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"https://admin.bustime.site", "http://localhost:5173", "http://localhost:3000"}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stdout, "[api] ", log.LstdFlags)
	}
	s := &server{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/content", s.listContent)
		r.Get("/content/{slug}", s.getContent)
		r.Get("/sources", s.listSources)

		r.With(s.requireSession).Post("/automation/run", s.runAutomation(orchestrator.TriggerManual))
		r.With(s.requireCron).Post("/automation/cron", s.runAutomation(orchestrator.TriggerCron))

		r.Group(func(r chi.Router) {
			r.Use(s.requireOperator)
			r.Post("/verify", s.verify)
			r.Post("/publish", s.publish)
			r.Post("/combinations/generate", s.generate)
			r.Get("/combinations/stats", s.combinationStats)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/automation/logs", s.listLogs)
			r.Get("/automation/schedules", s.listSchedules)
			r.Post("/automation/schedules/{id}/toggle", s.toggleSchedule)
		})
	})

	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized: Session token required"})
			return
		}
		if _, err := s.Auth.VerifySession(token); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized: Invalid or expired session"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requireCron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Auth.VerifyCron(auth.BearerToken(r)); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOperator 接受管理员会话令牌或 cron 密钥。
func (s *server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token != "" {
			if s.Auth.VerifyCron(token) == nil {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := s.Auth.VerifySession(token); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	})
}

func (s *server) runAutomation(trigger orchestrator.Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Orchestrator.Run(r.Context(), trigger)
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress):
			writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, report)
		}
	}
}

func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	var req verifier.Request
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	res, err := s.Verifier.Verify(r.Context(), req)
	if err != nil {
		s.Logger.Printf("verify: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	message := strconv.Itoa(res.Verified) + "개 조합이 검증되었습니다"
	if res.Total == 0 {
		message = "검증할 조합이 없습니다"
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": res, "message": message})
}

func (s *server) publish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		req.Limit = v
	}

	res, err := s.Publisher.Publish(r.Context(), req.Limit)
	if err != nil {
		s.Logger.Printf("publish: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	body := map[string]any{
		"success":           true,
		"published":         res.Published,
		"already_published": res.AlreadyPublished,
		"items":             res.Items,
		"message":           strconv.Itoa(res.Published) + "개의 콘텐츠가 발행되었습니다.",
	}
	if res.Attempted == 0 {
		body["message"] = "발행할 검증된 조합이 없습니다."
	}
	if len(res.Errors) > 0 {
		body["errors"] = res.Errors
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = v
	}
	n, err := s.Generator.Generate(r.Context(), limit)
	if err != nil {
		s.Logger.Printf("generate: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"generated": n,
		"message":   strconv.Itoa(n) + "개의 롱테일 키워드 조합이 생성되었습니다.",
	})
}

func (s *server) combinationStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Store.CombinationStatusCounts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *server) listContent(w http.ResponseWriter, r *http.Request) {
	q := storage.ContentQuery{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "limit"),
	}
	pages, total, err := s.Store.ListContentPages(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("X-Total", strconv.FormatInt(total, 10))
	writeJSON(w, http.StatusOK, map[string]any{"items": pages, "total": total})
}

func (s *server) getContent(w http.ResponseWriter, r *http.Request) {
	page, err := s.Store.GetContentPageBySlug(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "content not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) listSources(w http.ResponseWriter, r *http.Request) {
	sources := s.Sources.All()
	if region := r.URL.Query().Get("region"); region != "" {
		sources = s.Sources.ByRegion(region)
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := sources[:0:0]
		for _, src := range sources {
			if src.Category == category {
				filtered = append(filtered, src)
			}
		}
		sources = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "regions": s.Sources.Regions()})
}

func (s *server) listLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	logs, err := s.Store.ListAutomationLogs(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.Store.ListSchedules(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *server) toggleSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"is_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "is_enabled required"})
		return
	}
	sched, err := s.Store.SetScheduleEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "schedule not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// decodeOptionalJSON 空 body 视为零值请求。
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
