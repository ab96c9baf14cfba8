package synthesizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"bustime/internal/model"

	"github.com/microcosm-cc/bluemonday"
)

// ErrTemplateMissing 分类没有对应模板。
var ErrTemplateMissing = errors.New("content template missing")

// ErrRejectedOutput 生成内容未通过检查。
var ErrRejectedOutput = errors.New("generated content rejected")

// LLMClient 抽象大模型调用，便于测试注入。
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// TemplateStore 模板来源。
type TemplateStore interface {
	GetTemplate(ctx context.Context, category string) (*model.ContentTemplate, error)
}

// Entities 组合解析后的实体。Season 可为空。
type Entities struct {
	Combination model.Combination
	Service     *model.Service
	Location    *model.Location
	Action      *model.Action
	Season      *model.Season
}

// Draft 待发布的正文。
type Draft struct {
	Title           string
	MetaDescription string
	Content         string
	Format          string
	Keywords        []string
	TargetKeyword   string
}

// Strategy 把实体转换成正文。
type Strategy interface {
	Name() string
	Compose(ctx context.Context, e Entities) (Draft, error)
}

// TemplateStrategy 用分类模板做占位符替换，不调用外部服务。
type TemplateStrategy struct {
	templates TemplateStore
	policy    *bluemonday.Policy
}

// NewTemplateStrategy 创建模板策略。
func NewTemplateStrategy(templates TemplateStore) *TemplateStrategy {
	return &TemplateStrategy{templates: templates, policy: bluemonday.UGCPolicy()}
}

func (t *TemplateStrategy) Name() string { return "template" }

func (t *TemplateStrategy) Compose(ctx context.Context, e Entities) (Draft, error) {
	tpl, err := t.templates.GetTemplate(ctx, e.Service.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("%w: %s", ErrTemplateMissing, e.Service.Category)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("load template: %w", err)
	}

	season := ""
	if e.Season != nil {
		season = e.Season.Name
	}
	replacer := strings.NewReplacer(
		"{{location}}", e.Location.Name,
		"{{service}}", e.Service.Name,
		"{{action}}", e.Action.Verb,
		"{{season}}", season,
	)

	draft := Draft{
		Title:           collapseSpaces(replacer.Replace(tpl.TitleTemplate)),
		MetaDescription: collapseSpaces(replacer.Replace(tpl.DescriptionTemplate)),
		Content:         strings.TrimSpace(replacer.Replace(tpl.ContentTemplate)),
		Format:          model.FormatMarkdown,
		Keywords:        keywords(e),
		TargetKeyword:   targetKeyword(e),
	}
	if looksLikeHTML(draft.Content) {
		draft.Content = t.policy.Sanitize(draft.Content)
		draft.Format = model.FormatHTML
	}
	if draft.Title == "" {
		draft.Title = e.Combination.GeneratedTitle
	}
	if draft.MetaDescription == "" {
		draft.MetaDescription = summarize(draft.Content, 160)
	}
	if strings.TrimSpace(stripHTML(draft.Content)) == "" {
		return Draft{}, fmt.Errorf("%w: template rendered empty body", ErrRejectedOutput)
	}
	return draft, nil
}

const defaultMinContentChars = 1200

// GenerativeStrategy 调用大模型生成 markdown 正文。
type GenerativeStrategy struct {
	llm      LLMClient
	minChars int
}

// NewGenerativeStrategy 创建生成式策略。minChars 为正文最少字符数（按 rune 计），
// 默认 1200，低于提示词要求的 1500 字以容忍去除 HTML 后的长度损失。
func NewGenerativeStrategy(llm LLMClient, minChars int) *GenerativeStrategy {
	if minChars <= 0 {
		minChars = defaultMinContentChars
	}
	return &GenerativeStrategy{llm: llm, minChars: minChars}
}

func (g *GenerativeStrategy) Name() string { return "generative" }

func (g *GenerativeStrategy) Compose(ctx context.Context, e Entities) (Draft, error) {
	prompt, err := buildUserPrompt(e)
	if err != nil {
		return Draft{}, err
	}
	out, err := g.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return Draft{}, fmt.Errorf("llm complete: %w", err)
	}

	content := strings.TrimSpace(stripHTML(out))
	if content == "" {
		return Draft{}, fmt.Errorf("%w: empty output", ErrRejectedOutput)
	}
	if n := utf8.RuneCountInString(content); n < g.minChars {
		return Draft{}, fmt.Errorf("%w: %d chars below minimum %d", ErrRejectedOutput, n, g.minChars)
	}
	if phrase, ok := metaCommentary(content); ok {
		return Draft{}, fmt.Errorf("%w: contains %q", ErrRejectedOutput, phrase)
	}

	return Draft{
		Title:           generativeTitle(e),
		MetaDescription: fmt.Sprintf("%s에서 %s을 이용할 때 필요한 %s 정보. 실제 데이터 기반 상세 가이드.", e.Location.Name, e.Service.Name, e.Action.Verb),
		Content:         content,
		Format:          model.FormatMarkdown,
		Keywords:        keywords(e),
		TargetKeyword:   targetKeyword(e),
	}, nil
}

func generativeTitle(e Entities) string {
	parts := []string{e.Location.Name, serviceSubject(*e.Service), e.Action.Verb}
	if e.Season != nil && e.Season.Name != "" {
		parts = append([]string{e.Season.Name}, parts...)
	}
	return collapseSpaces(strings.Join(parts, " "))
}

// serviceSubject 返回“服务名 线路号”，名称已包含线路号时不重复。
func serviceSubject(svc model.Service) string {
	number := svc.Number()
	if number == "" || strings.Contains(svc.Name, number) {
		return strings.TrimSpace(svc.Name)
	}
	return strings.TrimSpace(svc.Name + " " + number)
}

func keywords(e Entities) []string {
	raw := []string{e.Location.Name, e.Service.Name, e.Action.Verb, e.Service.Number()}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, kw := range raw {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func targetKeyword(e Entities) string {
	return collapseSpaces(strings.Join([]string{e.Location.Name, e.Service.Name, e.Action.Verb}, " "))
}

var metaPhrases = []string{
	"ChatGPT",
	"AI로서",
	"AI 모델",
	"AI 언어",
	"언어 모델",
	"인공지능 모델",
	"As an AI",
	"요청하신 콘텐츠",
	"다음은 요청",
}

func metaCommentary(content string) (string, bool) {
	for _, phrase := range metaPhrases {
		if strings.Contains(content, phrase) {
			return phrase, true
		}
	}
	return "", false
}
