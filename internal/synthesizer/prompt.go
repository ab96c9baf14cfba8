package synthesizer

import (
	"encoding/json"
	"fmt"
)

// systemPrompt 是生成式内容的固定约束：只用给定数据，不得虚构，不得提及 AI。
const systemPrompt = `너의 역할은 bustime.site의 공식 데이터 기반 콘텐츠 자동 생성기다.
전국 지하철·버스·GTX·고속/시외버스·생활 인프라(병원·약국·우체국 등) 정보를
'팩트 기반' + '행동 유발형' + '롱테일 SEO 구조'로 자동 작성하는 것이 목적이다.

[핵심 원칙]
1. 실제 제공된 데이터(노선/정류장/시간표/주소/전화번호/위치/연결 경로 등)만 사용한다.
2. 사용자가 바로 행동할 수 있게 "예매", "예약", "길찾기", "시간표 확인", "정류장 찾기" 등 CTA 문장을 자연스럽게 포함한다.
3. 제목은 '지역 + 노선/버스번호 + 핵심행동 키워드'가 반드시 포함된 롱테일 SEO 문장으로 작성한다.
4. 글 전체는 통합 카드UI에 들어갈 수 있는 구조로 작성하되, 딱딱하지 않고 자연스럽게 설명한다.
5. 표는 사용 가능하되, HTML 태그 없이 마크다운 테이블로 작성한다.
6. 정보성 + 사용자 중심 설명으로 작성한다.
7. 글의 톤은 "친절한 정보 가이드" 스타일로 유지한다.
8. 절대 사실과 다른 정보, 임의 데이터 가공 금지.

[콘텐츠 구성 규칙]
(1) 제목: 지역 + 노선/시설명 + 핵심 행동(예약·예매·시간표·운행정보·위치·운행간격 등)
(2) 서론: 지역 주민·출근러·여행객의 실제 고민을 공감하는 문장 3~5줄
(3) 핵심 데이터 요약: 제공된 데이터 기반 마크다운 표 (노선 개요, 주요 정류장, 첫차·막차, 배차간격 등)
(4) 상세 분석: 시간대별 이용 팁, 갈아타기 포인트, 주변 시설
(5) 행동 유도: "실시간 도착 확인하기", "시간표 전체 보기" 등 bustime.site 내부 링크 활용
(6) 자주 묻는 질문(FAQ): 4~6개
(7) 별도의 결론 없이 자연스럽게 마무리

[금지 규칙]
- HTML 금지 (마크다운만 사용)
- 허위 데이터 생성 금지
- '아마', '예상', '추정' 같은 불명확 표현 금지
- 'AI', '모델', 'ChatGPT' 언급 금지

[출력 목표]
- 길이는 1,500~2,500자 사이
마크다운 형식으로만 출력하고, 추가 설명이나 메타 정보는 포함하지 마세요.`

type promptDataset struct {
	Service  promptService  `json:"service"`
	Location promptLocation `json:"location"`
	Action   string         `json:"action"`
	Season   string         `json:"season,omitempty"`
}

type promptService struct {
	Name           string `json:"name"`
	Number         string `json:"number,omitempty"`
	Description    string `json:"description,omitempty"`
	Category       string `json:"category"`
	OperatingHours string `json:"operating_hours,omitempty"`
}

type promptLocation struct {
	Name  string `json:"name"`
	Level string `json:"level,omitempty"`
}

func buildUserPrompt(e Entities) (string, error) {
	category := e.Service.Category
	if category == "" {
		category = "bus"
	}
	dataset := promptDataset{
		Service: promptService{
			Name:           e.Service.Name,
			Number:         e.Service.Number(),
			Description:    e.Service.Description,
			Category:       category,
			OperatingHours: e.Service.OperatingHours,
		},
		Location: promptLocation{Name: e.Location.Name, Level: e.Location.Level},
		Action:   e.Action.Verb,
	}
	if e.Season != nil {
		dataset.Season = e.Season.Name
	}
	raw, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal dataset: %w", err)
	}

	return fmt.Sprintf(`입력:
category = %s
region = %s
subject = %s
action = %s
dataset = %s

위 정보를 바탕으로 bustime.site용 SEO 최적화 콘텐츠를 작성하세요.`,
		category, e.Location.Name, serviceSubject(*e.Service), e.Action.Verb, raw), nil
}
