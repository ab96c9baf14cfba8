package orchestrator

import (
	"math"
	"time"
)

const (
	subjectAnomaly        = "⚠️ [bustime.site] 자동화 이상치 탐지"
	subjectVerifyFailed   = "🚨 [bustime.site] 데이터 검증 실패"
	subjectZeroPublished  = "🚨 [bustime.site] GPT 콘텐츠 생성 0건"
	subjectPublished      = "✅ [bustime.site] GPT 콘텐츠 생성 완료"
	subjectPublishFailed  = "🚨 [bustime.site] GPT 콘텐츠 생성 실패"
	subjectPartialPublish = "⚠️ [bustime.site] GPT 콘텐츠 일부 생성 실패"
	subjectFatal          = "💥 [bustime.site] 자동화 치명적 오류"
)

var kst = time.FixedZone("KST", 9*60*60)

// Deviation 返回 |published-expected|/expected，expected 非正时为 0。
func Deviation(published, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	return math.Abs(float64(published-expected)) / float64(expected)
}

// DetectAnomaly 偏差严格大于阈值时视为异常。
func DetectAnomaly(published, expected int, threshold float64) bool {
	if expected <= 0 {
		return false
	}
	return Deviation(published, expected) > threshold
}

func koreanTime(t time.Time) string {
	return t.In(kst).Format("2006. 1. 2. 15:04:05")
}
